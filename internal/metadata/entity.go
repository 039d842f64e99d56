package metadata

import "fmt"

// EntityDescriptor describes one reportable collection. Fields keep their
// registration order for display; lookups go through an index.
type EntityDescriptor struct {
	Key         string            `json:"key" yaml:"key"`
	DisplayName string            `json:"display_name" yaml:"display_name"`
	Table       string            `json:"table" yaml:"table"`
	PrimaryKey  string            `json:"primary_key" yaml:"primary_key"`
	Fields      []FieldDescriptor `json:"fields" yaml:"fields"`

	index map[string]int
}

// GetField returns a pointer to the field with the given key, or nil.
func (e *EntityDescriptor) GetField(key string) *FieldDescriptor {
	if e.index != nil {
		if i, ok := e.index[key]; ok {
			return &e.Fields[i]
		}
		return nil
	}
	for i := range e.Fields {
		if e.Fields[i].Key == key {
			return &e.Fields[i]
		}
	}
	return nil
}

// HasField returns true if the entity has a field with the given key.
func (e *EntityDescriptor) HasField(key string) bool {
	return e.GetField(key) != nil
}

// FieldKeys returns all field keys in registration order.
func (e *EntityDescriptor) FieldKeys() []string {
	keys := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		keys[i] = f.Key
	}
	return keys
}

// Categories returns the distinct field categories in first-seen order.
func (e *EntityDescriptor) Categories() []string {
	var cats []string
	seen := make(map[string]bool)
	for _, f := range e.Fields {
		if !seen[f.Category] {
			seen[f.Category] = true
			cats = append(cats, f.Category)
		}
	}
	return cats
}

// prepare fills defaults, checks invariants and builds the field index.
func (e *EntityDescriptor) prepare() error {
	if e.Key == "" {
		return fmt.Errorf("entity with empty key")
	}
	if e.Table == "" {
		e.Table = e.Key
	}
	if e.DisplayName == "" {
		e.DisplayName = e.Key
	}
	e.index = make(map[string]int, len(e.Fields))
	for i, f := range e.Fields {
		if err := f.validate(e.Key); err != nil {
			return err
		}
		if _, dup := e.index[f.Key]; dup {
			return fmt.Errorf("entity %s: duplicate field %s", e.Key, f.Key)
		}
		e.index[f.Key] = i
	}
	if _, ok := e.index[e.PrimaryKey]; !ok {
		return fmt.Errorf("entity %s: primary key %q is not a field", e.Key, e.PrimaryKey)
	}
	return nil
}
