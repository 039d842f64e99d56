package metadata

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownEntity = errors.New("unknown entity")
	ErrUnknownField  = errors.New("unknown field")
)

// Catalog is the read-only registry of reportable entities. It is built once
// and handed to whoever needs it; nothing mutates it afterwards, so it is
// safe for concurrent use without locking.
type Catalog struct {
	entities []*EntityDescriptor
	byKey    map[string]*EntityDescriptor
}

// NewCatalog copies the given descriptors, checks their invariants and
// returns a catalog that lists them in the order given.
func NewCatalog(entities ...EntityDescriptor) (*Catalog, error) {
	c := &Catalog{
		entities: make([]*EntityDescriptor, 0, len(entities)),
		byKey:    make(map[string]*EntityDescriptor, len(entities)),
	}
	for _, src := range entities {
		e := src
		e.Fields = append([]FieldDescriptor(nil), src.Fields...)
		if err := e.prepare(); err != nil {
			return nil, err
		}
		if _, dup := c.byKey[e.Key]; dup {
			return nil, fmt.Errorf("duplicate entity %s", e.Key)
		}
		c.entities = append(c.entities, &e)
		c.byKey[e.Key] = &e
	}
	return c, nil
}

// MustCatalog is NewCatalog for compiled-in definitions.
func MustCatalog(entities ...EntityDescriptor) *Catalog {
	c, err := NewCatalog(entities...)
	if err != nil {
		panic(err)
	}
	return c
}

// ListEntities returns all registered entities in registration order.
func (c *Catalog) ListEntities() []*EntityDescriptor {
	out := make([]*EntityDescriptor, len(c.entities))
	copy(out, c.entities)
	return out
}

// GetEntity returns the entity registered under key.
func (c *Catalog) GetEntity(key string) (*EntityDescriptor, error) {
	e, ok := c.byKey[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, key)
	}
	return e, nil
}

// GetField returns one field of one entity.
func (c *Catalog) GetField(entityKey, fieldKey string) (*FieldDescriptor, error) {
	e, err := c.GetEntity(entityKey)
	if err != nil {
		return nil, err
	}
	f := e.GetField(fieldKey)
	if f == nil {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, entityKey, fieldKey)
	}
	return f, nil
}

