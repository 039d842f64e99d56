package report

import (
	"fmt"
	"strings"

	"smartkollect/internal/metadata"
)

// FieldRef is a reference pinned to one selected entity.
type FieldRef struct {
	Entity string                    `json:"entity"`
	Field  string                    `json:"field"`
	Desc   *metadata.FieldDescriptor `json:"-"`
}

func (r FieldRef) String() string { return r.Entity + "." + r.Field }

// Resolve pins a filter/sort/aggregation reference to an entity of def.
// Bare references are searched across the selected entities in selection
// order and must match exactly one. When selectedOnly is set the field must
// also be part of the field selection.
func (b *Builder) Resolve(def Definition, ref string, selectedOnly bool) (FieldRef, error) {
	entity, field := SplitRef(ref)
	if field == "" {
		return FieldRef{}, fmt.Errorf("%w: empty reference", ErrUnknownField)
	}

	if entity != "" {
		if !def.HasEntity(entity) {
			return FieldRef{}, fmt.Errorf("%w: %s", ErrEntityNotSelected, entity)
		}
		desc, err := b.catalog.GetField(entity, field)
		if err != nil {
			return FieldRef{}, err
		}
		if selectedOnly && !def.IsFieldSelected(entity, field) {
			return FieldRef{}, fmt.Errorf("%w: %s", ErrFieldNotSelected, ref)
		}
		return FieldRef{Entity: entity, Field: field, Desc: desc}, nil
	}

	var matches []FieldRef
	existsUnselected := false
	for _, key := range def.Entities {
		e, err := b.catalog.GetEntity(key)
		if err != nil {
			continue
		}
		desc := e.GetField(field)
		if desc == nil {
			continue
		}
		if selectedOnly && !def.IsFieldSelected(key, field) {
			existsUnselected = true
			continue
		}
		matches = append(matches, FieldRef{Entity: key, Field: field, Desc: desc})
	}

	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		if existsUnselected {
			return FieldRef{}, fmt.Errorf("%w: %s", ErrFieldNotSelected, field)
		}
		return FieldRef{}, fmt.Errorf("%w: %s", ErrUnknownField, field)
	default:
		names := make([]string, len(matches))
		for i, m := range matches {
			names[i] = m.String()
		}
		return FieldRef{}, fmt.Errorf("%w: %s matches %s", ErrAmbiguousField, field, strings.Join(names, ", "))
	}
}

// reachable reports whether ref can be resolved against any field (selected
// or not) of the given entities.
func (b *Builder) reachable(entities []string, ref string) bool {
	entity, field := SplitRef(ref)
	for _, key := range entities {
		if entity != "" && entity != key {
			continue
		}
		if e, err := b.catalog.GetEntity(key); err == nil && e.HasField(field) {
			return true
		}
	}
	return false
}
