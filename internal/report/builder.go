package report

import (
	"fmt"

	"smartkollect/internal/metadata"
)

// Builder applies user edits to a Definition. Every method returns a new
// Definition and leaves its input untouched, so callers can keep earlier
// values around for undo.
type Builder struct {
	catalog *metadata.Catalog
}

func NewBuilder(catalog *metadata.Catalog) *Builder {
	return &Builder{catalog: catalog}
}

// Catalog returns the catalog the builder resolves against.
func (b *Builder) Catalog() *metadata.Catalog {
	return b.catalog
}

// AddEntity selects an entity. Selecting an already selected entity is a no-op.
func (b *Builder) AddEntity(def Definition, key string) (Definition, error) {
	if _, err := b.catalog.GetEntity(key); err != nil {
		return def, err
	}
	out := def.Clone()
	if out.HasEntity(key) {
		return out, nil
	}
	out.Entities = append(out.Entities, key)
	out.SelectedFields[key] = []string{}
	return out, nil
}

// RemoveEntity deselects an entity and drops everything that would dangle
// without it: its field list, joins naming it, filters, sorts and
// aggregations whose reference no remaining entity can satisfy, and chart
// axes that named its columns.
func (b *Builder) RemoveEntity(def Definition, key string) (Definition, error) {
	out := def.Clone()
	if !out.HasEntity(key) {
		delete(out.SelectedFields, key)
		return out, nil
	}

	remaining := make([]string, 0, len(out.Entities)-1)
	for _, e := range out.Entities {
		if e != key {
			remaining = append(remaining, e)
		}
	}
	dangles := func(ref string) bool {
		if ref == "" {
			return false
		}
		if e, _ := SplitRef(ref); e == key {
			return true
		}
		return b.reachable([]string{key}, ref) && !b.reachable(remaining, ref)
	}

	out.Entities = remaining
	delete(out.SelectedFields, key)

	filters := out.Filters[:0]
	for _, f := range out.Filters {
		if !dangles(f.Field) {
			filters = append(filters, f)
		}
	}
	out.Filters = filters

	sorts := out.Sort[:0]
	for _, s := range out.Sort {
		if !dangles(s.Field) {
			sorts = append(sorts, s)
		}
	}
	out.Sort = sorts

	dropped := map[string]bool{}
	for _, f := range def.SelectedFields[key] {
		dropped[f] = true
		dropped[key+"_"+f] = true
	}
	aggs := out.Aggregations[:0]
	for _, a := range out.Aggregations {
		if dangles(a.Field) {
			dropped[a.Alias] = true
			continue
		}
		aggs = append(aggs, a)
	}
	out.Aggregations = aggs

	joins := out.Joins[:0]
	for _, j := range out.Joins {
		if j.LeftEntity != key && j.RightEntity != key {
			joins = append(joins, j)
		}
	}
	out.Joins = joins

	kept := outputNames(out)
	if v := &out.Visualization; dropped[v.XField] && !kept[v.XField] {
		v.XField = ""
	}
	if v := &out.Visualization; dropped[v.YField] && !kept[v.YField] {
		v.YField = ""
	}
	return out, nil
}

// outputNames approximates the output columns of def without resolving it
// against the catalog.
func outputNames(def Definition) map[string]bool {
	names := map[string]bool{}
	for entity, fields := range def.SelectedFields {
		for _, f := range fields {
			names[f] = true
			names[entity+"_"+f] = true
		}
	}
	for _, a := range def.Aggregations {
		names[a.Alias] = true
	}
	return names
}

// ToggleField adds the field to the entity's selection, or removes it if
// already present.
func (b *Builder) ToggleField(def Definition, entityKey, fieldKey string) (Definition, error) {
	if !def.HasEntity(entityKey) {
		return def, fmt.Errorf("%w: %s", ErrEntityNotSelected, entityKey)
	}
	if _, err := b.catalog.GetField(entityKey, fieldKey); err != nil {
		return def, err
	}
	out := def.Clone()
	current := out.SelectedFields[entityKey]
	next := make([]string, 0, len(current)+1)
	removed := false
	for _, f := range current {
		if f == fieldKey {
			removed = true
			continue
		}
		next = append(next, f)
	}
	if !removed {
		next = append(next, fieldKey)
	}
	out.SelectedFields[entityKey] = next
	return out, nil
}

// FilterUpdate carries the filter attributes to overwrite; nil leaves the
// current value alone.
type FilterUpdate struct {
	Field    *string   `json:"field,omitempty"`
	Operator *Operator `json:"operator,omitempty"`
	Value    *Value    `json:"value,omitempty"`
	Value2   *Value    `json:"value2,omitempty"`
}

// AddFilter appends an empty filter row.
func (b *Builder) AddFilter(def Definition) Definition {
	out := def.Clone()
	out.Filters = append(out.Filters, FilterCondition{Operator: OpEquals})
	return out
}

// UpdateFilter merges u into the filter at index. Nothing is validated here.
func (b *Builder) UpdateFilter(def Definition, index int, u FilterUpdate) (Definition, error) {
	if index < 0 || index >= len(def.Filters) {
		return def, fmt.Errorf("%w: filter %d of %d", ErrIndexOutOfRange, index, len(def.Filters))
	}
	out := def.Clone()
	f := &out.Filters[index]
	if u.Field != nil {
		f.Field = *u.Field
	}
	if u.Operator != nil {
		f.Operator = *u.Operator
	}
	if u.Value != nil {
		f.Value = *u.Value
	}
	if u.Value2 != nil {
		f.Value2 = *u.Value2
	}
	return out, nil
}

// RemoveFilter deletes the filter at index; later filters shift down.
func (b *Builder) RemoveFilter(def Definition, index int) (Definition, error) {
	if index < 0 || index >= len(def.Filters) {
		return def, fmt.Errorf("%w: filter %d of %d", ErrIndexOutOfRange, index, len(def.Filters))
	}
	out := def.Clone()
	out.Filters = append(out.Filters[:index], out.Filters[index+1:]...)
	return out, nil
}

func (b *Builder) SetName(def Definition, name string) Definition {
	out := def.Clone()
	out.Name = name
	return out
}

func (b *Builder) SetDescription(def Definition, desc string) Definition {
	out := def.Clone()
	out.Description = desc
	return out
}

// SetRowLimit sets the row bound; nil clears it.
func (b *Builder) SetRowLimit(def Definition, limit *int) Definition {
	out := def.Clone()
	out.RowLimit = nil
	if limit != nil {
		n := *limit
		out.RowLimit = &n
	}
	return out
}

func (b *Builder) AddSort(def Definition, field string, dir Direction) Definition {
	out := def.Clone()
	out.Sort = append(out.Sort, SortSpec{Field: field, Direction: dir})
	return out
}

func (b *Builder) RemoveSort(def Definition, index int) (Definition, error) {
	if index < 0 || index >= len(def.Sort) {
		return def, fmt.Errorf("%w: sort %d of %d", ErrIndexOutOfRange, index, len(def.Sort))
	}
	out := def.Clone()
	out.Sort = append(out.Sort[:index], out.Sort[index+1:]...)
	return out, nil
}

func (b *Builder) AddJoin(def Definition, j Join) Definition {
	out := def.Clone()
	out.Joins = append(out.Joins, j)
	return out
}

func (b *Builder) RemoveJoin(def Definition, index int) (Definition, error) {
	if index < 0 || index >= len(def.Joins) {
		return def, fmt.Errorf("%w: join %d of %d", ErrIndexOutOfRange, index, len(def.Joins))
	}
	out := def.Clone()
	out.Joins = append(out.Joins[:index], out.Joins[index+1:]...)
	return out, nil
}

func (b *Builder) AddAggregation(def Definition, a Aggregation) Definition {
	out := def.Clone()
	out.Aggregations = append(out.Aggregations, a)
	return out
}

func (b *Builder) RemoveAggregation(def Definition, index int) (Definition, error) {
	if index < 0 || index >= len(def.Aggregations) {
		return def, fmt.Errorf("%w: aggregation %d of %d", ErrIndexOutOfRange, index, len(def.Aggregations))
	}
	out := def.Clone()
	out.Aggregations = append(out.Aggregations[:index], out.Aggregations[index+1:]...)
	return out, nil
}

func (b *Builder) SetVisualization(def Definition, v Visualization) Definition {
	out := def.Clone()
	out.Visualization = v
	return out
}
