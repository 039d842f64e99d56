package report

import (
	"errors"
	"fmt"
	"strings"

	"smartkollect/internal/metadata"
)

// Column is one output column of a report, either a selected field or an
// aggregation.
type Column struct {
	Name string
	Ref  *FieldRef
	Agg  *PlannedAggregation
}

type PlannedFilter struct {
	Ref      FieldRef
	Operator Operator
	// Values holds the operands resolved to the field type: none for the
	// null checks, two for between, one or more for in / not_in.
	Values []Value
}

// PlannedSort orders by either an output column (Column set) or a field
// that is not part of the output (Ref set).
type PlannedSort struct {
	Column string
	Ref    *FieldRef
	Desc   bool
}

type PlannedJoin struct {
	Left  FieldRef
	Right FieldRef
	Kind  JoinKind
}

type PlannedAggregation struct {
	Ref      *FieldRef // nil counts rows
	Function AggFunc
	Alias    string
}

// Plan is a validated definition with every reference resolved. Executors
// consume plans, never raw definitions.
type Plan struct {
	Name     string
	Entities []*metadata.EntityDescriptor
	Columns  []Column
	GroupBy  []FieldRef
	Filters  []PlannedFilter
	Sorts    []PlannedSort
	Joins    []PlannedJoin
	Aggs     []PlannedAggregation
	RowLimit int // 0 when the definition sets none

	// Visualization is the display hint, reset to a table when a chart
	// axis does not name an output column.
	Visualization Visualization
}

// ColumnNames lists the output column names in order.
func (p *Plan) ColumnNames() []string {
	names := make([]string, len(p.Columns))
	for i, c := range p.Columns {
		names[i] = c.Name
	}
	return names
}

// ValidateForExecution checks that def can be executed and returns every
// problem found. An empty result means the definition is executable.
func (b *Builder) ValidateForExecution(def Definition) Problems {
	_, problems := b.Compile(def)
	return problems
}

// Compile validates def and resolves it into a Plan. The plan is nil when
// any problem is reported.
func (b *Builder) Compile(def Definition) (*Plan, Problems) {
	c := &compiler{b: b, def: def, plan: &Plan{Name: def.Name, Visualization: Visualization{Kind: VisTable}}}
	c.run()
	if len(c.problems) > 0 {
		return nil, c.problems
	}
	return c.plan, nil
}

type compiler struct {
	b        *Builder
	def      Definition
	plan     *Plan
	problems Problems
	columns  map[string]bool
}

func (c *compiler) add(code, path, format string, args ...any) {
	c.problems = append(c.problems, Problem{Code: code, Path: path, Message: fmt.Sprintf(format, args...)})
}

func (c *compiler) run() {
	if strings.TrimSpace(c.def.Name) == "" {
		c.add(CodeNameRequired, "name", "Report name is required")
	}
	if len(c.def.Entities) == 0 {
		c.add(CodeNoEntities, "entities", "Select at least one entity")
	}
	c.entities()
	c.fields()
	if c.def.SelectedFieldCount() == 0 {
		c.add(CodeNoFields, "selected_fields", "Select at least one field")
	}
	c.filters()
	c.joins()
	c.aggregations()
	c.sorts()
	if c.def.RowLimit != nil {
		if *c.def.RowLimit <= 0 {
			c.add(CodeInvalidLimit, "row_limit", "Row limit must be a positive number, got %d", *c.def.RowLimit)
		} else {
			c.plan.RowLimit = *c.def.RowLimit
		}
	}
	c.visualization()
}

func (c *compiler) entities() {
	for i, key := range c.def.Entities {
		e, err := c.b.catalog.GetEntity(key)
		if err != nil {
			c.add(CodeUnknownEntity, fmt.Sprintf("entities[%d]", i), "Unknown entity: %s", key)
			continue
		}
		c.plan.Entities = append(c.plan.Entities, e)
	}
	for key := range c.def.SelectedFields {
		if !c.def.HasEntity(key) {
			c.add(CodeEntityNotSelected, "selected_fields."+key, "Fields are selected for %s but the entity is not", key)
		}
	}
}

func (c *compiler) fields() {
	c.columns = make(map[string]bool)
	for _, key := range c.def.Entities {
		e, err := c.b.catalog.GetEntity(key)
		if err != nil {
			continue
		}
		for i, fk := range c.def.SelectedFields[key] {
			desc := e.GetField(fk)
			if desc == nil {
				c.add(CodeUnknownField, fmt.Sprintf("selected_fields.%s[%d]", key, i), "Unknown field %s on %s", fk, e.DisplayName)
				continue
			}
			name := fk
			if c.columns[name] {
				name = key + "_" + fk
			}
			c.columns[name] = true
			ref := FieldRef{Entity: key, Field: fk, Desc: desc}
			c.plan.Columns = append(c.plan.Columns, Column{Name: name, Ref: &ref})
		}
	}
}

func (c *compiler) refProblem(path, what string, err error) {
	switch {
	case errors.Is(err, ErrFieldNotSelected):
		c.add(CodeFieldNotSelected, path, "%s uses a field that is not selected: %v", what, err)
	case errors.Is(err, ErrAmbiguousField):
		c.add(CodeAmbiguousField, path, "%s field is ambiguous, qualify it as entity.field: %v", what, err)
	case errors.Is(err, ErrEntityNotSelected):
		c.add(CodeEntityNotSelected, path, "%s references an entity that is not selected: %v", what, err)
	default:
		c.add(CodeUnknownField, path, "%s references an unknown field: %v", what, err)
	}
}

func (c *compiler) filters() {
	for i, f := range c.def.Filters {
		if f.Field == "" {
			continue
		}
		path := fmt.Sprintf("filters[%d]", i)
		if !f.Operator.Valid() {
			c.add(CodeInvalidOperator, path+".operator", "Unknown filter operator %q", f.Operator)
			continue
		}
		ref, err := c.b.Resolve(c.def, f.Field, true)
		if err != nil {
			c.refProblem(path+".field", "Filter", err)
			continue
		}
		pf, ok := c.filterValues(path, ref, f)
		if ok {
			c.plan.Filters = append(c.plan.Filters, pf)
		}
	}
}

func (c *compiler) filterValues(path string, ref FieldRef, f FilterCondition) (PlannedFilter, bool) {
	pf := PlannedFilter{Ref: ref, Operator: f.Operator}
	t := ref.Desc.Type

	switch f.Operator {
	case OpIsNull, OpIsNotNull:
		return pf, true
	case OpContains, OpNotContains:
		if t != metadata.TypeText {
			c.add(CodeTypeMismatch, path+".operator", "%s only applies to text fields, %s is %s", f.Operator, ref.Field, t)
			return pf, false
		}
	case OpGreaterThan, OpLessThan, OpBetween:
		if !t.Ordered() {
			c.add(CodeTypeMismatch, path+".operator", "%s does not apply to %s field %s", f.Operator, t, ref.Field)
			return pf, false
		}
	}

	if blank(f.Value) {
		c.add(CodeValueRequired, path+".value", "Filter on %s needs a value", ref.Field)
		return pf, false
	}

	ok := true
	resolve := func(v Value, p string) {
		rv, err := Resolve(v, t)
		if err != nil {
			c.add(CodeTypeMismatch, p, "Filter on %s: %v", ref.Field, err)
			ok = false
			return
		}
		pf.Values = append(pf.Values, rv)
	}

	switch f.Operator {
	case OpIn, OpNotIn:
		items := SplitList(f.Value)
		if len(items) == 0 {
			c.add(CodeValueRequired, path+".value", "Filter on %s needs at least one value", ref.Field)
			return pf, false
		}
		for _, item := range items {
			resolve(item, path+".value")
		}
	case OpBetween:
		resolve(f.Value, path+".value")
		if blank(f.Value2) {
			c.add(CodeValue2Required, path+".value2", "Between filter on %s needs an upper bound", ref.Field)
			return pf, false
		}
		resolve(f.Value2, path+".value2")
	default:
		resolve(f.Value, path+".value")
	}
	return pf, ok
}

// blank reports a missing operand: unset, or text that is only whitespace.
func blank(v Value) bool {
	return v.IsZero() || (v.Kind == KindText && strings.TrimSpace(v.Text) == "")
}

func (c *compiler) joins() {
	for i, j := range c.def.Joins {
		path := fmt.Sprintf("joins[%d]", i)
		if !j.Kind.Valid() {
			c.add(CodeInvalidJoin, path+".kind", "Unknown join kind %q", j.Kind)
			continue
		}
		if j.LeftEntity == j.RightEntity {
			c.add(CodeInvalidJoin, path, "Cannot join %s to itself", j.LeftEntity)
			continue
		}
		left, lerr := c.joinSide(j.LeftEntity, j.LeftField)
		right, rerr := c.joinSide(j.RightEntity, j.RightField)
		if lerr != nil || rerr != nil {
			c.add(CodeInvalidJoin, path, "Join %s.%s = %s.%s is invalid: %v",
				j.LeftEntity, j.LeftField, j.RightEntity, j.RightField, errors.Join(lerr, rerr))
			continue
		}
		c.plan.Joins = append(c.plan.Joins, PlannedJoin{Left: left, Right: right, Kind: j.Kind})
	}
}

func (c *compiler) joinSide(entity, field string) (FieldRef, error) {
	if !c.def.HasEntity(entity) {
		return FieldRef{}, fmt.Errorf("%w: %s", ErrEntityNotSelected, entity)
	}
	desc, err := c.b.catalog.GetField(entity, field)
	if err != nil {
		return FieldRef{}, err
	}
	return FieldRef{Entity: entity, Field: field, Desc: desc}, nil
}

func (c *compiler) aggregations() {
	aliases := make(map[string]bool)
	for i, a := range c.def.Aggregations {
		path := fmt.Sprintf("aggregations[%d]", i)
		if !a.Function.Valid() {
			c.add(CodeInvalidAggregation, path+".function", "Unknown aggregation function %q", a.Function)
			continue
		}
		alias := strings.TrimSpace(a.Alias)
		if alias == "" {
			c.add(CodeInvalidAggregation, path+".alias", "Aggregation needs an output name")
			continue
		}
		if c.columns[alias] || aliases[alias] {
			c.add(CodeInvalidAggregation, path+".alias", "Output name %s is already used", alias)
			continue
		}

		pa := PlannedAggregation{Function: a.Function, Alias: alias}
		if a.Field == "" || a.Field == "*" {
			if a.Function != AggCount {
				c.add(CodeInvalidAggregation, path+".field", "%s needs a field", a.Function)
				continue
			}
		} else {
			ref, err := c.b.Resolve(c.def, a.Field, false)
			if err != nil {
				c.refProblem(path+".field", "Aggregation", err)
				continue
			}
			if (a.Function == AggSum || a.Function == AggAvg) && !ref.Desc.Type.IsNumeric() {
				c.add(CodeInvalidAggregation, path+".function", "%s needs a numeric field, %s is %s", a.Function, ref.Field, ref.Desc.Type)
				continue
			}
			if (a.Function == AggMin || a.Function == AggMax) && ref.Desc.Type == metadata.TypeBoolean {
				c.add(CodeInvalidAggregation, path+".function", "%s does not apply to boolean field %s", a.Function, ref.Field)
				continue
			}
			pa.Ref = &ref
		}
		aliases[alias] = true
		c.plan.Aggs = append(c.plan.Aggs, pa)
	}

	if len(c.plan.Aggs) == 0 {
		return
	}
	for i := range c.plan.Columns {
		c.plan.GroupBy = append(c.plan.GroupBy, *c.plan.Columns[i].Ref)
	}
	for i := range c.plan.Aggs {
		a := c.plan.Aggs[i]
		c.plan.Columns = append(c.plan.Columns, Column{Name: a.Alias, Agg: &a})
		c.columns[a.Alias] = true
	}
}

func (c *compiler) sorts() {
	grouped := len(c.plan.Aggs) > 0
	for i, s := range c.def.Sort {
		path := fmt.Sprintf("sort[%d]", i)
		var desc bool
		switch s.Direction {
		case Asc, "":
		case Desc:
			desc = true
		default:
			c.add(CodeInvalidSort, path+".direction", "Sort direction must be asc or desc, got %q", s.Direction)
			continue
		}

		// Aggregation aliases and output column names sort by column.
		if c.columns[s.Field] && c.outputOnly(s.Field) {
			c.plan.Sorts = append(c.plan.Sorts, PlannedSort{Column: s.Field, Desc: desc})
			continue
		}

		ref, err := c.b.Resolve(c.def, s.Field, false)
		if err != nil {
			c.refProblem(path+".field", "Sort", err)
			continue
		}
		if col := c.columnFor(ref); col != "" {
			c.plan.Sorts = append(c.plan.Sorts, PlannedSort{Column: col, Desc: desc})
			continue
		}
		if grouped {
			c.add(CodeInvalidSort, path+".field", "Grouped reports can only sort by selected fields or aggregations, not %s", s.Field)
			continue
		}
		c.plan.Sorts = append(c.plan.Sorts, PlannedSort{Ref: &ref, Desc: desc})
	}
}

// outputOnly is true for column names that are not also field references,
// i.e. aggregation aliases and renamed duplicate columns.
func (c *compiler) outputOnly(name string) bool {
	for _, col := range c.plan.Columns {
		if col.Name == name {
			return col.Agg != nil || col.Ref.Field != name
		}
	}
	return false
}

func (c *compiler) columnFor(ref FieldRef) string {
	for _, col := range c.plan.Columns {
		if col.Ref != nil && col.Ref.Entity == ref.Entity && col.Ref.Field == ref.Field {
			return col.Name
		}
	}
	return ""
}

func (c *compiler) visualization() {
	v := c.def.Visualization
	switch v.Kind {
	case "", VisTable:
		return
	case VisChart:
	default:
		c.add(CodeInvalidVisualization, "visualization.kind", "Visualization must be table or chart, got %q", v.Kind)
		return
	}
	if !v.ChartType.Valid() {
		c.add(CodeInvalidVisualization, "visualization.chart_type", "Unknown chart type %q", v.ChartType)
	}
	// An axis that names no output column falls back to the table display.
	for _, axis := range []string{v.XField, v.YField} {
		if axis != "" && !c.columns[axis] {
			return
		}
	}
	c.plan.Visualization = v
}
