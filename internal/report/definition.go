package report

import "strings"

type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpBetween     Operator = "between"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	OpIsNull      Operator = "is_null"
	OpIsNotNull   Operator = "is_not_null"
)

// Valid reports whether o is a known operator.
func (o Operator) Valid() bool {
	switch o {
	case OpEquals, OpNotEquals, OpContains, OpNotContains, OpGreaterThan, OpLessThan,
		OpBetween, OpIn, OpNotIn, OpIsNull, OpIsNotNull:
		return true
	}
	return false
}

// NeedsValue is false only for the null checks.
func (o Operator) NeedsValue() bool {
	return o != OpIsNull && o != OpIsNotNull
}

type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

type JoinKind string

const (
	JoinInner JoinKind = "inner"
	JoinLeft  JoinKind = "left"
	JoinRight JoinKind = "right"
	JoinFull  JoinKind = "full"
)

func (k JoinKind) Valid() bool {
	switch k {
	case JoinInner, JoinLeft, JoinRight, JoinFull:
		return true
	}
	return false
}

type AggFunc string

const (
	AggCount AggFunc = "count"
	AggSum   AggFunc = "sum"
	AggAvg   AggFunc = "avg"
	AggMin   AggFunc = "min"
	AggMax   AggFunc = "max"
)

func (f AggFunc) Valid() bool {
	switch f {
	case AggCount, AggSum, AggAvg, AggMin, AggMax:
		return true
	}
	return false
}

type VisualizationKind string

const (
	VisTable VisualizationKind = "table"
	VisChart VisualizationKind = "chart"
)

type ChartType string

const (
	ChartBar     ChartType = "bar"
	ChartLine    ChartType = "line"
	ChartPie     ChartType = "pie"
	ChartScatter ChartType = "scatter"
)

func (c ChartType) Valid() bool {
	switch c {
	case ChartBar, ChartLine, ChartPie, ChartScatter:
		return true
	}
	return false
}

// FilterCondition is one predicate. Field may be empty while the row is
// still being filled in; such rows are ignored until a field is chosen.
type FilterCondition struct {
	Field    string   `json:"field" yaml:"field"`
	Operator Operator `json:"operator" yaml:"operator"`
	Value    Value    `json:"value,omitzero" yaml:"value,omitempty"`
	Value2   Value    `json:"value2,omitzero" yaml:"value2,omitempty"`
}

type SortSpec struct {
	Field     string    `json:"field" yaml:"field"`
	Direction Direction `json:"direction" yaml:"direction"`
}

type Join struct {
	LeftEntity  string   `json:"left_entity" yaml:"left_entity"`
	RightEntity string   `json:"right_entity" yaml:"right_entity"`
	LeftField   string   `json:"left_field" yaml:"left_field"`
	RightField  string   `json:"right_field" yaml:"right_field"`
	Kind        JoinKind `json:"kind" yaml:"kind"`
}

// Aggregation computes Function over Field into the Alias column. Count
// accepts an empty Field (or "*") meaning every row.
type Aggregation struct {
	Field    string  `json:"field" yaml:"field"`
	Function AggFunc `json:"function" yaml:"function"`
	Alias    string  `json:"alias" yaml:"alias"`
}

// Visualization is a display hint carried with the report; execution
// ignores it.
type Visualization struct {
	Kind      VisualizationKind `json:"kind" yaml:"kind"`
	ChartType ChartType         `json:"chart_type,omitempty" yaml:"chart_type,omitempty"`
	XField    string            `json:"x_field,omitempty" yaml:"x_field,omitempty"`
	YField    string            `json:"y_field,omitempty" yaml:"y_field,omitempty"`
}

// Definition is the working state of one report being built.
type Definition struct {
	Name           string              `json:"name" yaml:"name"`
	Description    string              `json:"description,omitempty" yaml:"description,omitempty"`
	Entities       []string            `json:"entities" yaml:"entities"`
	SelectedFields map[string][]string `json:"selected_fields" yaml:"selected_fields"`
	Filters        []FilterCondition   `json:"filters,omitempty" yaml:"filters,omitempty"`
	Sort           []SortSpec          `json:"sort,omitempty" yaml:"sort,omitempty"`
	RowLimit       *int                `json:"row_limit,omitempty" yaml:"row_limit,omitempty"`
	Joins          []Join              `json:"joins,omitempty" yaml:"joins,omitempty"`
	Aggregations   []Aggregation       `json:"aggregations,omitempty" yaml:"aggregations,omitempty"`
	Visualization  Visualization       `json:"visualization" yaml:"visualization"`
}

// New returns an empty definition, the state of a freshly opened builder.
func New() Definition {
	return Definition{
		SelectedFields: map[string][]string{},
		Visualization:  Visualization{Kind: VisTable},
	}
}

// Clone returns a deep copy so transitions never share backing arrays.
func (d Definition) Clone() Definition {
	out := d
	out.Entities = append([]string(nil), d.Entities...)
	out.SelectedFields = make(map[string][]string, len(d.SelectedFields))
	for k, v := range d.SelectedFields {
		out.SelectedFields[k] = append([]string{}, v...)
	}
	out.Filters = append([]FilterCondition(nil), d.Filters...)
	out.Sort = append([]SortSpec(nil), d.Sort...)
	out.Joins = append([]Join(nil), d.Joins...)
	out.Aggregations = append([]Aggregation(nil), d.Aggregations...)
	if d.RowLimit != nil {
		n := *d.RowLimit
		out.RowLimit = &n
	}
	return out
}

// HasEntity reports whether key is among the selected entities.
func (d Definition) HasEntity(key string) bool {
	for _, e := range d.Entities {
		if e == key {
			return true
		}
	}
	return false
}

// IsFieldSelected reports whether entity.field is in the selection.
func (d Definition) IsFieldSelected(entity, field string) bool {
	for _, f := range d.SelectedFields[entity] {
		if f == field {
			return true
		}
	}
	return false
}

// SelectedFieldCount counts selected fields across all entities.
func (d Definition) SelectedFieldCount() int {
	n := 0
	for _, e := range d.Entities {
		n += len(d.SelectedFields[e])
	}
	return n
}

// SplitRef splits "entity.field" into its parts. A bare field returns an
// empty entity.
func SplitRef(ref string) (entity, field string) {
	if i := strings.IndexByte(ref, '.'); i >= 0 {
		return ref[:i], ref[i+1:]
	}
	return "", ref
}
