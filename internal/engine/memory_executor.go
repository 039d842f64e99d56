package engine

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"gopkg.in/yaml.v3"

	"smartkollect/internal/metadata"
	"smartkollect/internal/report"
	"smartkollect/internal/store"
)

// Datasets holds in-memory rows per entity key.
type Datasets map[string][]map[string]any

// LoadDatasetsFile reads a YAML (or JSON) document mapping entity keys to
// lists of rows.
func LoadDatasetsFile(path string) (Datasets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read datasets: %w", err)
	}
	var ds Datasets
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("parse datasets %s: %w", path, err)
	}
	return ds, nil
}

// MemoryExecutor evaluates single-entity definitions over Datasets.
// Filters compile to expr programs evaluated once per row.
type MemoryExecutor struct {
	data    Datasets
	builder *report.Builder
	limits  Limits
}

func NewMemoryExecutor(data Datasets, b *report.Builder, limits Limits) *MemoryExecutor {
	return &MemoryExecutor{data: data, builder: b, limits: limits}
}

// memRow is one row under evaluation: typed field values for filtering and
// sorting, plus the projected output.
type memRow struct {
	base map[string]any
	out  map[string]any
}

func (e *MemoryExecutor) Execute(ctx context.Context, def report.Definition) (*ResultSet, error) {
	plan, err := compile(e.builder, def)
	if err != nil {
		return nil, err
	}
	if len(plan.Entities) > 1 {
		return nil, execErrorf(KindUnsupportedJoin, nil, "In-memory datasets only support single-entity reports")
	}
	entity := plan.Entities[0]

	filters, err := compileFilters(plan.Filters)
	if err != nil {
		return nil, err
	}

	var rows []memRow
	for i, raw := range e.data[entity.Key] {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, execErrorf(KindTimeout, err, "The report was canceled")
			}
		}
		base, err := typedRow(entity, raw)
		if err != nil {
			return nil, execErrorf(KindStoreError, err, "%s row %d is malformed", entity.Key, i)
		}
		ok, err := filters.match(base)
		if err != nil {
			return nil, err
		}
		if ok {
			rows = append(rows, memRow{base: base})
		}
	}

	if len(plan.Aggs) > 0 {
		rows = aggregate(plan, rows)
	} else {
		for i := range rows {
			rows[i].out = make(map[string]any, len(plan.Columns))
			for _, c := range plan.Columns {
				rows[i].out[c.Name] = rows[i].base[c.Ref.Field]
			}
		}
	}

	sortRows(plan, entity, rows)

	if limit := e.limits.RowLimit(plan); limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}

	columns := plan.ColumnNames()
	out := make([]map[string]any, len(rows))
	for i, r := range rows {
		row := project(columns, r.out)
		for _, c := range plan.Columns {
			if t, ok := columnType(c); ok && t.IsTemporal() {
				if tm, ok := row[c.Name].(time.Time); ok {
					row[c.Name] = store.FormatTime(tm, t)
				}
			}
		}
		out[i] = row
	}
	return &ResultSet{Columns: columns, Rows: out}, nil
}

// typedRow coerces every catalog field present in raw to its Go type.
func typedRow(entity *metadata.EntityDescriptor, raw map[string]any) (map[string]any, error) {
	row := make(map[string]any, len(entity.Fields))
	for _, f := range entity.Fields {
		v, err := store.CoerceValue(raw[f.Key], f.Type)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Key, err)
		}
		row[f.Key] = v
	}
	return row, nil
}

type memFilter struct {
	field string
	prog  *vm.Program
	a, b  any
	list  []any
}

type memFilters []memFilter

var filterExpressions = map[report.Operator]string{
	report.OpEquals:      `v != nil && v == a`,
	report.OpNotEquals:   `v != nil && v != a`,
	report.OpGreaterThan: `v != nil && v > a`,
	report.OpLessThan:    `v != nil && v < a`,
	report.OpBetween:     `v != nil && v >= a && v <= b`,
	report.OpContains:    `v != nil && lower(v) contains lower(a)`,
	report.OpNotContains: `v != nil && not (lower(v) contains lower(a))`,
	report.OpIn:          `v != nil && v in list`,
	report.OpNotIn:       `v != nil && v not in list`,
	report.OpIsNull:      `v == nil`,
	report.OpIsNotNull:   `v != nil`,
}

func compileFilters(planned []report.PlannedFilter) (memFilters, error) {
	out := make(memFilters, 0, len(planned))
	for _, f := range planned {
		src, ok := filterExpressions[f.Operator]
		if !ok {
			return nil, execErrorf(KindInvalidFilter, nil, "Operator %s is not supported", f.Operator)
		}
		prog, err := expr.Compile(src, expr.AsBool())
		if err != nil {
			return nil, execErrorf(KindInvalidFilter, err, "compile filter on %s", f.Ref.Field)
		}
		mf := memFilter{field: f.Ref.Field, prog: prog}
		switch f.Operator {
		case report.OpIn, report.OpNotIn:
			for _, v := range f.Values {
				mf.list = append(mf.list, exprValue(v.Native()))
			}
		default:
			if len(f.Values) > 0 {
				mf.a = exprValue(f.Values[0].Native())
			}
			if len(f.Values) > 1 {
				mf.b = exprValue(f.Values[1].Native())
			}
		}
		out = append(out, mf)
	}
	return out, nil
}

func (fs memFilters) match(row map[string]any) (bool, error) {
	for _, f := range fs {
		env := map[string]any{
			"v":    exprValue(row[f.field]),
			"a":    f.a,
			"b":    f.b,
			"list": f.list,
		}
		result, err := expr.Run(f.prog, env)
		if err != nil {
			return false, execErrorf(KindInvalidFilter, err, "Filter on %s could not be evaluated", f.field)
		}
		if ok, _ := result.(bool); !ok {
			return false, nil
		}
	}
	return true, nil
}

// exprValue maps times to epoch milliseconds so expr compares them as
// numbers; other scalars pass through.
func exprValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return float64(t.UnixMilli())
	}
	return v
}

type aggState struct {
	count int
	sum   float64
	n     int
	best  any
}

func aggregate(plan *report.Plan, rows []memRow) []memRow {
	type group struct {
		keyVals map[string]any
		states  []aggState
	}
	var order []string
	groups := map[string]*group{}

	grouped := plan.Columns[:len(plan.Columns)-len(plan.Aggs)]
	for _, r := range rows {
		parts := make([]string, len(grouped))
		for i, c := range grouped {
			parts[i] = fmt.Sprintf("%T:%v", r.base[c.Ref.Field], r.base[c.Ref.Field])
		}
		key := strings.Join(parts, "\x1f")
		g, ok := groups[key]
		if !ok {
			g = &group{keyVals: map[string]any{}, states: make([]aggState, len(plan.Aggs))}
			for _, c := range grouped {
				g.keyVals[c.Name] = r.base[c.Ref.Field]
			}
			groups[key] = g
			order = append(order, key)
		}
		for i, a := range plan.Aggs {
			st := &g.states[i]
			if a.Ref == nil {
				st.count++
				continue
			}
			v := r.base[a.Ref.Field]
			if v == nil {
				continue
			}
			st.count++
			if f, ok := v.(float64); ok {
				st.sum += f
				st.n++
			}
			switch a.Function {
			case report.AggMin:
				if st.best == nil || compareValues(v, st.best) < 0 {
					st.best = v
				}
			case report.AggMax:
				if st.best == nil || compareValues(v, st.best) > 0 {
					st.best = v
				}
			}
		}
	}

	// an ungrouped aggregate over no rows still yields one row
	if len(grouped) == 0 && len(order) == 0 {
		groups[""] = &group{keyVals: map[string]any{}, states: make([]aggState, len(plan.Aggs))}
		order = append(order, "")
	}

	out := make([]memRow, 0, len(order))
	for _, key := range order {
		g := groups[key]
		row := make(map[string]any, len(plan.Columns))
		for k, v := range g.keyVals {
			row[k] = v
		}
		for i, a := range plan.Aggs {
			st := g.states[i]
			switch a.Function {
			case report.AggCount:
				row[a.Alias] = float64(st.count)
			case report.AggSum:
				if st.n > 0 {
					row[a.Alias] = st.sum
				} else {
					row[a.Alias] = nil
				}
			case report.AggAvg:
				if st.n > 0 {
					row[a.Alias] = st.sum / float64(st.n)
				} else {
					row[a.Alias] = nil
				}
			default:
				row[a.Alias] = st.best
			}
		}
		out = append(out, memRow{out: row})
	}
	return out
}

// sortRows applies the plan's sorts, or the same default order the SQL
// executor uses. Nulls sort last ascending and first descending.
func sortRows(plan *report.Plan, entity *metadata.EntityDescriptor, rows []memRow) {
	type key struct {
		get  func(memRow) any
		desc bool
	}
	var keys []key
	for _, s := range plan.Sorts {
		if s.Ref != nil {
			field := s.Ref.Field
			keys = append(keys, key{get: func(r memRow) any { return r.base[field] }, desc: s.Desc})
		} else {
			col := s.Column
			keys = append(keys, key{get: func(r memRow) any { return r.out[col] }, desc: s.Desc})
		}
	}
	if len(keys) == 0 {
		if len(plan.Aggs) > 0 {
			for _, c := range plan.Columns[:len(plan.Columns)-len(plan.Aggs)] {
				col := c.Name
				keys = append(keys, key{get: func(r memRow) any { return r.out[col] }})
			}
		} else if entity.PrimaryKey != "" {
			pk := entity.PrimaryKey
			keys = append(keys, key{get: func(r memRow) any { return r.base[pk] }})
		}
	}
	if len(keys) == 0 {
		return
	}

	sort.SliceStable(rows, func(i, j int) bool {
		for _, k := range keys {
			c := compareValues(k.get(rows[i]), k.get(rows[j]))
			if c == 0 {
				continue
			}
			if k.desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// compareValues orders two scalars of the same field. nil is greater than
// any value.
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	switch x := a.(type) {
	case float64:
		if y, ok := b.(float64); ok {
			return cmp.Compare(x, y)
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y)
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			default:
				return 1
			}
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}
