package engine

import (
	"fmt"
	"strings"

	"smartkollect/internal/report"
	"smartkollect/internal/store"
)

type QueryResult struct {
	SQL    string
	Params []any
}

// sqlBuilder renders one plan for one dialect. Table aliases are entity
// keys, so every column reference reads "entity"."field".
type sqlBuilder struct {
	plan *report.Plan
	d    store.Dialect
	pb   store.ParamBuilder
}

// BuildSelectSQL builds the parameterized SELECT for a validated plan.
// Join problems the dialect cannot express fail with UNSUPPORTED_JOIN.
func BuildSelectSQL(plan *report.Plan, d store.Dialect, limit int) (QueryResult, error) {
	b := &sqlBuilder{plan: plan, d: d, pb: d.NewParamBuilder()}

	from, err := b.from()
	if err != nil {
		return QueryResult{}, err
	}

	sql := fmt.Sprintf("SELECT %s FROM %s", strings.Join(b.selectList(), ", "), from)

	var where []string
	for _, f := range plan.Filters {
		where = append(where, b.whereClause(f))
	}
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}

	if len(plan.GroupBy) > 0 && len(plan.Aggs) > 0 {
		group := make([]string, len(plan.GroupBy))
		for i, ref := range plan.GroupBy {
			group[i] = b.column(ref)
		}
		sql += " GROUP BY " + strings.Join(group, ", ")
	}

	if order := b.orderBy(); len(order) > 0 {
		sql += " ORDER BY " + strings.Join(order, ", ")
	}

	if limit > 0 {
		sql += " LIMIT " + b.pb.Add(limit)
	}

	return QueryResult{SQL: sql, Params: b.pb.Params()}, nil
}

func (b *sqlBuilder) column(ref report.FieldRef) string {
	return b.d.QuoteIdent(ref.Entity) + "." + b.d.QuoteIdent(ref.Field)
}

func (b *sqlBuilder) selectList() []string {
	cols := make([]string, len(b.plan.Columns))
	for i, c := range b.plan.Columns {
		expr := ""
		if c.Agg != nil {
			expr = b.aggExpr(*c.Agg)
		} else {
			expr = b.column(*c.Ref)
		}
		cols[i] = expr + " AS " + b.d.QuoteIdent(c.Name)
	}
	return cols
}

func (b *sqlBuilder) aggExpr(a report.PlannedAggregation) string {
	if a.Ref == nil {
		return "COUNT(*)"
	}
	return fmt.Sprintf("%s(%s)", strings.ToUpper(string(a.Function)), b.column(*a.Ref))
}

// from renders the first entity and then the join list. Joins are emitted
// once one of their sides is already part of the FROM clause; a join whose
// connected side is its right side is mirrored, turning left into right
// and vice versa.
func (b *sqlBuilder) from() (string, error) {
	first := b.plan.Entities[0]
	tables := make(map[string]string, len(b.plan.Entities))
	for _, e := range b.plan.Entities {
		tables[e.Key] = e.Table
	}

	sql := b.d.QuoteIdent(first.Table) + " AS " + b.d.QuoteIdent(first.Key)
	joined := map[string]bool{first.Key: true}

	pending := b.plan.Joins
	for len(pending) > 0 {
		var rest []report.PlannedJoin
		for _, j := range pending {
			var near, far report.FieldRef
			kind := j.Kind
			switch {
			case joined[j.Left.Entity] && joined[j.Right.Entity]:
				return "", execErrorf(KindUnsupportedJoin, nil,
					"Join between %s and %s closes a cycle; each entity can be joined once", j.Left.Entity, j.Right.Entity)
			case joined[j.Left.Entity]:
				near, far = j.Left, j.Right
			case joined[j.Right.Entity]:
				near, far = j.Right, j.Left
				kind = mirror(kind)
			default:
				rest = append(rest, j)
				continue
			}
			if !b.d.SupportsJoin(string(kind)) {
				return "", execErrorf(KindUnsupportedJoin, nil,
					"%s joins are not supported by the %s store", kind, b.d.Name())
			}
			sql += fmt.Sprintf(" %s JOIN %s AS %s ON %s = %s",
				joinKeyword(kind), b.d.QuoteIdent(tables[far.Entity]), b.d.QuoteIdent(far.Entity),
				b.column(near), b.column(far))
			joined[far.Entity] = true
		}
		if len(rest) == len(pending) {
			j := rest[0]
			return "", execErrorf(KindUnsupportedJoin, nil,
				"Join between %s and %s is not connected to %s", j.Left.Entity, j.Right.Entity, first.Key)
		}
		pending = rest
	}

	for _, e := range b.plan.Entities {
		if !joined[e.Key] {
			return "", execErrorf(KindUnsupportedJoin, nil,
				"%s is selected but not joined to %s", e.Key, first.Key)
		}
	}
	return sql, nil
}

func mirror(k report.JoinKind) report.JoinKind {
	switch k {
	case report.JoinLeft:
		return report.JoinRight
	case report.JoinRight:
		return report.JoinLeft
	}
	return k
}

func joinKeyword(k report.JoinKind) string {
	switch k {
	case report.JoinLeft:
		return "LEFT"
	case report.JoinRight:
		return "RIGHT"
	case report.JoinFull:
		return "FULL OUTER"
	default:
		return "INNER"
	}
}

func (b *sqlBuilder) bind(f report.PlannedFilter, i int) any {
	return b.d.BindValue(f.Values[i].Native(), f.Ref.Desc.Type)
}

func (b *sqlBuilder) whereClause(f report.PlannedFilter) string {
	col := b.column(f.Ref)
	switch f.Operator {
	case report.OpEquals:
		return fmt.Sprintf("%s = %s", col, b.pb.Add(b.bind(f, 0)))
	case report.OpNotEquals:
		return fmt.Sprintf("%s <> %s", col, b.pb.Add(b.bind(f, 0)))
	case report.OpGreaterThan:
		return fmt.Sprintf("%s > %s", col, b.pb.Add(b.bind(f, 0)))
	case report.OpLessThan:
		return fmt.Sprintf("%s < %s", col, b.pb.Add(b.bind(f, 0)))
	case report.OpBetween:
		lo := b.pb.Add(b.bind(f, 0))
		hi := b.pb.Add(b.bind(f, 1))
		return fmt.Sprintf("%s BETWEEN %s AND %s", col, lo, hi)
	case report.OpContains:
		return b.d.ContainsExpr(col, b.pb, f.Values[0].Text, false)
	case report.OpNotContains:
		return b.d.ContainsExpr(col, b.pb, f.Values[0].Text, true)
	case report.OpIn, report.OpNotIn:
		values := make([]any, len(f.Values))
		for i := range f.Values {
			values[i] = b.bind(f, i)
		}
		if f.Operator == report.OpIn {
			return b.d.InExpr(col, b.pb, values)
		}
		return b.d.NotInExpr(col, b.pb, values)
	case report.OpIsNull:
		return col + " IS NULL"
	default: // report.OpIsNotNull
		return col + " IS NOT NULL"
	}
}

// direction spells out null placement so every store orders NULLs the way
// the memory executor does: last ascending, first descending.
func direction(desc bool) string {
	if desc {
		return " DESC NULLS FIRST"
	}
	return " ASC NULLS LAST"
}

// orderBy renders the plan's sorts. Without explicit sorts the result is
// ordered by the first entity's primary key, or by the grouped columns,
// so repeated executions return rows in the same order.
func (b *sqlBuilder) orderBy() []string {
	var parts []string
	for _, s := range b.plan.Sorts {
		expr := ""
		if s.Ref != nil {
			expr = b.column(*s.Ref)
		} else {
			expr = b.d.QuoteIdent(s.Column)
		}
		parts = append(parts, expr+direction(s.Desc))
	}
	if len(parts) > 0 {
		return parts
	}

	if len(b.plan.Aggs) > 0 {
		for _, ref := range b.plan.GroupBy {
			parts = append(parts, b.column(ref)+direction(false))
		}
		return parts
	}
	first := b.plan.Entities[0]
	if first.PrimaryKey != "" {
		parts = append(parts, b.d.QuoteIdent(first.Key)+"."+b.d.QuoteIdent(first.PrimaryKey)+" ASC")
	}
	return parts
}
