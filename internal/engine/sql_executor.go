package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"smartkollect/internal/metadata"
	"smartkollect/internal/report"
	"smartkollect/internal/store"
)

// SQLExecutor runs definitions as one SELECT against the store.
type SQLExecutor struct {
	store   *store.Store
	builder *report.Builder
	limits  Limits
	logger  *zap.Logger
}

func NewSQLExecutor(s *store.Store, b *report.Builder, limits Limits, logger *zap.Logger) *SQLExecutor {
	return &SQLExecutor{store: s, builder: b, limits: limits, logger: logger.Named("sql")}
}

func (e *SQLExecutor) Execute(ctx context.Context, def report.Definition) (*ResultSet, error) {
	plan, err := compile(e.builder, def)
	if err != nil {
		return nil, err
	}

	qr, err := BuildSelectSQL(plan, e.store.Dialect, e.limits.RowLimit(plan))
	if err != nil {
		return nil, err
	}

	if e.limits.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.limits.Timeout)
		defer cancel()
	}

	e.logger.Debug("execute", zap.String("report", plan.Name), zap.String("sql", qr.SQL), zap.Int("params", len(qr.Params)))

	_, rows, err := store.QueryTable(ctx, e.store.DB, qr.SQL, qr.Params...)
	if err != nil {
		return nil, e.mapError(ctx, err)
	}

	normalizeRows(plan, rows, e.store.Dialect.NeedsBoolFix())

	columns := plan.ColumnNames()
	out := make([]map[string]any, len(rows))
	for i, r := range rows {
		out[i] = project(columns, r)
	}
	return &ResultSet{Columns: columns, Rows: out}, nil
}

func (e *SQLExecutor) mapError(ctx context.Context, err error) error {
	mapped := e.store.Dialect.MapError(err)
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return execErrorf(KindTimeout, err, "The report did not finish within %s", e.limits.Timeout)
	case errors.Is(mapped, store.ErrQueryCanceled), errors.Is(err, context.Canceled):
		if errors.Is(ctx.Err(), context.Canceled) {
			return execErrorf(KindTimeout, err, "The report was canceled")
		}
		return execErrorf(KindTimeout, err, "The report did not finish within %s", e.limits.Timeout)
	case errors.Is(mapped, store.ErrInvalidValue):
		return execErrorf(KindInvalidFilter, err, "A filter value was rejected by the database")
	}
	e.logger.Error("report query failed", zap.Error(err))
	return execErrorf(KindStoreError, err, "query failed")
}

// normalizeRows gives both drivers the same value shapes: float64 for
// numeric fields and aggregates, bool for booleans, and ISO strings for
// dates (YYYY-MM-DD) and datetimes (RFC 3339).
func normalizeRows(plan *report.Plan, rows []map[string]any, boolFix bool) {
	var numeric, bools []string
	temporal := map[string]metadata.FieldType{}
	for _, c := range plan.Columns {
		t, ok := columnType(c)
		if !ok {
			continue
		}
		switch {
		case t.IsNumeric():
			numeric = append(numeric, c.Name)
		case t == metadata.TypeBoolean:
			bools = append(bools, c.Name)
		case t.IsTemporal():
			temporal[c.Name] = t
		}
	}

	store.NormalizeNumbers(rows, numeric)
	if boolFix {
		store.NormalizeBooleans(rows, bools)
	}
	for _, row := range rows {
		for name, t := range temporal {
			row[name] = formatTemporal(row[name], t)
		}
	}
}

// columnType returns the value type a column produces: the field type for
// selected fields and for min/max, currency-like numbers for the other
// aggregates.
func columnType(c report.Column) (metadata.FieldType, bool) {
	if c.Ref != nil {
		return c.Ref.Desc.Type, true
	}
	a := c.Agg
	switch a.Function {
	case report.AggCount, report.AggSum, report.AggAvg:
		return metadata.TypeCurrency, true
	}
	if a.Ref != nil {
		return a.Ref.Desc.Type, true
	}
	return "", false
}

func formatTemporal(v any, t metadata.FieldType) any {
	switch val := v.(type) {
	case time.Time:
		return store.FormatTime(val, t)
	case string:
		if tm, err := store.ParseTime(val); err == nil {
			return store.FormatTime(tm, t)
		}
	}
	return v
}
