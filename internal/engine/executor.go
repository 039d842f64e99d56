package engine

import (
	"context"
	"time"

	"smartkollect/internal/config"
	"smartkollect/internal/report"
)

// ResultSet is the tabular outcome of one execution. Columns fixes the
// display and export order; every row carries exactly those keys.
type ResultSet struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// Count is the number of rows.
func (rs *ResultSet) Count() int {
	if rs == nil {
		return 0
	}
	return len(rs.Rows)
}

// Executor runs a report definition. Implementations validate first and
// return report.Problems when the definition is not executable; every
// other failure is an *ExecError. Results are all-or-nothing.
type Executor interface {
	Execute(ctx context.Context, def report.Definition) (*ResultSet, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, def report.Definition) (*ResultSet, error)

func (f ExecutorFunc) Execute(ctx context.Context, def report.Definition) (*ResultSet, error) {
	return f(ctx, def)
}

// Limits bound the number of rows and the time an execution may take.
type Limits struct {
	DefaultRows int
	MaxRows     int
	Timeout     time.Duration
}

// DefaultLimits mirrors the configuration defaults.
func DefaultLimits() Limits {
	return Limits{DefaultRows: 1000, MaxRows: 10000, Timeout: 30 * time.Second}
}

// LimitsFromConfig reads the reports section. Unset values keep the
// defaults.
func LimitsFromConfig(cfg config.ReportsConfig) Limits {
	l := DefaultLimits()
	if cfg.DefaultRowLimit > 0 {
		l.DefaultRows = cfg.DefaultRowLimit
	}
	if cfg.MaxRowLimit > 0 {
		l.MaxRows = cfg.MaxRowLimit
	}
	if cfg.QueryTimeoutMs > 0 {
		l.Timeout = cfg.QueryTimeout()
	}
	return l
}

// RowLimit returns the effective limit for a plan: the definition's own
// limit, or the default, capped by the maximum.
func (l Limits) RowLimit(plan *report.Plan) int {
	n := plan.RowLimit
	if n <= 0 {
		n = l.DefaultRows
	}
	if l.MaxRows > 0 && n > l.MaxRows {
		n = l.MaxRows
	}
	return n
}

// compile validates def against the builder's catalog.
func compile(b *report.Builder, def report.Definition) (*report.Plan, error) {
	plan, problems := b.Compile(def)
	if len(problems) > 0 {
		return nil, problems
	}
	return plan, nil
}

// project builds an output row that holds exactly the plan's columns,
// filling absent values with nil.
func project(columns []string, src map[string]any) map[string]any {
	row := make(map[string]any, len(columns))
	for _, c := range columns {
		row[c] = src[c]
	}
	return row
}
