package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"smartkollect/internal/metadata"
)

// PostgresDialect implements Dialect for PostgreSQL via pgx/stdlib.
type PostgresDialect struct{}

func (d *PostgresDialect) Name() string       { return "postgres" }
func (d *PostgresDialect) DriverName() string { return "pgx" }

func (d *PostgresDialect) Placeholder(index int) string {
	return fmt.Sprintf("$%d", index)
}

func (d *PostgresDialect) NewParamBuilder() ParamBuilder {
	return &pgParamBuilder{}
}

func (d *PostgresDialect) NeedsBoolFix() bool            { return false }
func (d *PostgresDialect) QuoteIdent(name string) string { return quoteIdent(name) }
func (d *PostgresDialect) SupportsJoin(kind string) bool { return supportsJoin(kind) }

func (d *PostgresDialect) ColumnType(t metadata.FieldType) string {
	switch t {
	case metadata.TypeCurrency:
		return "NUMERIC(18,2)"
	case metadata.TypePercentage:
		return "NUMERIC(9,4)"
	case metadata.TypeBoolean:
		return "BOOLEAN"
	case metadata.TypeDate:
		return "DATE"
	case metadata.TypeDateTime:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}

func (d *PostgresDialect) SystemTablesSQL() string {
	return pgSystemTablesSQL
}

func (d *PostgresDialect) TableExists(ctx context.Context, db *sql.DB, tableName string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM information_schema.tables WHERE table_name = $1 AND table_schema = 'public')`,
		tableName,
	).Scan(&exists)
	return exists, err
}

func (d *PostgresDialect) GetColumns(ctx context.Context, db *sql.DB, tableName string) (map[string]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT column_name, data_type FROM information_schema.columns WHERE table_name = $1 AND table_schema = 'public'`,
		tableName,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]string)
	for rows.Next() {
		var name, dataType string
		if err := rows.Scan(&name, &dataType); err != nil {
			return nil, err
		}
		cols[name] = dataType
	}
	return cols, rows.Err()
}

// InExpr binds the list as one array parameter when the values share a Go
// type, and expands it otherwise.
func (d *PostgresDialect) InExpr(field string, pb ParamBuilder, values []any) string {
	if len(values) == 0 {
		return "1=0"
	}
	if arr, ok := pgArray(values); ok {
		return fmt.Sprintf("%s = ANY(%s)", field, pb.Add(arr))
	}
	return fmt.Sprintf("%s IN (%s)", field, expandList(pb, values))
}

func (d *PostgresDialect) NotInExpr(field string, pb ParamBuilder, values []any) string {
	if len(values) == 0 {
		return "1=1"
	}
	if arr, ok := pgArray(values); ok {
		return fmt.Sprintf("%s != ALL(%s)", field, pb.Add(arr))
	}
	return fmt.Sprintf("%s NOT IN (%s)", field, expandList(pb, values))
}

func (d *PostgresDialect) ContainsExpr(field string, pb ParamBuilder, substr string, negate bool) string {
	op := "ILIKE"
	if negate {
		op = "NOT ILIKE"
	}
	return fmt.Sprintf(`%s::text %s %s ESCAPE '\'`, field, op, pb.Add(likePattern(substr)))
}

func (d *PostgresDialect) IntervalDeleteExpr(createdAtCol string, pb ParamBuilder, days string) string {
	ph := pb.Add(days)
	return fmt.Sprintf("%s < now() - (%s || ' days')::interval", createdAtCol, ph)
}

// BindValue passes values through; pgx encodes time.Time, float64 and bool
// into the matching column types.
func (d *PostgresDialect) BindValue(v any, _ metadata.FieldType) any {
	return v
}

func (d *PostgresDialect) ArrayParam(values []string) any {
	if values == nil {
		return []string{}
	}
	return values
}

func (d *PostgresDialect) ScanArray(src any) ([]string, error) {
	if src == nil {
		return []string{}, nil
	}
	switch v := src.(type) {
	case []string:
		return v, nil
	case []any:
		result := make([]string, len(v))
		for i, item := range v {
			result[i] = fmt.Sprintf("%v", item)
		}
		return result, nil
	case []byte:
		// pgx/stdlib may return TEXT[] as a string like {debtors,payments}
		return parsePgArray(string(v))
	case string:
		return parsePgArray(v)
	default:
		return []string{}, nil
	}
}

// parsePgArray parses a PostgreSQL array literal like {debtors,payments} into []string.
func parsePgArray(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "{}" {
		return []string{}, nil
	}
	// Try JSON first (in case it's a JSON array)
	if strings.HasPrefix(s, "[") {
		var result []string
		if err := json.Unmarshal([]byte(s), &result); err == nil {
			return result, nil
		}
	}
	if strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") {
		inner := s[1 : len(s)-1]
		if inner == "" {
			return []string{}, nil
		}
		parts := strings.Split(inner, ",")
		result := make([]string, len(parts))
		for i, p := range parts {
			result[i] = strings.Trim(strings.TrimSpace(p), `"`)
		}
		return result, nil
	}
	return []string{s}, nil
}

func (d *PostgresDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
		case pgErr.Code == "57014":
			return fmt.Errorf("%w: %w", ErrQueryCanceled, err)
		case strings.HasPrefix(pgErr.Code, "22"):
			// class 22: data exception (bad literal, out of range, ...)
			return fmt.Errorf("%w: %w", ErrInvalidValue, err)
		}
		return err
	}
	errStr := err.Error()
	if strings.Contains(errStr, "23505") || strings.Contains(errStr, "duplicate key") {
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	}
	return err
}

// pgArray converts a homogeneous []any into a typed slice pgx can bind as
// one array parameter.
func pgArray(values []any) (any, bool) {
	switch values[0].(type) {
	case string:
		return typedSlice[string](values)
	case float64:
		return typedSlice[float64](values)
	case bool:
		return typedSlice[bool](values)
	case time.Time:
		return typedSlice[time.Time](values)
	}
	return nil, false
}

func typedSlice[T any](values []any) (any, bool) {
	out := make([]T, len(values))
	for i, v := range values {
		t, ok := v.(T)
		if !ok {
			return nil, false
		}
		out[i] = t
	}
	return out, true
}

// --- PostgreSQL DDL ---

const pgSystemTablesSQL = `
CREATE TABLE IF NOT EXISTS _report_templates (
    id          UUID PRIMARY KEY,
    name        TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    definition  JSONB NOT NULL,
    created_by  TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_report_templates_created ON _report_templates(created_at DESC);

CREATE TABLE IF NOT EXISTS _report_runs (
    id          UUID PRIMARY KEY,
    report_name TEXT NOT NULL,
    entities    TEXT[] NOT NULL DEFAULT '{}',
    row_count   INTEGER NOT NULL DEFAULT 0,
    duration_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
    status      TEXT NOT NULL,
    error_code  TEXT NOT NULL DEFAULT '',
    user_id     TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_report_runs_created ON _report_runs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_report_runs_status ON _report_runs(status);
`
