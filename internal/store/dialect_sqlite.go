package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"smartkollect/internal/metadata"
)

// SQLiteDialect implements Dialect for SQLite via modernc.org/sqlite.
type SQLiteDialect struct{}

func (d *SQLiteDialect) Name() string       { return "sqlite" }
func (d *SQLiteDialect) DriverName() string { return "sqlite" }

func (d *SQLiteDialect) Placeholder(index int) string {
	return fmt.Sprintf("?%d", index)
}

func (d *SQLiteDialect) NewParamBuilder() ParamBuilder {
	return &sqliteParamBuilder{}
}

func (d *SQLiteDialect) NeedsBoolFix() bool            { return true }
func (d *SQLiteDialect) QuoteIdent(name string) string { return quoteIdent(name) }

// SupportsJoin covers right and full joins too; SQLite runs them since 3.39.
func (d *SQLiteDialect) SupportsJoin(kind string) bool { return supportsJoin(kind) }

// ColumnType stores dates as ISO-8601 TEXT so they compare lexically.
func (d *SQLiteDialect) ColumnType(t metadata.FieldType) string {
	switch t {
	case metadata.TypeCurrency, metadata.TypePercentage:
		return "REAL"
	case metadata.TypeBoolean:
		return "INTEGER"
	default:
		return "TEXT"
	}
}

func (d *SQLiteDialect) SystemTablesSQL() string {
	return sqliteSystemTablesSQL
}

func (d *SQLiteDialect) TableExists(ctx context.Context, db *sql.DB, tableName string) (bool, error) {
	var name string
	err := db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name=?1",
		tableName,
	).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (d *SQLiteDialect) GetColumns(ctx context.Context, db *sql.DB, tableName string) (map[string]string, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(tableName)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]string)
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull int
		var dfltValue any
		var pk int
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return nil, err
		}
		cols[name] = colType
	}
	return cols, rows.Err()
}

func (d *SQLiteDialect) InExpr(field string, pb ParamBuilder, values []any) string {
	if len(values) == 0 {
		return "1=0" // always false
	}
	return fmt.Sprintf("%s IN (%s)", field, expandList(pb, values))
}

func (d *SQLiteDialect) NotInExpr(field string, pb ParamBuilder, values []any) string {
	if len(values) == 0 {
		return "1=1" // always true
	}
	return fmt.Sprintf("%s NOT IN (%s)", field, expandList(pb, values))
}

func (d *SQLiteDialect) ContainsExpr(field string, pb ParamBuilder, substr string, negate bool) string {
	op := "LIKE"
	if negate {
		op = "NOT LIKE"
	}
	return fmt.Sprintf(`%s %s %s ESCAPE '\'`, field, op, pb.Add(likePattern(substr)))
}

func (d *SQLiteDialect) IntervalDeleteExpr(createdAtCol string, pb ParamBuilder, days string) string {
	ph := pb.Add(days)
	return fmt.Sprintf("%s < strftime('%%Y-%%m-%%dT%%H:%%M:%%SZ', 'now', '-' || %s || ' days')", createdAtCol, ph)
}

// BindValue renders temporal operands in the stored TEXT layout and
// booleans as 0/1.
func (d *SQLiteDialect) BindValue(v any, t metadata.FieldType) any {
	switch val := v.(type) {
	case time.Time:
		return FormatTime(val, t)
	case bool:
		if val {
			return 1
		}
		return 0
	}
	return v
}

func (d *SQLiteDialect) ArrayParam(values []string) any {
	if values == nil {
		return "[]"
	}
	b, _ := json.Marshal(values)
	return string(b)
}

func (d *SQLiteDialect) ScanArray(src any) ([]string, error) {
	if src == nil {
		return []string{}, nil
	}
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return []string{}, nil
	}
	s = strings.TrimSpace(s)
	if s == "" || s == "[]" {
		return []string{}, nil
	}
	var result []string
	if err := json.Unmarshal([]byte(s), &result); err != nil {
		return []string{}, fmt.Errorf("scan array: %w", err)
	}
	return result, nil
}

func (d *SQLiteDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "UNIQUE constraint failed") || strings.Contains(errStr, "constraint failed: UNIQUE"):
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	case strings.Contains(errStr, "interrupted"):
		return fmt.Errorf("%w: %w", ErrQueryCanceled, err)
	}
	return err
}

// FormatTime renders t the way SQLite TEXT columns hold it: YYYY-MM-DD for
// dates, RFC 3339 UTC otherwise.
func FormatTime(t time.Time, ft metadata.FieldType) string {
	if ft == metadata.TypeDate {
		return t.Format(time.DateOnly)
	}
	return t.UTC().Format(time.RFC3339)
}

// --- SQLite DDL ---

const sqliteSystemTablesSQL = `
CREATE TABLE IF NOT EXISTS _report_templates (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    definition  TEXT NOT NULL,
    created_by  TEXT NOT NULL DEFAULT '',
    created_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
    updated_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_report_templates_created ON _report_templates(created_at);

CREATE TABLE IF NOT EXISTS _report_runs (
    id          TEXT PRIMARY KEY,
    report_name TEXT NOT NULL,
    entities    TEXT NOT NULL DEFAULT '[]',
    row_count   INTEGER NOT NULL DEFAULT 0,
    duration_ms REAL NOT NULL DEFAULT 0,
    status      TEXT NOT NULL,
    error_code  TEXT NOT NULL DEFAULT '',
    user_id     TEXT NOT NULL DEFAULT '',
    created_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_report_runs_created ON _report_runs(created_at);
CREATE INDEX IF NOT EXISTS idx_report_runs_status ON _report_runs(status);
`
