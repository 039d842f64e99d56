package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"smartkollect/internal/metadata"
)

// Migrator materialises catalog entities as tables. Production databases
// already own these tables; the migrator serves development databases,
// fixtures and tests.
type Migrator struct {
	store *Store
}

func NewMigrator(store *Store) *Migrator {
	return &Migrator{store: store}
}

// MigrateCatalog migrates every entity of the catalog in registration order.
func (m *Migrator) MigrateCatalog(ctx context.Context, cat *metadata.Catalog) error {
	for _, e := range cat.ListEntities() {
		if err := m.Migrate(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// Migrate ensures the table matches the entity descriptor.
// Creates the table if it doesn't exist, or adds missing columns.
func (m *Migrator) Migrate(ctx context.Context, entity *metadata.EntityDescriptor) error {
	exists, err := m.store.Dialect.TableExists(ctx, m.store.DB, entity.Table)
	if err != nil {
		return fmt.Errorf("check table exists: %w", err)
	}

	if !exists {
		return m.createTable(ctx, entity)
	}

	return m.alterTable(ctx, entity)
}

func (m *Migrator) createTable(ctx context.Context, entity *metadata.EntityDescriptor) error {
	var cols []string
	for _, f := range entity.Fields {
		cols = append(cols, m.buildColumnDef(entity, f))
	}

	sql := fmt.Sprintf("CREATE TABLE %s (\n  %s\n)",
		m.store.Dialect.QuoteIdent(entity.Table), strings.Join(cols, ",\n  "))

	if _, err := m.store.DB.ExecContext(ctx, sql); err != nil {
		return fmt.Errorf("create table %s: %w", entity.Table, err)
	}
	return nil
}

func (m *Migrator) alterTable(ctx context.Context, entity *metadata.EntityDescriptor) error {
	existing, err := m.store.Dialect.GetColumns(ctx, m.store.DB, entity.Table)
	if err != nil {
		return fmt.Errorf("get columns for %s: %w", entity.Table, err)
	}

	for _, f := range entity.Fields {
		if _, ok := existing[f.Key]; ok {
			continue
		}
		sql := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
			m.store.Dialect.QuoteIdent(entity.Table),
			m.store.Dialect.QuoteIdent(f.Key),
			m.store.Dialect.ColumnType(f.Type))
		if _, err := m.store.DB.ExecContext(ctx, sql); err != nil {
			return fmt.Errorf("add column %s.%s: %w", entity.Table, f.Key, err)
		}
	}
	return nil
}

func (m *Migrator) buildColumnDef(entity *metadata.EntityDescriptor, f metadata.FieldDescriptor) string {
	col := m.store.Dialect.QuoteIdent(f.Key) + " " + m.store.Dialect.ColumnType(f.Type)
	if f.Key == entity.PrimaryKey {
		col += " PRIMARY KEY"
	}
	return col
}

// Seed inserts rows into the entity's table inside one transaction. Keys
// that are not catalog fields are rejected; cell values are coerced to the
// field type first.
func (m *Migrator) Seed(ctx context.Context, entity *metadata.EntityDescriptor, rows []map[string]any) (int, error) {
	tx, err := m.store.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin seed %s: %w", entity.Key, err)
	}
	defer tx.Rollback() //nolint:errcheck

	for i, row := range rows {
		pb := m.store.Dialect.NewParamBuilder()
		var cols, phs []string
		// catalog order keeps the statement text stable across rows
		for _, f := range entity.Fields {
			v, ok := row[f.Key]
			if !ok {
				continue
			}
			cv, err := CoerceValue(v, f.Type)
			if err != nil {
				return 0, fmt.Errorf("seed %s row %d field %s: %w", entity.Key, i, f.Key, err)
			}
			cols = append(cols, m.store.Dialect.QuoteIdent(f.Key))
			phs = append(phs, pb.Add(m.store.Dialect.BindValue(cv, f.Type)))
		}
		for k := range row {
			if !entity.HasField(k) {
				return 0, fmt.Errorf("seed %s row %d: %w: %s", entity.Key, i, metadata.ErrUnknownField, k)
			}
		}
		if len(cols) == 0 {
			continue
		}
		sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			m.store.Dialect.QuoteIdent(entity.Table), strings.Join(cols, ", "), strings.Join(phs, ", "))
		if _, err := tx.ExecContext(ctx, sql, pb.Params()...); err != nil {
			return 0, fmt.Errorf("seed %s row %d: %w", entity.Key, i, m.store.Dialect.MapError(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit seed %s: %w", entity.Key, err)
	}
	return len(rows), nil
}

// CoerceValue converts a loosely typed fixture cell (YAML or JSON decoded)
// into the Go type of the field: string, float64, bool or time.Time.
func CoerceValue(v any, t metadata.FieldType) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch {
	case t.IsNumeric():
		switch n := v.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %q is not a number", ErrInvalidValue, n)
			}
			return f, nil
		}
	case t.IsTemporal():
		switch d := v.(type) {
		case time.Time:
			return d, nil
		case string:
			tm, err := ParseTime(strings.TrimSpace(d))
			if err != nil {
				return nil, fmt.Errorf("%w: %q is not a date", ErrInvalidValue, d)
			}
			return tm, nil
		}
	case t == metadata.TypeBoolean:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			pb, err := strconv.ParseBool(b)
			if err != nil {
				return nil, fmt.Errorf("%w: %q is not a boolean", ErrInvalidValue, b)
			}
			return pb, nil
		case int:
			return b != 0, nil
		}
	default:
		return fmt.Sprint(v), nil
	}
	return nil, fmt.Errorf("%w: %T for %s field", ErrInvalidValue, v, t)
}
