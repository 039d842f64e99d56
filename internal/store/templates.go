package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"smartkollect/internal/metadata"
	"smartkollect/internal/report"
)

// Template is a saved report definition.
type Template struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Definition  report.Definition `json:"definition"`
	CreatedBy   string            `json:"created_by"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// TemplateStore persists templates in _report_templates.
type TemplateStore struct {
	store *Store
}

func NewTemplateStore(s *Store) *TemplateStore {
	return &TemplateStore{store: s}
}

// Save inserts t, or updates it when t.ID names an existing template.
// A new ID is generated when t.ID is empty.
func (ts *TemplateStore) Save(ctx context.Context, t *Template) error {
	def, err := json.Marshal(t.Definition)
	if err != nil {
		return fmt.Errorf("encode definition: %w", err)
	}
	if t.Name == "" {
		t.Name = t.Definition.Name
	}
	now := time.Now().UTC().Truncate(time.Second)
	d := ts.store.Dialect

	if t.ID != "" {
		pb := d.NewParamBuilder()
		q := fmt.Sprintf(
			"UPDATE _report_templates SET name = %s, description = %s, definition = %s, updated_at = %s WHERE id = %s",
			pb.Add(t.Name), pb.Add(t.Description), pb.Add(string(def)),
			pb.Add(d.BindValue(now, metadata.TypeDateTime)), pb.Add(t.ID))
		n, err := Exec(ctx, ts.store.DB, q, pb.Params()...)
		if err != nil {
			return fmt.Errorf("update template %s: %w", t.ID, d.MapError(err))
		}
		if n > 0 {
			t.UpdatedAt = now
			return nil
		}
	} else {
		t.ID = uuid.New().String()
	}

	pb := d.NewParamBuilder()
	q := fmt.Sprintf(
		"INSERT INTO _report_templates (id, name, description, definition, created_by, created_at, updated_at) VALUES (%s, %s, %s, %s, %s, %s, %s)",
		pb.Add(t.ID), pb.Add(t.Name), pb.Add(t.Description), pb.Add(string(def)), pb.Add(t.CreatedBy),
		pb.Add(d.BindValue(now, metadata.TypeDateTime)), pb.Add(d.BindValue(now, metadata.TypeDateTime)))
	if _, err := Exec(ctx, ts.store.DB, q, pb.Params()...); err != nil {
		return fmt.Errorf("insert template: %w", d.MapError(err))
	}
	t.CreatedAt = now
	t.UpdatedAt = now
	return nil
}

const templateColumns = "id, name, description, definition, created_by, created_at, updated_at"

// List returns templates newest first.
func (ts *TemplateStore) List(ctx context.Context) ([]Template, error) {
	rows, err := ts.store.DB.QueryContext(ctx,
		"SELECT "+templateColumns+" FROM _report_templates ORDER BY created_at DESC, name")
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	out := []Template{}
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// Get returns the template with the given id or ErrNotFound.
func (ts *TemplateStore) Get(ctx context.Context, id string) (*Template, error) {
	q := "SELECT " + templateColumns + " FROM _report_templates WHERE id = " + ts.store.Dialect.Placeholder(1)
	t, err := scanTemplate(ts.store.DB.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// Delete removes a template. Deleting a missing id returns ErrNotFound.
func (ts *TemplateStore) Delete(ctx context.Context, id string) error {
	q := "DELETE FROM _report_templates WHERE id = " + ts.store.Dialect.Placeholder(1)
	n, err := Exec(ctx, ts.store.DB, q, id)
	if err != nil {
		return fmt.Errorf("delete template %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(r rowScanner) (*Template, error) {
	var (
		t                    Template
		def                  []byte
		createdAt, updatedAt any
	)
	if err := r.Scan(&t.ID, &t.Name, &t.Description, &def, &t.CreatedBy, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan template: %w", err)
	}
	if err := json.Unmarshal(def, &t.Definition); err != nil {
		return nil, fmt.Errorf("decode template %s: %w", t.ID, err)
	}
	var err error
	if t.CreatedAt, err = ParseTime(createdAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = ParseTime(updatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}
