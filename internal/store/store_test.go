package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"smartkollect/internal/metadata"
	"smartkollect/internal/report"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, "sqlite", filepath.Join(t.TempDir(), "test.db"), 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(s.Close)
	if err := s.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return s
}

func TestBootstrap_Idempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.Bootstrap(ctx); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	for _, table := range []string{"_report_templates", "_report_runs"} {
		ok, err := s.Dialect.TableExists(ctx, s.DB, table)
		if err != nil || !ok {
			t.Fatalf("expected table %s to exist (err=%v)", table, err)
		}
	}
}

func TestTemplateStore_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ts := NewTemplateStore(s)

	limit := 10
	def := report.Definition{
		Name:           "Large balances",
		Entities:       []string{"debtors"},
		SelectedFields: map[string][]string{"debtors": {"acc_number", "outstanding_balance"}},
		Filters: []report.FilterCondition{
			{Field: "outstanding_balance", Operator: report.OpGreaterThan, Value: report.Number(1000)},
		},
		RowLimit:      &limit,
		Visualization: report.Visualization{Kind: report.VisTable},
	}
	tpl := &Template{Definition: def, CreatedBy: "agent-1"}
	if err := ts.Save(ctx, tpl); err != nil {
		t.Fatalf("save: %v", err)
	}
	if tpl.ID == "" || tpl.Name != "Large balances" {
		t.Fatalf("expected id and name to be filled, got %+v", tpl)
	}

	got, err := ts.Get(ctx, tpl.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Definition.Name != def.Name || len(got.Definition.Filters) != 1 {
		t.Fatalf("definition did not round-trip: %+v", got.Definition)
	}
	if got.Definition.Filters[0].Value != report.Number(1000) {
		t.Fatalf("filter value did not round-trip: %+v", got.Definition.Filters[0].Value)
	}
	if got.Definition.RowLimit == nil || *got.Definition.RowLimit != 10 {
		t.Fatalf("row limit did not round-trip: %v", got.Definition.RowLimit)
	}
	if got.CreatedAt.IsZero() {
		t.Fatal("expected created_at")
	}

	tpl.Description = "renamed"
	if err := ts.Save(ctx, tpl); err != nil {
		t.Fatalf("update: %v", err)
	}
	list, err := ts.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Description != "renamed" {
		t.Fatalf("expected one updated template, got %+v", list)
	}

	if err := ts.Delete(ctx, tpl.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := ts.Get(ctx, tpl.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := ts.Delete(ctx, tpl.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting twice, got %v", err)
	}
}

func TestRuns_InsertListDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := time.Now().AddDate(0, 0, -40)
	runs := []Run{
		{ReportName: "a", Entities: []string{"debtors"}, RowCount: 3, DurationMs: 1.5, Status: RunOK},
		{ReportName: "b", Entities: []string{"debtors", "payments"}, Status: RunError, ErrorCode: "TIMEOUT"},
		{ReportName: "a", Entities: []string{"debtors"}, Status: RunOK, CreatedAt: old},
	}
	if err := InsertRuns(ctx, s, runs); err != nil {
		t.Fatalf("insert: %v", err)
	}

	all, err := ListRuns(ctx, s, RunFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(all))
	}
	if all[len(all)-1].CreatedAt.After(all[0].CreatedAt) {
		t.Fatal("expected newest first")
	}

	failed, err := ListRuns(ctx, s, RunFilter{Status: RunError})
	if err != nil {
		t.Fatalf("list errors: %v", err)
	}
	if len(failed) != 1 || failed[0].ErrorCode != "TIMEOUT" || len(failed[0].Entities) != 2 {
		t.Fatalf("unexpected failed runs: %+v", failed)
	}

	n, err := DeleteRunsOlderThan(ctx, s, 30)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired run, got %d", n)
	}
}

func TestMigrator_SeedAndQuery(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	cat := metadata.DefaultCatalog()
	m := NewMigrator(s)
	if err := m.MigrateCatalog(ctx, cat); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// second run only checks columns
	if err := m.MigrateCatalog(ctx, cat); err != nil {
		t.Fatalf("re-migrate: %v", err)
	}

	debtors, _ := cat.GetEntity("debtors")
	n, err := m.Seed(ctx, debtors, []map[string]any{
		{"id": "d1", "acc_number": "ACC-1", "outstanding_balance": 1500, "is_handed_over": true, "last_payment_date": "2024-03-01"},
		{"id": "d2", "acc_number": "ACC-2", "outstanding_balance": "250.5", "is_handed_over": false},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rows seeded, got %d", n)
	}

	_, rows, err := QueryTable(ctx, s.DB, `SELECT acc_number, outstanding_balance, is_handed_over, last_payment_date FROM debtors ORDER BY acc_number`)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	NormalizeBooleans(rows, []string{"is_handed_over"})
	if rows[0]["is_handed_over"] != true || rows[1]["is_handed_over"] != false {
		t.Fatalf("booleans not normalized: %+v", rows)
	}
	if rows[0]["outstanding_balance"] != 1500.0 {
		t.Fatalf("unexpected balance: %#v", rows[0]["outstanding_balance"])
	}
	if rows[0]["last_payment_date"] != "2024-03-01" {
		t.Fatalf("unexpected date: %#v", rows[0]["last_payment_date"])
	}
	if rows[1]["last_payment_date"] != nil {
		t.Fatalf("expected NULL date, got %#v", rows[1]["last_payment_date"])
	}
}

func TestMigrator_SeedRejectsUnknownField(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	cat := metadata.DefaultCatalog()
	m := NewMigrator(s)
	if err := m.MigrateCatalog(ctx, cat); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	debtors, _ := cat.GetEntity("debtors")
	_, err := m.Seed(ctx, debtors, []map[string]any{{"id": "d1", "nickname": "x"}})
	if !errors.Is(err, metadata.ErrUnknownField) {
		t.Fatalf("expected ErrUnknownField, got %v", err)
	}
}

func TestCoerceValue(t *testing.T) {
	if v, err := CoerceValue(12, metadata.TypeCurrency); err != nil || v != 12.0 {
		t.Fatalf("int to currency: %v %v", v, err)
	}
	if _, err := CoerceValue("abc", metadata.TypeCurrency); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected ErrInvalidValue, got %v", err)
	}
	v, err := CoerceValue("2024-01-02", metadata.TypeDate)
	if err != nil {
		t.Fatalf("date: %v", err)
	}
	if tm := v.(time.Time); tm.Day() != 2 {
		t.Fatalf("unexpected date %v", tm)
	}
	if v, _ := CoerceValue(1001, metadata.TypeText); v != "1001" {
		t.Fatalf("expected text coercion, got %#v", v)
	}
}
