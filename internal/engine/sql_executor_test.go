package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"smartkollect/internal/metadata"
	"smartkollect/internal/report"
	"smartkollect/internal/store"
)

func seededStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "reports.db"), 0)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	cat := metadata.DefaultCatalog()
	m := store.NewMigrator(s)
	require.NoError(t, m.MigrateCatalog(ctx, cat))

	debtors, _ := cat.GetEntity("debtors")
	payments, _ := cat.GetEntity("payments")

	data := testDatasets()
	data["debtors"][0]["created_at"] = "2024-01-10T08:30:00Z"
	_, err = m.Seed(ctx, debtors, data["debtors"])
	require.NoError(t, err)

	_, err = m.Seed(ctx, payments, []map[string]any{
		{"id": "p1", "debtor_id": "d1", "amount": 200.0, "method": "eft", "payment_date": "2024-02-28"},
		{"id": "p2", "debtor_id": "d1", "amount": 300.0, "method": "cash", "payment_date": "2024-03-01"},
		{"id": "p3", "debtor_id": "d2", "amount": 50.0, "method": "eft", "payment_date": "2024-05-10"},
		{"id": "p4", "debtor_id": "d9", "amount": 75.0, "method": "eft", "payment_date": "2024-06-01"},
	})
	require.NoError(t, err)
	return s
}

func newSQLExecutor(t *testing.T, limits Limits) *SQLExecutor {
	return NewSQLExecutor(seededStore(t), testBuilder(), limits, zap.NewNop())
}

func TestSQLExecutor_BalanceReport(t *testing.T) {
	rs, err := newSQLExecutor(t, DefaultLimits()).Execute(context.Background(), balanceReport())
	require.NoError(t, err)

	require.Equal(t, []string{"acc_number", "outstanding_balance"}, rs.Columns)
	require.Equal(t, []map[string]any{
		{"acc_number": "ACC-001", "outstanding_balance": 1500.0},
		{"acc_number": "ACC-003", "outstanding_balance": 4200.5},
	}, rs.Rows)
}

func TestSQLExecutor_MatchesMemoryExecutor(t *testing.T) {
	sqlExec := newSQLExecutor(t, DefaultLimits())
	memExec := newMemory()

	defs := []report.Definition{
		balanceReport(),
		{
			Name:           "Handed over",
			Entities:       []string{"debtors"},
			SelectedFields: map[string][]string{"debtors": {"acc_number", "is_handed_over", "last_payment_date"}},
			Filters: []report.FilterCondition{
				{Field: "is_handed_over", Operator: report.OpEquals, Value: report.Text("true")},
			},
		},
		{
			Name:           "Name search",
			Entities:       []string{"debtors"},
			SelectedFields: map[string][]string{"debtors": {"acc_holder", "risk_level"}},
			Filters: []report.FilterCondition{
				{Field: "acc_holder", Operator: report.OpContains, Value: report.Text("I")},
				{Field: "risk_level", Operator: report.OpIn, Value: report.Text("high,low")},
			},
			Sort: []report.SortSpec{{Field: "acc_holder", Direction: report.Desc}},
		},
		{
			Name:           "Oldest payment first",
			Entities:       []string{"debtors"},
			SelectedFields: map[string][]string{"debtors": {"acc_number", "last_payment_date"}},
			Sort:           []report.SortSpec{{Field: "last_payment_date", Direction: report.Asc}},
		},
		{
			Name:           "Latest payment first",
			Entities:       []string{"debtors"},
			SelectedFields: map[string][]string{"debtors": {"acc_number", "last_payment_date"}},
			Sort:           []report.SortSpec{{Field: "last_payment_date", Direction: report.Desc}},
		},
		{
			Name:           "Risk summary",
			Entities:       []string{"debtors"},
			SelectedFields: map[string][]string{"debtors": {"risk_level"}},
			Aggregations: []report.Aggregation{
				{Function: report.AggCount, Alias: "n"},
				{Field: "outstanding_balance", Function: report.AggAvg, Alias: "avg_balance"},
				{Field: "last_payment_date", Function: report.AggMax, Alias: "latest"},
			},
		},
	}
	for _, def := range defs {
		t.Run(def.Name, func(t *testing.T) {
			want, err := memExec.Execute(context.Background(), def)
			require.NoError(t, err)
			got, err := sqlExec.Execute(context.Background(), def)
			require.NoError(t, err)
			require.Equal(t, want, got)
		})
	}
}

func TestSQLExecutor_Join(t *testing.T) {
	def := report.Definition{
		Name:     "Payments per debtor",
		Entities: []string{"debtors", "payments"},
		SelectedFields: map[string][]string{
			"debtors":  {"acc_number", "created_at"},
			"payments": {"amount", "payment_date"},
		},
		Joins: []report.Join{
			{LeftEntity: "debtors", LeftField: "id", RightEntity: "payments", RightField: "debtor_id", Kind: report.JoinInner},
		},
		Sort: []report.SortSpec{{Field: "amount", Direction: report.Asc}},
	}
	rs, err := newSQLExecutor(t, DefaultLimits()).Execute(context.Background(), def)
	require.NoError(t, err)

	require.Equal(t, []string{"acc_number", "created_at", "amount", "payment_date"}, rs.Columns)
	require.Equal(t, []map[string]any{
		{"acc_number": "ACC-002", "created_at": nil, "amount": 50.0, "payment_date": "2024-05-10"},
		{"acc_number": "ACC-001", "created_at": "2024-01-10T08:30:00Z", "amount": 200.0, "payment_date": "2024-02-28"},
		{"acc_number": "ACC-001", "created_at": "2024-01-10T08:30:00Z", "amount": 300.0, "payment_date": "2024-03-01"},
	}, rs.Rows)
}

func TestSQLExecutor_LeftJoinAggregation(t *testing.T) {
	def := report.Definition{
		Name:     "Collected per debtor",
		Entities: []string{"debtors", "payments"},
		SelectedFields: map[string][]string{
			"debtors": {"acc_number"},
		},
		Joins: []report.Join{
			{LeftEntity: "debtors", LeftField: "id", RightEntity: "payments", RightField: "debtor_id", Kind: report.JoinLeft},
		},
		Aggregations: []report.Aggregation{
			{Field: "payments.id", Function: report.AggCount, Alias: "payments"},
			{Field: "amount", Function: report.AggSum, Alias: "collected"},
		},
	}
	rs, err := newSQLExecutor(t, DefaultLimits()).Execute(context.Background(), def)
	require.NoError(t, err)

	require.Equal(t, []map[string]any{
		{"acc_number": "ACC-001", "payments": 2.0, "collected": 500.0},
		{"acc_number": "ACC-002", "payments": 1.0, "collected": 50.0},
		{"acc_number": "ACC-003", "payments": 0.0, "collected": nil},
		{"acc_number": "ACC-004", "payments": 0.0, "collected": nil},
	}, rs.Rows)
}

func TestSQLExecutor_RowLimitCapped(t *testing.T) {
	limits := Limits{DefaultRows: 3, MaxRows: 2}
	exec := newSQLExecutor(t, limits)

	def := balanceReport()
	def.Filters = nil
	def.RowLimit = nil
	rs, err := exec.Execute(context.Background(), def)
	require.NoError(t, err)
	require.Equal(t, 2, rs.Count())
}

func TestSQLExecutor_OuterJoins(t *testing.T) {
	exec := newSQLExecutor(t, DefaultLimits())
	def := func(kind report.JoinKind) report.Definition {
		return report.Definition{
			Name:     "Payments and debtors",
			Entities: []string{"debtors", "payments"},
			SelectedFields: map[string][]string{
				"debtors":  {"acc_number"},
				"payments": {"amount"},
			},
			Joins: []report.Join{
				{LeftEntity: "debtors", LeftField: "id", RightEntity: "payments", RightField: "debtor_id", Kind: kind},
			},
			Sort: []report.SortSpec{
				{Field: "amount", Direction: report.Asc},
				{Field: "acc_number", Direction: report.Asc},
			},
		}
	}

	rs, err := exec.Execute(context.Background(), def(report.JoinRight))
	require.NoError(t, err)
	require.Equal(t, []map[string]any{
		{"acc_number": "ACC-002", "amount": 50.0},
		{"acc_number": nil, "amount": 75.0},
		{"acc_number": "ACC-001", "amount": 200.0},
		{"acc_number": "ACC-001", "amount": 300.0},
	}, rs.Rows)

	rs, err = exec.Execute(context.Background(), def(report.JoinFull))
	require.NoError(t, err)
	require.Equal(t, []map[string]any{
		{"acc_number": "ACC-002", "amount": 50.0},
		{"acc_number": nil, "amount": 75.0},
		{"acc_number": "ACC-001", "amount": 200.0},
		{"acc_number": "ACC-001", "amount": 300.0},
		{"acc_number": "ACC-003", "amount": nil},
		{"acc_number": "ACC-004", "amount": nil},
	}, rs.Rows)
}

func TestSQLExecutor_Timeout(t *testing.T) {
	exec := newSQLExecutor(t, DefaultLimits())
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := exec.Execute(ctx, balanceReport())
	var execErr *ExecError
	require.True(t, errors.As(err, &execErr), "got %v", err)
	require.Equal(t, KindTimeout, execErr.Kind)
	require.Equal(t, "TIMEOUT", ErrorCode(err))
}

func TestSQLExecutor_StoreError(t *testing.T) {
	s := seededStore(t)
	exec := NewSQLExecutor(s, testBuilder(), DefaultLimits(), zap.NewNop())
	_, err := s.DB.Exec(`DROP TABLE "debtors"`)
	require.NoError(t, err)

	_, err = exec.Execute(context.Background(), balanceReport())
	var execErr *ExecError
	require.True(t, errors.As(err, &execErr), "got %v", err)
	require.Equal(t, KindStoreError, execErr.Kind)
	require.Equal(t, "The report could not be executed", execErr.AppError().Message)
}

func TestSQLExecutor_ValidationFirst(t *testing.T) {
	def := balanceReport()
	def.Entities = nil
	def.SelectedFields = map[string][]string{}

	_, err := newSQLExecutor(t, DefaultLimits()).Execute(context.Background(), def)
	var problems report.Problems
	require.True(t, errors.As(err, &problems), "got %v", err)
	require.True(t, problems.Has(report.CodeNoEntities))
	require.Equal(t, "VALIDATION_FAILED", ErrorCode(err))
}
