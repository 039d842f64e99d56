package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"smartkollect/internal/instrument"
	"smartkollect/internal/store"
)

func runsServer(t *testing.T) (*testServer, *int) {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "runs.db"), 0)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(s.Close)
	if err := s.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	err = store.InsertRuns(ctx, s, []store.Run{
		{ReportName: "Large balances", Status: store.RunOK, RowCount: 2, DurationMs: 4},
		{ReportName: "Large balances", Status: store.RunError, ErrorCode: "TIMEOUT", DurationMs: 30000},
	})
	if err != nil {
		t.Fatalf("insert runs: %v", err)
	}

	calls := 0
	counting := func(c *fiber.Ctx) error {
		calls++
		return testUser(c)
	}
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(zap.NewNop())})
	h := NewHandler(testBuilder(), newMemory(), nil, nil, zap.NewNop())
	reports := RegisterReportRoutes(app, h, counting)
	RegisterRunRoutes(reports, NewRunHandler(s))
	return &testServer{app: app}, &calls
}

func TestRunHandler_List(t *testing.T) {
	ts, calls := runsServer(t)
	resp, body := ts.do(t, "GET", "/api/reports/runs?status=error", "")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	out := decode[struct {
		Data []store.Run `json:"data"`
	}](t, body)
	if len(out.Data) != 1 || out.Data[0].ErrorCode != "TIMEOUT" {
		t.Fatalf("unexpected runs %+v", out.Data)
	}
	if *calls != 1 {
		t.Fatalf("report middleware ran %d times, want 1", *calls)
	}
}

func TestRunHandler_InvalidQueryUsesEnvelope(t *testing.T) {
	ts, _ := runsServer(t)
	for _, path := range []string{"/api/reports/runs?status=maybe", "/api/reports/runs?limit=0"} {
		resp, body := ts.do(t, "GET", path, "")
		if resp.StatusCode != 400 {
			t.Fatalf("%s: expected 400, got %d", path, resp.StatusCode)
		}
		if code := decode[ErrorResponse](t, body).Error.Code; code != "INVALID_PAYLOAD" {
			t.Fatalf("%s: unexpected body %s", path, body)
		}
	}
}

func TestRunHandler_Stats(t *testing.T) {
	ts, _ := runsServer(t)
	resp, body := ts.do(t, "GET", "/api/reports/runs/stats", "")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	stats := decode[struct {
		Data instrument.RunStats `json:"data"`
	}](t, body).Data
	if stats.Total != 2 || stats.Errors != 1 || stats.ByErrorCode["TIMEOUT"] != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}
