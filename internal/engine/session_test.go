package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"

	"smartkollect/internal/report"
)

// blockingExecutor parks every execution until release is closed or the
// context ends.
type blockingExecutor struct {
	started chan struct{}
	release chan struct{}
}

func newBlockingExecutor() *blockingExecutor {
	return &blockingExecutor{started: make(chan struct{}, 4), release: make(chan struct{})}
}

func (b *blockingExecutor) Execute(ctx context.Context, def report.Definition) (*ResultSet, error) {
	b.started <- struct{}{}
	select {
	case <-b.release:
		return &ResultSet{Columns: []string{"name"}, Rows: []map[string]any{{"name": def.Name}}}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func waitOutcome(t *testing.T, ch <-chan Outcome) Outcome {
	t.Helper()
	select {
	case out, ok := <-ch:
		if !ok {
			t.Fatal("outcome channel closed without a value")
		}
		return out
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outcome")
	}
	return Outcome{}
}

func waitStarted(t *testing.T, exec *blockingExecutor) {
	t.Helper()
	select {
	case <-exec.started:
	case <-time.After(2 * time.Second):
		t.Fatal("execution never started")
	}
}

func TestSession_SingleOutstandingExecution(t *testing.T) {
	defer goleak.VerifyNone(t)

	exec := newBlockingExecutor()
	s := NewSession(exec, balanceReport())

	ch, err := s.Submit(context.Background())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitStarted(t, exec)

	if _, err := s.Submit(context.Background()); !errors.Is(err, ErrExecutionInProgress) {
		t.Fatalf("expected ErrExecutionInProgress, got %v", err)
	}
	if !s.Running() {
		t.Fatal("session should report a running execution")
	}

	close(exec.release)
	out := waitOutcome(t, ch)
	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	if out.Result.Rows[0]["name"] != "Large balances" {
		t.Fatalf("unexpected result: %+v", out.Result)
	}
	if s.Running() {
		t.Fatal("session still running after completion")
	}
	if s.Last() != out.Result {
		t.Fatal("completed result was not kept as the last result")
	}
}

func TestSession_EditDuringExecutionDiscardsResult(t *testing.T) {
	defer goleak.VerifyNone(t)

	exec := newBlockingExecutor()
	b := testBuilder()
	s := NewSession(exec, balanceReport())

	ch, err := s.Submit(context.Background())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitStarted(t, exec)

	if err := s.Update(func(d report.Definition) (report.Definition, error) {
		return b.SetName(d, "Renamed"), nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	close(exec.release)
	out := waitOutcome(t, ch)
	if !errors.Is(out.Err, ErrStaleResult) {
		t.Fatalf("expected ErrStaleResult, got %+v", out)
	}
	if s.Last() != nil {
		t.Fatal("stale result must not become the last result")
	}
	if got := s.Definition().Name; got != "Renamed" {
		t.Fatalf("edit lost, name is %q", got)
	}
}

func TestSession_FailedUpdateKeepsDefinition(t *testing.T) {
	b := testBuilder()
	s := NewSession(newBlockingExecutor(), balanceReport())

	err := s.Update(func(d report.Definition) (report.Definition, error) {
		return b.RemoveFilter(d, 7)
	})
	if !errors.Is(err, report.ErrIndexOutOfRange) {
		t.Fatalf("expected ErrIndexOutOfRange, got %v", err)
	}
	if len(s.Definition().Filters) != 1 {
		t.Fatal("definition changed after a failed update")
	}
}

func TestSession_CancelFreesSlot(t *testing.T) {
	defer goleak.VerifyNone(t)

	exec := newBlockingExecutor()
	s := NewSession(exec, balanceReport())

	first, err := s.Submit(context.Background())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitStarted(t, exec)

	if !s.Cancel() {
		t.Fatal("cancel should report an outstanding execution")
	}
	if s.Cancel() {
		t.Fatal("second cancel should be a no-op")
	}

	second, err := s.Submit(context.Background())
	if err != nil {
		t.Fatalf("submit after cancel: %v", err)
	}
	waitStarted(t, exec)

	if out := waitOutcome(t, first); !errors.Is(out.Err, ErrExecutionCanceled) {
		t.Fatalf("expected ErrExecutionCanceled, got %+v", out)
	}

	close(exec.release)
	out := waitOutcome(t, second)
	if out.Err != nil {
		t.Fatalf("second submission failed: %v", out.Err)
	}
	if s.Running() {
		t.Fatal("session still running")
	}
}

func TestSession_ExecutorErrorPassesThrough(t *testing.T) {
	defer goleak.VerifyNone(t)

	boom := execErrorf(KindStoreError, errors.New("connection reset"), "query failed")
	s := NewSession(ExecutorFunc(func(context.Context, report.Definition) (*ResultSet, error) {
		return nil, boom
	}), balanceReport())

	ch, err := s.Submit(context.Background())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	out := waitOutcome(t, ch)
	if !errors.Is(out.Err, boom) {
		t.Fatalf("expected executor error, got %v", out.Err)
	}
	if ErrorCode(out.Err) != "STORE_ERROR" {
		t.Fatalf("unexpected code %s", ErrorCode(out.Err))
	}
}

func TestSession_DefinitionIsolated(t *testing.T) {
	def := balanceReport()
	s := NewSession(newBlockingExecutor(), def)

	def.SelectedFields["debtors"][0] = "email"
	got := s.Definition()
	if got.SelectedFields["debtors"][0] != "acc_number" {
		t.Fatal("session shares state with the caller's definition")
	}
	got.Entities[0] = "payments"
	if s.Definition().Entities[0] != "debtors" {
		t.Fatal("Definition returned shared state")
	}
}
