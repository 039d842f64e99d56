package engine

import (
	"context"
	"errors"
	"sync"

	"smartkollect/internal/report"
)

var (
	ErrExecutionInProgress = errors.New("an execution is already in progress")
	ErrStaleResult         = errors.New("the report definition changed while it was running")
	ErrExecutionCanceled   = errors.New("execution canceled")
)

// Outcome is delivered exactly once per submission.
type Outcome struct {
	Result *ResultSet
	Err    error
}

// Session owns one report definition being edited and at most one
// outstanding execution of it. Edits made while an execution runs make its
// result stale; the stale result is discarded, never displayed.
type Session struct {
	exec Executor

	mu      sync.Mutex
	def     report.Definition
	version uint64 // bumped by every Update
	run     uint64 // bumped by every Submit
	running bool
	cancel  context.CancelFunc
	last    *ResultSet
}

func NewSession(exec Executor, def report.Definition) *Session {
	return &Session{exec: exec, def: def.Clone()}
}

// Definition returns a copy of the current definition.
func (s *Session) Definition() report.Definition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.def.Clone()
}

// Update applies a builder transition. On error the definition is left
// unchanged.
func (s *Session) Update(fn func(report.Definition) (report.Definition, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := fn(s.def.Clone())
	if err != nil {
		return err
	}
	s.def = next
	s.version++
	return nil
}

// Submit starts executing the current definition. It fails with
// ErrExecutionInProgress while a previous submission is outstanding.
func (s *Session) Submit(ctx context.Context) (<-chan Outcome, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrExecutionInProgress
	}
	def := s.def.Clone()
	version := s.version
	s.run++
	run := s.run
	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.mu.Unlock()

	ch := make(chan Outcome, 1)
	go func() {
		defer close(ch)
		rs, err := s.exec.Execute(runCtx, def)
		cancel()

		s.mu.Lock()
		var out Outcome
		switch {
		case s.run != run || !s.running:
			// canceled; a newer submission may own the slot now
			out = Outcome{Err: ErrExecutionCanceled}
		case s.version != version:
			out = Outcome{Err: ErrStaleResult}
		case err != nil:
			out = Outcome{Err: err}
		default:
			s.last = rs
			out = Outcome{Result: rs}
		}
		if s.run == run {
			s.running = false
			s.cancel = nil
		}
		s.mu.Unlock()

		ch <- out
	}()
	return ch, nil
}

// Cancel abandons the outstanding execution, if any, and frees the session
// for a new submission. The abandoned submission still delivers one
// outcome, ErrExecutionCanceled.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false
	}
	s.cancel()
	s.running = false
	s.cancel = nil
	return true
}

// Running reports whether a submission is outstanding.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Last returns the most recent result accepted for display.
func (s *Session) Last() *ResultSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
