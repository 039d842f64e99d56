package instrument

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"smartkollect/internal/store"
)

// RunRecorder accepts one history entry per report execution.
type RunRecorder interface {
	Record(run store.Run)
}

// NoopRecorder drops every run.
type NoopRecorder struct{}

func (NoopRecorder) Record(store.Run) {}

// RunBuffer collects runs in memory and periodically flushes them
// to the _report_runs table in a batch insert.
type RunBuffer struct {
	mu      sync.Mutex
	runs    []store.Run
	store   *store.Store
	logger  *zap.Logger
	maxSize int
	ticker  *time.Ticker
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewRunBuffer creates a buffer that flushes on a timer or when full.
func NewRunBuffer(s *store.Store, maxSize int, flushIntervalMs int, logger *zap.Logger) *RunBuffer {
	if maxSize <= 0 {
		maxSize = 100
	}
	if flushIntervalMs <= 0 {
		flushIntervalMs = 1000
	}
	b := &RunBuffer{
		store:   s,
		logger:  logger,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	b.ticker = time.NewTicker(time.Duration(flushIntervalMs) * time.Millisecond)
	b.wg.Add(1)
	go b.run()
	return b
}

func (b *RunBuffer) run() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case <-b.ticker.C:
			b.Flush()
		}
	}
}

// Record adds a run to the buffer. If the buffer is full, a flush
// is triggered asynchronously.
func (b *RunBuffer) Record(run store.Run) {
	b.mu.Lock()
	b.runs = append(b.runs, run)
	shouldFlush := len(b.runs) >= b.maxSize
	b.mu.Unlock()
	if shouldFlush {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.Flush()
		}()
	}
}

// Pending returns the number of runs waiting to be written.
func (b *RunBuffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.runs)
}

// Flush writes all buffered runs to the database in a single batch insert.
// Failed batches are logged and dropped; history is best effort.
func (b *RunBuffer) Flush() {
	b.mu.Lock()
	if len(b.runs) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.runs
	b.runs = nil
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.InsertRuns(ctx, b.store, batch); err != nil {
		b.logger.Error("run buffer flush failed", zap.Int("runs", len(batch)), zap.Error(err))
	}
}

// Stop halts the background ticker and flushes remaining runs.
func (b *RunBuffer) Stop() {
	b.ticker.Stop()
	close(b.done)
	b.wg.Wait()
	b.Flush()
}
