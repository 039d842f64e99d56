package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"smartkollect/internal/instrument"
	"smartkollect/internal/report"
	"smartkollect/internal/store"
)

// Observed wraps an Executor with a span, a log line and a run history
// entry per execution.
type Observed struct {
	next     Executor
	recorder instrument.RunRecorder
	logger   *zap.Logger
}

func NewObserved(next Executor, recorder instrument.RunRecorder, logger *zap.Logger) *Observed {
	if recorder == nil {
		recorder = instrument.NoopRecorder{}
	}
	return &Observed{next: next, recorder: recorder, logger: logger.Named("exec")}
}

func (o *Observed) Execute(ctx context.Context, def report.Definition) (*ResultSet, error) {
	ctx, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "engine", "executor", "execute")
	defer span.End()
	span.SetMetadata("report", def.Name)

	start := time.Now()
	rs, err := o.next.Execute(ctx, def)
	elapsed := time.Since(start)

	run := store.Run{
		ReportName: def.Name,
		Entities:   append([]string(nil), def.Entities...),
		RowCount:   rs.Count(),
		DurationMs: float64(elapsed.Microseconds()) / 1000.0,
		Status:     store.RunOK,
		UserID:     instrument.UserID(ctx),
	}
	fields := []zap.Field{
		zap.String("report", def.Name),
		zap.Strings("entities", def.Entities),
		zap.Duration("elapsed", elapsed),
		zap.String("trace_id", instrument.GetTraceID(ctx)),
	}

	if err != nil {
		run.Status = store.RunError
		run.ErrorCode = ErrorCode(err)
		span.SetStatus("error")
		span.SetMetadata("error_code", run.ErrorCode)
		o.logger.Warn("report failed", append(fields, zap.String("code", run.ErrorCode), zap.Error(err))...)
	} else {
		span.SetStatus("ok")
		span.SetMetadata("rows", run.RowCount)
		o.logger.Info("report executed", append(fields, zap.Int("rows", run.RowCount))...)
	}
	o.recorder.Record(run)
	return rs, err
}
