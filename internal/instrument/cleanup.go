package instrument

import (
	"context"

	"go.uber.org/zap"

	"smartkollect/internal/store"
)

// CleanupOldRuns deletes run history older than retentionDays.
func CleanupOldRuns(ctx context.Context, s *store.Store, retentionDays int, logger *zap.Logger) {
	n, err := store.DeleteRunsOlderThan(ctx, s, retentionDays)
	if err != nil {
		logger.Error("run history cleanup failed", zap.Error(err))
		return
	}
	if n > 0 {
		logger.Info("run history cleanup", zap.Int64("deleted", n), zap.Int("retention_days", retentionDays))
	}
}
