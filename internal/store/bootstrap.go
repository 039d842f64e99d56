package store

import (
	"context"
	"fmt"
)

// Bootstrap creates the report templates and run history tables if they do
// not exist yet.
func (s *Store) Bootstrap(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, s.Dialect.SystemTablesSQL()); err != nil {
		return fmt.Errorf("bootstrap system tables: %w", err)
	}
	return nil
}
