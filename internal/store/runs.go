package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"smartkollect/internal/metadata"
)

// Run records one report execution.
type Run struct {
	ID         string    `json:"id"`
	ReportName string    `json:"report_name"`
	Entities   []string  `json:"entities"`
	RowCount   int       `json:"row_count"`
	DurationMs float64   `json:"duration_ms"`
	Status     string    `json:"status"`
	ErrorCode  string    `json:"error_code,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

const (
	RunOK    = "ok"
	RunError = "error"
)

// InsertRuns writes a batch of runs in one multi-row INSERT.
func InsertRuns(ctx context.Context, s *Store, runs []Run) error {
	if len(runs) == 0 {
		return nil
	}
	d := s.Dialect
	pb := d.NewParamBuilder()
	tuples := make([]string, 0, len(runs))
	for _, r := range runs {
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = time.Now()
		}
		tuples = append(tuples, fmt.Sprintf("(%s, %s, %s, %s, %s, %s, %s, %s, %s)",
			pb.Add(r.ID), pb.Add(r.ReportName), pb.Add(d.ArrayParam(r.Entities)),
			pb.Add(r.RowCount), pb.Add(r.DurationMs), pb.Add(r.Status),
			pb.Add(r.ErrorCode), pb.Add(r.UserID),
			pb.Add(d.BindValue(r.CreatedAt.UTC(), metadata.TypeDateTime))))
	}
	q := "INSERT INTO _report_runs (id, report_name, entities, row_count, duration_ms, status, error_code, user_id, created_at) VALUES " +
		strings.Join(tuples, ", ")
	if _, err := s.DB.ExecContext(ctx, q, pb.Params()...); err != nil {
		return fmt.Errorf("insert runs: %w", d.MapError(err))
	}
	return nil
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	Status     string
	ReportName string
	Limit      int
}

// ListRuns returns runs newest first.
func ListRuns(ctx context.Context, s *Store, f RunFilter) ([]Run, error) {
	d := s.Dialect
	pb := d.NewParamBuilder()
	var where []string
	if f.Status != "" {
		where = append(where, "status = "+pb.Add(f.Status))
	}
	if f.ReportName != "" {
		where = append(where, "report_name = "+pb.Add(f.ReportName))
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	q := "SELECT id, report_name, entities, row_count, duration_ms, status, error_code, user_id, created_at FROM _report_runs"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC LIMIT " + pb.Add(limit)

	rows, err := s.DB.QueryContext(ctx, q, pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	out := []Run{}
	for rows.Next() {
		var (
			r                   Run
			entities, createdAt any
		)
		if err := rows.Scan(&r.ID, &r.ReportName, &entities, &r.RowCount, &r.DurationMs,
			&r.Status, &r.ErrorCode, &r.UserID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if r.Entities, err = d.ScanArray(entities); err != nil {
			return nil, err
		}
		if r.CreatedAt, err = ParseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRunsOlderThan removes history past the retention window.
func DeleteRunsOlderThan(ctx context.Context, s *Store, days int) (int64, error) {
	pb := s.Dialect.NewParamBuilder()
	q := "DELETE FROM _report_runs WHERE " + s.Dialect.IntervalDeleteExpr("created_at", pb, strconv.Itoa(days))
	n, err := Exec(ctx, s.DB, q, pb.Params()...)
	if err != nil {
		return 0, fmt.Errorf("delete old runs: %w", err)
	}
	return n, nil
}
