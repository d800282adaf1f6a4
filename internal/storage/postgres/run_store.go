// Package postgres persists run history to Postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/feedpoller/internal/poller"
)

// DefaultTable is the history table used when none is configured.
const DefaultTable = "poll_runs"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Run statuses persisted in the status column.
const (
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// RunRecord is one row of run history.
type RunRecord struct {
	Summary    poller.RunSummary
	StartedAt  time.Time
	FinishedAt time.Time
	Status     string
	// Err is stored as error_message when set.
	Err error
}

type execCloser interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// RunStore records run summaries. The table is expected to have the columns
// run_id (unique), started_at, finished_at, status, total, updated,
// not_updated, failed, write_failures, skipped and error_message.
type RunStore struct {
	pool  execCloser
	query string
}

// NewRunStore connects a pgx pool to dsn.
func NewRunStore(ctx context.Context, dsn, table string) (*RunStore, error) {
	if dsn == "" {
		return nil, errors.New("history dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s, err := NewRunStoreWithPool(pool, table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewRunStoreWithPool builds a RunStore over an existing pool (primarily for
// testing).
func NewRunStoreWithPool(pool execCloser, table string) (*RunStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RunStore{
		pool: pool,
		query: fmt.Sprintf(`
		INSERT INTO %s (run_id, started_at, finished_at, status, total, updated,
			not_updated, failed, write_failures, skipped, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (run_id) DO UPDATE
		SET finished_at = EXCLUDED.finished_at,
			status = EXCLUDED.status,
			total = EXCLUDED.total,
			updated = EXCLUDED.updated,
			not_updated = EXCLUDED.not_updated,
			failed = EXCLUDED.failed,
			write_failures = EXCLUDED.write_failures,
			skipped = EXCLUDED.skipped,
			error_message = EXCLUDED.error_message;`, table),
	}, nil
}

// RecordRun upserts one run by run ID.
func (s *RunStore) RecordRun(ctx context.Context, rec RunRecord) error {
	if rec.Summary.RunID == "" {
		return errors.New("run id is required")
	}
	var errMsg *string
	if rec.Err != nil {
		msg := rec.Err.Error()
		errMsg = &msg
	}
	sum := rec.Summary
	_, err := s.pool.Exec(ctx, s.query,
		sum.RunID, rec.StartedAt.UTC(), rec.FinishedAt.UTC(), rec.Status,
		sum.Total, sum.Updated, sum.NotUpdated, sum.Failed, sum.WriteFailures, sum.Skipped,
		errMsg,
	)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", sum.RunID, err)
	}
	return nil
}

// Close releases the pool.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// StatusFor derives the stored status of a run.
func StatusFor(summary poller.RunSummary, err error) string {
	switch {
	case err != nil:
		return StatusFailed
	case summary.Skipped > 0:
		return StatusCancelled
	default:
		return StatusCompleted
	}
}
