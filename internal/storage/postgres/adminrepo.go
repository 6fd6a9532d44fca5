package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brightloom/transcriptor/internal/common"
	"github.com/brightloom/transcriptor/internal/interfaces"
	"github.com/brightloom/transcriptor/internal/models"
)

// AdminStore implements interfaces.AdminJobRepository, the supplemental
// read-only queue inspection and operator-triggered requeue surface from
// SPEC_FULL.md §14 — generalized from prior PurgeCompleted/CancelByTicker
// admin operations.
type AdminStore struct {
	pool    *pgxpool.Pool
	logger  *common.Logger
	timeout time.Duration
}

// NewAdminStore returns an AdminStore over pool. timeout bounds every
// call this store issues (spec.md §5's DB statement timeout).
func NewAdminStore(pool *pgxpool.Pool, logger *common.Logger, timeout time.Duration) *AdminStore {
	return &AdminStore{pool: pool, logger: logger, timeout: timeout}
}

var _ interfaces.AdminJobRepository = (*AdminStore)(nil)

// CountByStatus returns the number of processing_jobs rows per status.
func (s *AdminStore) CountByStatus(ctx context.Context) (map[models.JobStatus]int, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, `SELECT status, count(*) FROM processing_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.JobStatus]int)
	for rows.Next() {
		var status models.JobStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan job status count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// Requeue forces a terminal failed job back to queued with attempts
// reset to 0 — an operator-triggered recovery distinct from the
// automatic lease-based recovery in spec.md §4.5.
func (s *AdminStore) Requeue(ctx context.Context, jobID string, now time.Time) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `
		UPDATE processing_jobs
		SET status = $1, attempts = 0, next_run_at = $2, last_error_code = NULL, last_error_message = NULL, updated_at = $2
		WHERE id = $3 AND status = $4
	`, models.JobStatusQueued, now, jobID, models.JobStatusFailed)
	if err != nil {
		return fmt.Errorf("failed to requeue job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s is not in a failed state", jobID)
	}
	return nil
}

// PurgeTerminal deletes terminal (succeeded or failed) processing_jobs
// rows older than olderThan.
func (s *AdminStore) PurgeTerminal(ctx context.Context, olderThan time.Time) (int64, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `
		DELETE FROM processing_jobs
		WHERE status IN ($1, $2) AND updated_at < $3
	`, models.JobStatusSucceeded, models.JobStatusFailed, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to purge terminal jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}
