package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brightloom/transcriptor/internal/common"
	"github.com/brightloom/transcriptor/internal/interfaces"
	"github.com/brightloom/transcriptor/internal/models"
	"github.com/brightloom/transcriptor/internal/taxonomy"
)

// JobStore implements interfaces.JobRepository.
type JobStore struct {
	pool    *pgxpool.Pool
	logger  *common.Logger
	rand    common.Rand
	timeout time.Duration
}

// NewJobStore returns a JobStore over pool. rand drives the backoff
// jitter applied in FinalizeFailure (spec.md §4.5). timeout bounds every
// call/transaction this store issues (spec.md §5's DB statement timeout).
func NewJobStore(pool *pgxpool.Pool, logger *common.Logger, rand common.Rand, timeout time.Duration) *JobStore {
	return &JobStore{pool: pool, logger: logger, rand: rand, timeout: timeout}
}

var _ interfaces.JobRepository = (*JobStore)(nil)

// Enqueue inserts a queued processing_jobs row for fileID. A
// unique-violation on file_id is translated to ErrAlreadyEnqueued so the
// caller (the upload enqueuer) treats repeated calls as idempotent
// success, per spec.md §4.5 and testable property 5.
func (s *JobStore) Enqueue(ctx context.Context, fileID string, now time.Time) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	id := uuid.New().String()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO processing_jobs
			(id, file_id, status, attempts, max_attempts, next_run_at, lock_ttl_seconds, created_at, updated_at)
		VALUES
			($1, $2, $3, 0, $4, $5, $6, $5, $5)
	`, id, fileID, models.JobStatusQueued, models.DefaultMaxAttempts, now, models.DefaultLockTTLSeconds)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyEnqueued
		}
		return fmt.Errorf("failed to enqueue job for file %s: %w", fileID, err)
	}
	return nil
}

// Claim selects one eligible job — either a ready queued job or a
// stale-leased processing job whose lease has expired — locks it with
// FOR UPDATE SKIP LOCKED so concurrent claimers never block on each
// other, and atomically flips it to processing for workerID. It also
// flips the owning file to processing_run. Returns (nil, nil, nil) when
// no job is eligible (spec.md §4.5).
func (s *JobStore) Claim(ctx context.Context, workerID string, now time.Time) (*models.ProcessingJob, *models.FileContext, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT id, file_id, status, attempts, max_attempts, next_run_at, lock_ttl_seconds
		FROM processing_jobs
		WHERE (status = $1 AND next_run_at <= $2)
		   OR (status = $3 AND COALESCE(heartbeat_at, locked_at) + (lock_ttl_seconds || ' seconds')::interval < $2)
		ORDER BY next_run_at, id
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`, models.JobStatusQueued, now, models.JobStatusProcessing)

	var job models.ProcessingJob
	if err := row.Scan(&job.ID, &job.FileID, &job.Status, &job.Attempts, &job.MaxAttempts, &job.NextRunAt, &job.LockTTLSeconds); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to select claimable job: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE processing_jobs
		SET status = $1, locked_at = $2, locked_by = $3, heartbeat_at = $2, attempts = attempts + 1, updated_at = $2
		WHERE id = $4
	`, models.JobStatusProcessing, now, workerID, job.ID); err != nil {
		return nil, nil, fmt.Errorf("failed to claim job %s: %w", job.ID, err)
	}

	var fc models.FileContext
	fc.FileID = job.FileID
	row = tx.QueryRow(ctx, `
		UPDATE files
		SET status = $1, started_at = $2, updated_at = $2
		WHERE id = $3
		RETURNING user_id, storage_key_original
	`, models.FileStatusProcessingRun, now, job.FileID)
	if err := row.Scan(&fc.UserID, &fc.StorageKeyOriginal); err != nil {
		return nil, nil, fmt.Errorf("failed to transition file %s to processing_run: %w", job.FileID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to commit claim of job %s: %w", job.ID, err)
	}

	job.Status = models.JobStatusProcessing
	job.LockedBy = workerID
	job.LockedAt = &now
	job.HeartbeatAt = &now
	job.Attempts++

	return &job, &fc, nil
}

// Heartbeat extends jobID's lease. If the update affects zero rows — the
// lease expired and was reclaimed, or locked_by no longer matches — it
// returns ErrLeaseLost and the caller must abort processing (spec.md §5).
func (s *JobStore) Heartbeat(ctx context.Context, jobID, workerID string, now time.Time) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `
		UPDATE processing_jobs
		SET heartbeat_at = $1, updated_at = $1
		WHERE id = $2 AND locked_by = $3 AND status = $4
	`, now, jobID, workerID, models.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to heartbeat job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLeaseLost
	}
	return nil
}

// FinalizeSuccess atomically marks jobID succeeded and the owning file
// succeeded with report metadata (spec.md §4.5).
func (s *JobStore) FinalizeSuccess(ctx context.Context, jobID, fileID string, report interfaces.ReportMetadata, now time.Time) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin finalize-success transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE processing_jobs
		SET status = $1, locked_at = NULL, locked_by = NULL, heartbeat_at = NULL, updated_at = $2
		WHERE id = $3
	`, models.JobStatusSucceeded, now, jobID); err != nil {
		return fmt.Errorf("failed to finalize job %s as succeeded: %w", jobID, err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE files
		SET status = $1, storage_key_report = $2, prompt_version = $3, schema_version = $4,
		    processed_at = $5, error_code = NULL, error_message = NULL, updated_at = $5
		WHERE id = $6
	`, models.FileStatusSucceeded, report.StorageKeyReport, report.PromptVersion, report.SchemaVersion, now, fileID); err != nil {
		// Wrapped with its SQLSTATE classification, not plain fmt.Errorf:
		// the pipeline processor's caller (internal/pipeline.Processor.Process)
		// needs to know whether this particular db_update_failed is
		// retriable before it deletes the report object it just wrote and
		// surfaces the failure (spec.md §4.7 step 5).
		return classifyDBErr(fmt.Errorf("failed to mark file %s succeeded: %w", fileID, err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit finalize-success for job %s: %w", jobID, err)
	}
	return nil
}

// FinalizeFailure either reschedules jobID with a backoff (retriable and
// attempts remain) or marks it and its file permanently failed (spec.md
// §4.5, §4.1).
func (s *JobStore) FinalizeFailure(ctx context.Context, jobID, fileID string, classified taxonomy.Classified, now time.Time) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	errCode := string(classified.Code)
	errMsg := taxonomy.Sanitize(classified.Message)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin finalize-failure transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var attempts, maxAttempts int
	row := tx.QueryRow(ctx, `SELECT attempts, max_attempts FROM processing_jobs WHERE id = $1 FOR UPDATE`, jobID)
	if err := row.Scan(&attempts, &maxAttempts); err != nil {
		return fmt.Errorf("failed to load job %s for finalize-failure: %w", jobID, err)
	}

	if classified.Retriable && attempts < maxAttempts {
		nextRunAt := now.Add(JitteredBackoffDelay(attempts, s.rand))
		if _, err := tx.Exec(ctx, `
			UPDATE processing_jobs
			SET status = $1, next_run_at = $2, locked_at = NULL, locked_by = NULL, heartbeat_at = NULL,
			    last_error_code = $3, last_error_message = $4, updated_at = $5
			WHERE id = $6
		`, models.JobStatusQueued, nextRunAt, errCode, errMsg, now, jobID); err != nil {
			return fmt.Errorf("failed to reschedule job %s: %w", jobID, err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE files SET status = $1, updated_at = $2 WHERE id = $3
		`, models.FileStatusQueued, now, fileID); err != nil {
			return fmt.Errorf("failed to revert file %s to queued: %w", fileID, err)
		}
	} else {
		if _, err := tx.Exec(ctx, `
			UPDATE processing_jobs
			SET status = $1, locked_at = NULL, locked_by = NULL, heartbeat_at = NULL,
			    last_error_code = $2, last_error_message = $3, updated_at = $4
			WHERE id = $5
		`, models.JobStatusFailed, errCode, errMsg, now, jobID); err != nil {
			return fmt.Errorf("failed to terminally fail job %s: %w", jobID, err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE files
			SET status = $1, error_code = $2, error_message = $3, processed_at = $4, updated_at = $4
			WHERE id = $5
		`, models.FileStatusFailed, errCode, errMsg, now, fileID); err != nil {
			return fmt.Errorf("failed to mark file %s failed: %w", fileID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit finalize-failure for job %s: %w", jobID, err)
	}
	return nil
}

// SaveRawMetadata persists the raw-LLM-output storage key on the file row
// independently of job finalization (spec.md §4.7 step 4).
func (s *JobStore) SaveRawMetadata(ctx context.Context, fileID, storageKeyRawLLMOutput string) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
		UPDATE files SET storage_key_raw_llm_output = $1, updated_at = now() WHERE id = $2
	`, storageKeyRawLLMOutput, fileID)
	if err != nil {
		return fmt.Errorf("failed to save raw metadata for file %s: %w", fileID, err)
	}
	return nil
}

// GetFileContext returns the minimal context the pipeline needs for
// fileID, or nil if missing (spec.md §4.7 step 1).
func (s *JobStore) GetFileContext(ctx context.Context, fileID string) (*models.FileContext, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var fc models.FileContext
	fc.FileID = fileID
	row := s.pool.QueryRow(ctx, `SELECT user_id, storage_key_original FROM files WHERE id = $1`, fileID)
	if err := row.Scan(&fc.UserID, &fc.StorageKeyOriginal); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load file context %s: %w", fileID, err)
	}
	return &fc, nil
}

// backoffDelay returns the un-jittered backoff for a job that has
// completed attemptsSoFar attempts, per the schedule in spec.md §4.5:
// 30s, 120s, 480s (JitteredBackoffDelay adds the ±20% jitter).
// attemptsSoFar beyond the schedule length reuses the last entry.
func backoffDelay(attemptsSoFar int) time.Duration {
	idx := attemptsSoFar - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(models.BackoffScheduleMS) {
		idx = len(models.BackoffScheduleMS) - 1
	}
	base := time.Duration(models.BackoffScheduleMS[idx]) * time.Millisecond
	return base
}

// JitteredBackoffDelay applies ±20% jitter to backoffDelay(attemptsSoFar)
// using r; FinalizeFailure's reschedule path uses it for the jitter band
// documented in spec.md §4.5.
func JitteredBackoffDelay(attemptsSoFar int, r common.Rand) time.Duration {
	base := backoffDelay(attemptsSoFar)
	jitter := (r.Float64()*2 - 1) * models.BackoffJitterFraction
	return time.Duration(float64(base) * (1 + jitter))
}
