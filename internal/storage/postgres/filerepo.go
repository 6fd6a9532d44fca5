package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brightloom/transcriptor/internal/common"
	"github.com/brightloom/transcriptor/internal/interfaces"
	"github.com/brightloom/transcriptor/internal/models"
	"github.com/brightloom/transcriptor/internal/taxonomy"
)

// FileStore implements interfaces.FileRepository.
type FileStore struct {
	pool    *pgxpool.Pool
	logger  *common.Logger
	timeout time.Duration
}

// NewFileStore returns a FileStore over pool. timeout bounds every call
// this store issues (spec.md §5's DB statement timeout).
func NewFileStore(pool *pgxpool.Pool, logger *common.Logger, timeout time.Duration) *FileStore {
	return &FileStore{pool: pool, logger: logger, timeout: timeout}
}

var _ interfaces.FileRepository = (*FileStore)(nil)

// Insert creates a new file row in FileStatusUploading (spec.md §4.6
// step 4).
func (s *FileStore) Insert(ctx context.Context, f *models.File) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO files
			(id, user_id, storage_bucket, storage_key_original, original_filename, extension,
			 mime_type, size_bytes, status, processing_attempts, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10, $10)
	`, f.ID, f.UserID, f.StorageBucket, f.StorageKeyOriginal, f.OriginalFilename, string(f.Extension),
		nullableString(f.MimeType), f.SizeBytes, f.Status, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert file %s: %w", f.ID, err)
	}
	return nil
}

// MarkQueued flips a file to FileStatusQueued (spec.md §4.6 step 7).
func (s *FileStore) MarkQueued(ctx context.Context, fileID string, now time.Time) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
		UPDATE files SET status = $1, queued_at = $2, updated_at = $2 WHERE id = $3
	`, models.FileStatusQueued, now, fileID)
	if err != nil {
		return fmt.Errorf("failed to mark file %s queued: %w", fileID, err)
	}
	return nil
}

// MarkFailed flips a file to FileStatusFailed with sanitized error
// fields (spec.md §4.6 step 8 compensation).
func (s *FileStore) MarkFailed(ctx context.Context, fileID string, errorCode, errorMessage string, now time.Time) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
		UPDATE files
		SET status = $1, error_code = $2, error_message = $3, processed_at = $4, updated_at = $4
		WHERE id = $5
	`, models.FileStatusFailed, errorCode, taxonomy.Sanitize(errorMessage), now, fileID)
	if err != nil {
		return fmt.Errorf("failed to mark file %s failed: %w", fileID, err)
	}
	return nil
}

// GetOwned returns the file scoped to (fileID, userID), or nil if it does
// not exist or is not owned — callers must map both cases to the same
// 404 outcome (spec.md §4.9, testable property 8).
func (s *FileStore) GetOwned(ctx context.Context, fileID, userID string) (*models.File, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, storage_bucket, storage_key_original, original_filename, extension,
		       COALESCE(mime_type, ''), size_bytes, status, COALESCE(error_code, ''), COALESCE(error_message, ''),
		       COALESCE(storage_key_report, ''), COALESCE(storage_key_raw_llm_output, ''),
		       COALESCE(prompt_version, ''), COALESCE(schema_version, ''), processing_attempts,
		       queued_at, started_at, processed_at, created_at, updated_at
		FROM files
		WHERE id = $1 AND user_id = $2
	`, fileID, userID)

	f := &models.File{}
	var ext string
	if err := row.Scan(&f.ID, &f.UserID, &f.StorageBucket, &f.StorageKeyOriginal, &f.OriginalFilename, &ext,
		&f.MimeType, &f.SizeBytes, &f.Status, &f.ErrorCode, &f.ErrorMessage,
		&f.StorageKeyReport, &f.StorageKeyRawLLMOutput, &f.PromptVersion, &f.SchemaVersion, &f.ProcessingAttempts,
		&f.QueuedAt, &f.StartedAt, &f.ProcessedAt, &f.CreatedAt, &f.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load file %s: %w", fileID, err)
	}
	f.Extension = models.FileExtension(ext)
	return f, nil
}

// ListOwned returns a page of files owned by userID, newest first, using
// the (user_id, created_at DESC, id DESC) keyset cursor (spec.md §6,
// SPEC_FULL.md §14).
func (s *FileStore) ListOwned(ctx context.Context, userID string, limit int, beforeCreatedAt *time.Time, beforeID string) ([]*models.File, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var rows pgx.Rows
	var err error
	if beforeCreatedAt != nil {
		rows, err = s.pool.Query(ctx, `
			SELECT id, status, original_filename, created_at, COALESCE(error_code, '')
			FROM files
			WHERE user_id = $1 AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4
		`, userID, *beforeCreatedAt, beforeID, limit)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT id, status, original_filename, created_at, COALESCE(error_code, '')
			FROM files
			WHERE user_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		`, userID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list files for user %s: %w", userID, err)
	}
	defer rows.Close()

	var out []*models.File
	for rows.Next() {
		f := &models.File{UserID: userID}
		if err := rows.Scan(&f.ID, &f.Status, &f.OriginalFilename, &f.CreatedAt, &f.ErrorCode); err != nil {
			return nil, fmt.Errorf("failed to scan file row for user %s: %w", userID, err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
