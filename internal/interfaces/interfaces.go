// Package interfaces declares the collaborator contracts the core
// services depend on, so production wiring (internal/app) and test
// doubles can both satisfy them, generalized from portfolio/market
// services to the job-processing core.
package interfaces

import (
	"context"
	"time"

	"github.com/brightloom/transcriptor/internal/models"
	"github.com/brightloom/transcriptor/internal/taxonomy"
)

// JobRepository implements the durable queue operations from spec.md
// §4.5: enqueue, claim, heartbeat, finalize, reschedule.
type JobRepository interface {
	// Enqueue inserts a queued job for fileID. ErrAlreadyEnqueued is
	// returned (not wrapped as a failure) when a job for fileID already
	// exists — the caller treats this as idempotent success.
	Enqueue(ctx context.Context, fileID string, now time.Time) error

	// Claim atomically selects and locks one eligible job (either a
	// ready queued job or a stale-leased processing job) for workerID,
	// flips the job to processing, and flips the corresponding file to
	// processing_run. Returns (nil, nil, nil) when no job is eligible.
	Claim(ctx context.Context, workerID string, now time.Time) (*models.ProcessingJob, *models.FileContext, error)

	// Heartbeat extends jobID's lease. ErrLeaseLost is returned if the
	// update affected zero rows (lease expired or reclaimed by another
	// worker).
	Heartbeat(ctx context.Context, jobID, workerID string, now time.Time) error

	// FinalizeSuccess atomically marks jobID succeeded and the owning
	// file succeeded with report metadata.
	FinalizeSuccess(ctx context.Context, jobID, fileID string, report ReportMetadata, now time.Time) error

	// FinalizeFailure reschedules jobID (if retriable and attempts
	// remain) or marks it and its file permanently failed.
	FinalizeFailure(ctx context.Context, jobID, fileID string, classified taxonomy.Classified, now time.Time) error

	// SaveRawMetadata persists the raw-output storage key on the file
	// row independently of finalization (used on schema-validation
	// failure, spec.md §4.7 step 4).
	SaveRawMetadata(ctx context.Context, fileID, storageKeyRawLLMOutput string) error

	// GetFileContext returns the minimal context the pipeline needs for
	// fileID, or nil if the file does not exist.
	GetFileContext(ctx context.Context, fileID string) (*models.FileContext, error)
}

// ReportMetadata is the set of fields FinalizeSuccess persists onto the
// file row.
type ReportMetadata struct {
	StorageKeyReport string
	PromptVersion    string
	SchemaVersion    string
}

// FileRepository implements file-row lifecycle operations owned by the
// upload enqueuer and the owner report reader.
type FileRepository interface {
	// Insert creates a new file row in FileStatusUploading.
	Insert(ctx context.Context, file *models.File) error

	// MarkQueued flips a file to FileStatusQueued.
	MarkQueued(ctx context.Context, fileID string, now time.Time) error

	// MarkFailed flips a file to FileStatusFailed with sanitized error
	// fields (used by upload-time compensation, spec.md §4.6 step 8).
	MarkFailed(ctx context.Context, fileID string, errorCode, errorMessage string, now time.Time) error

	// GetOwned returns the file scoped to (fileID, userID), or nil if it
	// does not exist or is not owned by userID — the caller is
	// responsible for mapping "not found" to the same outcome as "not
	// owned" (spec.md §4.9's 404 masking).
	GetOwned(ctx context.Context, fileID, userID string) (*models.File, error)

	// ListOwned returns a page of files owned by userID, newest first.
	ListOwned(ctx context.Context, userID string, limit int, beforeCreatedAt *time.Time, beforeID string) ([]*models.File, error)
}

// AdminJobRepository implements the supplemental admin surface from
// SPEC_FULL.md §14: status counts, operator requeue, and terminal-job
// purge.
type AdminJobRepository interface {
	CountByStatus(ctx context.Context) (map[models.JobStatus]int, error)
	Requeue(ctx context.Context, jobID string, now time.Time) error
	PurgeTerminal(ctx context.Context, olderThan time.Time) (int64, error)
}

// ObjectStore implements the S3-compatible adapter from spec.md §4.2.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, body []byte, contentType string) error
	GetObjectText(ctx context.Context, key string) (string, error)
	DeleteObject(ctx context.Context, key string) error
}

// LLMInput is the request shape spec.md §4.3 defines for the adapter.
type LLMInput struct {
	TranscriptText string
	PromptVersion  string
	SchemaVersion  string
	TimeoutMS      int
}

// LLMOutput is the response shape spec.md §4.3 defines for the adapter.
type LLMOutput struct {
	Provider      string
	Model         string
	PromptVersion string
	SchemaVersion string
	RawText       string
	ParsedJSON    []byte
}

// LLMClient implements the provider-agnostic LLM adapter from spec.md
// §4.3.
type LLMClient interface {
	Analyze(ctx context.Context, input LLMInput) (*LLMOutput, error)
}

// ValidationError is one entry of a failed validation's bounded errors
// list (spec.md §4.4).
type ValidationError struct {
	InstancePath string
	Keyword      string
	Message      string
}

// ValidationResult is the outcome of SchemaValidator.Validate.
type ValidationResult struct {
	OK      bool
	Summary string
	Errors  []ValidationError
}

// SchemaValidator implements the pure-function strict JSON-Schema
// validator from spec.md §4.4.
type SchemaValidator interface {
	Validate(schemaVersion string, payload []byte) ValidationResult
}
