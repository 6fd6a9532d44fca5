package models

import "time"

// JobStatus is the lifecycle state of a ProcessingJob row.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusSucceeded  JobStatus = "succeeded"
	JobStatusFailed     JobStatus = "failed"
)

// DefaultMaxAttempts and DefaultLockTTLSeconds are the defaults named in
// spec.md §3/§4.5.
const (
	DefaultMaxAttempts    = 4
	DefaultLockTTLSeconds = 300
)

// BackoffScheduleMS is the retry offset sequence from spec.md §4.5:
// 30s, 120s, 480s (×4 multiplier), before jitter is applied.
var BackoffScheduleMS = []int64{30_000, 120_000, 480_000}

// BackoffJitterFraction is the ±20% jitter band applied to each backoff
// offset.
const BackoffJitterFraction = 0.20

// ProcessingJob is the durable queue row backing the claim/heartbeat/
// finalize protocol (spec.md §4.5).
type ProcessingJob struct {
	ID               string
	FileID           string
	Status           JobStatus
	Attempts         int
	MaxAttempts      int
	NextRunAt        time.Time
	LockedAt         *time.Time
	LockedBy         string
	HeartbeatAt      *time.Time
	LockTTLSeconds   int
	LastErrorCode    string
	LastErrorMessage string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// FileContext is the minimal file context the claim query attaches to a
// claimed job — everything the report pipeline processor needs without a
// second round trip (spec.md §4.5's get_file_context).
type FileContext struct {
	FileID             string
	UserID             string
	StorageKeyOriginal string
}

// JobEvent is broadcast over the admin WebSocket hub on every lifecycle
// transition (SPEC_FULL.md §12).
type JobEvent struct {
	Name      string         `json:"name"`
	JobID     string         `json:"job_id,omitempty"`
	FileID    string         `json:"file_id,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
