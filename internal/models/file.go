// Package models holds the two durable record types the core owns: File
// and ProcessingJob (spec.md §3).
package models

import "time"

// FileStatus is the lifecycle state of a File row.
type FileStatus string

const (
	// FileStatusUploading is the pre-enqueue transient state. The
	// in-flight worker state is named FileStatusProcessingRun rather than
	// a bare "processing" to avoid colliding with ProcessingJob's own
	// "processing" status (spec.md §9).
	FileStatusUploading     FileStatus = "uploading"
	FileStatusQueued        FileStatus = "queued"
	FileStatusProcessingRun FileStatus = "processing_run"
	FileStatusSucceeded     FileStatus = "succeeded"
	FileStatusFailed        FileStatus = "failed"
)

// FileExtension is the closed set of accepted upload extensions.
type FileExtension string

const (
	ExtensionTXT FileExtension = "txt"
	ExtensionVTT FileExtension = "vtt"
)

// MaxFileSizeBytes is the upload size ceiling from spec.md §3 (10 MiB).
const MaxFileSizeBytes int64 = 10 * 1024 * 1024

// File is the owner-visible metadata row for one uploaded transcript and
// its (eventual) report.
type File struct {
	ID                     string
	UserID                 string
	StorageBucket          string
	StorageKeyOriginal     string
	OriginalFilename       string
	Extension              FileExtension
	MimeType               string
	SizeBytes              int64
	Status                 FileStatus
	ErrorCode              string
	ErrorMessage           string
	StorageKeyReport       string
	StorageKeyRawLLMOutput string
	PromptVersion          string
	SchemaVersion          string
	ProcessingAttempts     int
	QueuedAt               *time.Time
	StartedAt              *time.Time
	ProcessedAt            *time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// ObjectKeyOriginal returns the deterministic original-transcript key for
// (userID, fileID, ext), per spec.md §6's key layout.
func ObjectKeyOriginal(userID, fileID string, ext FileExtension) string {
	return "users/" + userID + "/files/" + fileID + "/original." + string(ext)
}

// ObjectKeyReport returns the deterministic report.json key.
func ObjectKeyReport(userID, fileID string) string {
	return "users/" + userID + "/files/" + fileID + "/report.json"
}

// ObjectKeyRawLLMOutput returns the deterministic raw_llm_output.json key.
func ObjectKeyRawLLMOutput(userID, fileID string) string {
	return "users/" + userID + "/files/" + fileID + "/raw_llm_output.json"
}
