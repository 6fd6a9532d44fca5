// Package uploader implements the upload-time enqueue flow from spec.md
// §4.6: the two-writer protocol between the object store and the
// database for newly uploaded transcripts, with best-effort compensation
// on partial failure, generalized from a single synchronous
// object-store-write to the object-store-then-database sequence spec.md
// §4.6 requires.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/brightloom/transcriptor/internal/common"
	"github.com/brightloom/transcriptor/internal/interfaces"
	"github.com/brightloom/transcriptor/internal/models"
	"github.com/brightloom/transcriptor/internal/storage/postgres"
	"github.com/brightloom/transcriptor/internal/taxonomy"
)

// allowedExtensions is the closed set of accepted upload extensions from
// spec.md §3.
var allowedExtensions = map[string]models.FileExtension{
	".txt": models.ExtensionTXT,
	".vtt": models.ExtensionVTT,
}

// Request is the input to Upload: an authenticated owner id and the
// multipart-decoded file body (spec.md §6's POST /api/files/upload).
type Request struct {
	UserID           string
	OriginalFilename string
	MimeType         string
	Bytes            []byte
}

// Result is the success outcome of Upload.
type Result struct {
	FileID string
	Status models.FileStatus
}

// Error carries the sanitized outcome code and HTTP status a rejected or
// failed upload maps to, per spec.md §6.
type Error struct {
	Code       string
	HTTPStatus int
	Message    string
}

func (e *Error) Error() string { return e.Message }

// Deps is the single collaborator-handle struct every core service takes,
// per SPEC_FULL.md §13.
type Deps struct {
	Files   interfaces.FileRepository
	Jobs    interfaces.JobRepository
	Objects interfaces.ObjectStore
	Logger  *common.Logger
	Clock   common.Clock
	IDGen   common.IDGenerator
	Sink    common.EventSink
	Bucket  string
}

// Service implements the upload enqueuer.
type Service struct {
	deps Deps
}

// New returns a Service over deps.
func New(deps Deps) *Service {
	return &Service{deps: deps}
}

// Upload runs the upload-time enqueue flow from spec.md §4.6, steps 1-8.
func (s *Service) Upload(ctx context.Context, req Request) (*Result, error) {
	ext, ok := validExtension(req.OriginalFilename)
	if !ok {
		return nil, &Error{Code: string(taxonomy.CodeInvalidFileType), HTTPStatus: 400,
			Message: "file extension must be one of: txt, vtt"}
	}
	if int64(len(req.Bytes)) > models.MaxFileSizeBytes {
		return nil, &Error{Code: string(taxonomy.CodeFileTooLarge), HTTPStatus: 413,
			Message: "file exceeds the maximum upload size"}
	}
	if req.UserID == "" {
		return nil, &Error{Code: string(taxonomy.CodeInvalidFileType), HTTPStatus: 400, Message: "missing owner id"}
	}

	now := s.deps.Clock.Now()
	fileID := s.deps.IDGen.NewID()
	key := models.ObjectKeyOriginal(req.UserID, fileID, ext)

	file := &models.File{
		ID:                 fileID,
		UserID:             req.UserID,
		StorageBucket:      s.deps.Bucket,
		StorageKeyOriginal: key,
		OriginalFilename:   req.OriginalFilename,
		Extension:          ext,
		MimeType:           req.MimeType,
		SizeBytes:          int64(len(req.Bytes)),
		Status:             models.FileStatusUploading,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := s.deps.Files.Insert(ctx, file); err != nil {
		return nil, fmt.Errorf("failed to insert file row: %w", err)
	}

	// Step 5: put object to store. On failure, mark the file failed
	// (best-effort) and return upload_failed — there is nothing to
	// compensate yet since the object write itself is what failed.
	if err := s.deps.Objects.PutObject(ctx, key, req.Bytes, contentTypeFor(ext, req.MimeType)); err != nil {
		s.markFailedBestEffort(ctx, fileID, string(taxonomy.CodeS3PutFailed), err.Error(), now)
		return nil, &Error{Code: "upload_failed", HTTPStatus: 500, Message: "failed to store uploaded file"}
	}

	// Step 6: enqueue. A unique-violation is idempotent success.
	if err := s.deps.Jobs.Enqueue(ctx, fileID, now); err != nil && !errors.Is(err, postgres.ErrAlreadyEnqueued) {
		s.compensate(ctx, req.UserID, fileID, key, err)
		return nil, &Error{Code: "upload_failed", HTTPStatus: 500, Message: "failed to enqueue processing job"}
	}

	// Step 7: mark queued.
	if err := s.deps.Files.MarkQueued(ctx, fileID, now); err != nil {
		return nil, fmt.Errorf("failed to mark file %s queued: %w", fileID, err)
	}

	return &Result{FileID: fileID, Status: models.FileStatusQueued}, nil
}

// compensate runs spec.md §4.6 step 8: best-effort delete of the orphan
// object, mark the file failed, and emit the structured diagnostic
// events so an operator can reconcile without scanning both backends by
// hand.
func (s *Service) compensate(ctx context.Context, userID, fileID, key string, cause error) {
	now := s.deps.Clock.Now()
	deleteFailed := false
	if err := s.deps.Objects.DeleteObject(ctx, key); err != nil {
		deleteFailed = true
	}

	s.markFailedBestEffort(ctx, fileID, string(taxonomy.CodeEnqueueFailed), cause.Error(), now)

	fields := map[string]any{"user_id": userID, "file_id": fileID, "key": key, "error": taxonomy.Sanitize(cause.Error())}
	s.deps.Sink.Emit(ctx, "orphan_file_without_job", fields)
	if deleteFailed {
		orphanFields := map[string]any{"user_id": userID, "file_id": fileID, "key": key, "delete_failed": true}
		s.deps.Sink.Emit(ctx, "orphan_s3_object", orphanFields)
	}
}

// markFailedBestEffort marks fileID failed, swallowing any error beyond a
// log line — compensation must never itself crash the request path
// (spec.md §7's "compensation failures are structured-logged but never
// crash").
func (s *Service) markFailedBestEffort(ctx context.Context, fileID, code, message string, now time.Time) {
	if err := s.deps.Files.MarkFailed(ctx, fileID, code, message, now); err != nil {
		s.deps.Logger.Warn().Str("file_id", fileID).Err(err).Msg("failed to mark file failed during compensation")
	}
}

func validExtension(filename string) (models.FileExtension, bool) {
	ext := strings.ToLower(filepath.Ext(filename))
	e, ok := allowedExtensions[ext]
	return e, ok
}

func contentTypeFor(ext models.FileExtension, mimeType string) string {
	if mimeType != "" {
		return mimeType
	}
	if ext == models.ExtensionVTT {
		return "text/vtt"
	}
	return "text/plain"
}
