// Package reportreader implements the owner-scoped report read path from
// spec.md §4.9: owner lookup, readiness gate, fetch, and parse, in the
// same single-resource-read handler shape used elsewhere in this
// codebase, generalized from portfolio snapshot assembly to a stored
// JSON blob fetch with readiness masking.
package reportreader

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/brightloom/transcriptor/internal/common"
	"github.com/brightloom/transcriptor/internal/interfaces"
	"github.com/brightloom/transcriptor/internal/models"
	"github.com/brightloom/transcriptor/internal/taxonomy"
)

// Outcome is the closed set of response shapes spec.md §4.9 defines.
type Outcome string

const (
	OutcomeOK          Outcome = "ok"
	OutcomeNotFound    Outcome = "not_found"
	OutcomeNotReady    Outcome = "report_not_ready"
	OutcomeFetchFailed Outcome = "report_fetch_failed"
)

// Error carries the outcome and HTTP status code a failed GetReport maps
// to, per spec.md §6.
type Error struct {
	Outcome    Outcome
	HTTPStatus int
	Message    string
}

func (e *Error) Error() string { return e.Message }

// Report is the success response shape from spec.md §4.9 step 5.
type Report struct {
	ID               string
	Status           models.FileStatus
	StorageKeyReport string
	ReportJSON       json.RawMessage
}

// Deps is the single collaborator-handle struct the reader takes, per
// SPEC_FULL.md §13.
type Deps struct {
	Files   interfaces.FileRepository
	Objects interfaces.ObjectStore
	Logger  *common.Logger
	Sink    common.EventSink
}

// Service implements the owner report reader.
type Service struct {
	deps Deps
}

// New returns a Service over deps.
func New(deps Deps) *Service {
	return &Service{deps: deps}
}

// GetReport runs spec.md §4.9 steps 1-5. Non-existence and non-ownership
// are both mapped to Error{Outcome: OutcomeNotFound} to avoid cross-tenant
// existence disclosure (testable property 8).
func (s *Service) GetReport(ctx context.Context, ownerID, fileID string) (*Report, error) {
	file, err := s.deps.Files.GetOwned(ctx, fileID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up file %s: %w", fileID, err)
	}
	if file == nil {
		return nil, &Error{Outcome: OutcomeNotFound, HTTPStatus: 404, Message: "file not found"}
	}

	if file.Status != models.FileStatusSucceeded || file.StorageKeyReport == "" {
		return nil, &Error{Outcome: OutcomeNotReady, HTTPStatus: 409, Message: "report not ready"}
	}

	text, err := s.deps.Objects.GetObjectText(ctx, file.StorageKeyReport)
	if err != nil {
		s.deps.Logger.Warn().Str("file_id", fileID).Err(err).Msg("report_fetch_failed: object store read")
		s.deps.Sink.Emit(ctx, "report_fetch_failed", map[string]any{
			"file_id": fileID, "stage": "object_store_read", "error": taxonomy.Sanitize(err.Error()),
		})
		return nil, &Error{Outcome: OutcomeFetchFailed, HTTPStatus: 500, Message: taxonomy.Sanitize("failed to fetch report")}
	}

	var raw json.RawMessage
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		s.deps.Logger.Warn().Str("file_id", fileID).Err(err).Msg("report_fetch_failed: parse")
		s.deps.Sink.Emit(ctx, "report_fetch_failed", map[string]any{
			"file_id": fileID, "stage": "parse", "error": taxonomy.Sanitize(err.Error()),
		})
		return nil, &Error{Outcome: OutcomeFetchFailed, HTTPStatus: 500, Message: taxonomy.Sanitize("failed to parse report")}
	}

	return &Report{
		ID:               file.ID,
		Status:           file.Status,
		StorageKeyReport: file.StorageKeyReport,
		ReportJSON:       raw,
	}, nil
}
