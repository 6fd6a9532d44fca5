// Package pipeline implements the report pipeline processor from spec.md
// §4.7: per-claimed-job orchestration of object-store read, LLM call,
// strict schema validation, artifact write, and metadata update, with
// compensation on partial failure, generalized from a portfolio-report
// formatter/service pair assembling internally computed figures to
// transcript-report generation against an external LLM and a versioned
// schema.
package pipeline

import (
	"context"
	"errors"
	"strings"

	"github.com/brightloom/transcriptor/internal/common"
	"github.com/brightloom/transcriptor/internal/interfaces"
	"github.com/brightloom/transcriptor/internal/models"
	"github.com/brightloom/transcriptor/internal/taxonomy"
)

// ClassifiedError carries a taxonomy.Classified outcome out of Process so
// the worker runtime can feed it straight into FinalizeFailure without
// re-deriving a retriable flag.
type ClassifiedError struct {
	Classified taxonomy.Classified
	Cause      error
}

func (e *ClassifiedError) Error() string { return e.Classified.Message }
func (e *ClassifiedError) Unwrap() error { return e.Cause }

func fatal(code taxonomy.Code, message string) error {
	return &ClassifiedError{Classified: taxonomy.Classified{Code: code, Retriable: false, Message: taxonomy.Sanitize(message)}}
}

// Deps is the single collaborator-handle struct the processor takes, per
// SPEC_FULL.md §13.
type Deps struct {
	Jobs      interfaces.JobRepository
	Objects   interfaces.ObjectStore
	LLM       interfaces.LLMClient
	Validator interfaces.SchemaValidator
	Logger    *common.Logger
	Clock     common.Clock
	Sink      common.EventSink
}

// Processor implements the per-job pipeline.
type Processor struct {
	deps Deps
}

// New returns a Processor over deps.
func New(deps Deps) *Processor {
	return &Processor{deps: deps}
}

// Params are the active prompt/schema versions and per-call timeout the
// worker runtime supplies (spec.md §4.7 step 3).
type Params struct {
	PromptVersion string
	SchemaVersion string
	LLMTimeoutMS  int
}

// Process runs spec.md §4.7 steps 1-5 for one claimed job. On success, the
// job and file are already finalized (Jobs.FinalizeSuccess has been
// called) and Process returns nil. On failure, Process returns a
// *ClassifiedError and has NOT finalized the job — the caller (the
// worker runtime) decides whether to call Jobs.FinalizeFailure with it,
// which itself reads the job's attempts against max_attempts.
func (p *Processor) Process(ctx context.Context, job *models.ProcessingJob, fc *models.FileContext, params Params) error {
	if fc == nil {
		return fatal(taxonomy.CodeFileContextNotFound, "file context not found for job")
	}

	transcript, err := p.deps.Objects.GetObjectText(ctx, fc.StorageKeyOriginal)
	if err != nil {
		return classifyOrWrap(err, taxonomy.CodeS3ReadFailed)
	}

	trimmed := strings.TrimSpace(transcript)
	if trimmed == "" {
		return fatal(taxonomy.CodeEmptyOriginalTranscript, "original transcript is empty")
	}

	llmOut, err := p.deps.LLM.Analyze(ctx, interfaces.LLMInput{
		TranscriptText: trimmed,
		PromptVersion:  params.PromptVersion,
		SchemaVersion:  params.SchemaVersion,
		TimeoutMS:      params.LLMTimeoutMS,
	})
	if err != nil {
		return classifyOrWrap(err, taxonomy.CodeLLMCallFailed)
	}

	result := p.deps.Validator.Validate(params.SchemaVersion, llmOut.ParsedJSON)
	if !result.OK {
		p.persistRawOutputBestEffort(ctx, fc, llmOut.RawText)
		return fatal(taxonomy.CodeSchemaValidationFailed, result.Summary)
	}

	reportKey := models.ObjectKeyReport(fc.UserID, fc.FileID)
	if err := p.deps.Objects.PutObject(ctx, reportKey, llmOut.ParsedJSON, "application/json"); err != nil {
		return classifyOrWrap(err, taxonomy.CodeS3WriteFailed)
	}

	now := p.deps.Clock.Now()
	if err := p.deps.Jobs.FinalizeSuccess(ctx, job.ID, fc.FileID, interfaces.ReportMetadata{
		StorageKeyReport: reportKey,
		PromptVersion:    params.PromptVersion,
		SchemaVersion:    params.SchemaVersion,
	}, now); err != nil {
		// The report object is already written but its metadata never
		// landed, so no user can reach it; it is deleted as an orphan
		// before surfacing the failure, and an orphan_report_object event
		// is emitted if that delete fails (spec.md §4.7 step 5).
		if delErr := p.deps.Objects.DeleteObject(ctx, reportKey); delErr != nil {
			p.deps.Sink.Emit(ctx, "orphan_report_object", map[string]any{
				"file_id": fc.FileID, "job_id": job.ID, "key": reportKey,
			})
		}
		return classifyOrWrap(err, taxonomy.CodeDBUpdateFailed)
	}

	return nil
}

// persistRawOutputBestEffort writes raw_llm_output.json for diagnostics
// and records its key on the file row, per spec.md §4.7 step 4. Both
// operations are best-effort: their failure never changes the ultimate
// schema_validation_failed outcome, only what diagnostics survive it.
func (p *Processor) persistRawOutputBestEffort(ctx context.Context, fc *models.FileContext, rawText string) {
	rawKey := models.ObjectKeyRawLLMOutput(fc.UserID, fc.FileID)
	if err := p.deps.Objects.PutObject(ctx, rawKey, []byte(rawText), "application/json"); err != nil {
		p.deps.Logger.Warn().Str("file_id", fc.FileID).Err(err).Msg("failed to persist raw llm output")
		return
	}
	if err := p.deps.Jobs.SaveRawMetadata(ctx, fc.FileID, rawKey); err != nil {
		p.deps.Sink.Emit(ctx, "raw_output_metadata_update_failed", map[string]any{
			"file_id": fc.FileID, "error": taxonomy.Sanitize(err.Error()),
		})
	}
}

// classifier is implemented by every adapter's own classified-error type
// (internal/storage/objectstore.ClassifiedError, internal/llm.ClassifiedError)
// so the processor can recover their {code, retriable, message} without
// importing either package's concrete type.
type classifier interface {
	error
	ClassifiedOutcome() taxonomy.Classified
}

// classifyOrWrap extracts an embedded taxonomy.Classified from err if one
// of the adapter packages (objectstore, llm) already produced one;
// otherwise it falls back to fallbackCode, non-retriable, per spec.md
// §7's "unknown errors default to non-retriable" rule.
func classifyOrWrap(err error, fallbackCode taxonomy.Code) error {
	var c classifier
	if errors.As(err, &c) {
		return &ClassifiedError{Classified: c.ClassifiedOutcome(), Cause: err}
	}
	return &ClassifiedError{Classified: taxonomy.Classified{Code: fallbackCode, Retriable: false, Message: taxonomy.Sanitize(err.Error())}, Cause: err}
}
