package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/brightloom/transcriptor/internal/common"
	"github.com/brightloom/transcriptor/internal/interfaces"
	"github.com/brightloom/transcriptor/internal/taxonomy"
)

// defaultCallsPerSecond paces outbound model calls so a full worker pool
// can't burst past the provider's own rate limiting and turn every
// concurrent slot's call into an avoidable llm_rate_limited retry.
const defaultCallsPerSecond = 2

// reportResponseSchema is the structured-output shape requested of the
// model, mirroring the active report schema's top-level contract. The
// validator (internal/validator) is the source of truth for strictness;
// this schema only shapes the model's output, it does not replace
// external validation (spec.md §4.3's "result JSON is schema-validated
// externally").
var reportResponseSchema = &genai.Schema{
	Type:     genai.TypeObject,
	Required: []string{"summary", "items"},
	Properties: map[string]*genai.Schema{
		"summary": {Type: genai.TypeString},
		"items": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type:     genai.TypeObject,
				Required: []string{"title", "severity"},
				Properties: map[string]*genai.Schema{
					"title":    {Type: genai.TypeString},
					"detail":   {Type: genai.TypeString},
					"severity": {Type: genai.TypeString, Enum: []string{"info", "low", "medium", "high"}},
				},
			},
		},
	},
}

// GenAIClient implements interfaces.LLMClient against
// google.golang.org/genai, generalized from stock-analysis prompting to
// transcript-report prompting with forced structured JSON output. It
// disables the SDK's own retry behavior — the outer worker runtime is
// the sole retry authority, per spec.md §4.3.
type GenAIClient struct {
	client  *genai.Client
	model   string
	logger  *common.Logger
	limiter *rate.Limiter
}

// NewGenAIClient constructs a GenAIClient for cfg.
func NewGenAIClient(ctx context.Context, cfg Config, logger *common.Logger) (*GenAIClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create llm client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-5-mini"
	}
	return &GenAIClient{
		client:  client,
		model:   model,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(defaultCallsPerSecond), 1),
	}, nil
}

var _ interfaces.LLMClient = (*GenAIClient)(nil)

// Analyze calls the model with forced structured JSON output matching
// the active report schema, per spec.md §4.3.
func (c *GenAIClient) Analyze(ctx context.Context, input interfaces.LLMInput) (*interfaces.LLMOutput, error) {
	timeout := effectiveTimeout(0, input.TimeoutMS)
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := c.limiter.Wait(callCtx); err != nil {
		return nil, classifyGenAIError(callCtx, err)
	}

	prompt := buildTranscriptPrompt(input.TranscriptText, input.SchemaVersion)

	result, err := c.client.Models.GenerateContent(callCtx, c.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   reportResponseSchema,
	})
	if err != nil {
		return nil, classifyGenAIError(callCtx, err)
	}

	text, err := extractText(result)
	if err != nil {
		return nil, &ClassifiedError{Classified: taxonomy.Classified{
			Code:    taxonomy.CodeLLMCallFailed,
			Message: taxonomy.Sanitize(err.Error()),
		}, Cause: err}
	}

	return &interfaces.LLMOutput{
		Provider:      "openai",
		Model:         c.model,
		PromptVersion: input.PromptVersion,
		SchemaVersion: input.SchemaVersion,
		RawText:       text,
		ParsedJSON:    []byte(text),
	}, nil
}

func buildTranscriptPrompt(transcript, schemaVersion string) string {
	return "You are analyzing a call transcript. Produce a JSON report matching schema " +
		schemaVersion + " with a short \"summary\" and a list of \"items\", each with a " +
		"\"title\", optional \"detail\", and \"severity\" in {info, low, medium, high}.\n\n" +
		"Transcript:\n" + transcript
}

func extractText(result *genai.GenerateContentResponse) (string, error) {
	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil || len(result.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("no content generated")
	}
	text := ""
	for _, part := range result.Candidates[0].Content.Parts {
		if part.Text != "" {
			text += part.Text
		}
	}
	if text == "" {
		return "", errors.New("empty response text")
	}
	return text, nil
}

// classifyGenAIError maps a genai/transport error to the closed error
// taxonomy from spec.md §4.3: timeouts -> llm_timeout, network/429/5xx ->
// retriable, other 4xx -> fatal llm_call_failed.
func classifyGenAIError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return &ClassifiedError{Classified: taxonomy.Classified{
			Code: taxonomy.CodeLLMTimeout, Retriable: true,
			Message: taxonomy.Sanitize(err.Error()),
		}, Cause: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &ClassifiedError{Classified: taxonomy.Classified{
			Code: taxonomy.CodeLLMTransient, Retriable: true,
			Message: taxonomy.Sanitize(err.Error()),
		}, Cause: err}
	}

	status := genaiStatusCode(err.Error())
	classified := taxonomy.ClassifyHTTPStatus(status, err,
		taxonomy.CodeLLMTimeout, taxonomy.CodeLLMRateLimited, taxonomy.CodeLLMTransient, taxonomy.CodeLLMCallFailed)
	return &ClassifiedError{Classified: classified, Cause: err}
}

// genaiStatusCode best-effort extracts an HTTP status code the SDK
// embeds in its error text (genai surfaces transport errors as plain
// errors, not a typed status), or 0 if none is recognized.
func genaiStatusCode(msg string) int {
	for _, status := range []int{http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout,
		http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound} {
		if strings.Contains(msg, strconv.Itoa(status)) {
			return status
		}
	}
	return 0
}

// ClassifiedError wraps a taxonomy.Classified alongside the original
// error, mirroring internal/storage/objectstore's ClassifiedError so
// callers can classify and %w-wrap uniformly across adapters.
type ClassifiedError struct {
	Classified taxonomy.Classified
	Cause      error
}

func (e *ClassifiedError) Error() string { return e.Classified.Message }
func (e *ClassifiedError) Unwrap() error { return e.Cause }

// ClassifiedOutcome returns the {code, retriable, message} triple, so
// callers outside this package (internal/pipeline) can recover it without
// importing this package's concrete type.
func (e *ClassifiedError) ClassifiedOutcome() taxonomy.Classified { return e.Classified }
