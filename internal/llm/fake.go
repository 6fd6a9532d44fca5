package llm

import (
	"context"
	"encoding/json"

	"github.com/brightloom/transcriptor/internal/interfaces"
)

// FakeClient is the test-only provider from spec.md §4.3 ("provider=fake
// forbidden when non-test"). It always returns a schema-valid report so
// unit and integration tests can drive the pipeline processor end to end
// without a network dependency, mirroring the corpus's in-memory fake
// pattern (documents.MemoryRepo / analyses.MemoryRepo) applied to an
// external adapter instead of a repository.
type FakeClient struct {
	// Response, when non-nil, is returned verbatim instead of the
	// default canned report. Err, when non-nil, is returned instead.
	Response []byte
	Err      error
}

// NewFakeClient returns a FakeClient with the default canned response.
func NewFakeClient() *FakeClient {
	return &FakeClient{}
}

var _ interfaces.LLMClient = (*FakeClient)(nil)

func (c *FakeClient) Analyze(ctx context.Context, input interfaces.LLMInput) (*interfaces.LLMOutput, error) {
	if c.Err != nil {
		return nil, c.Err
	}

	body := c.Response
	if body == nil {
		body, _ = json.Marshal(map[string]any{
			"summary": "ok",
			"items":   []any{},
		})
	}

	return &interfaces.LLMOutput{
		Provider:      "fake",
		Model:         "fake-v1",
		PromptVersion: input.PromptVersion,
		SchemaVersion: input.SchemaVersion,
		RawText:       string(body),
		ParsedJSON:    body,
	}, nil
}
