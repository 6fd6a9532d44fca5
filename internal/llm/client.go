// Package llm implements the provider-agnostic analyzer adapter from
// spec.md §4.3: a wrapper around google.golang.org/genai,
// generalized from stock-analysis prompting to transcript-report
// prompting with forced structured JSON output.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/brightloom/transcriptor/internal/common"
	"github.com/brightloom/transcriptor/internal/interfaces"
)

// ActiveReportPromptVersion is the prompt version the worker runtime
// requests on every call (spec.md §4.4).
const ActiveReportPromptVersion = "v1"

// Config is the enumerated LLM configuration from spec.md §4.3.
type Config struct {
	Provider  string // openai|fake
	Model     string
	APIKey    string
	TimeoutMS int
}

// New constructs the configured interfaces.LLMClient, enforcing the
// production guardrails from spec.md §4.3: provider=fake is forbidden
// outside test environments, and provider=openai requires an API key.
// genai has no built-in backend/environment gate of its own, so this
// check is explicit here rather than left to the SDK.
func New(ctx context.Context, cfg Config, isProduction bool, logger *common.Logger) (interfaces.LLMClient, error) {
	switch cfg.Provider {
	case "fake":
		if isProduction {
			return nil, fmt.Errorf("llm provider 'fake' is forbidden in production")
		}
		return NewFakeClient(), nil
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("llm provider 'openai' requires an api key")
		}
		return NewGenAIClient(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// effectiveTimeout returns input's per-call override when it is positive,
// otherwise cfg's timeout, and 60s when neither is set.
func effectiveTimeout(configMS, inputMS int) time.Duration {
	ms := configMS
	if inputMS > 0 {
		ms = inputMS
	}
	if ms <= 0 {
		ms = 60000
	}
	return time.Duration(ms) * time.Millisecond
}
