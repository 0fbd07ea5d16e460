package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/mohammad-safakhou/researcher/config"
)

// Client represents different LLM providers
type Client string

const (
	OpenAI    Client = "openai"
	Anthropic Client = "anthropic"
	Gemini    Client = "gemini"
)

// ErrUnsupportedProvider is returned by NewProvider for a Client value with
// no implementation. Surfaced at configuration time, never mid-run.
var ErrUnsupportedProvider = errors.New("unsupported LLM provider")

// Message is one turn of a chat-completion conversation
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// Usage reports token consumption for a single generation
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
}

// Options tunes a single generation call
type Options struct {
	// Temperature overrides the model table's sampling temperature when
	// non-nil; an explicit zero is a valid override.
	Temperature *float64
	MaxTokens   int
}

// Temp builds a temperature override for Options
func Temp(v float64) *float64 { return &v }

// Invoker is the contract every model backend must satisfy. Generate returns
// the raw completion text plus token usage; Embed returns one vector per
// input text, in input order.
type Invoker interface {
	Generate(ctx context.Context, model string, messages []Message, opts Options) (string, Usage, error)
	Embed(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// TransportError wraps HTTP-level failures: network errors, 429s, 5xx.
// These are the only failures the adapters retry.
type TransportError struct {
	Status int // zero when the request never reached the server
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("llm transport: status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("llm transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// MalformedResponseError marks a response the adapter could reach but not
// use: no choices, or an undecodable body. Never retried blindly; callers
// may fall back to a different prompt shape.
type MalformedResponseError struct {
	Reason string
	Body   string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("llm malformed response: %s", e.Reason)
}

// NewProvider creates a model invoker for the configured client
func NewProvider(client Client, cfg config.LLMConfig) (Invoker, error) {
	switch client {
	case OpenAI:
		return NewOpenAIInvoker(cfg), nil
	case Anthropic:
		return nil, fmt.Errorf("anthropic: %w", ErrUnsupportedProvider)
	case Gemini:
		return nil, fmt.Errorf("gemini: %w", ErrUnsupportedProvider)
	default:
		return nil, fmt.Errorf("%q: %w", client, ErrUnsupportedProvider)
	}
}

// CalculateCost derives the USD cost of a generation from the per-1K-token
// pricing in the model table. Unknown models cost zero.
func CalculateCost(cfg config.LLMConfig, model string, usage Usage) float64 {
	for _, m := range cfg.Models {
		if m.Name == model {
			return float64(usage.PromptTokens)/1000.0*m.CostPer1K +
				float64(usage.CompletionTokens)/1000.0*m.CostPer1KOutput
		}
	}
	return 0.0
}
