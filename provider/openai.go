package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/mohammad-safakhou/researcher/config"
)

// OpenAIInvoker implements Invoker against the OpenAI HTTP API
type OpenAIInvoker struct {
	config config.LLMConfig
	client *http.Client
}

// NewOpenAIInvoker creates a new OpenAI-backed invoker
func NewOpenAIInvoker(cfg config.LLMConfig) *OpenAIInvoker {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 90 * time.Second
	}
	return &OpenAIInvoker{
		config: cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *OpenAIInvoker) apiKey() string {
	if p.config.APIKey != "" {
		return p.config.APIKey
	}
	return os.Getenv("OPENAI_API_KEY")
}

func (p *OpenAIInvoker) baseURL() string {
	if p.config.BaseURL != "" {
		return p.config.BaseURL
	}
	return "https://api.openai.com/v1"
}

// modelFor resolves a routing model name against the model table. Unknown
// names pass through unchanged so a bare model id still works without a
// configured table.
func (p *OpenAIInvoker) modelFor(model string) (apiName string, cfg config.LLMModel, found bool) {
	for _, m := range p.config.Models {
		if m.Name == model {
			if m.APIName != "" {
				return m.APIName, m, true
			}
			return m.Name, m, true
		}
	}
	return model, config.LLMModel{}, false
}

// Generate sends a chat-completion request. Transport failures are retried
// with exponential backoff up to llm.max_attempts; a parsed response returns
// immediately, successful or not.
func (p *OpenAIInvoker) Generate(ctx context.Context, model string, messages []Message, opts Options) (string, Usage, error) {
	apiKey := p.apiKey()
	if apiKey == "" {
		return "", Usage{}, fmt.Errorf("OpenAI API key not configured")
	}

	apiModel, modelCfg, _ := p.modelFor(model)
	temperature := opts.Temperature
	if temperature == nil && modelCfg.Temperature != 0 {
		temperature = &modelCfg.Temperature
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = modelCfg.MaxTokens
	}

	type chatReq struct {
		Model       string    `json:"model"`
		Messages    []Message `json:"messages"`
		Temperature *float64  `json:"temperature,omitempty"`
		MaxTokens   int       `json:"max_tokens,omitempty"`
	}
	body, err := json.Marshal(chatReq{
		Model:       apiModel,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", Usage{}, fmt.Errorf("marshal: %w", err)
	}

	raw, err := p.post(ctx, p.baseURL()+"/chat/completions", apiKey, body)
	if err != nil {
		return "", Usage{}, err
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int64 `json:"prompt_tokens"`
			CompletionTokens int64 `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", Usage{}, &MalformedResponseError{Reason: "decode: " + err.Error(), Body: truncate(raw, 2048)}
	}
	if len(out.Choices) == 0 {
		return "", Usage{}, &MalformedResponseError{Reason: "no choices", Body: truncate(raw, 2048)}
	}

	usage := Usage{PromptTokens: out.Usage.PromptTokens, CompletionTokens: out.Usage.CompletionTokens}
	return out.Choices[0].Message.Content, usage, nil
}

// Embed returns one embedding vector per input text, in input order
func (p *OpenAIInvoker) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	apiKey := p.apiKey()
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key not configured")
	}

	apiModel, _, _ := p.modelFor(model)
	body, err := json.Marshal(map[string]interface{}{
		"model": apiModel,
		"input": texts,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	raw, err := p.post(ctx, p.baseURL()+"/embeddings", apiKey, body)
	if err != nil {
		return nil, err
	}

	var out struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &MalformedResponseError{Reason: "decode: " + err.Error(), Body: truncate(raw, 2048)}
	}
	if len(out.Data) != len(texts) {
		return nil, &MalformedResponseError{Reason: fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(out.Data))}
	}

	vecs := make([][]float32, len(out.Data))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, &MalformedResponseError{Reason: fmt.Sprintf("embedding index %d out of range", d.Index)}
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}

// post executes the request, retrying retryable transport failures with
// exponential backoff. Attempts are bounded by llm.max_attempts.
func (p *OpenAIInvoker) post(ctx context.Context, url, apiKey string, body []byte) ([]byte, error) {
	attempts := p.config.MaxAttempts
	if attempts <= 0 {
		attempts = 10
	}

	backoff := 500 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
		}

		req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+apiKey)

		resp, err := p.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = &TransportError{Err: err}
			continue
		}

		raw, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			if readErr != nil {
				lastErr = &TransportError{Status: resp.StatusCode, Err: readErr}
				continue
			}
			return raw, nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			lastErr = &TransportError{Status: resp.StatusCode, Err: fmt.Errorf("%s", truncate(raw, 512))}
			continue
		default:
			// 4xx other than 429 will not improve on retry
			return nil, &TransportError{Status: resp.StatusCode, Err: fmt.Errorf("%s", truncate(raw, 512))}
		}
	}
	return nil, lastErr
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
