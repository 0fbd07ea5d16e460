package research

import (
	"github.com/mohammad-safakhou/researcher/config"
	"github.com/mohammad-safakhou/researcher/provider"
)

// CostRecord captures the token usage of a single model call
type CostRecord struct {
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
	Model            string `json:"model"`
}

// USD derives the dollar cost from the per-model pricing table. Models
// missing from the table cost zero.
func (r CostRecord) USD(cfg config.LLMConfig) float64 {
	return provider.CalculateCost(cfg, r.Model, provider.Usage{
		PromptTokens:     r.PromptTokens,
		CompletionTokens: r.CompletionTokens,
	})
}
