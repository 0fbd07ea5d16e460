package research

import (
	"context"
	"sync"

	"github.com/mohammad-safakhou/researcher/config"
	"github.com/mohammad-safakhou/researcher/provider"
	fetchmodels "github.com/mohammad-safakhou/researcher/tools/web_fetch/models"
	searchmodels "github.com/mohammad-safakhou/researcher/tools/web_search/models"
)

// stubInvoker scripts model behavior per test
type stubInvoker struct {
	mu         sync.Mutex
	generateFn func(model string, messages []provider.Message) (string, provider.Usage, error)
	embedFn    func(texts []string) ([][]float32, error)
	calls      [][]provider.Message
}

func (s *stubInvoker) Generate(ctx context.Context, model string, messages []provider.Message, opts provider.Options) (string, provider.Usage, error) {
	s.mu.Lock()
	s.calls = append(s.calls, messages)
	s.mu.Unlock()
	return s.generateFn(model, messages)
}

func (s *stubInvoker) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if s.embedFn == nil {
		return make([][]float32, len(texts)), nil
	}
	return s.embedFn(texts)
}

func (s *stubInvoker) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// scripted returns replies in order, repeating the last one
func scripted(replies ...string) func(string, []provider.Message) (string, provider.Usage, error) {
	i := 0
	var mu sync.Mutex
	return func(string, []provider.Message) (string, provider.Usage, error) {
		mu.Lock()
		defer mu.Unlock()
		reply := replies[len(replies)-1]
		if i < len(replies) {
			reply = replies[i]
			i++
		}
		return reply, provider.Usage{PromptTokens: 10, CompletionTokens: 5}, nil
	}
}

// stubEmbedder maps known texts to fixed vectors
type stubEmbedder struct {
	vectors map[string][]float32
}

func (s *stubEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := s.vectors[t]; ok {
			out[i] = v
		} else {
			out[i] = []float32{0, 0}
		}
	}
	return out, nil
}

// stubSearcher returns canned results, with optional per-query failures
type stubSearcher struct {
	results map[string][]searchmodels.Result
	errOn   map[string]error
	err     error
}

func (s *stubSearcher) Search(ctx context.Context, q string, k int) ([]searchmodels.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	if err, ok := s.errOn[q]; ok {
		return nil, err
	}
	return s.results[q], nil
}

// stubFetcher returns canned pages
type stubFetcher struct {
	pages map[string]fetchmodels.Page
	err   error
}

func (s *stubFetcher) Exec(ctx context.Context, url string) (fetchmodels.Page, error) {
	if s.err != nil {
		return fetchmodels.Page{}, s.err
	}
	if p, ok := s.pages[url]; ok {
		return p, nil
	}
	return fetchmodels.Page{URL: url, Status: 200}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		LLM: config.LLMConfig{
			Provider:    "openai",
			MaxAttempts: 3,
			Routing: config.LLMRoutingConfig{
				Planning: "plan-model",
				Curation: "curate-model",
				Writing:  "write-model",
				Review:   "review-model",
				Fallback: "fallback-model",
			},
			Models: map[string]config.LLMModel{
				"plan":   {Name: "plan-model", CostPer1K: 0.001, CostPer1KOutput: 0.002},
				"curate": {Name: "curate-model", CostPer1K: 0.001, CostPer1KOutput: 0.002},
				"write":  {Name: "write-model", CostPer1K: 0.001, CostPer1KOutput: 0.002},
				"review": {Name: "review-model", CostPer1K: 0.0005, CostPer1KOutput: 0.001},
			},
		},
		Search: config.SearchConfig{MaxResults: 5},
		Research: config.ResearchConfig{
			MaxSubQueries:       5,
			MaxSources:          10,
			MaxImages:           4,
			SimilarityThreshold: 0.5,
			ContextTokenBudget:  8000,
			MaxReviewRounds:     3,
			TotalWords:          800,
			CurateSources:       false,
		},
	}
}
