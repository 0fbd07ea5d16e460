package research

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mohammad-safakhou/researcher/config"
	"github.com/mohammad-safakhou/researcher/provider"
	searchmodels "github.com/mohammad-safakhou/researcher/tools/web_search/models"
)

// Planner expands the original query into a bounded set of sub-queries
type Planner struct {
	invoker provider.Invoker
	cfg     *config.Config
	logger  *log.Logger
}

func NewPlanner(cfg *config.Config, invoker provider.Invoker, logger *log.Logger) *Planner {
	if logger == nil {
		logger = log.New(log.Writer(), "[PLANNER] ", log.LstdFlags)
	}
	return &Planner{invoker: invoker, cfg: cfg, logger: logger}
}

// PlanResearchOutline asks the model for sub-queries, one per line. The set
// is deduplicated and capped at research.max_sub_queries; unless the task is
// a sub-topic report the original query is appended so the top-level topic
// is always covered. Invoker failures propagate unmodified - retry policy
// lives in the provider.
func (p *Planner) PlanResearchOutline(ctx context.Context, state *State, seed []searchmodels.Result) ([]string, error) {
	maxSubQueries := p.cfg.Research.MaxSubQueries
	model := p.model()

	prompt := planPrompt(state.Query(), seed, maxSubQueries)
	text, usage, err := p.invoker.Generate(ctx, model,
		[]provider.Message{{Role: "user", Content: prompt}},
		provider.Options{Temperature: provider.Temp(0.4)})
	if err != nil {
		return nil, fmt.Errorf("planning sub-queries: %w", err)
	}
	if err := state.AddCost(CostRecord{PromptTokens: usage.PromptTokens, CompletionTokens: usage.CompletionTokens, Model: model}.USD(p.cfg.LLM)); err != nil {
		return nil, err
	}

	subQueries := parseSubQueries(text, maxSubQueries)
	if state.Params().Type != SubtopicReport {
		subQueries = appendUnique(subQueries, state.Query())
	}

	state.Emit(fmt.Sprintf("Planned %d research queries", len(subQueries)), false, false)
	p.logger.Printf("planned %d sub-queries for %q", len(subQueries), state.Query())
	return subQueries, nil
}

// parseSubQueries splits the model answer into clean query strings
func parseSubQueries(text string, max int) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, line := range strings.Split(text, "\n") {
		q := strings.TrimSpace(line)
		q = strings.TrimLeft(q, "-*0123456789. )")
		q = strings.Trim(q, `"'`)
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		key := strings.ToLower(q)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, q)
		if len(out) == max {
			break
		}
	}
	return out
}

func appendUnique(queries []string, q string) []string {
	for _, existing := range queries {
		if strings.EqualFold(existing, q) {
			return queries
		}
	}
	return append(queries, q)
}

func (p *Planner) model() string {
	if m := p.cfg.LLM.Routing.Planning; m != "" {
		return m
	}
	return p.cfg.LLM.Routing.Fallback
}
