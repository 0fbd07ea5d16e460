package research

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mohammad-safakhou/researcher/config"
	"github.com/mohammad-safakhou/researcher/provider"
)

// Reviewer runs the bounded review-revise loop:
// Drafting -> Reviewing -> {Accepted | Revising -> Reviewing}.
type Reviewer struct {
	invoker provider.Invoker
	writer  *Writer
	cfg     *config.Config
	logger  *log.Logger
}

func NewReviewer(cfg *config.Config, invoker provider.Invoker, writer *Writer, logger *log.Logger) *Reviewer {
	if logger == nil {
		logger = log.New(log.Writer(), "[REVIEW] ", log.LstdFlags)
	}
	return &Reviewer{invoker: invoker, writer: writer, cfg: cfg, logger: logger}
}

// Review evaluates the draft against the caller guidelines. Empty feedback
// means acceptance; the model signals it with "None".
func (r *Reviewer) Review(ctx context.Context, state *State, draft string) (string, error) {
	model := r.model()
	text, usage, err := r.invoker.Generate(ctx, model,
		[]provider.Message{{Role: "user", Content: reviewPrompt(draft, state.Params().Guidelines, state.Feedback())}},
		provider.Options{Temperature: provider.Temp(0.2)})
	if err != nil {
		return "", fmt.Errorf("review: %w", err)
	}
	if err := state.AddCost(CostRecord{PromptTokens: usage.PromptTokens, CompletionTokens: usage.CompletionTokens, Model: model}.USD(r.cfg.LLM)); err != nil {
		r.logger.Printf("cost not recorded: %v", err)
	}

	feedback := strings.TrimSpace(text)
	if feedback == "" || strings.EqualFold(feedback, "none") || strings.EqualFold(feedback, `"none"`) {
		return "", nil
	}
	return feedback, nil
}

// Run drives the loop until acceptance or research.max_review_rounds is
// exhausted, at which point the current draft is force-accepted. Tasks that
// opt out of guideline enforcement skip the loop and accept the first draft.
// Returns the accepted draft and how many review evaluations ran.
func (r *Reviewer) Run(ctx context.Context, state *State, draft string) (string, int, error) {
	params := state.Params()
	if !params.EnforceGuidelines || len(params.Guidelines) == 0 {
		state.SetDraft(draft)
		return draft, 0, nil
	}

	maxRounds := r.cfg.Research.MaxReviewRounds
	if maxRounds <= 0 {
		maxRounds = 3
	}

	rounds := 0
	for rounds < maxRounds {
		rounds++
		feedback, err := r.Review(ctx, state, draft)
		if err != nil {
			return draft, rounds, err
		}
		if feedback == "" {
			state.Emit("Draft accepted by reviewer", false, false)
			state.SetDraft(draft)
			return draft, rounds, nil
		}

		state.AddFeedback(feedback)
		state.Emit(fmt.Sprintf("Revising draft (round %d)", rounds), false, false)
		revised, err := r.writer.Revise(ctx, state, draft, feedback)
		if err != nil {
			// Revision degraded to empty: keep the best draft we have
			state.Emit("Revision failed, keeping previous draft", false, true)
			state.SetDraft(draft)
			return draft, rounds, nil
		}
		draft = revised
		state.SetDraft(draft)
	}

	state.Emit(fmt.Sprintf("Review rounds exhausted after %d, accepting draft", maxRounds), false, false)
	return draft, rounds, nil
}

func (r *Reviewer) model() string {
	if m := r.cfg.LLM.Routing.Review; m != "" {
		return m
	}
	return r.cfg.LLM.Routing.Fallback
}
