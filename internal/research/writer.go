package research

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mohammad-safakhou/researcher/config"
	"github.com/mohammad-safakhou/researcher/provider"
)

// GenerationError reports that drafting failed even after the flattened
// fallback prompt. Callers treat the accompanying empty text as recoverable.
type GenerationError struct {
	Stage string
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed at %s: %v", e.Stage, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Writer drafts report text from compressed context
type Writer struct {
	invoker provider.Invoker
	cfg     *config.Config
	logger  *log.Logger
}

func NewWriter(cfg *config.Config, invoker provider.Invoker, logger *log.Logger) *Writer {
	if logger == nil {
		logger = log.New(log.Writer(), "[WRITER] ", log.LstdFlags)
	}
	return &Writer{invoker: invoker, cfg: cfg, logger: logger}
}

// WriteReport drafts the report for the state's query from the given
// context. The first attempt sends a structured system+user pair; if that
// fails both messages flatten into a single user message and retry once; if
// that fails too the text degrades to "" and the failure comes back as a
// *GenerationError so the caller decides whether an empty report is
// acceptable.
func (w *Writer) WriteReport(ctx context.Context, state *State, contextStr string) (string, error) {
	params := state.Params()
	return w.generate(ctx, state, "report",
		reportSystemPrompt(params),
		reportUserPrompt(state.Query(), contextStr, params))
}

// WriteIntroduction drafts the introduction for a detailed report. Shares
// the degrade-to-empty policy of WriteReport.
func (w *Writer) WriteIntroduction(ctx context.Context, state *State, contextStr string) (string, error) {
	return w.generate(ctx, state, "introduction",
		reportSystemPrompt(state.Params()),
		introductionPrompt(state.Query(), contextStr))
}

// WriteConclusion drafts the conclusion from the report body. Shares the
// degrade-to-empty policy of WriteReport.
func (w *Writer) WriteConclusion(ctx context.Context, state *State, report string) (string, error) {
	return w.generate(ctx, state, "conclusion",
		reportSystemPrompt(state.Params()),
		conclusionPrompt(state.Query(), report))
}

// DraftSectionTitles proposes the report's section headers, one per line.
// The first line is the report title.
func (w *Writer) DraftSectionTitles(ctx context.Context, state *State, contextStr string) ([]string, error) {
	text, err := w.generate(ctx, state, "section titles",
		reportSystemPrompt(state.Params()),
		sectionTitlesPrompt(state.Query(), contextStr))
	if err != nil {
		return nil, err
	}
	var titles []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "#-* "))
		if line != "" {
			titles = append(titles, line)
		}
	}
	return titles, nil
}

// Revise rewrites the draft to address reviewer feedback
func (w *Writer) Revise(ctx context.Context, state *State, draft, feedback string) (string, error) {
	return w.generate(ctx, state, "revision",
		reportSystemPrompt(state.Params()),
		revisePrompt(draft, feedback))
}

// AddReferences appends a reference section listing source URLs that the
// report does not already cite
func AddReferences(report string, sources []Source) string {
	var missing []string
	for _, s := range sources {
		if !strings.Contains(report, s.URL) {
			missing = append(missing, fmt.Sprintf("- %s", s.URL))
		}
	}
	if len(missing) == 0 {
		return report
	}
	return report + "\n\n## References\n\n" + strings.Join(missing, "\n")
}

// generate runs the two-message call with the single-message fallback
func (w *Writer) generate(ctx context.Context, state *State, stage, system, user string) (string, error) {
	model := w.model()
	opts := provider.Options{Temperature: provider.Temp(0.35)}

	text, usage, err := w.invoker.Generate(ctx, model, []provider.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}, opts)
	if err == nil {
		w.recordCost(state, model, usage)
		return text, nil
	}
	w.logger.Printf("structured %s call failed, flattening prompt: %v", stage, err)

	// Some backends reject system messages; fold both into one user turn
	text, usage, err = w.invoker.Generate(ctx, model, []provider.Message{
		{Role: "user", Content: system + "\n\n" + user},
	}, opts)
	if err == nil {
		w.recordCost(state, model, usage)
		return text, nil
	}

	state.Emit(fmt.Sprintf("Drafting failed at %s: %v", stage, err), false, true)
	return "", &GenerationError{Stage: stage, Err: err}
}

func (w *Writer) recordCost(state *State, model string, usage provider.Usage) {
	amount := CostRecord{PromptTokens: usage.PromptTokens, CompletionTokens: usage.CompletionTokens, Model: model}.USD(w.cfg.LLM)
	if err := state.AddCost(amount); err != nil {
		w.logger.Printf("cost not recorded: %v", err)
	}
}

func (w *Writer) model() string {
	if m := w.cfg.LLM.Routing.Writing; m != "" {
		return m
	}
	return w.cfg.LLM.Routing.Fallback
}
