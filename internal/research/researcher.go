package research

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/researcher/config"
	"github.com/mohammad-safakhou/researcher/internal/telemetry"
	"github.com/mohammad-safakhou/researcher/provider"
	"github.com/mohammad-safakhou/researcher/tools/embedding"
	"github.com/mohammad-safakhou/researcher/tools/web_fetch"
	"github.com/mohammad-safakhou/researcher/tools/web_search"
	searchmodels "github.com/mohammad-safakhou/researcher/tools/web_search/models"
)

// Researcher owns the task state and sequences the pipeline:
// plan -> fan-out -> curate -> compress -> draft -> review loop.
type Researcher struct {
	cfg       *config.Config
	logger    *log.Logger
	telemetry *telemetry.Telemetry

	planner    *Planner
	conductor  *Conductor
	curator    *Curator
	compressor *Compressor
	writer     *Writer
	reviewer   *Reviewer
}

// New wires the full pipeline from configuration
func New(cfg *config.Config, logger *log.Logger, tele *telemetry.Telemetry) (*Researcher, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[ORCH] ", log.LstdFlags)
	}

	invoker, err := provider.NewProvider(provider.Client(cfg.LLM.Provider), cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM provider: %w", err)
	}
	searchers, err := web_search.NewWebSearchers(cfg.Search)
	if err != nil {
		return nil, fmt.Errorf("failed to create search providers: %w", err)
	}
	fetcher, err := web_fetch.NewWebFetcher(cfg.Scrape)
	if err != nil {
		return nil, fmt.Errorf("failed to create fetcher: %w", err)
	}

	var embedder Embedder
	if model := cfg.LLM.Routing.Embedding; model != "" {
		embedder = embedding.NewEmbedding(invoker, model)
	}

	return NewWithComponents(cfg, invoker, searchers, fetcher, embedder, logger, tele), nil
}

// NewWithComponents assembles a Researcher from already-built collaborators
func NewWithComponents(cfg *config.Config, invoker provider.Invoker, searchers []web_search.WebSearcher, fetcher Fetcher, embedder Embedder, logger *log.Logger, tele *telemetry.Telemetry) *Researcher {
	if logger == nil {
		logger = log.New(log.Writer(), "[ORCH] ", log.LstdFlags)
	}
	compressor := NewCompressor(embedder, cfg.Research.SimilarityThreshold, cfg.Research.MaxSources, cfg.Research.ContextTokenBudget, nil)
	curator := NewCurator(cfg, invoker, nil)
	writer := NewWriter(cfg, invoker, nil)

	return &Researcher{
		cfg:        cfg,
		logger:     logger,
		telemetry:  tele,
		planner:    NewPlanner(cfg, invoker, nil),
		conductor:  NewConductor(cfg, searchers, fetcher, curator, compressor, nil),
		curator:    curator,
		compressor: compressor,
		writer:     writer,
		reviewer:   NewReviewer(cfg, invoker, writer, nil),
	}
}

// Run performs research and drafting in one pass. Fatal errors come back
// with the partial event log preserved in the result.
func (r *Researcher) Run(ctx context.Context, query string, params ReportParams, sink EventSink) (ReportResult, error) {
	runID := uuid.New().String()
	state := NewState(query, params, sink)
	start := time.Now()
	if r.telemetry != nil {
		r.telemetry.RecordRunStart(runID, query)
	}

	if r.cfg.General.MaxRunTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.General.MaxRunTime)
		defer cancel()
	}

	err := r.Conduct(ctx, state)
	var result ReportResult
	if err == nil {
		result, err = r.Write(ctx, state)
	} else {
		result = r.resultFrom(state, 0)
	}

	if r.telemetry != nil {
		r.telemetry.RecordRunEnd(runID, time.Since(start), len(result.Sources), result.Costs, err)
	}
	return result, err
}

// Conduct runs the research half: plan sub-queries, fan out, curate. The
// gathered sources and compressed context accumulate in the state.
func (r *Researcher) Conduct(ctx context.Context, state *State) error {
	state.Emit(fmt.Sprintf("Starting the research task for '%s'...", state.Query()), false, false)

	if urls := state.Params().SourceURLs; len(urls) > 0 {
		if err := r.conductor.Browse(ctx, state, urls); err != nil {
			return err
		}
	} else {
		seed := r.seedSearch(ctx, state)
		subQueries, err := r.planner.PlanResearchOutline(ctx, state, seed)
		if err != nil {
			state.Emit(fmt.Sprintf("Planning failed: %v", err), false, true)
			return err
		}
		if err := r.conductor.Research(ctx, state, subQueries); err != nil {
			return err
		}
	}

	if r.cfg.Research.CurateSources {
		state.ReplaceSources(r.curator.CurateSources(ctx, state, state.Sources()))
	}

	state.Emit(fmt.Sprintf("Gathered %d sources and %d context fragments", len(state.Sources()), len(state.Context())), false, false)
	return nil
}

// Write runs the drafting half: focus the accumulated context, draft the
// report, drive the review loop and attach references.
func (r *Researcher) Write(ctx context.Context, state *State) (ReportResult, error) {
	state.Emit("Writing report...", false, false)
	fragments := state.Context()

	// Section titles sharpen the context selection; drafting them is best
	// effort and their failure never blocks the report.
	contextStr := r.focusContext(ctx, state, fragments)

	draft, err := r.writer.WriteReport(ctx, state, contextStr)
	rounds := 0
	var genErr *GenerationError
	switch {
	case err == nil:
		draft, rounds, err = r.reviewer.Run(ctx, state, draft)
		if err != nil {
			return r.resultFrom(state, rounds), err
		}
	case errors.As(err, &genErr):
		// Degraded generation: empty report body, not fatal
		r.logger.Printf("report degraded to empty: %v", err)
		draft = ""
	default:
		return r.resultFrom(state, 0), err
	}

	if draft != "" {
		draft = AddReferences(draft, state.Sources())
	}
	state.SetDraft(draft)
	state.Emit("Report completed", true, false)

	result := r.resultFrom(state, rounds)
	return result, nil
}

// focusContext optionally re-ranks the fragments against the query plus
// drafted section titles (threshold mode, set union across the queries)
// before joining them into the writer's context string.
func (r *Researcher) focusContext(ctx context.Context, state *State, fragments []string) string {
	if len(fragments) == 0 {
		return ""
	}
	joined := JoinContext(toFragments(fragments))

	titles, err := r.writer.DraftSectionTitles(ctx, state, joined)
	if err != nil || len(titles) == 0 {
		return joined
	}
	state.Emit(fmt.Sprintf("Outlined %d sections", len(titles)), false, false)

	queries := append([]string{state.Query()}, titles...)
	focused, err := r.compressor.Threshold(ctx, queries, fragments)
	if err != nil || len(focused) == 0 {
		return joined
	}
	return JoinContext(focused)
}

// seedSearch grabs a handful of results for planning context. Best effort:
// a failing provider only costs the seed, not the run.
func (r *Researcher) seedSearch(ctx context.Context, state *State) []searchmodels.Result {
	searchers := r.conductor.searchers
	if len(searchers) == 0 {
		return nil
	}
	seed, err := searchers[0].Search(ctx, state.Query(), 5)
	if err != nil {
		state.Emit(fmt.Sprintf("Seed search failed: %v", err), false, true)
		return nil
	}
	return seed
}

func (r *Researcher) resultFrom(state *State, rounds int) ReportResult {
	return ReportResult{
		Query:        state.Query(),
		Report:       state.Draft(),
		Sources:      state.Sources(),
		Images:       state.Images(),
		Costs:        state.Costs(),
		Events:       state.Events(),
		ReviewRounds: rounds,
	}
}

func toFragments(texts []string) []Fragment {
	out := make([]Fragment, len(texts))
	for i, t := range texts {
		out[i] = Fragment{Text: t}
	}
	return out
}
