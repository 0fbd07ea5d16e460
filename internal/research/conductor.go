package research

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/mohammad-safakhou/researcher/config"
	fetchmodels "github.com/mohammad-safakhou/researcher/tools/web_fetch/models"
	"github.com/mohammad-safakhou/researcher/tools/web_search"
	searchmodels "github.com/mohammad-safakhou/researcher/tools/web_search/models"
)

// Fetcher matches tools/web_fetch.WebFetcher
type Fetcher interface {
	Exec(ctx context.Context, url string) (fetchmodels.Page, error)
}

// Conductor fans research out across sub-queries. Every branch runs at once
// with no concurrency ceiling and the batch is fail-fast: the first branch
// error cancels the group and propagates; results merged into state before
// the failure stay there.
type Conductor struct {
	searchers  []web_search.WebSearcher
	fetcher    Fetcher
	curator    *Curator
	compressor *Compressor
	cfg        *config.Config
	logger     *log.Logger
}

func NewConductor(cfg *config.Config, searchers []web_search.WebSearcher, fetcher Fetcher, curator *Curator, compressor *Compressor, logger *log.Logger) *Conductor {
	if logger == nil {
		logger = log.New(log.Writer(), "[RESEARCH] ", log.LstdFlags)
	}
	return &Conductor{
		searchers:  searchers,
		fetcher:    fetcher,
		curator:    curator,
		compressor: compressor,
		cfg:        cfg,
		logger:     logger,
	}
}

// Research runs every sub-query branch concurrently and waits for the batch
func (c *Conductor) Research(ctx context.Context, state *State, subQueries []string) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, q := range subQueries {
		q := q
		g.Go(func() error {
			return c.researchSubQuery(ctx, state, q)
		})
	}
	return g.Wait()
}

// researchSubQuery is one fan-out branch: search all providers, dedup URLs
// through the state, scrape the fresh ones, then compress what was scraped
// against the sub-query.
func (c *Conductor) researchSubQuery(ctx context.Context, state *State, query string) error {
	state.Emit(fmt.Sprintf("Running research for '%s'...", query), false, false)

	results, err := c.searchAll(ctx, query)
	if err != nil {
		state.Emit(fmt.Sprintf("Search failed for '%s': %v", query, err), false, true)
		return fmt.Errorf("search %q: %w", query, err)
	}

	urls := make([]string, 0, len(results))
	for _, r := range results {
		urls = append(urls, r.URL)
	}
	fresh := state.MarkVisited(urls)
	state.Emit(fmt.Sprintf("Found %d new sources for '%s'", len(fresh), query), false, false)

	texts, err := c.scrape(ctx, state, fresh)
	if err != nil {
		return fmt.Errorf("scrape %q: %w", query, err)
	}
	return c.compressInto(ctx, state, query, texts)
}

// Browse is targeted browsing: caller-supplied URLs skip the search step and
// run the same dedup, scrape and compress path against the original query.
func (c *Conductor) Browse(ctx context.Context, state *State, urls []string) error {
	fresh := state.MarkVisited(urls)
	state.Emit(fmt.Sprintf("Browsing %d provided sources", len(fresh)), false, false)

	texts, err := c.scrape(ctx, state, fresh)
	if err != nil {
		return fmt.Errorf("browse: %w", err)
	}
	return c.compressInto(ctx, state, state.Query(), texts)
}

// searchAll queries every configured provider and concatenates results in
// provider order; no merging or re-ranking at this layer.
func (c *Conductor) searchAll(ctx context.Context, query string) ([]searchmodels.Result, error) {
	k := c.cfg.Search.MaxResults
	if k <= 0 {
		k = 8
	}
	var all []searchmodels.Result
	for _, s := range c.searchers {
		results, err := s.Search(ctx, query, k)
		if err != nil {
			return nil, err
		}
		all = append(all, results...)
	}
	return all, nil
}

// scrape fetches each fresh URL, merges documents and selected images into
// state, and returns the scraped texts for compression. A page that fetches
// but yields no text is skipped, a fetch error aborts the branch.
func (c *Conductor) scrape(ctx context.Context, state *State, urls []string) ([]string, error) {
	var texts []string
	var candidates []ImageCandidate
	for _, u := range urls {
		page, err := c.fetcher.Exec(ctx, u)
		if err != nil {
			return nil, err
		}
		if page.Text == "" {
			continue
		}
		state.AddSources(Source{URL: page.URL, Title: page.Title, Content: page.Text})
		texts = append(texts, page.Text)
		for _, img := range page.Images {
			candidates = append(candidates, ImageCandidate{URL: img.URL, Score: img.Score})
		}
	}

	if len(candidates) > 0 {
		selected := c.curator.SelectImages(ctx, state, candidates, c.cfg.Research.MaxImages)
		if len(selected) > 0 {
			state.Emit(fmt.Sprintf("Selected %d images", len(selected)), false, false)
		}
	}
	return texts, nil
}

// compressInto ranks the scraped texts against the query (top-N mode, fresh
// content keeps its best fragments regardless of absolute score) and merges
// the survivors into the shared context.
func (c *Conductor) compressInto(ctx context.Context, state *State, query string, texts []string) error {
	if len(texts) == 0 {
		return nil
	}
	fragments, err := c.compressor.TopN(ctx, query, texts)
	if err != nil {
		state.Emit(fmt.Sprintf("Context compression failed for '%s': %v", query, err), false, true)
		return fmt.Errorf("compress %q: %w", query, err)
	}
	for _, f := range fragments {
		state.AddContext(f.Text)
	}
	state.Emit(fmt.Sprintf("Kept %d context fragments for '%s'", len(fragments), query), false, false)
	return nil
}
