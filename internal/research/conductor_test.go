package research

import (
	"context"
	"errors"
	"testing"

	fetchmodels "github.com/mohammad-safakhou/researcher/tools/web_fetch/models"
	"github.com/mohammad-safakhou/researcher/tools/web_search"
	searchmodels "github.com/mohammad-safakhou/researcher/tools/web_search/models"
)

func newTestConductor(searcher *stubSearcher, fetcher *stubFetcher) *Conductor {
	cfg := testConfig()
	compressor := NewCompressor(&stubEmbedder{}, 0.0, 10, 0, nil)
	curator := NewCurator(cfg, nil, nil)
	return NewConductor(cfg, []web_search.WebSearcher{searcher}, fetcher, curator, compressor, nil)
}

func TestResearchMergesBranchesAndDeduplicatesURLs(t *testing.T) {
	searcher := &stubSearcher{results: map[string][]searchmodels.Result{
		"qa": {
			{URL: "https://x.example/shared", Title: "Shared"},
			{URL: "https://x.example/a", Title: "A"},
		},
		"qb": {
			{URL: "https://x.example/shared", Title: "Shared"},
			{URL: "https://x.example/b", Title: "B"},
		},
	}}
	fetcher := &stubFetcher{pages: map[string]fetchmodels.Page{
		"https://x.example/shared": {URL: "https://x.example/shared", Title: "Shared", Text: "shared text", Status: 200},
		"https://x.example/a":      {URL: "https://x.example/a", Title: "A", Text: "a text", Status: 200},
		"https://x.example/b":      {URL: "https://x.example/b", Title: "B", Text: "b text", Status: 200},
	}}
	conductor := newTestConductor(searcher, fetcher)
	state := NewState("q", ReportParams{}, nil)

	if err := conductor.Research(context.Background(), state, []string{"qa", "qb"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.VisitedCount() != 3 {
		t.Fatalf("expected 3 visited URLs, got %d", state.VisitedCount())
	}
	// the shared URL is claimed by exactly one branch
	if got := len(state.Sources()); got != 3 {
		t.Fatalf("expected 3 sources, got %d: %+v", got, state.Sources())
	}
	if len(state.Context()) == 0 {
		t.Fatal("scraped content should land in the shared context")
	}
}

func TestResearchFailsFastOnSearchError(t *testing.T) {
	searcher := &stubSearcher{
		results: map[string][]searchmodels.Result{
			"good": {{URL: "https://x.example/ok"}},
		},
		errOn: map[string]error{"bad": errors.New("provider down")},
	}
	fetcher := &stubFetcher{pages: map[string]fetchmodels.Page{
		"https://x.example/ok": {URL: "https://x.example/ok", Text: "ok text", Status: 200},
	}}
	conductor := newTestConductor(searcher, fetcher)
	state := NewState("q", ReportParams{}, nil)

	err := conductor.Research(context.Background(), state, []string{"good", "bad"})
	if err == nil {
		t.Fatal("batch must fail when one branch fails")
	}
	if errorEvents(state) == 0 {
		t.Fatal("the failing branch should emit an error event")
	}
}

func TestResearchAbortsBranchOnFetchError(t *testing.T) {
	searcher := &stubSearcher{results: map[string][]searchmodels.Result{
		"q1": {{URL: "https://x.example/broken"}},
	}}
	fetcher := &stubFetcher{err: errors.New("chrome crashed")}
	conductor := newTestConductor(searcher, fetcher)
	state := NewState("q", ReportParams{}, nil)

	if err := conductor.Research(context.Background(), state, []string{"q1"}); err == nil {
		t.Fatal("fetch error must abort the branch")
	}
}

func TestBrowseSkipsSearch(t *testing.T) {
	fetcher := &stubFetcher{pages: map[string]fetchmodels.Page{
		"https://x.example/doc": {URL: "https://x.example/doc", Title: "Doc", Text: "doc text", Status: 200},
	}}
	conductor := newTestConductor(&stubSearcher{err: errors.New("search must not run")}, fetcher)
	state := NewState("q", ReportParams{}, nil)

	if err := conductor.Browse(context.Background(), state, []string{"https://x.example/doc"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sources := state.Sources()
	if len(sources) != 1 || sources[0].URL != "https://x.example/doc" {
		t.Fatalf("expected the browsed source, got %+v", sources)
	}
}

func TestScrapeSkipsEmptyPages(t *testing.T) {
	searcher := &stubSearcher{results: map[string][]searchmodels.Result{
		"q1": {
			{URL: "https://x.example/empty"},
			{URL: "https://x.example/full"},
		},
	}}
	fetcher := &stubFetcher{pages: map[string]fetchmodels.Page{
		"https://x.example/empty": {URL: "https://x.example/empty", Status: 200},
		"https://x.example/full":  {URL: "https://x.example/full", Text: "full text", Status: 200},
	}}
	conductor := newTestConductor(searcher, fetcher)
	state := NewState("q", ReportParams{}, nil)

	if err := conductor.Research(context.Background(), state, []string{"q1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sources := state.Sources()
	if len(sources) != 1 || sources[0].URL != "https://x.example/full" {
		t.Fatalf("pages without text must be skipped, got %+v", sources)
	}
}
