package research

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"

	"github.com/blevesearch/bleve"
)

// Embedder turns texts into similarity vectors. tools/embedding satisfies
// this; tests stub it.
type Embedder interface {
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
}

// Fragment is one scored unit of context, ephemeral to a compression call
type Fragment struct {
	Text       string
	Similarity float64
}

// Compressor ranks raw content fragments against queries and keeps the slice
// that fits the configured bounds. With no embedder configured it falls back
// to an in-memory keyword index so document-only runs still work.
type Compressor struct {
	embedder    Embedder
	threshold   float64
	maxResults  int
	tokenBudget int
	logger      *log.Logger
}

func NewCompressor(embedder Embedder, threshold float64, maxResults, tokenBudget int, logger *log.Logger) *Compressor {
	if logger == nil {
		logger = log.New(log.Writer(), "[COMPRESS] ", log.LstdFlags)
	}
	if maxResults <= 0 {
		maxResults = 10
	}
	return &Compressor{
		embedder:    embedder,
		threshold:   threshold,
		maxResults:  maxResults,
		tokenBudget: tokenBudget,
		logger:      logger,
	}
}

// TopN ranks fragments against one query and keeps the top max_results by
// similarity regardless of absolute score, within the token budget. Used for
// freshly scraped content.
func (c *Compressor) TopN(ctx context.Context, query string, fragments []string) ([]Fragment, error) {
	scored, err := c.score(ctx, []string{query}, fragments)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Similarity > scored[j].Similarity })
	if len(scored) > c.maxResults {
		scored = scored[:c.maxResults]
	}
	return c.fitBudget(scored), nil
}

// Threshold drops fragments whose similarity is below the configured
// threshold. A fragment qualifies if it clears the bar against ANY of the
// queries (set-union across sub-queries); survivors order by descending best
// similarity and truncate to max_results. Used against already-written
// content.
func (c *Compressor) Threshold(ctx context.Context, queries []string, fragments []string) ([]Fragment, error) {
	scored, err := c.score(ctx, queries, fragments)
	if err != nil {
		return nil, err
	}
	var kept []Fragment
	for _, f := range scored {
		if f.Similarity >= c.threshold {
			kept = append(kept, f)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Similarity > kept[j].Similarity })
	if len(kept) > c.maxResults {
		kept = kept[:c.maxResults]
	}
	return c.fitBudget(kept), nil
}

// JoinContext flattens fragments into the single context string handed to
// the writer
func JoinContext(fragments []Fragment) string {
	texts := make([]string, len(fragments))
	for i, f := range fragments {
		texts[i] = f.Text
	}
	return strings.Join(texts, "\n\n")
}

// score computes the best similarity of each unique fragment against the
// query set
func (c *Compressor) score(ctx context.Context, queries []string, fragments []string) ([]Fragment, error) {
	fragments = dedupeStrings(fragments)
	if len(fragments) == 0 || len(queries) == 0 {
		return nil, nil
	}
	if c.embedder == nil {
		return c.keywordScore(queries, fragments)
	}

	// One embedding call covers queries and fragments
	vecs, err := c.embedder.EmbedMany(ctx, append(append([]string{}, queries...), fragments...))
	if err != nil {
		return nil, fmt.Errorf("embedding fragments: %w", err)
	}
	if len(vecs) != len(queries)+len(fragments) {
		return nil, fmt.Errorf("embedding count mismatch: want %d, got %d", len(queries)+len(fragments), len(vecs))
	}
	queryVecs := vecs[:len(queries)]
	fragVecs := vecs[len(queries):]

	out := make([]Fragment, len(fragments))
	for i, text := range fragments {
		best := 0.0
		for _, qv := range queryVecs {
			if sim := cosine(qv, fragVecs[i]); sim > best {
				best = sim
			}
		}
		out[i] = Fragment{Text: text, Similarity: best}
	}
	return out, nil
}

// keywordScore ranks fragments with a transient in-memory index. Scores
// normalize against the best hit so the threshold keeps meaning.
func (c *Compressor) keywordScore(queries []string, fragments []string) ([]Fragment, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("keyword index: %w", err)
	}
	defer idx.Close()

	for i, text := range fragments {
		if err := idx.Index(fmt.Sprintf("%d", i), map[string]string{"text": text}); err != nil {
			return nil, fmt.Errorf("indexing fragment: %w", err)
		}
	}

	best := make(map[string]float64)
	var maxScore float64
	for _, q := range queries {
		query := bleve.NewMatchQuery(q)
		req := bleve.NewSearchRequestOptions(query, len(fragments), 0, false)
		res, err := idx.Search(req)
		if err != nil {
			return nil, fmt.Errorf("keyword search: %w", err)
		}
		for _, hit := range res.Hits {
			if hit.Score > best[hit.ID] {
				best[hit.ID] = hit.Score
			}
			if hit.Score > maxScore {
				maxScore = hit.Score
			}
		}
	}

	out := make([]Fragment, len(fragments))
	for i, text := range fragments {
		sim := 0.0
		if maxScore > 0 {
			sim = best[fmt.Sprintf("%d", i)] / maxScore
		}
		out[i] = Fragment{Text: text, Similarity: sim}
	}
	return out, nil
}

// fitBudget truncates the ordered fragment list to the approximate token
// budget. Tokens estimate as chars/4.
func (c *Compressor) fitBudget(fragments []Fragment) []Fragment {
	if c.tokenBudget <= 0 {
		return fragments
	}
	var out []Fragment
	used := 0
	for _, f := range fragments {
		tokens := len(f.Text) / 4
		if used+tokens > c.tokenBudget && len(out) > 0 {
			break
		}
		out = append(out, f)
		used += tokens
	}
	return out
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		ai := float64(a[i])
		bi := float64(b[i])
		dot += ai * bi
		na += ai * ai
		nb += bi * bi
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / math.Sqrt(na*nb)
}
