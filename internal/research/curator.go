package research

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/mohammad-safakhou/researcher/config"
	"github.com/mohammad-safakhou/researcher/provider"
)

// maxImageBytes caps how much of an image payload is read for hashing
const maxImageBytes = 4 << 20

// Curator selects images by content hash and filters sources by credibility
type Curator struct {
	invoker provider.Invoker
	cfg     *config.Config
	httpc   *http.Client
	logger  *log.Logger
}

func NewCurator(cfg *config.Config, invoker provider.Invoker, logger *log.Logger) *Curator {
	if logger == nil {
		logger = log.New(log.Writer(), "[CURATOR] ", log.LstdFlags)
	}
	return &Curator{
		invoker: invoker,
		cfg:     cfg,
		httpc:   &http.Client{Timeout: 20 * time.Second},
		logger:  logger,
	}
}

// SelectImages picks at most k images from the candidates. High-score
// candidates (score >= 2) are consumed first, then the rest; each image is
// downloaded and hashed so the same payload under two URLs counts once, and
// URLs already selected in the state are skipped. Returns the URLs added by
// this call.
func (c *Curator) SelectImages(ctx context.Context, state *State, candidates []ImageCandidate, k int) []string {
	if k <= 0 {
		k = 4
	}

	var ordered []ImageCandidate
	for _, img := range candidates {
		if img.Score >= 2 {
			ordered = append(ordered, img)
		}
	}
	for _, img := range candidates {
		if img.Score < 2 {
			ordered = append(ordered, img)
		}
	}

	var selected []string
	seenURLs := make(map[string]struct{})
	for _, img := range ordered {
		if len(selected) >= k {
			break
		}
		if img.Score <= 0 || img.URL == "" {
			continue
		}
		if _, dup := seenURLs[img.URL]; dup {
			continue
		}
		seenURLs[img.URL] = struct{}{}

		hash, err := c.hashImage(ctx, img.URL)
		if err != nil {
			c.logger.Printf("skipping image %s: %v", img.URL, err)
			continue
		}
		if state.AddImage(img.URL, hash) {
			selected = append(selected, img.URL)
		}
	}
	return selected
}

// hashImage downloads the payload and returns its SHA-1
func (c *Curator) hashImage(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	h := sha1.New()
	if _, err := io.Copy(h, io.LimitReader(resp.Body, maxImageBytes)); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CurateSources asks the model which sources are credible and relevant for
// the query, keeping at most max_sources. Fail-open: any invoker failure or
// unparsable answer logs an error event and returns the input unchanged.
func (c *Curator) CurateSources(ctx context.Context, state *State, sources []Source) []Source {
	if len(sources) == 0 {
		return sources
	}
	maxResults := c.cfg.Research.MaxSources
	if maxResults <= 0 {
		maxResults = len(sources)
	}
	model := c.model()

	text, usage, err := c.invoker.Generate(ctx, model,
		[]provider.Message{{Role: "user", Content: curatePrompt(state.Query(), sources, maxResults)}},
		provider.Options{Temperature: provider.Temp(0.1)})
	if err != nil {
		state.Emit(fmt.Sprintf("Source curation failed, keeping all %d sources: %v", len(sources), err), false, true)
		return sources
	}
	if err := state.AddCost(CostRecord{PromptTokens: usage.PromptTokens, CompletionTokens: usage.CompletionTokens, Model: model}.USD(c.cfg.LLM)); err != nil {
		state.Emit(fmt.Sprintf("Cost recording failed during curation: %v", err), false, true)
	}

	keep, err := parseCuratedURLs(text)
	if err != nil {
		state.Emit(fmt.Sprintf("Unparsable curation answer, keeping all %d sources: %v", len(sources), err), false, true)
		return sources
	}

	byURL := make(map[string]Source, len(sources))
	for _, s := range sources {
		byURL[s.URL] = s
	}
	var curated []Source
	for _, u := range keep {
		if s, ok := byURL[u]; ok {
			curated = append(curated, s)
			if len(curated) == maxResults {
				break
			}
		}
	}
	if len(curated) == 0 {
		state.Emit("Curation kept no known sources, keeping all", false, true)
		return sources
	}

	state.Emit(fmt.Sprintf("Curated %d of %d sources", len(curated), len(sources)), false, false)
	return curated
}

// parseCuratedURLs expects a JSON array of URL strings, tolerating prose or
// code fences around it
func parseCuratedURLs(text string) ([]string, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("no JSON array in answer")
	}
	var urls []string
	if err := json.Unmarshal([]byte(text[start:end+1]), &urls); err != nil {
		return nil, err
	}
	return urls, nil
}

func (c *Curator) model() string {
	if m := c.cfg.LLM.Routing.Curation; m != "" {
		return m
	}
	return c.cfg.LLM.Routing.Fallback
}
