package duckduckgo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/mohammad-safakhou/researcher/tools/web_search/models"
)

// throttle enforces a global 1 QPS limit across all instances; the lite
// endpoint blocks aggressive clients.
var throttle struct {
	mu   sync.Mutex
	last time.Time
}

const endpoint = "https://lite.duckduckgo.com/lite/"

// Search scrapes DuckDuckGo's HTML lite interface. No API key required,
// which makes it the default provider.
type Search struct {
	client *http.Client
}

func New(client *http.Client) *Search {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Search{client: client}
}

func (d *Search) Search(ctx context.Context, q string, k int) ([]models.Result, error) {
	if strings.TrimSpace(q) == "" {
		return nil, errors.New("query is empty")
	}

	throttle.mu.Lock()
	if wait := time.Until(throttle.last.Add(time.Second)); wait > 0 {
		throttle.mu.Unlock()
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		throttle.mu.Lock()
	}
	throttle.last = time.Now()
	throttle.mu.Unlock()

	form := url.Values{}
	form.Set("q", q)

	// Back off and retry on 429, doubling the delay each time up to 30s
	var resp *http.Response
	delay := 1 * time.Second
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err = d.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			break
		}
		resp.Body.Close()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		if delay < 30*time.Second {
			delay *= 2
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo http %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return parseLite(string(body), k), nil
}

var (
	linkPattern    = regexp.MustCompile(`<a[^>]*class=['"]result-link['"][^>]*href=['"]([^'"]+)['"][^>]*>([^<]+)</a>`)
	linkPatternAlt = regexp.MustCompile(`<a[^>]*href=['"]([^'"]+)['"][^>]*class=['"]result-link['"][^>]*>([^<]+)</a>`)
	snippetPattern = regexp.MustCompile(`<td[^>]*class=['"]result-snippet['"][^>]*>([^<]+(?:<[^>]+>[^<]*</[^>]+>)*[^<]*)</td>`)
	anyLinkPattern = regexp.MustCompile(`<a[^>]+href=['"]([^'"]+)['"][^>]*>([^<]+)</a>`)
	tagPattern     = regexp.MustCompile(`<[^>]+>`)
)

// parseLite extracts results from the lite HTML page. The page structure is
// a plain table of result links and snippet cells.
func parseLite(html string, k int) []models.Result {
	matches := linkPattern.FindAllStringSubmatch(html, -1)
	if len(matches) == 0 {
		matches = linkPatternAlt.FindAllStringSubmatch(html, -1)
	}
	snippets := snippetPattern.FindAllStringSubmatch(html, -1)

	var results []models.Result
	for i, match := range matches {
		if len(match) < 3 {
			continue
		}
		u := strings.TrimSpace(match[1])
		title := cleanHTML(match[2])
		if u == "" || title == "" {
			continue
		}
		snippet := ""
		if i < len(snippets) && len(snippets[i]) > 1 {
			snippet = cleanHTML(snippets[i][1])
		}
		results = append(results, models.Result{Title: title, URL: u, Snippet: snippet})
		if len(results) >= k {
			return results
		}
	}

	if len(results) == 0 {
		results = fallbackParse(html, k)
	}
	return results
}

// fallbackParse grabs external-looking links when the structured patterns
// find nothing.
func fallbackParse(html string, k int) []models.Result {
	var results []models.Result
	seen := make(map[string]bool)
	for _, match := range anyLinkPattern.FindAllStringSubmatch(html, -1) {
		if len(match) < 3 {
			continue
		}
		u := strings.TrimSpace(match[1])
		title := cleanHTML(match[2])
		if strings.Contains(u, "duckduckgo.com") ||
			strings.HasPrefix(u, "/") ||
			strings.HasPrefix(u, "#") ||
			strings.HasPrefix(u, "javascript:") {
			continue
		}
		if len(title) < 5 || seen[u] {
			continue
		}
		seen[u] = true
		results = append(results, models.Result{Title: title, URL: u})
		if len(results) >= k {
			break
		}
	}
	return results
}

func cleanHTML(s string) string {
	s = tagPattern.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "&amp;", "&")
	s = strings.ReplaceAll(s, "&lt;", "<")
	s = strings.ReplaceAll(s, "&gt;", ">")
	s = strings.ReplaceAll(s, "&quot;", "\"")
	s = strings.ReplaceAll(s, "&#39;", "'")
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	return strings.TrimSpace(s)
}
