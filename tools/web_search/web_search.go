package web_search

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mohammad-safakhou/researcher/config"
	"github.com/mohammad-safakhou/researcher/tools/web_search/brave"
	"github.com/mohammad-safakhou/researcher/tools/web_search/duckduckgo"
	"github.com/mohammad-safakhou/researcher/tools/web_search/models"
	"github.com/mohammad-safakhou/researcher/tools/web_search/serper"
	"github.com/mohammad-safakhou/researcher/tools/web_search/tavily"
)

// WebSearcher finds candidate URLs for a query. Implementations return at
// most k results.
type WebSearcher interface {
	Search(ctx context.Context, q string, k int) ([]models.Result, error)
}

// Provider names a search backend
type Provider string

const (
	SerperProvider     Provider = "serper"
	BraveProvider      Provider = "brave"
	TavilyProvider     Provider = "tavily"
	DuckDuckGoProvider Provider = "duckduckgo"
)

// NewWebSearcher builds a single search adapter by name. Unknown names are a
// configuration error.
func NewWebSearcher(provider Provider, cfg config.SearchConfig) (WebSearcher, error) {
	client := &http.Client{Timeout: cfg.Timeout}
	switch provider {
	case SerperProvider:
		if cfg.SerperAPIKey == "" {
			return nil, fmt.Errorf("serper: api key not configured")
		}
		return serper.Search{APIKey: cfg.SerperAPIKey, Client: client, Sites: cfg.AllowedHosts, RecencyDays: cfg.RecencyDays}, nil
	case BraveProvider:
		if cfg.BraveAPIKey == "" {
			return nil, fmt.Errorf("brave: api key not configured")
		}
		return brave.Search{APIKey: cfg.BraveAPIKey, Client: client}, nil
	case TavilyProvider:
		if cfg.TavilyAPIKey == "" {
			return nil, fmt.Errorf("tavily: api key not configured")
		}
		return tavily.Search{APIKey: cfg.TavilyAPIKey, Client: client, Depth: cfg.TavilyDepth}, nil
	case DuckDuckGoProvider:
		return duckduckgo.New(client), nil
	default:
		return nil, fmt.Errorf("search provider %q: %w", provider, config.ErrUnknownProvider)
	}
}

// NewWebSearchers builds every provider named in the configuration, in
// configured order.
func NewWebSearchers(cfg config.SearchConfig) ([]WebSearcher, error) {
	searchers := make([]WebSearcher, 0, len(cfg.Providers))
	for _, name := range cfg.Providers {
		s, err := NewWebSearcher(Provider(name), cfg)
		if err != nil {
			return nil, err
		}
		searchers = append(searchers, s)
	}
	return searchers, nil
}
