package web_fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/researcher/config"
	"github.com/mohammad-safakhou/researcher/tools/web_fetch/chromedp"
	"github.com/mohammad-safakhou/researcher/tools/web_fetch/models"
)

const (
	DefaultTimeout  = 15 * time.Second
	MaxCharsDefault = 20000
)

// WebFetcher fetches and extracts one page
type WebFetcher interface {
	Exec(ctx context.Context, url string) (models.Page, error)
}

type FetcherType string

const (
	ChromedpFetcherType FetcherType = "chromedp"
)

// NewWebFetcher builds the configured fetcher
func NewWebFetcher(cfg config.ScrapeConfig) (WebFetcher, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxChars := cfg.MaxChars
	if maxChars <= 0 {
		maxChars = MaxCharsDefault
	}

	switch FetcherType(cfg.Fetcher) {
	case ChromedpFetcherType, "":
		return chromedp.Fetch{Timeout: timeout, MaxChars: maxChars, UserAgent: cfg.UserAgent}, nil
	default:
		return nil, fmt.Errorf("fetcher %q: %w", cfg.Fetcher, config.ErrUnknownProvider)
	}
}
