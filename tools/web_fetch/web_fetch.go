package web_fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/research-assistant/config"
	"github.com/mohammad-safakhou/research-assistant/internal/helpers"
	"github.com/mohammad-safakhou/research-assistant/tools/web_fetch/chromedp"
	"github.com/mohammad-safakhou/research-assistant/tools/web_fetch/firecrawl"
	"github.com/mohammad-safakhou/research-assistant/tools/web_fetch/models"
)

const (
	DefaultTimeout  = 15 * time.Second
	MaxCharsDefault = 20000
)

type WebFetcher interface {
	Exec(ctx context.Context, url string) (models.Result, error)
}

type FetcherType string

const (
	ChromedpFetcherType  FetcherType = "chromedp"
	FirecrawlFetcherType FetcherType = "firecrawl"
	NoFetcherType        FetcherType = "none"
)

// ErrFetcherDisabled is returned when scraping is switched off.
var ErrFetcherDisabled = errors.New("web fetcher disabled")

func NewWebFetcher(cfg config.ToolsConfig) (WebFetcher, error) {
	timeout := cfg.Firecrawl.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxChars := cfg.Firecrawl.MaxChars
	if maxChars <= 0 {
		maxChars = MaxCharsDefault
	}

	switch FetcherType(cfg.Fetcher) {
	case ChromedpFetcherType:
		return chromedp.Fetch{Timeout: timeout, MaxChars: maxChars}, nil
	case FirecrawlFetcherType:
		client := helpers.NewHTTPClient(timeout, 1, 0)
		return firecrawl.New(cfg.Firecrawl.BaseURL, cfg.Firecrawl.APIKey, maxChars, client), nil
	case NoFetcherType, "":
		return nil, ErrFetcherDisabled
	default:
		return nil, fmt.Errorf("unsupported fetcher type %q", cfg.Fetcher)
	}
}
