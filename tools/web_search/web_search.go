package web_search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mohammad-safakhou/research-assistant/config"
	"github.com/mohammad-safakhou/research-assistant/internal/helpers"
	"github.com/mohammad-safakhou/research-assistant/tools/web_search/brave"
	"github.com/mohammad-safakhou/research-assistant/tools/web_search/duckduckgo"
	"github.com/mohammad-safakhou/research-assistant/tools/web_search/models"
	"github.com/mohammad-safakhou/research-assistant/tools/web_search/serpapi"
	"github.com/mohammad-safakhou/research-assistant/tools/web_search/serper"
)

// WebSearcher discovers up to k results for q. sites restricts results to
// the given domains; recency limits results to the last N days when positive.
type WebSearcher interface {
	Discover(ctx context.Context, q string, k int, sites []string, recency int) ([]models.Result, error)
}

type Provider string

const (
	SerperProvider     Provider = "serper"
	BraveProvider      Provider = "brave"
	SerpAPIProvider    Provider = "serpapi"
	DuckDuckGoProvider Provider = "duckduckgo"
)

var ErrUnsupportedProvider = errors.New("unsupported web search provider")

// NewWebSearcher builds the configured search backend.
func NewWebSearcher(cfg config.WebSearchConfig) (WebSearcher, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	client := helpers.NewHTTPClient(timeout, cfg.MaxRetries, 0)

	switch Provider(strings.ToLower(cfg.Provider)) {
	case SerperProvider:
		return serper.New(cfg.SerperAPIKey, client), nil
	case BraveProvider:
		return brave.New(cfg.BraveAPIKey, client), nil
	case SerpAPIProvider:
		return serpapi.New(cfg.SerpAPIKey, client), nil
	case DuckDuckGoProvider, "":
		return duckduckgo.New(client), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, cfg.Provider)
	}
}
