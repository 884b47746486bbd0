package serper

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/mohammad-safakhou/research-assistant/internal/helpers"
	"github.com/mohammad-safakhou/research-assistant/tools/web_search/models"
)

const defaultEndpoint = "https://google.serper.dev/search"

type Search struct {
	ApiKey   string
	Endpoint string
	client   *helpers.HTTPClient
}

func New(apiKey string, client *helpers.HTTPClient) *Search {
	return &Search{ApiKey: apiKey, Endpoint: defaultEndpoint, client: client}
}

func (s *Search) Discover(ctx context.Context, q string, k int, sites []string, recency int) ([]models.Result, error) {
	// https://serper.dev/ docs
	payload := map[string]any{"q": withSites(q, sites), "num": k}
	if recency > 0 {
		payload["tbs"] = tbs(recency)
	}
	var raw struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
			Date    string `json:"date"`
		} `json:"organic"`
	}
	headers := map[string]string{"X-API-KEY": s.ApiKey}
	if err := s.client.DoJSON(ctx, http.MethodPost, s.Endpoint, headers, payload, &raw); err != nil {
		return nil, fmt.Errorf("serper: %w", err)
	}
	out := make([]models.Result, 0, len(raw.Organic))
	for i, r := range raw.Organic {
		if i >= k {
			break
		}
		out = append(out, models.Result{Title: r.Title, URL: r.Link, Snippet: r.Snippet, Date: r.Date})
	}
	return out, nil
}

func withSites(q string, sites []string) string {
	if len(sites) == 0 {
		return q
	}
	parts := make([]string, len(sites))
	for i, s := range sites {
		parts[i] = "site:" + s
	}
	return q + " (" + strings.Join(parts, " OR ") + ")"
}

// tbs maps a day window onto Google's coarse recency buckets.
func tbs(days int) string {
	switch {
	case days <= 1:
		return "qdr:d"
	case days <= 7:
		return "qdr:w"
	case days <= 31:
		return "qdr:m"
	default:
		return "qdr:y"
	}
}
