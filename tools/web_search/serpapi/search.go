package serpapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/mohammad-safakhou/research-assistant/internal/helpers"
	"github.com/mohammad-safakhou/research-assistant/tools/web_search/models"
)

const defaultEndpoint = "https://serpapi.com/search.json"

// Search queries Google through SerpAPI.
type Search struct {
	ApiKey   string
	Endpoint string
	client   *helpers.HTTPClient
}

func New(apiKey string, client *helpers.HTTPClient) *Search {
	return &Search{ApiKey: apiKey, Endpoint: defaultEndpoint, client: client}
}

func (s *Search) Discover(ctx context.Context, q string, k int, sites []string, recency int) ([]models.Result, error) {
	if len(sites) > 0 {
		parts := make([]string, len(sites))
		for i, site := range sites {
			parts[i] = "site:" + site
		}
		q += " (" + strings.Join(parts, " OR ") + ")"
	}
	params := url.Values{}
	params.Set("engine", "google")
	params.Set("q", q)
	params.Set("num", strconv.Itoa(k))
	params.Set("api_key", s.ApiKey)
	if recency > 0 {
		switch {
		case recency <= 7:
			params.Set("tbs", "qdr:w")
		case recency <= 31:
			params.Set("tbs", "qdr:m")
		default:
			params.Set("tbs", "qdr:y")
		}
	}
	var raw struct {
		Error          string `json:"error"`
		OrganicResults []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
			Date    string `json:"date"`
		} `json:"organic_results"`
	}
	if err := s.client.DoJSON(ctx, http.MethodGet, s.Endpoint+"?"+params.Encode(), nil, nil, &raw); err != nil {
		return nil, fmt.Errorf("serpapi: %w", err)
	}
	if raw.Error != "" && len(raw.OrganicResults) == 0 {
		if strings.Contains(strings.ToLower(raw.Error), "hasn't returned any results") {
			return nil, nil
		}
		return nil, fmt.Errorf("serpapi: %s", raw.Error)
	}
	var out []models.Result
	for i, r := range raw.OrganicResults {
		if i >= k {
			break
		}
		out = append(out, models.Result{Title: r.Title, URL: r.Link, Snippet: r.Snippet, Date: r.Date})
	}
	return out, nil
}
