package firecrawl

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mohammad-safakhou/research-assistant/internal/helpers"
	"github.com/mohammad-safakhou/research-assistant/tools/web_fetch/models"
)

// Fetch scrapes pages through the Firecrawl API.
type Fetch struct {
	BaseURL  string
	APIKey   string
	MaxChars int
	client   *helpers.HTTPClient
}

func New(baseURL, apiKey string, maxChars int, client *helpers.HTTPClient) *Fetch {
	if baseURL == "" {
		baseURL = "https://api.firecrawl.dev"
	}
	return &Fetch{BaseURL: strings.TrimRight(baseURL, "/"), APIKey: apiKey, MaxChars: maxChars, client: client}
}

type scrapeResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Data    struct {
		Markdown string   `json:"markdown"`
		Links    []string `json:"links"`
		Metadata struct {
			Title         string `json:"title"`
			SourceURL     string `json:"sourceURL"`
			StatusCode    int    `json:"statusCode"`
			PublishedTime string `json:"publishedTime"`
		} `json:"metadata"`
	} `json:"data"`
}

func (f *Fetch) Exec(ctx context.Context, url string) (models.Result, error) {
	if strings.TrimSpace(url) == "" {
		return models.Result{}, errors.New("invalid url")
	}
	t0 := time.Now()
	payload := map[string]any{
		"url":             url,
		"formats":         []string{"markdown", "links"},
		"onlyMainContent": true,
	}
	headers := map[string]string{}
	if f.APIKey != "" {
		headers["Authorization"] = "Bearer " + f.APIKey
	}
	var out scrapeResponse
	if err := f.client.DoJSON(ctx, http.MethodPost, f.BaseURL+"/v1/scrape", headers, payload, &out); err != nil {
		return models.Result{URL: url, Status: 599}, fmt.Errorf("firecrawl: %w", err)
	}
	if !out.Success {
		return models.Result{URL: url, Status: 599}, fmt.Errorf("firecrawl: %s", out.Error)
	}
	text := strings.TrimSpace(out.Data.Markdown)
	if f.MaxChars > 0 && len(text) > f.MaxChars {
		text = text[:f.MaxChars]
	}
	status := out.Data.Metadata.StatusCode
	if status == 0 {
		status = 200
	}
	return models.Result{
		URL:         url,
		Title:       strings.TrimSpace(out.Data.Metadata.Title),
		PublishedAt: out.Data.Metadata.PublishedTime,
		Text:        text,
		Links:       out.Data.Links,
		Status:      status,
		RenderMS:    int(time.Since(t0) / time.Millisecond),
	}, nil
}
