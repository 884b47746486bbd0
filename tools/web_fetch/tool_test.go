package web_fetch

import (
	"context"
	"errors"
	"testing"

	"github.com/mohammad-safakhou/research-assistant/config"
	"github.com/mohammad-safakhou/research-assistant/tools"
	"github.com/mohammad-safakhou/research-assistant/tools/web_fetch/models"
)

type fakeFetcher map[string]models.Result

func (f fakeFetcher) Exec(ctx context.Context, url string) (models.Result, error) {
	res, ok := f[url]
	if !ok {
		return models.Result{}, errors.New("unreachable")
	}
	return res, nil
}

func TestToolKeepsSuccessfulPagesInOrder(t *testing.T) {
	f := fakeFetcher{
		"https://a.example": {URL: "https://a.example", Title: "A", Text: "alpha text"},
		"https://c.example": {URL: "https://c.example", Text: "gamma text"},
	}
	tool := NewTool(f, 3)
	ev, err := tool.Invoke(context.Background(), tools.Query{URLs: []string{"https://a.example", "https://b.example", "https://c.example", "https://d.example"}})
	if err != nil {
		t.Fatalf("Invoke() error: %v", err)
	}
	if len(ev.Items) != 2 || ev.Items[0].Title != "A" || ev.Items[1].Title != "https://c.example" {
		t.Fatalf("unexpected items: %+v", ev.Items)
	}
	if ev.Items[0].Content != "alpha text" {
		t.Fatalf("expected content kept, got %q", ev.Items[0].Content)
	}
}

func TestToolNoTargets(t *testing.T) {
	_, err := NewTool(fakeFetcher{}, 2).Invoke(context.Background(), tools.Query{Text: "no urls"})
	if !errors.Is(err, tools.ErrNoResults) {
		t.Fatalf("expected ErrNoResults, got %v", err)
	}
}

func TestToolAllFail(t *testing.T) {
	_, err := NewTool(fakeFetcher{}, 2).Invoke(context.Background(), tools.Query{URLs: []string{"https://x.example"}})
	var te *tools.ToolError
	if !errors.As(err, &te) || errors.Is(err, tools.ErrNoResults) {
		t.Fatalf("expected transport ToolError, got %v", err)
	}
}

func TestNewWebFetcher(t *testing.T) {
	if _, err := NewWebFetcher(config.ToolsConfig{Fetcher: "none"}); !errors.Is(err, ErrFetcherDisabled) {
		t.Fatalf("expected ErrFetcherDisabled, got %v", err)
	}
	if _, err := NewWebFetcher(config.ToolsConfig{Fetcher: "firecrawl"}); err != nil {
		t.Fatalf("firecrawl fetcher: %v", err)
	}
	if _, err := NewWebFetcher(config.ToolsConfig{Fetcher: "chromedp"}); err != nil {
		t.Fatalf("chromedp fetcher: %v", err)
	}
	if _, err := NewWebFetcher(config.ToolsConfig{Fetcher: "wget"}); err == nil {
		t.Fatalf("expected unsupported fetcher error")
	}
}
