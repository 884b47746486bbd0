package web_fetch

import (
	"context"
	"sync"

	"github.com/mohammad-safakhou/research-assistant/internal/helpers"
	"github.com/mohammad-safakhou/research-assistant/tools"
	"golang.org/x/sync/errgroup"
)

const maxLinksPerPage = 20

// Tool exposes a WebFetcher as the scrape tool. It fetches every target URL
// of the query concurrently and keeps the pages that succeeded.
type Tool struct {
	fetcher WebFetcher
	limit   int
}

func NewTool(f WebFetcher, limit int) *Tool {
	if limit <= 0 {
		limit = 2
	}
	return &Tool{fetcher: f, limit: limit}
}

func (t *Tool) Name() tools.ToolName { return tools.Firecrawl }

func (t *Tool) Variant() tools.Variant { return tools.VariantScrape }

func (t *Tool) Invoke(ctx context.Context, q tools.Query) (tools.Evidence, error) {
	urls := q.URLs
	if len(urls) > t.limit {
		urls = urls[:t.limit]
	}
	if len(urls) == 0 {
		return tools.Evidence{}, tools.Fail(tools.Firecrawl, tools.ErrNoResults)
	}

	items := make([]*tools.Item, len(urls))
	var (
		mu       sync.Mutex
		firstErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			res, err := t.fetcher.Exec(gctx, u)
			if err == nil && res.Text == "" {
				err = tools.ErrNoResults
			}
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return nil
			}
			links := res.Links
			if len(links) > maxLinksPerPage {
				links = links[:maxLinksPerPage]
			}
			title := res.Title
			if title == "" {
				title = u
			}
			items[i] = &tools.Item{
				Title:   title,
				URL:     res.URL,
				Snippet: helpers.Truncate(res.Text, 300),
				Content: res.Text,
				Date:    res.PublishedAt,
				Links:   links,
			}
			return nil
		})
	}
	_ = g.Wait()

	ev := tools.Evidence{Tool: tools.Firecrawl}
	for _, it := range items {
		if it != nil {
			ev.Items = append(ev.Items, *it)
		}
	}
	if len(ev.Items) == 0 {
		if firstErr == nil {
			firstErr = tools.ErrNoResults
		}
		if ctx.Err() != nil {
			firstErr = ctx.Err()
		}
		return ev, tools.Fail(tools.Firecrawl, firstErr)
	}
	return ev, nil
}
