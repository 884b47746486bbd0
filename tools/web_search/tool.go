package web_search

import (
	"context"

	"github.com/mohammad-safakhou/research-assistant/config"
	"github.com/mohammad-safakhou/research-assistant/internal/helpers"
	"github.com/mohammad-safakhou/research-assistant/tools"
)

// recentDays is the window applied when a query requires recent sources.
const recentDays = 30

// Tool exposes a WebSearcher as the web_search evidence tool.
type Tool struct {
	searcher   WebSearcher
	maxResults int
	policy     config.DomainPolicyConfig
}

// NewTool wraps s. policy is the process-wide domain allow/block list;
// per-query domains are merged into it.
func NewTool(s WebSearcher, maxResults int, policy config.DomainPolicyConfig) *Tool {
	if maxResults <= 0 {
		maxResults = 5
	}
	return &Tool{searcher: s, maxResults: maxResults, policy: policy.Normalize()}
}

func (t *Tool) Name() tools.ToolName { return tools.WebSearch }

func (t *Tool) Variant() tools.Variant { return tools.VariantWebSearch }

func (t *Tool) Invoke(ctx context.Context, q tools.Query) (tools.Evidence, error) {
	if q.Text == "" {
		return tools.Evidence{}, tools.Fail(tools.WebSearch, tools.ErrNoResults)
	}
	k := q.TopK
	if k <= 0 || k > t.maxResults {
		k = t.maxResults
	}
	policy := t.policy.Merge(q.AllowDomains, q.BlockDomains)
	recency := 0
	if q.RequireRecent {
		recency = recentDays
	}

	results, err := t.searcher.Discover(ctx, q.Text, k, policy.Allow, recency)
	if err != nil {
		return tools.Evidence{}, tools.Fail(tools.WebSearch, err)
	}

	ev := tools.Evidence{Tool: tools.WebSearch}
	seen := make(map[string]struct{}, len(results))
	for _, r := range results {
		if r.URL == "" || !policy.Permits(r.URL) {
			continue
		}
		key, err := helpers.URLFingerprint(r.URL)
		if err != nil {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		ev.Items = append(ev.Items, tools.Item{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: r.Snippet,
			Date:    r.Date,
		})
		if len(ev.Items) >= k {
			break
		}
	}
	if len(ev.Items) == 0 {
		return ev, tools.Fail(tools.WebSearch, tools.ErrNoResults)
	}
	return ev, nil
}
