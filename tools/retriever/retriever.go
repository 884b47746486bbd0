package retriever

import (
	"context"

	"github.com/mohammad-safakhou/research-assistant/internal/helpers"
	"github.com/mohammad-safakhou/research-assistant/internal/knowledge"
	"github.com/mohammad-safakhou/research-assistant/tools"
)

const snippetChars = 280

// Searcher is the part of the knowledge base the tool needs.
type Searcher interface {
	Retrieve(ctx context.Context, query string, k int) ([]knowledge.SearchHit, error)
}

// Tool answers queries from the local knowledge base.
type Tool struct {
	kb   Searcher
	topK int
}

// NewTool wraps kb. topK <= 0 defers to the knowledge base default.
func NewTool(kb Searcher, topK int) *Tool {
	return &Tool{kb: kb, topK: topK}
}

func (t *Tool) Name() tools.ToolName { return tools.Retriever }

func (t *Tool) Variant() tools.Variant { return tools.VariantRetrieve }

func (t *Tool) Invoke(ctx context.Context, q tools.Query) (tools.Evidence, error) {
	if q.Text == "" {
		return tools.Evidence{}, tools.Fail(tools.Retriever, tools.ErrNoResults)
	}
	k := t.topK
	if q.TopK > 0 {
		k = q.TopK
	}
	hits, err := t.kb.Retrieve(ctx, q.Text, k)
	if err != nil {
		return tools.Evidence{}, tools.Fail(tools.Retriever, err)
	}
	ev := tools.Evidence{Tool: tools.Retriever, Items: make([]tools.Item, 0, len(hits))}
	for _, h := range hits {
		url := h.URL
		if url == "" {
			url = h.Source
		}
		ev.Items = append(ev.Items, tools.Item{
			ID:      h.ID,
			Title:   h.Title,
			URL:     url,
			Snippet: helpers.Truncate(h.Content, snippetChars),
			Content: h.Content,
			Date:    h.Date,
			Score:   h.Score,
		})
	}
	if len(ev.Items) == 0 {
		return ev, tools.Fail(tools.Retriever, tools.ErrNoResults)
	}
	return ev, nil
}
