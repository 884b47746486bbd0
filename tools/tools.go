package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ToolName is the identifier the orchestrator uses in a tool sequence.
type ToolName string

const (
	WebSearch ToolName = "web_search"
	Retriever ToolName = "retriever"
	Firecrawl ToolName = "firecrawl"
)

// AllToolNames lists every tool the orchestrator may choose from.
func AllToolNames() []ToolName { return []ToolName{WebSearch, Retriever, Firecrawl} }

// ParseToolName accepts the canonical names plus a few spellings models
// commonly produce ("web-search", "retrieve", "scrape").
func ParseToolName(raw string) (ToolName, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "-", "_")
	switch s {
	case "web_search", "websearch", "search":
		return WebSearch, true
	case "retriever", "retrieve", "retrieval", "knowledge_base":
		return Retriever, true
	case "firecrawl", "scrape", "scraper":
		return Firecrawl, true
	}
	return "", false
}

// Variant is the closed set of tool kinds. The researcher schedules scrape
// tools after the query tools because their targets may come from search.
type Variant int

const (
	VariantWebSearch Variant = iota + 1
	VariantRetrieve
	VariantScrape
)

func (v Variant) String() string {
	switch v {
	case VariantWebSearch:
		return "web_search"
	case VariantRetrieve:
		return "retrieve"
	case VariantScrape:
		return "scrape"
	}
	return fmt.Sprintf("variant(%d)", int(v))
}

// Query is the tool input derived from the plan.
type Query struct {
	Text string   `json:"text,omitempty"`
	URLs []string `json:"urls,omitempty"`
	TopK int      `json:"top_k,omitempty"`

	AllowDomains  []string `json:"allow_domains,omitempty"`
	BlockDomains  []string `json:"block_domains,omitempty"`
	RequireRecent bool     `json:"require_recent,omitempty"`
}

// Summary is the short description carried by tool_start events.
func (q Query) Summary() string {
	if len(q.URLs) > 0 {
		return fmt.Sprintf("%d url(s): %s", len(q.URLs), strings.Join(q.URLs, ", "))
	}
	return q.Text
}

// Item is one unit of evidence. Search results fill Title/URL/Snippet,
// retrieval fills ID/Content/Score, scrapes fill Content and Links.
type Item struct {
	ID      string   `json:"id,omitempty"`
	Title   string   `json:"title"`
	URL     string   `json:"url"`
	Snippet string   `json:"snippet,omitempty"`
	Content string   `json:"content,omitempty"`
	Date    string   `json:"date,omitempty"`
	Score   float64  `json:"score,omitempty"`
	Links   []string `json:"links,omitempty"`
}

// Text returns the most complete textual evidence the item carries.
func (i Item) Text() string {
	if strings.TrimSpace(i.Content) != "" {
		return i.Content
	}
	return i.Snippet
}

// Evidence is the output of one tool invocation.
type Evidence struct {
	Tool  ToolName `json:"tool"`
	Items []Item   `json:"items"`
}

// Summary is the short description carried by tool_end events.
func (e Evidence) Summary() string {
	switch len(e.Items) {
	case 0:
		return "no results"
	case 1:
		return "1 result"
	}
	return fmt.Sprintf("%d results", len(e.Items))
}

// Tool is the single capability interface every evidence source implements.
type Tool interface {
	Name() ToolName
	Variant() Variant
	Invoke(ctx context.Context, q Query) (Evidence, error)
}

// ErrNoResults marks a tool that worked but found nothing usable.
var ErrNoResults = errors.New("no results")

// ToolError is returned by tools on any failure, including ErrNoResults.
type ToolError struct {
	Tool ToolName
	Err  error
}

func (e *ToolError) Error() string { return fmt.Sprintf("%s: %v", e.Tool, e.Err) }

func (e *ToolError) Unwrap() error { return e.Err }

// Fail wraps err as a *ToolError for tool.
func Fail(tool ToolName, err error) error {
	if err == nil {
		return nil
	}
	var te *ToolError
	if errors.As(err, &te) && te.Tool == tool {
		return err
	}
	return &ToolError{Tool: tool, Err: err}
}

// Registry holds the tools available to a pipeline.
type Registry struct {
	tools map[ToolName]Tool
}

func NewRegistry(ts ...Tool) *Registry {
	r := &Registry{tools: make(map[ToolName]Tool, len(ts))}
	for _, t := range ts {
		r.Register(t)
	}
	return r
}

// Register adds t, replacing any tool with the same name. Nil tools are ignored.
func (r *Registry) Register(t Tool) {
	if t == nil {
		return
	}
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name ToolName) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tools in canonical order.
func (r *Registry) Names() []ToolName {
	var out []ToolName
	for _, n := range AllToolNames() {
		if _, ok := r.tools[n]; ok {
			out = append(out, n)
		}
	}
	return out
}
