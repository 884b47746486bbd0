package tools

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

type namedTool struct{ name ToolName }

func (n namedTool) Name() ToolName { return n.name }
func (n namedTool) Variant() Variant { return VariantRetrieve }
func (n namedTool) Invoke(context.Context, Query) (Evidence, error) {
	return Evidence{Tool: n.name}, nil
}

func TestParseToolName(t *testing.T) {
	cases := map[string]ToolName{
		"web_search": WebSearch,
		"Web-Search": WebSearch,
		"retrieve":   Retriever,
		"scrape":     Firecrawl,
		"firecrawl":  Firecrawl,
	}
	for in, want := range cases {
		got, ok := ParseToolName(in)
		if !ok || got != want {
			t.Fatalf("ParseToolName(%q) = %q, %v; want %q", in, got, ok, want)
		}
	}
	if _, ok := ParseToolName("calculator"); ok {
		t.Fatalf("expected unknown tool to be rejected")
	}
}

func TestRegistryNamesCanonicalOrder(t *testing.T) {
	r := NewRegistry(namedTool{Firecrawl}, nil, namedTool{WebSearch})
	got := r.Names()
	want := []ToolName{WebSearch, Firecrawl}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
	if _, ok := r.Get(Retriever); ok {
		t.Fatalf("retriever should not be registered")
	}
}

func TestFailKeepsNoResultsDistinct(t *testing.T) {
	err := Fail(WebSearch, ErrNoResults)
	var te *ToolError
	if !errors.As(err, &te) || te.Tool != WebSearch {
		t.Fatalf("expected ToolError for web_search, got %v", err)
	}
	if !errors.Is(err, ErrNoResults) {
		t.Fatalf("expected ErrNoResults to be preserved")
	}
	if Fail(WebSearch, err) != err {
		t.Fatalf("expected Fail to be idempotent for the same tool")
	}
	if Fail(WebSearch, nil) != nil {
		t.Fatalf("expected nil passthrough")
	}
}

func TestEvidenceSummary(t *testing.T) {
	if got := (Evidence{}).Summary(); got != "no results" {
		t.Fatalf("Summary() = %q", got)
	}
	if got := (Evidence{Items: make([]Item, 3)}).Summary(); got != "3 results" {
		t.Fatalf("Summary() = %q", got)
	}
}
