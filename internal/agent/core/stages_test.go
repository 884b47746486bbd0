package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/mohammad-safakhou/research-assistant/provider"
	"github.com/mohammad-safakhou/research-assistant/tools"
	"go.uber.org/zap"
)

func answeredState() *State {
	s := newState(Request{Question: "What is Docker?"}, "run-1", time.Unix(0, 0))
	s.Findings = []Finding{{Claim: "Docker overview", Evidence: "Docker is an open platform.", Source: "#1"}}
	s.Citations = []Citation{{Marker: "#1", Title: "Docker overview", URL: "https://docs.docker.com/get-started/overview/"}}
	s.Draft = "- Docker overview: Docker is an open platform. [#1]"
	return s
}

func TestDecodeStrict(t *testing.T) {
	var plan planOutput
	if err := decodeStrict(schemaPlan, planBoth, &plan); err != nil {
		t.Fatalf("decode fenced plan: %v", err)
	}
	if diff := cmp.Diff([]string{"retriever", "web_search"}, plan.ToolSequence); diff != "" {
		t.Fatalf("tool sequence mismatch (-want +got):\n%s", diff)
	}

	bad := []struct {
		name, schema, raw string
	}{
		{"prose", schemaPlan, "no json here"},
		{"wrong type", schemaPlan, `{"plan": 3, "tool_sequence": [], "key_terms": []}`},
		{"bad severity", schemaCritique, `{"issues": [{"issue_type": "x", "description": "y", "severity": "fatal"}], "required_fixes": [], "quality_score": 0.5}`},
		{"empty summary", schemaSynthesis, `{"summary": "", "key_points": [], "sources": [], "confidence": 0.5}`},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			var out map[string]any
			err := decodeStrict(tt.schema, tt.raw, &out)
			if !errors.Is(err, ErrMalformedOutput) {
				t.Fatalf("expected ErrMalformedOutput, got %v", err)
			}
			if out != nil {
				t.Fatalf("output must not be decoded on validation failure")
			}
		})
	}
	if err := decodeStrict("nope.json", "{}", &plan); err == nil {
		t.Fatalf("unknown schema should fail")
	}
}

func TestOrchestratorDedupesAndParsesAliases(t *testing.T) {
	gw := newGateway().on(provider.RoleOrchestrator, reply{content: `{"plan": " Search. ", "tool_sequence": ["web-search", "retrieve", "search"], "key_terms": ["Docker", " docker ", "", "images"]}`})
	o := NewOrchestrator(gw, tools.NewRegistry(webTool(), retrieverTool()), zap.NewNop())

	delta, err := o.Plan(context.Background(), answeredState(), nil)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if diff := cmp.Diff([]tools.ToolName{tools.WebSearch, tools.Retriever}, delta.ToolSequence); diff != "" {
		t.Fatalf("tool sequence mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Docker", "images"}, delta.KeyTerms); diff != "" {
		t.Fatalf("key terms mismatch (-want +got):\n%s", diff)
	}
	if delta.Plan != "Search." {
		t.Fatalf("plan = %q", delta.Plan)
	}
}

func TestOrchestratorRequiresTools(t *testing.T) {
	o := NewOrchestrator(newGateway(), tools.NewRegistry(), zap.NewNop())
	_, err := o.Plan(context.Background(), answeredState(), nil)
	if KindOf(err) != KindPlanning {
		t.Fatalf("expected PlanningError, got %v", err)
	}
}

func TestCriticRejectsInvalidReviews(t *testing.T) {
	tests := []struct {
		name, raw string
	}{
		{"score above one", `{"issues": [], "required_fixes": [], "quality_score": 1.5}`},
		{"unknown marker in issue", `{"issues": [{"issue_type": "x", "description": "see [#4]"}], "required_fixes": [], "quality_score": 0.5}`},
		{"unknown marker in fix", `{"issues": [], "required_fixes": ["verify [#2]"], "quality_score": 0.5}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCritic(newGateway().on(provider.RoleCritic, reply{content: tt.raw}))
			if cr, err := c.Critique(context.Background(), answeredState(), nil); err == nil {
				t.Fatalf("expected an error, got %+v", cr)
			}
		})
	}
}

func TestCriticNoIssuesIsNotAbsent(t *testing.T) {
	c := NewCritic(newGateway().on(provider.RoleCritic, reply{content: `{"issues": [], "required_fixes": ["  "], "quality_score": 0.95}`}))
	cr, err := c.Critique(context.Background(), answeredState(), nil)
	if err != nil {
		t.Fatalf("Critique: %v", err)
	}
	if cr == nil || len(cr.Issues) != 0 || len(cr.Fixes) != 0 {
		t.Fatalf("unexpected critique %+v", cr)
	}
	s := answeredState()
	s.Critique = cr
	if !strings.Contains(synthesizerPrompt(s), "no issues found") {
		t.Fatalf("an empty critique must read differently from a missing one")
	}
}

func TestSynthesizerRendersAnswer(t *testing.T) {
	y := NewSynthesizer(newGateway())
	s := answeredState()
	delta, err := y.Synthesize(context.Background(), s, nil)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	delta.apply(s)
	if !s.Answered() || s.Confidence != 0.82 {
		t.Fatalf("state not answered: %+v", s)
	}
	want := strings.Join([]string{
		"**Summary**",
		"",
		"Docker packages applications into containers [#1].",
		"",
		"**Key Points**",
		"",
		"- Containers share the host kernel [#1]",
		"",
		"**Caveats and Limitations**",
		"",
		"- Based on a single overview",
		"",
		"**Sources**",
		"",
		"- [#1] [Docker overview](https://docs.docker.com/get-started/overview/)",
	}, "\n")
	if diff := cmp.Diff(want, s.FinalAnswer); diff != "" {
		t.Fatalf("answer mismatch (-want +got):\n%s", diff)
	}
}

func TestSynthesizerRejectsUnknownInlineMarker(t *testing.T) {
	y := NewSynthesizer(newGateway().on(provider.RoleSynthesizer, reply{content: `{"summary": "Docker [#1] and Podman [#3].", "key_points": [], "caveats": [], "sources": ["#1"], "confidence": 0.6}`}))
	s := answeredState()
	_, err := y.Synthesize(context.Background(), s, nil)
	if KindOf(err) != KindSynthesis || !strings.Contains(err.Error(), "#3") {
		t.Fatalf("expected SynthesisError naming #3, got %v", err)
	}
	if s.Answered() || s.FinalAnswer != "" {
		t.Fatalf("a failed synthesis must not set the answer")
	}
}

func TestSynthesizerWithoutSources(t *testing.T) {
	y := NewSynthesizer(newGateway().on(provider.RoleSynthesizer, reply{content: `{"summary": "Not enough evidence.", "key_points": [], "caveats": [], "sources": [], "confidence": 0.1}`}))
	delta, err := y.Synthesize(context.Background(), answeredState(), nil)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !containsAll(delta.Answer, "- None noted.", "No sources cited.") {
		t.Fatalf("unexpected answer:\n%s", delta.Answer)
	}
}

func TestRefusal(t *testing.T) {
	got := refusal(" Needs personal data. ")
	if !containsAll(got, "**Summary**", "cannot be answered", "Needs personal data.", "No sources cited.") {
		t.Fatalf("unexpected refusal %q", got)
	}
}

func TestResearchQueryCapsFixes(t *testing.T) {
	s := answeredState()
	if got := researchQuery(s, nil); got != "What is Docker?" {
		t.Fatalf("without key terms the question is the query, got %q", got)
	}
	s.KeyTerms = []string{"docker"}
	if got := researchQuery(s, []string{"a", "b", "c", "d"}); got != "docker a b c" {
		t.Fatalf("query = %q", got)
	}
}

func TestScrapeTargets(t *testing.T) {
	r := NewResearcher(newGateway(), tools.NewRegistry(), testConfig(), zap.NewNop(), nil)
	s := answeredState()
	s.Question = "Summarize https://example.com/a and https://example.com/a#top"
	outcomes := map[tools.ToolName]toolOutcome{
		tools.WebSearch: {tool: tools.WebSearch, evidence: tools.Evidence{Items: []tools.Item{{URL: "https://example.com/b"}, {URL: "https://example.com/c"}}}},
	}
	got := r.scrapeTargets(s, outcomes)
	if diff := cmp.Diff([]string{"https://example.com/a", "https://example.com/b"}, got); diff != "" {
		t.Fatalf("targets mismatch (-want +got):\n%s", diff)
	}
}

func TestScrapeTargetsHonourDomainPolicy(t *testing.T) {
	r := NewResearcher(newGateway(), tools.NewRegistry(), testConfig(), zap.NewNop(), nil)
	outcomes := map[tools.ToolName]toolOutcome{
		tools.WebSearch: {tool: tools.WebSearch, evidence: tools.Evidence{Items: []tools.Item{{URL: "https://docs.docker.com/b"}}}},
	}

	s := answeredState()
	s.Question = "Summarize https://blocked.example/a and https://docs.docker.com/x"
	s.query.BlockDomains = []string{"blocked.example"}
	got := r.scrapeTargets(s, outcomes)
	if diff := cmp.Diff([]string{"https://docs.docker.com/x", "https://docs.docker.com/b"}, got); diff != "" {
		t.Fatalf("blocked targets mismatch (-want +got):\n%s", diff)
	}

	s = answeredState()
	s.Question = "Compare https://other.example/a with https://docs.docker.com/x"
	s.query.AllowDomains = []string{"docker.com"}
	got = r.scrapeTargets(s, outcomes)
	if diff := cmp.Diff([]string{"https://docs.docker.com/x", "https://docs.docker.com/b"}, got); diff != "" {
		t.Fatalf("allowed targets mismatch (-want +got):\n%s", diff)
	}
}

func TestResearcherScrapesAfterSearch(t *testing.T) {
	web := webTool()
	scrape := &fakeTool{name: tools.Firecrawl, variant: tools.VariantScrape, items: []tools.Item{
		{Title: "Docker overview", URL: "https://docs.docker.com/get-started/overview/", Content: "Full page text about Docker."},
	}}
	s := answeredState()
	s.Findings, s.Citations = nil, nil
	s.ToolSequence = []tools.ToolName{tools.Firecrawl, tools.WebSearch}
	r := NewResearcher(newGateway(), tools.NewRegistry(web, scrape), testConfig(), zap.NewNop(), nil)

	delta, err := r.Research(context.Background(), s, nil, nopReporter{}, nil)
	if err != nil {
		t.Fatalf("Research: %v", err)
	}
	q := scrape.lastQuery()
	if len(q.URLs) != 2 || q.URLs[0] != "https://docs.docker.com/get-started/overview/" {
		t.Fatalf("scrape should target the search results, got %v", q.URLs)
	}
	if delta.Citations[0].Tool != tools.Firecrawl || len(delta.Citations) != 3 {
		t.Fatalf("scraped page should reuse the search result's marker: %+v", delta.Citations)
	}
}

func TestStageErrorIs(t *testing.T) {
	err := stageErr(KindResearch, PhaseResearcher, "x")
	if !errors.Is(err, &StageError{Kind: KindResearch}) {
		t.Fatalf("kind-only target should match")
	}
	if errors.Is(err, &StageError{Kind: KindResearch, Phase: PhaseCritic}) {
		t.Fatalf("phase mismatch should not match")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if got := classify(ctx, PhaseCritic, KindSynthesis, errBoom); got.Kind != KindCancellation {
		t.Fatalf("cancelled context should classify as cancellation, got %s", got.Kind)
	}
}

type nopReporter struct{}

func (nopReporter) ToolStart(tools.ToolName, string)     {}
func (nopReporter) ToolEnd(tools.ToolName, string, bool) {}

func TestAbsorbLimitsByRank(t *testing.T) {
	items := webTool().items
	var d ResearchDelta
	if got := d.absorb(tools.WebSearch, items, 3); got != 3 {
		t.Fatalf("first round absorbed %d items", got)
	}
	if got := d.absorb(tools.WebSearch, items, 3); got != 0 {
		t.Fatalf("second round should find nothing new, absorbed %d", got)
	}
	for _, c := range d.Citations {
		if c.URL == "https://example.com/docker" {
			t.Fatalf("item ranked below results_per_tool was cited: %+v", d.Citations)
		}
	}
	if len(d.Citations) != 3 {
		t.Fatalf("expected 3 citations, got %d", len(d.Citations))
	}
}

func TestSynthesizerRejectsGroupedAndZeroMarkers(t *testing.T) {
	tests := []struct {
		name, field, want string
	}{
		{"group in summary", `"summary": "Docker is a container platform [#1, #9].", "key_points": []`, "#9"},
		{"tight group in key point", `"summary": "Docker [#1].", "key_points": ["Kernel sharing [#1,#9]"]`, "#9"},
		{"zero marker in caveat", `"summary": "Docker [#1].", "key_points": [], "caveats": ["Dated [#0]"]`, "#0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := `{` + tt.field + `, "sources": ["#1"], "confidence": 0.6}`
			y := NewSynthesizer(newGateway().on(provider.RoleSynthesizer, reply{content: raw}))
			_, err := y.Synthesize(context.Background(), answeredState(), nil)
			if KindOf(err) != KindSynthesis || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected SynthesisError naming %s, got %v", tt.want, err)
			}
		})
	}
}
