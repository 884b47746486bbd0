package core

import (
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/research-assistant/internal/helpers"
	"github.com/mohammad-safakhou/research-assistant/tools"
)

const orchestratorSystem = `You plan research for a question-answering assistant.
Pick the evidence tools worth calling, in order, and the key search terms.

Tools:
- web_search: current information from the public web
- retriever: the local knowledge base of ingested documents
- firecrawl: full-page scrape of URLs named in the question or found by web_search

Reply with one JSON object:
{"plan": "short strategy", "tool_sequence": ["web_search"], "key_terms": ["term"], "answerable": true, "reason": ""}

Set "answerable" to false only when no research could answer the question, and explain why in "reason".
Do not invent sources or dates. Keep the plan under 150 words.`

const researcherSystem = `You write a research draft from numbered evidence.
Every factual sentence must end with the marker of the evidence supporting it, written as [#n].
Use only the markers you are given. Do not add facts that the evidence does not contain.`

const criticSystem = `You review a research draft for accuracy and completeness.
Check that claims are supported, sources are current, statements are unambiguous and the draft is consistent.
Refer to evidence by its marker, for example [#2], and only to markers that exist.

Reply with one JSON object:
{"issues": [{"issue_type": "missing_evidence", "description": "...", "severity": "major", "suggested_fix": "..."}],
 "required_fixes": ["..."], "quality_score": 0.0}

quality_score is between 0 and 1: above 0.8 is excellent, below 0.6 needs work.`

const synthesizerSystem = `You write the final answer to a research question from a cited draft.
Cite evidence inline as [#n] using only the markers listed. Never introduce a marker that is not listed.

Reply with one JSON object:
{"summary": "2-3 sentences", "key_points": ["..."], "details": "longer explanation", "caveats": ["..."],
 "sources": ["#1", "#2"], "confidence": 0.0}

"sources" lists the markers you relied on. "confidence" is your confidence in the answer, between 0 and 1.`

func orchestratorPrompt(s *State, available []tools.ToolName) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", s.Question)
	if s.Context != "" {
		fmt.Fprintf(&b, "Context: %s\n", s.Context)
	} else {
		b.WriteString("Context: none\n")
	}
	names := make([]string, len(available))
	for i, n := range available {
		names[i] = string(n)
	}
	fmt.Fprintf(&b, "Available tools: %s\n", strings.Join(names, ", "))
	return b.String()
}

func writeEvidence(b *strings.Builder, s *State, evidenceChars int) {
	b.WriteString("Evidence:\n")
	for _, f := range s.Findings {
		c, _ := s.Citation(f.Source)
		fmt.Fprintf(b, "[%s] %s", c.Marker, c.Title)
		if c.URL != "" {
			fmt.Fprintf(b, " (%s)", c.URL)
		}
		if c.Date != "" {
			fmt.Fprintf(b, " %s", c.Date)
		}
		fmt.Fprintf(b, "\n%s\n\n", helpers.Truncate(f.Evidence, evidenceChars))
	}
}

func researcherPrompt(s *State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\nPlan: %s\n\n", s.Question, s.Plan)
	writeEvidence(&b, s, 600)
	b.WriteString("Write the draft.")
	return b.String()
}

func criticPrompt(s *State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nDraft:\n%s\n\n", s.Question, s.Draft)
	writeEvidence(&b, s, 300)
	b.WriteString("Review the draft.")
	return b.String()
}

func synthesizerPrompt(s *State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", s.Question)
	if s.Context != "" {
		fmt.Fprintf(&b, "Context: %s\n", s.Context)
	}
	fmt.Fprintf(&b, "\nDraft:\n%s\n\n", s.Draft)
	writeEvidence(&b, s, 400)

	switch {
	case s.Critique == nil:
		b.WriteString("Critique: not available.\n")
	case len(s.Critique.Issues) == 0 && len(s.Critique.Fixes) == 0:
		fmt.Fprintf(&b, "Critique: no issues found (quality %.2f).\n", s.Critique.QualityScore)
	default:
		fmt.Fprintf(&b, "Critique (quality %.2f):\n", s.Critique.QualityScore)
		for _, is := range s.Critique.Issues {
			fmt.Fprintf(&b, "- [%s] %s", is.Severity, is.Description)
			if is.SuggestedFix != "" {
				fmt.Fprintf(&b, " Fix: %s", is.SuggestedFix)
			}
			b.WriteByte('\n')
		}
		for _, f := range s.Critique.Fixes {
			fmt.Fprintf(&b, "- required: %s\n", f)
		}
	}
	b.WriteString("\nWrite the final answer.")
	return b.String()
}
