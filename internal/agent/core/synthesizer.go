package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/research-assistant/internal/helpers"
	"github.com/mohammad-safakhou/research-assistant/provider"
)

type synthesisOutput struct {
	Summary    string   `json:"summary"`
	KeyPoints  []string `json:"key_points"`
	Details    string   `json:"details"`
	Caveats    []string `json:"caveats"`
	Sources    []string `json:"sources"`
	Confidence float64  `json:"confidence"`
}

// SynthesisDelta is the synthesizer's contribution to the state.
type SynthesisDelta struct {
	Answer     string
	Confidence float64
	Sources    []string
}

// Synthesizer writes the final cited answer.
type Synthesizer struct {
	gateway   provider.Gateway
	maxTokens int
}

func NewSynthesizer(gw provider.Gateway) *Synthesizer {
	return &Synthesizer{gateway: gw, maxTokens: 2000}
}

// Synthesize fails with a SynthesisError when the answer cites a marker that
// is not in the state or declares a confidence outside [0,1].
func (y *Synthesizer) Synthesize(ctx context.Context, s *State, tokens provider.TokenFunc) (SynthesisDelta, error) {
	resp, err := y.gateway.Invoke(ctx, provider.Request{
		Role:      provider.RoleSynthesizer,
		System:    synthesizerSystem,
		Prompt:    synthesizerPrompt(s),
		JSON:      true,
		MaxTokens: y.maxTokens,
	}, tokens)
	if err != nil {
		return SynthesisDelta{}, &StageError{Kind: KindSynthesis, Phase: PhaseSynthesizer, Err: err}
	}
	var out synthesisOutput
	if err := decodeStrict(schemaSynthesis, resp.Content, &out); err != nil {
		return SynthesisDelta{}, &StageError{Kind: KindSynthesis, Phase: PhaseSynthesizer, Err: err}
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		return SynthesisDelta{}, stageErr(KindSynthesis, PhaseSynthesizer, "confidence %v outside [0,1]", out.Confidence)
	}

	var sources []string
	seen := map[string]struct{}{}
	use := func(raw string) error {
		m := helpers.NormalizeMarker(raw)
		if m == "" {
			return fmt.Errorf("invalid citation marker %q", raw)
		}
		if !s.HasMarker(m) {
			return fmt.Errorf("unknown citation marker %s", m)
		}
		if _, dup := seen[m]; !dup {
			seen[m] = struct{}{}
			sources = append(sources, m)
		}
		return nil
	}
	for _, raw := range out.Sources {
		if err := use(raw); err != nil {
			return SynthesisDelta{}, &StageError{Kind: KindSynthesis, Phase: PhaseSynthesizer, Err: err}
		}
	}
	body := append([]string{out.Summary, out.Details}, out.KeyPoints...)
	body = append(body, out.Caveats...)
	for _, text := range body {
		for _, m := range helpers.ExtractMarkers(text) {
			if err := use(m); err != nil {
				return SynthesisDelta{}, &StageError{Kind: KindSynthesis, Phase: PhaseSynthesizer, Err: err}
			}
		}
	}

	return SynthesisDelta{
		Answer:     renderAnswer(out, s, sources),
		Confidence: out.Confidence,
		Sources:    sources,
	}, nil
}

func (d SynthesisDelta) apply(s *State) {
	s.setAnswer(d.Answer, d.Confidence)
}

func renderAnswer(out synthesisOutput, s *State, sources []string) string {
	var b strings.Builder
	b.WriteString("**Summary**\n\n")
	b.WriteString(strings.TrimSpace(out.Summary))
	b.WriteString("\n\n")

	if points := nonEmpty(out.KeyPoints); len(points) > 0 {
		b.WriteString("**Key Points**\n\n")
		for _, p := range points {
			fmt.Fprintf(&b, "- %s\n", p)
		}
		b.WriteByte('\n')
	}
	if details := strings.TrimSpace(out.Details); details != "" {
		b.WriteString("**Details**\n\n")
		b.WriteString(details)
		b.WriteString("\n\n")
	}
	b.WriteString("**Caveats and Limitations**\n\n")
	if caveats := nonEmpty(out.Caveats); len(caveats) > 0 {
		for _, c := range caveats {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	} else {
		b.WriteString("- None noted.\n")
	}
	b.WriteByte('\n')

	b.WriteString("**Sources**\n\n")
	if len(sources) == 0 {
		b.WriteString("No sources cited.\n")
	}
	for _, m := range sources {
		c, _ := s.Citation(m)
		fmt.Fprintf(&b, "- %s\n", helpers.FormatSourceLine(helpers.SourceLine{Marker: c.Marker, Title: c.Title, URL: c.URL, Date: c.Date}))
	}
	return strings.TrimRight(b.String(), "\n")
}

// refusal is the answer for a question the orchestrator judged unanswerable.
func refusal(reason string) string {
	var b strings.Builder
	b.WriteString("**Summary**\n\nThis question cannot be answered with research.")
	if reason = strings.TrimSpace(reason); reason != "" {
		b.WriteString(" ")
		b.WriteString(reason)
	}
	b.WriteString("\n\n**Sources**\n\nNo sources cited.")
	return b.String()
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
