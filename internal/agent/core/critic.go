package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/research-assistant/internal/helpers"
	"github.com/mohammad-safakhou/research-assistant/provider"
)

type critiqueOutput struct {
	Issues        []Issue  `json:"issues"`
	RequiredFixes []string `json:"required_fixes"`
	QualityScore  float64  `json:"quality_score"`
}

// Critic reviews the draft. It never edits the draft, and its failures are
// recovered by the relay.
type Critic struct {
	gateway   provider.Gateway
	maxTokens int
}

func NewCritic(gw provider.Gateway) *Critic {
	return &Critic{gateway: gw, maxTokens: 1000}
}

func (c *Critic) Critique(ctx context.Context, s *State, tokens provider.TokenFunc) (*Critique, error) {
	resp, err := c.gateway.Invoke(ctx, provider.Request{
		Role:      provider.RoleCritic,
		System:    criticSystem,
		Prompt:    criticPrompt(s),
		JSON:      true,
		MaxTokens: c.maxTokens,
	}, tokens)
	if err != nil {
		return nil, err
	}
	var out critiqueOutput
	if err := decodeStrict(schemaCritique, resp.Content, &out); err != nil {
		return nil, err
	}
	if out.QualityScore < 0 || out.QualityScore > 1 {
		return nil, fmt.Errorf("%w: quality_score %v outside [0,1]", ErrMalformedOutput, out.QualityScore)
	}

	cr := &Critique{QualityScore: out.QualityScore}
	for _, is := range out.Issues {
		if err := checkMarkers(s, is.Description, is.SuggestedFix); err != nil {
			return nil, err
		}
		is.Type = strings.TrimSpace(is.Type)
		is.Description = strings.TrimSpace(is.Description)
		cr.Issues = append(cr.Issues, is)
	}
	for _, f := range out.RequiredFixes {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if err := checkMarkers(s, f); err != nil {
			return nil, err
		}
		cr.Fixes = append(cr.Fixes, f)
	}
	return cr, nil
}

// checkMarkers fails when any text cites a marker the state does not hold.
func checkMarkers(s *State, texts ...string) error {
	for _, t := range texts {
		for _, m := range helpers.ExtractMarkers(t) {
			if !s.HasMarker(m) {
				return fmt.Errorf("unknown citation marker %s", m)
			}
		}
	}
	return nil
}
