package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/research-assistant/provider"
	"github.com/mohammad-safakhou/research-assistant/tools"
	"go.uber.org/zap"
)

// PlanDelta is the orchestrator's contribution to the state.
type PlanDelta struct {
	Plan         string
	ToolSequence []tools.ToolName
	KeyTerms     []string
	Unanswerable bool
	Reason       string
}

type planOutput struct {
	Plan         string   `json:"plan"`
	ToolSequence []string `json:"tool_sequence"`
	KeyTerms     []string `json:"key_terms"`
	Answerable   *bool    `json:"answerable"`
	Reason       string   `json:"reason"`
}

// Orchestrator plans which tools to call and what to search for.
type Orchestrator struct {
	gateway   provider.Gateway
	registry  *tools.Registry
	logger    *zap.Logger
	maxTokens int
}

func NewOrchestrator(gw provider.Gateway, registry *tools.Registry, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{gateway: gw, registry: registry, logger: logger.Named("orchestrator"), maxTokens: 800}
}

// Plan asks the gateway for a plan and decodes it strictly. Any failure is a
// PlanningError.
func (o *Orchestrator) Plan(ctx context.Context, s *State, tokens provider.TokenFunc) (PlanDelta, error) {
	available := o.registry.Names()
	if len(available) == 0 {
		return PlanDelta{}, stageErr(KindPlanning, PhaseOrchestrator, "no evidence tools are registered")
	}
	resp, err := o.gateway.Invoke(ctx, provider.Request{
		Role:      provider.RoleOrchestrator,
		System:    orchestratorSystem,
		Prompt:    orchestratorPrompt(s, available),
		JSON:      true,
		MaxTokens: o.maxTokens,
	}, tokens)
	if err != nil {
		return PlanDelta{}, &StageError{Kind: KindPlanning, Phase: PhaseOrchestrator, Err: err}
	}

	var out planOutput
	if err := decodeStrict(schemaPlan, resp.Content, &out); err != nil {
		return PlanDelta{}, &StageError{Kind: KindPlanning, Phase: PhaseOrchestrator, Err: err}
	}

	delta := PlanDelta{
		Plan:     strings.TrimSpace(out.Plan),
		KeyTerms: cleanTerms(out.KeyTerms),
	}
	if out.Answerable != nil && !*out.Answerable {
		delta.Unanswerable = true
		delta.Reason = strings.TrimSpace(out.Reason)
		if delta.Reason == "" {
			delta.Reason = delta.Plan
		}
		return delta, nil
	}

	seen := map[tools.ToolName]struct{}{}
	for _, raw := range out.ToolSequence {
		name, ok := tools.ParseToolName(raw)
		if !ok {
			return PlanDelta{}, stageErr(KindPlanning, PhaseOrchestrator, "plan names unknown tool %q", raw)
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if _, registered := o.registry.Get(name); !registered {
			o.logger.Warn("plan names a tool that is not configured, dropping it", zap.String("tool", string(name)))
			continue
		}
		delta.ToolSequence = append(delta.ToolSequence, name)
	}
	if len(delta.ToolSequence) == 0 {
		return PlanDelta{}, stageErr(KindPlanning, PhaseOrchestrator, "plan has an empty tool sequence")
	}
	return delta, nil
}

func (d PlanDelta) apply(s *State) {
	s.Plan = d.Plan
	s.ToolSequence = d.ToolSequence
	s.KeyTerms = d.KeyTerms
	s.Unanswerable = d.Unanswerable
	s.Reason = d.Reason
}

func cleanTerms(in []string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, t := range in {
		t = strings.Join(strings.Fields(t), " ")
		key := strings.ToLower(t)
		if t == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, t)
	}
	return out
}

func summarizePlan(s *State) string {
	if s.Unanswerable {
		return fmt.Sprintf("unanswerable: %s", s.Reason)
	}
	return s.Plan
}
