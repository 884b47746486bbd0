package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mohammad-safakhou/research-assistant/config"
	"github.com/mohammad-safakhou/research-assistant/internal/agent/telemetry"
	"github.com/mohammad-safakhou/research-assistant/internal/helpers"
	"github.com/mohammad-safakhou/research-assistant/provider"
	"github.com/mohammad-safakhou/research-assistant/tools"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	evidenceChars = 800
	claimChars    = 160
	maxFixTerms   = 3
)

// ToolReporter receives tool lifecycle notifications. Calls may arrive from
// several goroutines at once.
type ToolReporter interface {
	ToolStart(tool tools.ToolName, input string)
	ToolEnd(tool tools.ToolName, output string, failed bool)
}

// ResearchDelta is the researcher's contribution to the state. Findings and
// Citations are the complete lists, earlier rounds included.
type ResearchDelta struct {
	Findings  []Finding
	Citations []Citation
	Draft     string
}

type toolOutcome struct {
	tool     tools.ToolName
	evidence tools.Evidence
	err      error
}

// Researcher runs the planned tools and turns their evidence into findings
// with stable citation markers.
type Researcher struct {
	gateway   provider.Gateway
	registry  *tools.Registry
	cfg       config.PipelineConfig
	logger    *zap.Logger
	telemetry *telemetry.Telemetry
}

func NewResearcher(gw provider.Gateway, registry *tools.Registry, cfg config.PipelineConfig, logger *zap.Logger, tel *telemetry.Telemetry) *Researcher {
	return &Researcher{gateway: gw, registry: registry, cfg: cfg.Normalize(), logger: logger.Named("researcher"), telemetry: tel}
}

// Research calls every tool in the plan, joins their results and drafts.
// fixes are critic fixes from a previous round, folded into the query.
func (r *Researcher) Research(ctx context.Context, s *State, fixes []string, report ToolReporter, tokens provider.TokenFunc) (ResearchDelta, error) {
	q := s.query
	q.Text = researchQuery(s, fixes)

	var queryWave, scrapeWave []tools.Tool
	for _, name := range s.ToolSequence {
		t, ok := r.registry.Get(name)
		if !ok {
			continue
		}
		if t.Variant() == tools.VariantScrape {
			scrapeWave = append(scrapeWave, t)
		} else {
			queryWave = append(queryWave, t)
		}
	}

	outcomes := map[tools.ToolName]toolOutcome{}
	for _, o := range r.runWave(ctx, queryWave, func(tools.Tool) tools.Query { return q }, report) {
		outcomes[o.tool] = o
	}
	if len(scrapeWave) > 0 && ctx.Err() == nil {
		targets := r.scrapeTargets(s, outcomes)
		for _, o := range r.runWave(ctx, scrapeWave, func(tools.Tool) tools.Query {
			sq := q
			sq.URLs = targets
			return sq
		}, report) {
			outcomes[o.tool] = o
		}
	}
	if err := ctx.Err(); err != nil {
		return ResearchDelta{}, err
	}

	delta := ResearchDelta{
		Findings:  append([]Finding(nil), s.Findings...),
		Citations: append([]Citation(nil), s.Citations...),
	}
	fresh := 0
	var failures []string
	for _, name := range s.ToolSequence {
		o, ok := outcomes[name]
		if !ok {
			failures = append(failures, fmt.Sprintf("%s: not available", name))
			continue
		}
		if o.err != nil {
			failures = append(failures, o.err.Error())
			continue
		}
		fresh += delta.absorb(o.tool, o.evidence.Items, r.cfg.ResultsPerTool)
	}
	if len(delta.Findings) == 0 {
		if len(failures) == len(s.ToolSequence) {
			return ResearchDelta{}, stageErr(KindResearch, PhaseResearcher, "all %d tools failed: %s", len(failures), strings.Join(failures, "; "))
		}
		return ResearchDelta{}, stageErr(KindResearch, PhaseResearcher, "no usable evidence from %d tool(s)", len(s.ToolSequence))
	}
	if fresh == 0 && len(s.Findings) > 0 {
		r.logger.Info("refinement round found no new evidence", zap.String("run_id", s.RunID))
	}

	delta.Draft = r.draft(ctx, s, delta, tokens)
	return delta, nil
}

// runWave invokes tools concurrently, each bounded by the tool timeout. It
// returns once every call has returned or timed out.
func (r *Researcher) runWave(ctx context.Context, ts []tools.Tool, query func(tools.Tool) tools.Query, report ToolReporter) []toolOutcome {
	if len(ts) == 0 {
		return nil
	}
	out := make([]toolOutcome, len(ts))
	var g errgroup.Group
	g.SetLimit(r.cfg.MaxToolWorkers)
	for i, t := range ts {
		g.Go(func() error {
			out[i] = r.invoke(ctx, t, query(t), report)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (r *Researcher) invoke(ctx context.Context, t tools.Tool, q tools.Query, report ToolReporter) toolOutcome {
	name := t.Name()
	report.ToolStart(name, helpers.Truncate(q.Summary(), 200))
	start := time.Now()

	tctx, cancel := context.WithTimeout(ctx, r.cfg.ToolTimeout)
	defer cancel()
	done := make(chan toolOutcome, 1)
	go func() {
		ev, err := t.Invoke(tctx, q)
		done <- toolOutcome{tool: name, evidence: ev, err: err}
	}()

	var o toolOutcome
	select {
	case o = <-done:
	case <-tctx.Done():
		o = toolOutcome{tool: name, err: tools.Fail(name, tctx.Err())}
	}
	if o.err == nil && len(o.evidence.Items) == 0 {
		o.err = tools.Fail(name, tools.ErrNoResults)
	}
	if o.err != nil {
		o.err = tools.Fail(name, o.err)
	}

	r.telemetry.RecordTool(telemetry.ToolEvent{
		Tool:     string(name),
		Duration: time.Since(start),
		Results:  len(o.evidence.Items),
		Err:      o.err,
		Empty:    errors.Is(o.err, tools.ErrNoResults),
	})
	if o.err != nil {
		if errors.Is(o.err, tools.ErrNoResults) {
			report.ToolEnd(name, "no results", true)
		} else {
			r.logger.Warn("tool failed", zap.String("tool", string(name)), zap.Error(o.err))
			report.ToolEnd(name, "error: "+helpers.Truncate(o.err.Error(), 200), true)
		}
		return o
	}
	report.ToolEnd(name, o.evidence.Summary(), false)
	return o
}

// scrapeTargets are URLs named in the question or context, then the top web
// search results of this run. The request's domain lists apply to both.
func (r *Researcher) scrapeTargets(s *State, outcomes map[tools.ToolName]toolOutcome) []string {
	policy := config.DomainPolicyConfig{}.Merge(s.query.AllowDomains, s.query.BlockDomains)
	var urls []string
	seen := map[string]struct{}{}
	add := func(u string) {
		if len(urls) >= r.cfg.ScrapeLimit || !policy.Permits(u) {
			return
		}
		key, err := helpers.URLFingerprint(u)
		if err != nil {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		urls = append(urls, u)
	}
	for _, u := range helpers.ExtractURLs(s.Question + "\n" + s.Context) {
		add(u)
	}
	if o, ok := outcomes[tools.WebSearch]; ok && o.err == nil {
		for _, it := range o.evidence.Items {
			add(it.URL)
		}
	}
	return urls
}

// absorb turns the top limit items of one tool into findings, reusing the
// marker of a source that is already cited. Items already absorbed in an
// earlier round still take their slot. It returns the number of new findings.
func (d *ResearchDelta) absorb(tool tools.ToolName, items []tools.Item, limit int) int {
	added := 0
	for _, it := range items[:min(limit, len(items))] {
		text := strings.TrimSpace(it.Text())
		if text == "" && strings.TrimSpace(it.Title) == "" {
			continue
		}
		marker := d.cite(tool, it)
		claim := strings.TrimSpace(it.Title)
		if claim == "" {
			claim = helpers.Truncate(text, claimChars)
		}
		if text == "" {
			text = claim
		}
		f := Finding{Claim: claim, Evidence: helpers.Truncate(text, evidenceChars), Source: marker}
		if d.hasFinding(f) {
			continue
		}
		d.Findings = append(d.Findings, f)
		added++
	}
	return added
}

func (d *ResearchDelta) cite(tool tools.ToolName, it tools.Item) string {
	key := sourceKey(it.URL, it.ID)
	for _, c := range d.Citations {
		if key != "" && sourceKey(c.URL, "") == key {
			return c.Marker
		}
	}
	title := strings.TrimSpace(it.Title)
	if title == "" {
		title = it.URL
	}
	c := Citation{
		Marker: helpers.Marker(len(d.Citations) + 1),
		Title:  title,
		URL:    it.URL,
		Date:   it.Date,
		Tool:   tool,
	}
	d.Citations = append(d.Citations, c)
	return c.Marker
}

func (d *ResearchDelta) hasFinding(f Finding) bool {
	for _, x := range d.Findings {
		if x.Source == f.Source && x.Evidence == f.Evidence {
			return true
		}
	}
	return false
}

func sourceKey(url, id string) string {
	if url == "" {
		return id
	}
	if key, err := helpers.URLFingerprint(url); err == nil {
		return key
	}
	return url
}

func researchQuery(s *State, fixes []string) string {
	terms := append([]string(nil), s.KeyTerms...)
	if len(fixes) > maxFixTerms {
		fixes = fixes[:maxFixTerms]
	}
	terms = append(terms, fixes...)
	if len(terms) == 0 {
		return s.Question
	}
	return strings.Join(terms, " ")
}

// draft writes the researcher draft. An LLM draft that cites unknown markers
// or fails is replaced by the evidence digest.
func (r *Researcher) draft(ctx context.Context, s *State, d ResearchDelta, tokens provider.TokenFunc) string {
	view := &State{Question: s.Question, Plan: s.Plan, Findings: d.Findings, Citations: d.Citations}
	if !r.cfg.DraftWithLLM {
		return digest(view)
	}
	resp, err := r.gateway.Invoke(ctx, provider.Request{
		Role:      provider.RoleResearcher,
		System:    researcherSystem,
		Prompt:    researcherPrompt(view),
		MaxTokens: 1200,
	}, tokens)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Warn("draft generation failed, using evidence digest", zap.String("run_id", s.RunID), zap.Error(err))
		}
		return digest(view)
	}
	text := strings.TrimSpace(resp.Content)
	markers := helpers.ExtractMarkers(text)
	if text == "" || len(markers) == 0 {
		r.logger.Warn("draft has no citations, using evidence digest", zap.String("run_id", s.RunID))
		return digest(view)
	}
	for _, m := range markers {
		if !view.HasMarker(m) {
			r.logger.Warn("draft cites unknown marker, using evidence digest", zap.String("run_id", s.RunID), zap.String("marker", m))
			return digest(view)
		}
	}
	return text
}

// digest is the deterministic draft: one cited line per finding.
func digest(s *State) string {
	var b strings.Builder
	for _, f := range s.Findings {
		fmt.Fprintf(&b, "- %s: %s %s\n", f.Claim, helpers.Truncate(f.Evidence, 300), helpers.MarkerRef(f.Source))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (d ResearchDelta) apply(s *State) {
	s.Findings = d.Findings
	s.Citations = d.Citations
	s.Draft = d.Draft
}
