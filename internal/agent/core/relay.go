package core

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/research-assistant/config"
	"github.com/mohammad-safakhou/research-assistant/internal/agent/telemetry"
	"github.com/mohammad-safakhou/research-assistant/provider"
	"github.com/mohammad-safakhou/research-assistant/tools"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// deliveryGrace bounds how long a streaming run waits for a consumer that
// stopped reading after the run's context was cancelled.
const deliveryGrace = 2 * time.Second

var relayTracer trace.Tracer = otel.Tracer("research-assistant/internal/agent/relay")

var phaseDescriptions = map[Phase]string{
	PhaseOrchestrator: "Planning research strategy",
	PhaseResearcher:   "Gathering evidence with tools",
	PhaseCritic:       "Reviewing draft quality",
	PhaseSynthesizer:  "Writing the final answer",
}

// Relay runs the four stages in order for one question at a time per call and
// relays progress events. A Relay is safe for concurrent runs; each run owns
// its own State.
type Relay struct {
	cfg       config.PipelineConfig
	registry  *tools.Registry
	logger    *zap.Logger
	telemetry *telemetry.Telemetry
	sinks     []Sink
	now       func() time.Time

	orchestrator *Orchestrator
	researcher   *Researcher
	critic       *Critic
	synthesizer  *Synthesizer
}

// Option configures a Relay.
type Option func(*Relay)

func WithLogger(l *zap.Logger) Option { return func(r *Relay) { r.logger = l } }

func WithTelemetry(t *telemetry.Telemetry) Option { return func(r *Relay) { r.telemetry = t } }

// WithSinks attaches sinks that receive the events of every run.
func WithSinks(s ...Sink) Option { return func(r *Relay) { r.sinks = append(r.sinks, s...) } }

func WithClock(now func() time.Time) Option { return func(r *Relay) { r.now = now } }

func NewRelay(cfg config.PipelineConfig, gw provider.Gateway, registry *tools.Registry, opts ...Option) *Relay {
	r := &Relay{
		cfg:      cfg.Normalize(),
		registry: registry,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	gw = &meteredGateway{next: gw, telemetry: r.telemetry}
	r.orchestrator = NewOrchestrator(gw, registry, r.logger)
	r.researcher = NewResearcher(gw, registry, r.cfg, r.logger, r.telemetry)
	r.critic = NewCritic(gw)
	r.synthesizer = NewSynthesizer(gw)
	return r
}

// Config returns the normalized pipeline configuration.
func (r *Relay) Config() config.PipelineConfig { return r.cfg }

// Run executes the pipeline synchronously. sinks receive this run's events in
// addition to the relay-wide sinks. The error is a *StageError.
func (r *Relay) Run(ctx context.Context, req Request, sinks ...Sink) (*Result, error) {
	return r.execute(ctx, req, sinks, nil)
}

// RunStreaming executes the pipeline in the background and returns its events.
// The channel is closed after the terminal event. Callers must drain it or
// cancel ctx. sinks behave as in Run.
func (r *Relay) RunStreaming(ctx context.Context, req Request, sinks ...Sink) <-chan Event {
	out := make(chan Event, r.cfg.EventBuffer)
	go func() {
		defer close(out)
		_, _ = r.execute(ctx, req, sinks, func(ev Event) { deliver(ctx, out, ev) })
	}()
	return out
}

func deliver(ctx context.Context, out chan<- Event, ev Event) {
	select {
	case out <- ev:
		return
	case <-ctx.Done():
	}
	t := time.NewTimer(deliveryGrace)
	defer t.Stop()
	select {
	case out <- ev:
	case <-t.C:
	}
}

// run is the per-question emitter. All events of a run pass through emit,
// which numbers them and stops after the terminal event.
type run struct {
	relay   *Relay
	state   *State
	logger  *zap.Logger
	sinks   []Sink
	deliver func(Event)

	mu         sync.Mutex
	seq        int
	terminated bool
}

func (rn *run) emit(ctx context.Context, ev Event) {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	if rn.terminated {
		return
	}
	rn.seq++
	ev.Seq = rn.seq
	ev.RunID = rn.state.RunID
	ev.Timestamp = rn.relay.now().UTC()
	if ev.Type.Terminal() {
		rn.terminated = true
	}

	sinkCtx := context.WithoutCancel(ctx)
	active := rn.sinks[:0]
	for _, s := range rn.sinks {
		if err := s.Send(sinkCtx, ev); err != nil {
			rn.logger.Warn("event sink failed, detaching it", zap.String("event", string(ev.Type)), zap.Error(err))
			continue
		}
		active = append(active, s)
	}
	rn.sinks = active
	if rn.deliver != nil {
		rn.deliver(ev)
	}
}

func (rn *run) phaseStart(ctx context.Context, p Phase, iteration int) {
	rn.emit(ctx, Event{Type: EventPhaseStart, Phase: p, Description: phaseDescriptions[p], Iteration: iteration})
}

func (rn *run) phaseSkip(ctx context.Context, p Phase, reason string) {
	rn.emit(ctx, Event{Type: EventPhaseSkip, Phase: p, Reason: reason})
}

func (rn *run) tokens(ctx context.Context, p Phase) provider.TokenFunc {
	if !rn.relay.cfg.Streams(string(p)) {
		return nil
	}
	return func(chunk string) {
		if chunk != "" {
			rn.emit(ctx, Event{Type: EventToken, Phase: p, Content: chunk})
		}
	}
}

// runReporter turns tool notifications into tool events.
type runReporter struct {
	ctx context.Context
	rn  *run
}

func (r runReporter) ToolStart(tool tools.ToolName, input string) {
	r.rn.emit(r.ctx, Event{Type: EventToolStart, Phase: PhaseResearcher, Tool: string(tool), Input: input})
}

func (r runReporter) ToolEnd(tool tools.ToolName, output string, failed bool) {
	r.rn.emit(r.ctx, Event{Type: EventToolEnd, Phase: PhaseResearcher, Tool: string(tool), Output: output, Failed: failed})
}

func (r *Relay) stageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.StageTimeout > 0 {
		return context.WithTimeout(ctx, r.cfg.StageTimeout)
	}
	return context.WithCancel(ctx)
}

func (r *Relay) execute(ctx context.Context, req Request, extra []Sink, deliverFn func(Event)) (res *Result, err error) {
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	state := newState(req, runID, r.now().UTC())
	sinks := make([]Sink, 0, len(r.sinks)+len(extra))
	sinks = append(append(sinks, r.sinks...), extra...)
	rn := &run{
		relay:   r,
		state:   state,
		logger:  r.logger.With(zap.String("run_id", runID)),
		sinks:   sinks,
		deliver: deliverFn,
	}

	ctx, span := relayTracer.Start(ctx, "research.run", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.Bool("run.fast_mode", req.FastMode),
	))
	defer span.End()

	defer func() {
		state.FinishedAt = r.now().UTC()
		outcome := "complete"
		if err != nil {
			outcome = string(KindOf(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			rn.logger.Warn("run failed", zap.String("kind", outcome), zap.Error(err))
			rn.emit(ctx, Event{
				Type:     EventError,
				Phase:    phaseOf(err),
				Error:    &ErrorInfo{Kind: KindOf(err), Message: err.Error()},
				Findings: slices.Clone(state.Findings),
				Critique: state.Critique,
			})
		} else {
			if state.Unanswerable {
				outcome = "refused"
			}
			res = resultFrom(state)
			rn.logger.Info("run complete", zap.Float64("confidence", state.Confidence), zap.Int("citations", len(state.Citations)), zap.Duration("duration", res.Duration))
			rn.emit(ctx, Event{
				Type:         EventPipelineComplete,
				FinalAnswer:  state.FinalAnswer,
				Citations:    res.Citations,
				Confidence:   floatPtr(state.Confidence),
				Unanswerable: state.Unanswerable,
				Findings:     slices.Clone(state.Findings),
				Critique:     state.Critique,
			})
		}
		r.telemetry.RecordRun(telemetry.RunEvent{
			RunID:      runID,
			Duration:   state.FinishedAt.Sub(state.StartedAt),
			Outcome:    outcome,
			FastMode:   state.FastMode,
			Confidence: state.Confidence,
			Citations:  len(state.Citations),
		})
	}()

	if state.Question == "" {
		return nil, stageErr(KindPlanning, PhaseOrchestrator, "question is empty")
	}
	rn.logger.Info("run started", zap.Bool("fast_mode", state.FastMode))

	if err := r.plan(ctx, rn); err != nil {
		return nil, err
	}
	if state.Unanswerable {
		reason := "question judged unanswerable"
		rn.phaseSkip(ctx, PhaseResearcher, reason)
		rn.phaseSkip(ctx, PhaseCritic, reason)
		rn.phaseSkip(ctx, PhaseSynthesizer, reason)
		state.setAnswer(refusal(state.Reason), 0)
		return nil, nil
	}

	var fixes []string
	for iteration := 1; ; iteration++ {
		state.Iterations = iteration
		if err := r.research(ctx, rn, fixes, iteration); err != nil {
			return nil, err
		}
		if state.FastMode {
			rn.phaseSkip(ctx, PhaseCritic, "fast_mode")
			break
		}
		if err := r.review(ctx, rn, iteration); err != nil {
			return nil, err
		}
		cr := state.Critique
		if cr == nil || cr.QualityScore >= r.cfg.QualityThreshold || iteration >= r.cfg.MaxIterations {
			break
		}
		rn.logger.Info("quality below threshold, refining",
			zap.Float64("quality", cr.QualityScore), zap.Int("iteration", iteration))
		fixes = cr.Fixes
	}

	if err := r.synthesize(ctx, rn); err != nil {
		return nil, err
	}
	return nil, nil
}

func (r *Relay) plan(ctx context.Context, rn *run) error {
	p := PhaseOrchestrator
	if err := ctx.Err(); err != nil {
		return classify(ctx, p, KindCancellation, err)
	}
	rn.phaseStart(ctx, p, 0)
	sctx, span := relayTracer.Start(ctx, "research.orchestrator")
	defer span.End()
	stageCtx, cancel := r.stageContext(sctx)
	defer cancel()

	start := time.Now()
	delta, err := r.orchestrator.Plan(stageCtx, rn.state, rn.tokens(ctx, p))
	r.telemetry.RecordStage(telemetry.StageEvent{Stage: string(p), Duration: time.Since(start), Success: err == nil})
	if err != nil {
		span.RecordError(err)
		return classify(ctx, p, KindPlanning, err)
	}
	delta.apply(rn.state)
	names := make([]string, len(rn.state.ToolSequence))
	for i, t := range rn.state.ToolSequence {
		names[i] = string(t)
	}
	rn.emit(ctx, Event{Type: EventPhaseComplete, Phase: p, Plan: summarizePlan(rn.state), Tools: names})
	return nil
}

func (r *Relay) research(ctx context.Context, rn *run, fixes []string, iteration int) error {
	p := PhaseResearcher
	if err := ctx.Err(); err != nil {
		return classify(ctx, p, KindCancellation, err)
	}
	rn.phaseStart(ctx, p, iteration)
	sctx, span := relayTracer.Start(ctx, "research.researcher", trace.WithAttributes(attribute.Int("iteration", iteration)))
	defer span.End()
	stageCtx, cancel := r.stageContext(sctx)
	defer cancel()

	start := time.Now()
	delta, err := r.researcher.Research(stageCtx, rn.state, fixes, runReporter{ctx: ctx, rn: rn}, rn.tokens(ctx, p))
	r.telemetry.RecordStage(telemetry.StageEvent{Stage: string(p), Duration: time.Since(start), Success: err == nil})
	if err != nil {
		span.RecordError(err)
		return classify(ctx, p, KindResearch, err)
	}
	delta.apply(rn.state)
	span.SetAttributes(attribute.Int("findings", len(rn.state.Findings)))
	rn.emit(ctx, Event{
		Type:          EventPhaseComplete,
		Phase:         p,
		FindingsCount: intPtr(len(rn.state.Findings)),
		DraftLength:   intPtr(len(rn.state.Draft)),
		Iteration:     iteration,
	})
	return nil
}

// review runs the critic. Its failure degrades the run to "no critique"
// unless the run itself was cancelled.
func (r *Relay) review(ctx context.Context, rn *run, iteration int) error {
	p := PhaseCritic
	if err := ctx.Err(); err != nil {
		return classify(ctx, p, KindCancellation, err)
	}
	rn.phaseStart(ctx, p, iteration)
	sctx, span := relayTracer.Start(ctx, "research.critic")
	defer span.End()
	stageCtx, cancel := r.stageContext(sctx)
	defer cancel()

	start := time.Now()
	cr, err := r.critic.Critique(stageCtx, rn.state, rn.tokens(ctx, p))
	if err != nil {
		r.telemetry.RecordStage(telemetry.StageEvent{Stage: string(p), Duration: time.Since(start), Degraded: true})
		if ctx.Err() != nil {
			return classify(ctx, p, KindCancellation, err)
		}
		span.RecordError(err)
		rn.logger.Warn("critic failed, continuing without critique", zap.Int("iteration", iteration), zap.Error(err))
		rn.state.Critique = nil
		rn.emit(ctx, Event{Type: EventPhaseComplete, Phase: p, Degraded: true, Reason: "critic unavailable: " + err.Error(), Iteration: iteration})
		return nil
	}
	r.telemetry.RecordStage(telemetry.StageEvent{Stage: string(p), Duration: time.Since(start), Success: true})
	rn.state.Critique = cr
	rn.emit(ctx, Event{
		Type:          EventPhaseComplete,
		Phase:         p,
		QualityScore:  floatPtr(cr.QualityScore),
		IssueCount:    intPtr(len(cr.Issues)),
		FixesRequired: intPtr(len(cr.Fixes)),
		Iteration:     iteration,
	})
	return nil
}

func (r *Relay) synthesize(ctx context.Context, rn *run) error {
	p := PhaseSynthesizer
	if err := ctx.Err(); err != nil {
		return classify(ctx, p, KindCancellation, err)
	}
	rn.phaseStart(ctx, p, 0)
	sctx, span := relayTracer.Start(ctx, "research.synthesizer")
	defer span.End()
	stageCtx, cancel := r.stageContext(sctx)
	defer cancel()

	start := time.Now()
	delta, err := r.synthesizer.Synthesize(stageCtx, rn.state, rn.tokens(ctx, p))
	r.telemetry.RecordStage(telemetry.StageEvent{Stage: string(p), Duration: time.Since(start), Success: err == nil})
	if err != nil {
		span.RecordError(err)
		return classify(ctx, p, KindSynthesis, err)
	}
	delta.apply(rn.state)
	rn.emit(ctx, Event{
		Type:         EventPhaseComplete,
		Phase:        p,
		Confidence:   floatPtr(rn.state.Confidence),
		AnswerLength: intPtr(len(rn.state.FinalAnswer)),
	})
	return nil
}

func phaseOf(err error) Phase {
	var se *StageError
	if errors.As(err, &se) {
		return se.Phase
	}
	return ""
}

// meteredGateway records every gateway call.
type meteredGateway struct {
	next      provider.Gateway
	telemetry *telemetry.Telemetry
}

func (g *meteredGateway) Invoke(ctx context.Context, req provider.Request, tokens provider.TokenFunc) (provider.Response, error) {
	start := time.Now()
	resp, err := g.next.Invoke(ctx, req, tokens)
	ev := telemetry.LLMEvent{
		Role:         string(req.Role),
		Provider:     resp.Provider,
		Model:        resp.Model,
		Duration:     time.Since(start),
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		Success:      err == nil,
	}
	var ge *provider.GatewayError
	if errors.As(err, &ge) {
		ev.Provider, ev.Model = ge.Provider, ge.Model
	}
	if ev.Provider == "" {
		ev.Provider = "unknown"
	}
	g.telemetry.RecordLLM(ev)
	if err == nil && strings.TrimSpace(resp.Content) == "" {
		return resp, provider.Wrap(resp.Provider, resp.Model, 0, provider.ErrEmptyResponse)
	}
	return resp, err
}
