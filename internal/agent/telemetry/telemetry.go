package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const namespace = "research_assistant"

// Telemetry records pipeline activity as Prometheus metrics and keeps an
// in-process snapshot for the CLI and tests.
type Telemetry struct {
	logger *zap.Logger

	runs         *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	stages       *prometheus.CounterVec
	stageLatency *prometheus.HistogramVec
	toolCalls    *prometheus.CounterVec
	toolLatency  *prometheus.HistogramVec
	llmCalls     *prometheus.CounterVec
	llmTokens    *prometheus.CounterVec

	mu      sync.RWMutex
	metrics *Metrics
}

// Metrics is a point-in-time summary of everything recorded.
type Metrics struct {
	TotalRuns             int64
	CompletedRuns         int64
	FailedRuns            int64
	AverageRunTime        time.Duration
	StageExecutions       map[string]int64
	StageFailures         map[string]int64
	ToolCalls             map[string]int64
	ToolFailures          map[string]int64
	LLMRequests           map[string]int64
	LLMTokensUsed         map[string]int64
	ErrorKinds            map[string]int64
	AverageConfidence     float64
	confidenceObservation int64
}

// RunEvent describes a finished run.
type RunEvent struct {
	RunID      string
	Duration   time.Duration
	Outcome    string // complete, refused or the error kind
	FastMode   bool
	Confidence float64
	Citations  int
}

// StageEvent describes one stage execution.
type StageEvent struct {
	Stage    string
	Duration time.Duration
	Success  bool
	Degraded bool
}

// ToolEvent describes one evidence tool invocation.
type ToolEvent struct {
	Tool     string
	Duration time.Duration
	Results  int
	Err      error
	Empty    bool
}

// LLMEvent describes one gateway call.
type LLMEvent struct {
	Role         string
	Provider     string
	Model        string
	Duration     time.Duration
	InputTokens  int64
	OutputTokens int64
	Success      bool
}

// New registers the collectors with reg. A nil reg uses a private registry,
// which keeps tests independent of the default one.
func New(reg prometheus.Registerer, logger *zap.Logger) *Telemetry {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Telemetry{
		logger: logger.Named("telemetry"),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "runs_total",
			Help: "Pipeline runs by outcome.",
		}, []string{"outcome", "mode"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "run_duration_seconds",
			Help:    "End-to-end run latency.",
			Buckets: []float64{1, 2.5, 5, 10, 20, 40, 80, 160},
		}, []string{"outcome"}),
		stages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "stage_executions_total",
			Help: "Stage executions by result.",
		}, []string{"stage", "result"}),
		stageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "stage_duration_seconds",
			Help:    "Stage latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tool_calls_total",
			Help: "Evidence tool calls by result.",
		}, []string{"tool", "result"}),
		toolLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "tool_duration_seconds",
			Help:    "Evidence tool latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
		llmCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "llm_requests_total",
			Help: "LLM gateway calls.",
		}, []string{"role", "provider", "model", "result"}),
		llmTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "llm_tokens_total",
			Help: "Tokens reported by providers.",
		}, []string{"provider", "model", "direction"}),
		metrics: newMetrics(),
	}
	for _, c := range []prometheus.Collector{t.runs, t.runDuration, t.stages, t.stageLatency, t.toolCalls, t.toolLatency, t.llmCalls, t.llmTokens} {
		if err := reg.Register(c); err != nil {
			t.logger.Warn("metric registration failed", zap.Error(err))
		}
	}
	return t
}

func newMetrics() *Metrics {
	return &Metrics{
		StageExecutions: make(map[string]int64),
		StageFailures:   make(map[string]int64),
		ToolCalls:       make(map[string]int64),
		ToolFailures:    make(map[string]int64),
		LLMRequests:     make(map[string]int64),
		LLMTokensUsed:   make(map[string]int64),
		ErrorKinds:      make(map[string]int64),
	}
}

// RecordRun records a finished run.
func (t *Telemetry) RecordRun(ev RunEvent) {
	if t == nil {
		return
	}
	mode := "standard"
	if ev.FastMode {
		mode = "fast"
	}
	t.runs.WithLabelValues(ev.Outcome, mode).Inc()
	t.runDuration.WithLabelValues(ev.Outcome).Observe(ev.Duration.Seconds())

	t.mu.Lock()
	defer t.mu.Unlock()
	m := t.metrics
	m.TotalRuns++
	switch ev.Outcome {
	case "complete", "refused":
		m.CompletedRuns++
		m.confidenceObservation++
		m.AverageConfidence += (ev.Confidence - m.AverageConfidence) / float64(m.confidenceObservation)
	default:
		m.FailedRuns++
		m.ErrorKinds[ev.Outcome]++
	}
	if m.TotalRuns == 1 {
		m.AverageRunTime = ev.Duration
	} else {
		total := m.AverageRunTime * time.Duration(m.TotalRuns-1)
		m.AverageRunTime = (total + ev.Duration) / time.Duration(m.TotalRuns)
	}
	t.logger.Debug("run recorded",
		zap.String("run_id", ev.RunID),
		zap.String("outcome", ev.Outcome),
		zap.Duration("duration", ev.Duration),
		zap.Int("citations", ev.Citations))
}

// RecordStage records one stage execution.
func (t *Telemetry) RecordStage(ev StageEvent) {
	if t == nil {
		return
	}
	result := "success"
	switch {
	case ev.Degraded:
		result = "degraded"
	case !ev.Success:
		result = "failure"
	}
	t.stages.WithLabelValues(ev.Stage, result).Inc()
	t.stageLatency.WithLabelValues(ev.Stage).Observe(ev.Duration.Seconds())

	t.mu.Lock()
	defer t.mu.Unlock()
	t.metrics.StageExecutions[ev.Stage]++
	if result != "success" {
		t.metrics.StageFailures[ev.Stage]++
	}
}

// RecordTool records one tool invocation.
func (t *Telemetry) RecordTool(ev ToolEvent) {
	if t == nil {
		return
	}
	result := "success"
	switch {
	case ev.Empty:
		result = "empty"
	case ev.Err != nil:
		result = "failure"
	}
	t.toolCalls.WithLabelValues(ev.Tool, result).Inc()
	t.toolLatency.WithLabelValues(ev.Tool).Observe(ev.Duration.Seconds())

	t.mu.Lock()
	defer t.mu.Unlock()
	t.metrics.ToolCalls[ev.Tool]++
	if result == "failure" {
		t.metrics.ToolFailures[ev.Tool]++
	}
}

// RecordLLM records one gateway call.
func (t *Telemetry) RecordLLM(ev LLMEvent) {
	if t == nil {
		return
	}
	result := "success"
	if !ev.Success {
		result = "failure"
	}
	t.llmCalls.WithLabelValues(ev.Role, ev.Provider, ev.Model, result).Inc()
	if ev.InputTokens > 0 {
		t.llmTokens.WithLabelValues(ev.Provider, ev.Model, "input").Add(float64(ev.InputTokens))
	}
	if ev.OutputTokens > 0 {
		t.llmTokens.WithLabelValues(ev.Provider, ev.Model, "output").Add(float64(ev.OutputTokens))
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	key := ev.Model
	if key == "" {
		key = ev.Role
	}
	t.metrics.LLMRequests[key]++
	t.metrics.LLMTokensUsed[key] += ev.InputTokens + ev.OutputTokens
}

// GetMetrics returns a copy of the current snapshot.
func (t *Telemetry) GetMetrics() Metrics {
	if t == nil {
		return *newMetrics()
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	m := *t.metrics
	m.StageExecutions = copyCounts(t.metrics.StageExecutions)
	m.StageFailures = copyCounts(t.metrics.StageFailures)
	m.ToolCalls = copyCounts(t.metrics.ToolCalls)
	m.ToolFailures = copyCounts(t.metrics.ToolFailures)
	m.LLMRequests = copyCounts(t.metrics.LLMRequests)
	m.LLMTokensUsed = copyCounts(t.metrics.LLMTokensUsed)
	m.ErrorKinds = copyCounts(t.metrics.ErrorKinds)
	return m
}

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
