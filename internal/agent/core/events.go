package core

import (
	"context"
	"sync"
	"time"
)

// Phase names a pipeline stage.
type Phase string

const (
	PhaseOrchestrator Phase = "orchestrator"
	PhaseResearcher   Phase = "researcher"
	PhaseCritic       Phase = "critic"
	PhaseSynthesizer  Phase = "synthesizer"
)

// EventType is the closed set of progress events.
type EventType string

const (
	EventPhaseStart       EventType = "phase_start"
	EventPhaseComplete    EventType = "phase_complete"
	EventPhaseSkip        EventType = "phase_skip"
	EventToolStart        EventType = "tool_start"
	EventToolEnd          EventType = "tool_end"
	EventToken            EventType = "token"
	EventPipelineComplete EventType = "pipeline_complete"
	EventError            EventType = "error"
)

// Terminal reports whether no event can follow t in a run.
func (t EventType) Terminal() bool {
	return t == EventPipelineComplete || t == EventError
}

// ErrorInfo is the payload of an error event.
type ErrorInfo struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Event is one unit of progress. Fields beyond the envelope are set per type.
type Event struct {
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id"`
	Seq       int       `json:"seq"`
	Phase     Phase     `json:"phase,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// phase_start / phase_skip
	Description string `json:"description,omitempty"`
	Reason      string `json:"reason,omitempty"`

	// phase_complete
	Plan          string   `json:"plan,omitempty"`
	Tools         []string `json:"tools,omitempty"`
	FindingsCount *int     `json:"findings_count,omitempty"`
	DraftLength   *int     `json:"draft_length,omitempty"`
	QualityScore  *float64 `json:"quality_score,omitempty"`
	IssueCount    *int     `json:"issue_count,omitempty"`
	FixesRequired *int     `json:"fixes_required,omitempty"`
	AnswerLength  *int     `json:"answer_length,omitempty"`
	Degraded      bool     `json:"degraded,omitempty"`
	Iteration     int      `json:"iteration,omitempty"`

	// tool_start / tool_end
	Tool   string `json:"tool,omitempty"`
	Input  string `json:"input,omitempty"`
	Output string `json:"output,omitempty"`
	Failed bool   `json:"failed,omitempty"`

	// token
	Content string `json:"content,omitempty"`

	// pipeline_complete
	FinalAnswer  string     `json:"final_answer,omitempty"`
	Citations    []Citation `json:"citations,omitempty"`
	Confidence   *float64   `json:"confidence,omitempty"`
	Unanswerable bool       `json:"unanswerable,omitempty"`

	// error
	Error *ErrorInfo `json:"error,omitempty"`

	// pipeline_complete / error: the run's evidence and review as they stood
	// at the end.
	Findings []Finding `json:"findings,omitempty"`
	Critique *Critique `json:"critique,omitempty"`
}

// Sink consumes events. A sink that returns an error is detached for the rest
// of the run; it never changes the run's outcome.
type Sink interface {
	Send(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Send(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Recorder keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Send(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func intPtr(v int) *int { return &v }
func floatPtr(v float64) *float64 { return &v }
