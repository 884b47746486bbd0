package server

import (
	"encoding/json"
	"time"

	"github.com/mohammad-safakhou/research-assistant/internal/agent/core"
	"github.com/mohammad-safakhou/research-assistant/internal/agent/telemetry"
	"github.com/mohammad-safakhou/research-assistant/internal/knowledge"
	"github.com/mohammad-safakhou/research-assistant/internal/queue/streams"
	"github.com/mohammad-safakhou/research-assistant/internal/store"
)

// ErrorBody describes a failed request.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Phase   string `json:"phase,omitempty"`
}

// ErrorResponse is the envelope of every error reply.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// AskRequest is the body of /api/ask and /api/stream.
type AskRequest struct {
	Question       string   `json:"question"`
	Context        string   `json:"context,omitempty"`
	FastMode       *bool    `json:"fast_mode,omitempty"`
	MaxSources     int      `json:"max_sources,omitempty"`
	RequireRecent  bool     `json:"require_recent,omitempty"`
	AllowedDomains []string `json:"allowed_domains,omitempty"`
	BlockedDomains []string `json:"blocked_domains,omitempty"`
}

// AskResponse is the reply of a finished /api/ask run.
type AskResponse struct {
	RunID           string          `json:"run_id"`
	Answer          string          `json:"answer"`
	Citations       []core.Citation `json:"citations"`
	Confidence      float64         `json:"confidence"`
	Unanswerable    bool            `json:"unanswerable,omitempty"`
	DurationSeconds float64         `json:"duration_seconds"`
}

// IngestDocument is a document supplied inline to /api/ingest.
type IngestDocument struct {
	Source      string `json:"source"`
	Title       string `json:"title,omitempty"`
	URL         string `json:"url,omitempty"`
	Text        string `json:"text"`
	PublishedAt string `json:"published_at,omitempty"`
}

// IngestRequest names files or directories, inline documents, or both.
type IngestRequest struct {
	Paths     []string         `json:"paths,omitempty"`
	Documents []IngestDocument `json:"documents,omitempty"`
}

// IngestResponse sums the reports of every source in the request.
type IngestResponse struct {
	knowledge.IngestReport
	DurationSeconds float64 `json:"duration_seconds"`
}

// StatsResponse is the reply of /api/stats.
type StatsResponse struct {
	Knowledge knowledge.Stats      `json:"knowledge"`
	Pipeline  *PipelineStats       `json:"pipeline,omitempty"`
	Events    *streams.StreamStats `json:"events,omitempty"`
}

// PipelineStats is the subset of run counters the API exposes.
type PipelineStats struct {
	TotalRuns         int64            `json:"total_runs"`
	CompletedRuns     int64            `json:"completed_runs"`
	FailedRuns        int64            `json:"failed_runs"`
	AverageRunSeconds float64          `json:"average_run_seconds"`
	AverageConfidence float64          `json:"average_confidence"`
	ToolCalls         map[string]int64 `json:"tool_calls"`
	ToolFailures      map[string]int64 `json:"tool_failures"`
	ErrorKinds        map[string]int64 `json:"error_kinds"`
}

func pipelineStats(m telemetry.Metrics) *PipelineStats {
	return &PipelineStats{
		TotalRuns:         m.TotalRuns,
		CompletedRuns:     m.CompletedRuns,
		FailedRuns:        m.FailedRuns,
		AverageRunSeconds: m.AverageRunTime.Seconds(),
		AverageConfidence: m.AverageConfidence,
		ToolCalls:         m.ToolCalls,
		ToolFailures:      m.ToolFailures,
		ErrorKinds:        m.ErrorKinds,
	}
}

// RunSummary is one row of /api/runs.
type RunSummary struct {
	RunID           string    `json:"run_id"`
	Question        string    `json:"question"`
	Status          string    `json:"status"`
	ErrorKind       string    `json:"error_kind,omitempty"`
	Confidence      float64   `json:"confidence"`
	Citations       int       `json:"citations"`
	FastMode        bool      `json:"fast_mode"`
	FinishedAt      time.Time `json:"finished_at"`
	DurationSeconds float64   `json:"duration_seconds"`
}

func summarize(r store.RunRecord) RunSummary {
	s := RunSummary{
		RunID:           r.ID,
		Question:        r.Question,
		Status:          r.Status,
		Confidence:      r.Confidence,
		Citations:       len(r.Citations),
		FastMode:        r.FastMode,
		FinishedAt:      r.FinishedAt,
		DurationSeconds: r.Duration().Seconds(),
	}
	if r.ErrorKind != nil {
		s.ErrorKind = *r.ErrorKind
	}
	return s
}

// RunDetail is the reply of /api/runs/:id.
type RunDetail struct {
	store.RunRecord
	Events []RunEvent `json:"events,omitempty"`
}

// RunEvent is a stored event; Payload is the original event JSON.
type RunEvent struct {
	Seq     int             `json:"seq"`
	Type    string          `json:"type"`
	Phase   string          `json:"phase,omitempty"`
	Payload json.RawMessage `json:"payload"`
	At      time.Time       `json:"occurred_at"`
}
