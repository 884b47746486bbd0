package core

import (
	"strings"
	"time"

	"github.com/mohammad-safakhou/research-assistant/internal/helpers"
	"github.com/mohammad-safakhou/research-assistant/tools"
)

// Request is one question submitted to the pipeline.
type Request struct {
	RunID    string `json:"run_id,omitempty"`
	Question string `json:"question"`
	Context  string `json:"context,omitempty"`
	FastMode bool   `json:"fast_mode"`

	// Optional evidence constraints forwarded to the tools.
	MaxSources     int      `json:"max_sources,omitempty"`
	RequireRecent  bool     `json:"require_recent,omitempty"`
	AllowedDomains []string `json:"allowed_domains,omitempty"`
	BlockedDomains []string `json:"blocked_domains,omitempty"`
}

// Citation is a numbered source reference.
type Citation struct {
	Marker string         `json:"marker"`
	Title  string         `json:"title"`
	URL    string         `json:"url"`
	Date   string         `json:"date,omitempty"`
	Tool   tools.ToolName `json:"tool,omitempty"`
}

// Finding pairs a claim with its evidence. Source is a citation marker.
type Finding struct {
	Claim    string `json:"claim"`
	Evidence string `json:"evidence"`
	Source   string `json:"source"`
}

// Issue is one problem raised by the critic.
type Issue struct {
	Type         string `json:"issue_type"`
	Description  string `json:"description"`
	Severity     string `json:"severity,omitempty"`
	SuggestedFix string `json:"suggested_fix,omitempty"`
}

// Critique is the critic's review of a draft. A nil *Critique means no
// critique is available, which is not the same as a critique with no issues.
type Critique struct {
	Issues       []Issue  `json:"issues"`
	Fixes        []string `json:"fixes"`
	QualityScore float64  `json:"quality_score"`
}

// State is the record threaded through the stages of one run. It is owned by
// a single run and never shared.
type State struct {
	RunID    string `json:"run_id"`
	Question string `json:"question"`
	Context  string `json:"context,omitempty"`
	FastMode bool   `json:"fast_mode"`

	Plan         string           `json:"plan,omitempty"`
	ToolSequence []tools.ToolName `json:"tool_sequence,omitempty"`
	KeyTerms     []string         `json:"key_terms,omitempty"`
	Unanswerable bool             `json:"unanswerable,omitempty"`
	Reason       string           `json:"reason,omitempty"`

	Findings  []Finding  `json:"findings,omitempty"`
	Citations []Citation `json:"citations,omitempty"`
	Critique  *Critique  `json:"critique,omitempty"`
	Draft     string     `json:"draft,omitempty"`

	FinalAnswer string  `json:"final_answer,omitempty"`
	Confidence  float64 `json:"confidence"`
	Iterations  int     `json:"iterations"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`

	answered bool
	query    tools.Query
}

func newState(req Request, runID string, now time.Time) *State {
	return &State{
		RunID:     runID,
		Question:  strings.TrimSpace(req.Question),
		Context:   strings.TrimSpace(req.Context),
		FastMode:  req.FastMode,
		StartedAt: now,
		query: tools.Query{
			TopK:          req.MaxSources,
			RequireRecent: req.RequireRecent,
			AllowDomains:  req.AllowedDomains,
			BlockDomains:  req.BlockedDomains,
		},
	}
}

// Citation looks up a citation by marker.
func (s *State) Citation(marker string) (Citation, bool) {
	m := helpers.NormalizeMarker(marker)
	for _, c := range s.Citations {
		if c.Marker == m {
			return c, true
		}
	}
	return Citation{}, false
}

// HasMarker reports whether marker names an existing citation.
func (s *State) HasMarker(marker string) bool {
	_, ok := s.Citation(marker)
	return ok
}

// Answered reports whether the synthesizer has set the final answer.
func (s *State) Answered() bool { return s.answered }

func (s *State) setAnswer(answer string, confidence float64) {
	s.FinalAnswer = answer
	s.Confidence = confidence
	s.answered = true
}

// Result is what a completed run returns.
type Result struct {
	RunID        string        `json:"run_id"`
	Answer       string        `json:"answer"`
	Citations    []Citation    `json:"citations"`
	Confidence   float64       `json:"confidence"`
	Unanswerable bool          `json:"unanswerable,omitempty"`
	Duration     time.Duration `json:"duration"`
	State        *State        `json:"-"`
}

func resultFrom(s *State) *Result {
	return &Result{
		RunID:        s.RunID,
		Answer:       s.FinalAnswer,
		Citations:    append([]Citation(nil), s.Citations...),
		Confidence:   s.Confidence,
		Unanswerable: s.Unanswerable,
		Duration:     s.FinishedAt.Sub(s.StartedAt),
		State:        s,
	}
}
