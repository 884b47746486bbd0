package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mohammad-safakhou/research-assistant/internal/agent/core"
	"go.uber.org/zap"
)

// RunSink records one run's events and persists the run when its terminal
// event arrives. Token events are not stored.
type RunSink struct {
	store  *Store
	req    core.Request
	logger *zap.Logger

	mu     sync.Mutex
	rec    RunRecord
	events []EventRecord
}

// NewRunSink returns a sink for a single run of req.
func NewRunSink(st *Store, req core.Request, logger *zap.Logger) *RunSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunSink{
		store:  st,
		req:    req,
		logger: logger,
		rec: RunRecord{
			Question: req.Question,
			Context:  req.Context,
			FastMode: req.FastMode,
		},
	}
}

func (s *RunSink) Send(ctx context.Context, ev core.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rec.ID == "" {
		s.rec.ID = ev.RunID
		s.rec.StartedAt = ev.Timestamp
	}
	s.observe(ev)
	if ev.Type != core.EventToken {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event %d: %w", ev.Seq, err)
		}
		s.events = append(s.events, EventRecord{
			RunID:      ev.RunID,
			Seq:        ev.Seq,
			Type:       string(ev.Type),
			Phase:      string(ev.Phase),
			Payload:    payload,
			OccurredAt: ev.Timestamp,
		})
	}
	if !ev.Type.Terminal() {
		return nil
	}

	s.rec.FinishedAt = ev.Timestamp
	if err := s.store.SaveRun(ctx, s.rec, s.events); err != nil {
		s.logger.Error("persist run failed", zap.String("run_id", s.rec.ID), zap.Error(err))
		return err
	}
	s.logger.Debug("run persisted", zap.String("run_id", s.rec.ID), zap.String("status", s.rec.Status), zap.Int("events", len(s.events)))
	return nil
}

// Record returns the run as observed so far.
func (s *RunSink) Record() RunRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec
}

func (s *RunSink) observe(ev core.Event) {
	switch ev.Type {
	case core.EventPhaseComplete:
		switch ev.Phase {
		case core.PhaseOrchestrator:
			s.rec.Plan = ev.Plan
			s.rec.ToolSequence = append([]string(nil), ev.Tools...)
		case core.PhaseResearcher:
			if ev.FindingsCount != nil {
				s.rec.FindingsCount = *ev.FindingsCount
			}
			if ev.Iteration > s.rec.Iterations {
				s.rec.Iterations = ev.Iteration
			}
		case core.PhaseCritic:
			if ev.QualityScore != nil {
				q := *ev.QualityScore
				s.rec.QualityScore = &q
			}
		}
	case core.EventPipelineComplete:
		s.rec.Status = StatusComplete
		if ev.Unanswerable {
			s.rec.Status = StatusRefused
		}
		s.rec.Answer = ev.FinalAnswer
		s.rec.Citations = append([]core.Citation(nil), ev.Citations...)
		s.rec.Unanswerable = ev.Unanswerable
		if ev.Confidence != nil {
			s.rec.Confidence = *ev.Confidence
		}
		s.keepEvidence(ev)
	case core.EventError:
		s.rec.Status = StatusFailed
		if ev.Error != nil {
			kind, msg := string(ev.Error.Kind), ev.Error.Message
			s.rec.ErrorKind, s.rec.ErrorMessage = &kind, &msg
		}
		if ev.Phase != "" {
			phase := string(ev.Phase)
			s.rec.ErrorPhase = &phase
		}
		s.keepEvidence(ev)
	}
}

// keepEvidence copies the findings and critique a terminal event carries.
func (s *RunSink) keepEvidence(ev core.Event) {
	s.rec.Findings = append([]core.Finding(nil), ev.Findings...)
	if len(ev.Findings) > 0 {
		s.rec.FindingsCount = len(ev.Findings)
	}
	if ev.Critique != nil {
		c := *ev.Critique
		s.rec.Critique = &c
		if s.rec.QualityScore == nil {
			q := c.QualityScore
			s.rec.QualityScore = &q
		}
	}
}
