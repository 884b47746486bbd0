package store

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/mohammad-safakhou/research-assistant/internal/agent/core"
	"go.uber.org/zap"
)

func intp(v int) *int           { return &v }
func floatp(v float64) *float64 { return &v }

func runEvents(terminal core.Event) []core.Event {
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	evs := []core.Event{
		{Type: core.EventPhaseStart, Phase: core.PhaseOrchestrator},
		{Type: core.EventPhaseComplete, Phase: core.PhaseOrchestrator, Plan: "Search.", Tools: []string{"web_search"}},
		{Type: core.EventPhaseStart, Phase: core.PhaseResearcher, Iteration: 1},
		{Type: core.EventToolStart, Phase: core.PhaseResearcher, Tool: "web_search"},
		{Type: core.EventToolEnd, Phase: core.PhaseResearcher, Tool: "web_search"},
		{Type: core.EventPhaseComplete, Phase: core.PhaseResearcher, FindingsCount: intp(3), Iteration: 1},
		{Type: core.EventPhaseStart, Phase: core.PhaseCritic, Iteration: 1},
		{Type: core.EventPhaseComplete, Phase: core.PhaseCritic, QualityScore: floatp(0.85), Iteration: 1},
		{Type: core.EventPhaseStart, Phase: core.PhaseSynthesizer},
		{Type: core.EventToken, Phase: core.PhaseSynthesizer, Content: "Dock"},
		terminal,
	}
	for i := range evs {
		evs[i].RunID = "run-9"
		evs[i].Seq = i + 1
		evs[i].Timestamp = ts.Add(time.Duration(i) * time.Second)
	}
	return evs
}

func TestRunSinkPersistsCompletedRun(t *testing.T) {
	st, mock := newMock(t)
	req := core.Request{Question: "What is Docker?", Context: "beginner"}
	sink := NewRunSink(st, req, zap.NewNop())

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO research_runs`).
		WithArgs("run-9", req.Question, req.Context, false, StatusComplete,
			nil, nil, nil, "Search.", sqlmock.AnyArg(),
			"answer", 0.8, false, sqlmock.AnyArg(), 1,
			sqlmock.AnyArg(), 1, sqlmock.AnyArg(), sqlmock.AnyArg(),
			[]byte(`[{"claim":"Docker overview","evidence":"Docker is an open platform.","source":"#1"}]`),
			[]byte(`{"issues":[],"fixes":null,"quality_score":0.85}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// ten stored events; the token is dropped
	for i := 0; i < 10; i++ {
		mock.ExpectExec(`INSERT INTO research_run_events`).WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	done := core.Event{Type: core.EventPipelineComplete, FinalAnswer: "answer", Confidence: floatp(0.8),
		Citations: []core.Citation{{Marker: "#1", Title: "T", URL: "https://e.com"}},
		Findings:  []core.Finding{{Claim: "Docker overview", Evidence: "Docker is an open platform.", Source: "#1"}},
		Critique:  &core.Critique{Issues: []core.Issue{}, QualityScore: 0.85}}
	for _, ev := range runEvents(done) {
		if err := sink.Send(context.Background(), ev); err != nil {
			t.Fatalf("Send(%s): %v", ev.Type, err)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}

	rec := sink.Record()
	if rec.QualityScore == nil || *rec.QualityScore != 0.85 {
		t.Fatalf("quality score not captured: %+v", rec)
	}
	if rec.Duration() != 10*time.Second {
		t.Fatalf("duration = %s", rec.Duration())
	}
	if len(rec.Citations) != 1 {
		t.Fatalf("citations not captured")
	}
	if len(rec.Findings) != 1 || rec.Critique == nil || rec.Critique.QualityScore != 0.85 {
		t.Fatalf("findings and critique not captured: %+v", rec)
	}
}

func TestRunSinkRecordsFailure(t *testing.T) {
	st, mock := newMock(t)
	sink := NewRunSink(st, core.Request{Question: "Q"}, nil)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO research_runs`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO research_run_events`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO research_run_events`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	evs := []core.Event{
		{Type: core.EventPhaseStart, Phase: core.PhaseOrchestrator},
		{Type: core.EventError, Phase: core.PhaseResearcher, Error: &core.ErrorInfo{Kind: core.KindResearch, Message: "no usable evidence"},
			Findings: []core.Finding{}},
	}
	for i, ev := range evs {
		ev.RunID, ev.Seq, ev.Timestamp = "run-x", i+1, time.Now()
		if err := sink.Send(context.Background(), ev); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	rec := sink.Record()
	if rec.Status != StatusFailed || rec.ErrorKind == nil || *rec.ErrorKind != "ResearchError" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.Findings != nil || rec.Critique != nil {
		t.Fatalf("failed run before research has no evidence: %+v", rec)
	}
	if rec.ErrorPhase == nil || *rec.ErrorPhase != "researcher" {
		t.Fatalf("error phase not captured")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRunSinkReportsSaveFailure(t *testing.T) {
	st, mock := newMock(t)
	sink := NewRunSink(st, core.Request{Question: "Q"}, nil)
	mock.ExpectBegin().WillReturnError(context.DeadlineExceeded)

	ev := core.Event{Type: core.EventPipelineComplete, RunID: "r", Seq: 1, Timestamp: time.Now(), FinalAnswer: "a", Confidence: floatp(0.5)}
	if err := sink.Send(context.Background(), ev); err == nil {
		t.Fatal("a failed save must surface so the relay detaches the sink")
	}
}
