package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/mohammad-safakhou/research-assistant/internal/agent/core"
	"github.com/mohammad-safakhou/research-assistant/tools"
)

var runColumns = []string{"id", "question", "context", "fast_mode", "status", "error_kind", "error_message", "error_phase", "plan", "tool_sequence", "answer", "confidence", "unanswerable", "citations", "findings_count", "quality_score", "iterations", "started_at", "finished_at", "findings", "critique"}

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &Store{DB: db}, mock
}

func TestSaveRun(t *testing.T) {
	st, mock := newMock(t)
	started := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := RunRecord{
		ID:           "run-1",
		Question:     "What is Docker?",
		Status:       StatusComplete,
		Plan:         "Search the web.",
		ToolSequence: []string{"web_search"},
		Answer:       "**Summary**",
		Confidence:   0.8,
		Citations:    []core.Citation{{Marker: "#1", Title: "Docker overview", URL: "https://docs.docker.com/", Tool: tools.WebSearch}},
		Findings:     []core.Finding{{Claim: "Docker overview", Evidence: "Docker is an open platform.", Source: "#1"}},
		Critique:     &core.Critique{Issues: []core.Issue{}, Fixes: []string{"cite the release date"}, QualityScore: 0.75},
		Iterations:   1,
		StartedAt:    started,
		FinishedAt:   started.Add(3 * time.Second),
	}
	events := []EventRecord{
		{Seq: 1, Type: "phase_start", Phase: "orchestrator", Payload: []byte(`{}`), OccurredAt: started},
		{Seq: 2, Type: "pipeline_complete", Payload: []byte(`{}`), OccurredAt: rec.FinishedAt},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(upsertRunSQL)).
		WithArgs(rec.ID, rec.Question, rec.Context, rec.FastMode, rec.Status,
			nil, nil, nil, rec.Plan, sqlmock.AnyArg(),
			rec.Answer, rec.Confidence, rec.Unanswerable, sqlmock.AnyArg(), rec.FindingsCount,
			nil, rec.Iterations, rec.StartedAt, rec.FinishedAt, []byte(`[{"claim":"Docker overview","evidence":"Docker is an open platform.","source":"#1"}]`), []byte(`{"issues":[],"fixes":["cite the release date"],"quality_score":0.75}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	for _, ev := range events {
		mock.ExpectExec(`INSERT INTO research_run_events`).
			WithArgs("run-1", ev.Seq, ev.Type, ev.Phase, ev.Payload, ev.OccurredAt).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	if err := st.SaveRun(context.Background(), rec, events); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveRunRollsBackOnEventFailure(t *testing.T) {
	st, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO research_runs`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO research_run_events`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := st.SaveRun(context.Background(), RunRecord{ID: "run-1", Status: StatusFailed}, []EventRecord{{Seq: 1, Type: "error"}})
	if err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveRunRequiresID(t *testing.T) {
	st := &Store{}
	if err := st.SaveRun(context.Background(), RunRecord{}, nil); err == nil {
		t.Fatal("expected error for empty run id")
	}
}

func TestGetRun(t *testing.T) {
	st, mock := newMock(t)
	started := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	kind := "ResearchError"
	rows := sqlmock.NewRows(runColumns).AddRow(
		"run-2", "Q", "", true, StatusFailed, kind, "all 1 tools failed", "researcher", "plan", "{web_search,retriever}",
		"", 0.0, false, []byte(`[]`), 0, nil, 1, started, started.Add(time.Second), []byte(`[]`), nil)
	mock.ExpectQuery(`FROM research_runs WHERE id=\$1`).WithArgs("run-2").WillReturnRows(rows)

	rec, err := st.GetRun(context.Background(), "run-2")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if rec.Status != StatusFailed || rec.ErrorKind == nil || *rec.ErrorKind != kind {
		t.Fatalf("unexpected record %+v", rec)
	}
	if len(rec.ToolSequence) != 2 || rec.ToolSequence[1] != "retriever" {
		t.Fatalf("tool sequence = %v", rec.ToolSequence)
	}
	if rec.QualityScore != nil || rec.Critique != nil {
		t.Fatalf("fast run has no review")
	}
	if rec.Duration() != time.Second {
		t.Fatalf("duration = %s", rec.Duration())
	}
}

func TestGetRunNotFound(t *testing.T) {
	st, mock := newMock(t)
	mock.ExpectQuery(`FROM research_runs WHERE id=\$1`).WithArgs("missing").WillReturnRows(sqlmock.NewRows(runColumns))
	if _, err := st.GetRun(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListRuns(t *testing.T) {
	st, mock := newMock(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows(runColumns).
		AddRow("b", "Q2", "", false, StatusComplete, nil, nil, nil, "p", "{web_search}", "A", 0.7, false,
			[]byte(`[{"marker":"#1","title":"T","url":"https://e.com"}]`), 3, 0.9, 1, now, now,
			[]byte(`[{"claim":"C","evidence":"E","source":"#1"}]`), []byte(`{"issues":[{"issue_type":"ambiguous_claim","description":"vague"}],"fixes":[],"quality_score":0.9}`)).
		AddRow("a", "Q1", "", false, StatusComplete, nil, nil, nil, "p", "{}", "A", 0.5, false, []byte(`[]`), 1, 0.6, 2, now, now, []byte(`[]`), nil)
	mock.ExpectQuery(`FROM research_runs WHERE status=\$1 ORDER BY finished_at DESC LIMIT \$2`).
		WithArgs(StatusComplete, 50).WillReturnRows(rows)

	runs, err := st.ListRuns(context.Background(), 0, StatusComplete)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "b" {
		t.Fatalf("unexpected runs %+v", runs)
	}
	if len(runs[0].Citations) != 1 || runs[0].Citations[0].Marker != "#1" {
		t.Fatalf("citations not decoded: %+v", runs[0].Citations)
	}
	if runs[1].QualityScore == nil || *runs[1].QualityScore != 0.6 {
		t.Fatalf("quality score not decoded")
	}
	if len(runs[0].Findings) != 1 || runs[0].Findings[0].Source != "#1" {
		t.Fatalf("findings not decoded: %+v", runs[0].Findings)
	}
	if runs[0].Critique == nil || len(runs[0].Critique.Issues) != 1 || runs[0].Critique.QualityScore != 0.9 {
		t.Fatalf("critique not decoded: %+v", runs[0].Critique)
	}
	if runs[1].Critique != nil {
		t.Fatalf("a run without review must keep a nil critique")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRunEvents(t *testing.T) {
	st, mock := newMock(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"run_id", "seq", "type", "phase", "payload", "occurred_at"}).
		AddRow("r", 1, "phase_start", "orchestrator", []byte(`{}`), now).
		AddRow("r", 2, "error", "orchestrator", []byte(`{}`), now)
	mock.ExpectQuery(`FROM research_run_events WHERE run_id=\$1 ORDER BY seq`).WithArgs("r").WillReturnRows(rows)

	events, err := st.RunEvents(context.Background(), "r")
	if err != nil {
		t.Fatalf("RunEvents: %v", err)
	}
	if len(events) != 2 || events[1].Type != "error" {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestPruneRuns(t *testing.T) {
	st, mock := newMock(t)
	cutoff := time.Now().Add(-30 * 24 * time.Hour)
	mock.ExpectExec(`DELETE FROM research_runs WHERE finished_at < \$1`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 4))

	deleted, err := st.PruneRuns(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("PruneRuns: %v", err)
	}
	if deleted != 4 {
		t.Fatalf("expected 4 runs pruned, got %d", deleted)
	}
	if _, err := (&Store{}).PruneRuns(context.Background(), time.Time{}); err == nil {
		t.Fatal("expected error for zero cutoff")
	}
}
