package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/mohammad-safakhou/research-assistant/internal/agent/core"
)

// Run statuses.
const (
	StatusComplete = "complete"
	StatusRefused  = "refused"
	StatusFailed   = "failed"
)

// RunRecord is one finished run as persisted.
type RunRecord struct {
	ID            string          `json:"run_id"`
	Question      string          `json:"question"`
	Context       string          `json:"context,omitempty"`
	FastMode      bool            `json:"fast_mode"`
	Status        string          `json:"status"`
	ErrorKind     *string         `json:"error_kind,omitempty"`
	ErrorMessage  *string         `json:"error_message,omitempty"`
	ErrorPhase    *string         `json:"error_phase,omitempty"`
	Plan          string          `json:"plan,omitempty"`
	ToolSequence  []string        `json:"tool_sequence,omitempty"`
	Answer        string          `json:"answer,omitempty"`
	Confidence    float64         `json:"confidence"`
	Unanswerable  bool            `json:"unanswerable,omitempty"`
	Citations     []core.Citation `json:"citations"`
	FindingsCount int             `json:"findings_count"`
	Findings      []core.Finding  `json:"findings"`
	Critique      *core.Critique  `json:"critique,omitempty"`
	QualityScore  *float64        `json:"quality_score,omitempty"`
	Iterations    int             `json:"iterations"`
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    time.Time       `json:"finished_at"`
}

// Duration is the wall time of the run.
func (r RunRecord) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// EventRecord is one stored progress event.
type EventRecord struct {
	RunID      string
	Seq        int
	Type       string
	Phase      string
	Payload    []byte
	OccurredAt time.Time
}

const upsertRunSQL = `
INSERT INTO research_runs (id, question, context, fast_mode, status, error_kind, error_message, error_phase, plan, tool_sequence, answer, confidence, unanswerable, citations, findings_count, quality_score, iterations, started_at, finished_at, findings, critique)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
ON CONFLICT (id) DO UPDATE SET
  status = EXCLUDED.status,
  error_kind = EXCLUDED.error_kind,
  error_message = EXCLUDED.error_message,
  error_phase = EXCLUDED.error_phase,
  plan = EXCLUDED.plan,
  tool_sequence = EXCLUDED.tool_sequence,
  answer = EXCLUDED.answer,
  confidence = EXCLUDED.confidence,
  unanswerable = EXCLUDED.unanswerable,
  citations = EXCLUDED.citations,
  findings_count = EXCLUDED.findings_count,
  quality_score = EXCLUDED.quality_score,
  iterations = EXCLUDED.iterations,
  finished_at = EXCLUDED.finished_at,
  findings = EXCLUDED.findings,
  critique = EXCLUDED.critique;
`

const insertEventSQL = `INSERT INTO research_run_events (run_id, seq, type, phase, payload, occurred_at) VALUES ($1,$2,$3,$4,$5,$6) ON CONFLICT (run_id, seq) DO NOTHING`

const selectRunColumns = `SELECT id, question, context, fast_mode, status, error_kind, error_message, error_phase, plan, tool_sequence, answer, confidence, unanswerable, citations, findings_count, quality_score, iterations, started_at, finished_at, findings, critique FROM research_runs`

// SaveRun writes rec and its events in one transaction.
func (s *Store) SaveRun(ctx context.Context, rec RunRecord, events []EventRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("run_id must be provided")
	}
	citations := rec.Citations
	if citations == nil {
		citations = []core.Citation{}
	}
	citationsB, err := json.Marshal(citations)
	if err != nil {
		return fmt.Errorf("marshal citations: %w", err)
	}
	tools := rec.ToolSequence
	if tools == nil {
		tools = []string{}
	}
	findings := rec.Findings
	if findings == nil {
		findings = []core.Finding{}
	}
	findingsB, err := json.Marshal(findings)
	if err != nil {
		return fmt.Errorf("marshal findings: %w", err)
	}
	var critiqueB []byte
	if rec.Critique != nil {
		if critiqueB, err = json.Marshal(rec.Critique); err != nil {
			return fmt.Errorf("marshal critique: %w", err)
		}
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, upsertRunSQL,
		rec.ID, rec.Question, rec.Context, rec.FastMode, rec.Status,
		rec.ErrorKind, rec.ErrorMessage, rec.ErrorPhase, rec.Plan, pq.Array(tools),
		rec.Answer, rec.Confidence, rec.Unanswerable, citationsB, rec.FindingsCount,
		rec.QualityScore, rec.Iterations, rec.StartedAt, rec.FinishedAt, findingsB, critiqueB,
	); err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}
	for _, ev := range events {
		if _, err := tx.ExecContext(ctx, insertEventSQL, rec.ID, ev.Seq, ev.Type, ev.Phase, ev.Payload, ev.OccurredAt); err != nil {
			return fmt.Errorf("insert event %d: %w", ev.Seq, err)
		}
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (RunRecord, error) {
	var (
		rec       RunRecord
		tools     pq.StringArray
		citations []byte
		findings  []byte
		critique  []byte
	)
	if err := row.Scan(&rec.ID, &rec.Question, &rec.Context, &rec.FastMode, &rec.Status,
		&rec.ErrorKind, &rec.ErrorMessage, &rec.ErrorPhase, &rec.Plan, &tools,
		&rec.Answer, &rec.Confidence, &rec.Unanswerable, &citations, &rec.FindingsCount,
		&rec.QualityScore, &rec.Iterations, &rec.StartedAt, &rec.FinishedAt, &findings, &critique); err != nil {
		return RunRecord{}, err
	}
	rec.ToolSequence = []string(tools)
	if len(citations) > 0 {
		if err := json.Unmarshal(citations, &rec.Citations); err != nil {
			return RunRecord{}, fmt.Errorf("decode citations: %w", err)
		}
	}
	if len(findings) > 0 {
		if err := json.Unmarshal(findings, &rec.Findings); err != nil {
			return RunRecord{}, fmt.Errorf("decode findings: %w", err)
		}
	}
	if len(critique) > 0 {
		rec.Critique = &core.Critique{}
		if err := json.Unmarshal(critique, rec.Critique); err != nil {
			return RunRecord{}, fmt.Errorf("decode critique: %w", err)
		}
	}
	return rec, nil
}

// GetRun returns ErrNotFound for an unknown id.
func (s *Store) GetRun(ctx context.Context, id string) (RunRecord, error) {
	rec, err := scanRun(s.DB.QueryRowContext(ctx, selectRunColumns+` WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, ErrNotFound
	}
	return rec, err
}

// ListRuns returns the most recent runs first. status filters when non-empty.
func (s *Store) ListRuns(ctx context.Context, limit int, status string) ([]RunRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var (
		rows *sql.Rows
		err  error
	)
	if status != "" {
		rows, err = s.DB.QueryContext(ctx, selectRunColumns+` WHERE status=$1 ORDER BY finished_at DESC LIMIT $2`, status, limit)
	} else {
		rows, err = s.DB.QueryContext(ctx, selectRunColumns+` ORDER BY finished_at DESC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RunEvents returns the stored events of a run in order.
func (s *Store) RunEvents(ctx context.Context, id string) ([]EventRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT run_id, seq, type, phase, payload, occurred_at FROM research_run_events WHERE run_id=$1 ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EventRecord
	for rows.Next() {
		var ev EventRecord
		if err := rows.Scan(&ev.RunID, &ev.Seq, &ev.Type, &ev.Phase, &ev.Payload, &ev.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// PruneRuns deletes runs finished before cutoff and returns how many went.
func (s *Store) PruneRuns(ctx context.Context, cutoff time.Time) (int64, error) {
	if cutoff.IsZero() {
		return 0, fmt.Errorf("cutoff must be provided")
	}
	res, err := s.DB.ExecContext(ctx, `DELETE FROM research_runs WHERE finished_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
