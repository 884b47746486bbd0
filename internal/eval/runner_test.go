package eval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mohammad-safakhou/research-assistant/internal/agent/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const datasetYAML = `
name: smoke
questions:
  - question: What is Docker?
    category: technology
    difficulty: easy
    expected:
      answer_contains: [containers]
  - id: refuse
    question: What is my neighbour's salary?
    expected:
      answer_type: refusal
  - id: broken
    question: Trigger a failure
    expected:
      answer_type: error
  - id: recent
    question: Latest Go release?
    requires_recent: true
`

type fakePipeline struct {
	delay   time.Duration
	running atomic.Int32
	peak    atomic.Int32

	mu   sync.Mutex
	reqs []core.Request
}

func (f *fakePipeline) Run(ctx context.Context, req core.Request, _ ...core.Sink) (*core.Result, error) {
	n := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()

	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	switch req.Question {
	case "Trigger a failure":
		return nil, &core.StageError{Kind: core.KindResearch, Phase: core.PhaseResearcher, Err: errors.New("all tools failed")}
	case "What is my neighbour's salary?":
		return &core.Result{RunID: "r-refuse", Answer: "**Summary**\n\nThis question cannot be answered.", Unanswerable: true}, nil
	}
	state := &core.State{Findings: []core.Finding{{Claim: "Docker", Evidence: "Docker packages applications into containers and containers share the host kernel"}}}
	return &core.Result{
		RunID:      "r-" + req.Question,
		Answer:     "**Summary**\n\nDocker packages applications into containers [#1].\n\n- Containers share the kernel [#1]",
		Citations:  []core.Citation{{Marker: "#1", URL: "https://docs.docker.com/", Date: "2020-01-01"}},
		Confidence: 0.8,
		State:      state,
	}, nil
}

func TestParseDataset(t *testing.T) {
	ds, err := ParseDataset([]byte(datasetYAML))
	require.NoError(t, err)
	require.Equal(t, "smoke", ds.Name)
	require.Len(t, ds.Questions, 4)
	first := ds.Questions[0]
	assert.Equal(t, "q_1", first.ID)
	assert.Equal(t, AnswerNormal, first.Expected.AnswerType)
	assert.Equal(t, "unknown", ds.Questions[1].Category)
	assert.True(t, ds.Questions[3].RequiresRecent)
}

func TestParseDatasetRejectsBadInput(t *testing.T) {
	for name, doc := range map[string]string{
		"empty":          "name: x\n",
		"blank question": "questions:\n  - question: '  '\n",
		"duplicate id":   "questions:\n  - {id: a, question: one}\n  - {id: a, question: two}\n",
		"answer type":    "questions:\n  - question: q\n    expected: {answer_type: maybe}\n",
		"not yaml":       "questions: [",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseDataset([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestLoadDataset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ds.yaml")
	require.NoError(t, os.WriteFile(path, []byte(datasetYAML), 0o644))
	ds, err := LoadDataset(path)
	require.NoError(t, err)
	require.Len(t, ds.Questions, 4)

	_, err = LoadDataset(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestRunnerScoresDatasetConcurrently(t *testing.T) {
	ds, err := ParseDataset([]byte(datasetYAML))
	require.NoError(t, err)
	p := &fakePipeline{delay: 20 * time.Millisecond}

	rep, err := NewRunner(p, Options{Concurrency: 2, FastMode: true}, nil).Run(context.Background(), ds)
	require.NoError(t, err)
	require.LessOrEqual(t, p.peak.Load(), int32(2))
	require.Len(t, p.reqs, 4)
	for _, req := range p.reqs {
		assert.True(t, req.FastMode)
		assert.Equal(t, 5, req.MaxSources)
	}

	ids := make([]string, 0, len(rep.Results))
	for _, r := range rep.Results {
		ids = append(ids, r.ID)
	}
	require.Equal(t, []string{"q_1", "refuse", "broken", "recent"}, ids, "results keep dataset order")

	docker := rep.Results[0]
	assert.Equal(t, 1.0, docker.Scores.Answerability)
	assert.Equal(t, 1.0, docker.Scores.Completeness)
	assert.Equal(t, 1.0, docker.Scores.Faithfulness)
	assert.Equal(t, 1.0, docker.Scores.CitationCoverage)

	assert.Equal(t, 1.0, rep.Results[1].Scores.Answerability)

	broken := rep.Results[2]
	assert.True(t, broken.Failed())
	assert.Equal(t, "ResearchError", broken.ErrorKind)
	assert.Equal(t, 1.0, broken.Scores.Answerability)

	assert.Zero(t, rep.Results[3].Scores.Currency, "a 2020 citation is not recent")

	assert.Equal(t, 4, rep.Summary.Total)
	assert.Equal(t, 3, rep.Summary.Succeeded)
	assert.InDelta(t, 0.25, rep.Summary.ErrorRate, 1e-9)
	assert.Greater(t, rep.Summary.Overall, 0.0)
}

func TestRunnerStopsOnCancel(t *testing.T) {
	ds, err := ParseDataset([]byte(datasetYAML))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewRunner(&fakePipeline{delay: time.Second}, Options{}, nil).Run(ctx, ds)
	require.ErrorIs(t, err, context.Canceled)
}

func TestReportOutput(t *testing.T) {
	results := []Result{
		{ID: "a", Scores: Scores{1, 1, 1, 1, 1, 1}, Overall: 1, Confidence: 0.9, Seconds: 2},
		{ID: "b", Scores: Scores{0.5, 0, 0.5, 0.8, 0.5, 1}, Overall: 0.55, Confidence: 0.5, Seconds: 4},
		{ID: "c", Error: "boom", ErrorKind: "SynthesisError"},
	}
	rep := NewReport("unit", results)
	assert.InDelta(t, 0.7, rep.Summary.AverageConfidence, 1e-9)
	assert.InDelta(t, 3.0, rep.Summary.AverageSeconds, 1e-9)
	assert.InDelta(t, 0.775, rep.Summary.Overall, 1e-9)
	require.NoError(t, rep.Check(DefaultThreshold))
	require.ErrorIs(t, rep.Check(0.9), ErrBelowThreshold)

	var table bytes.Buffer
	require.NoError(t, rep.WriteTable(&table))
	assert.Contains(t, table.String(), "SynthesisError")
	assert.Contains(t, table.String(), "overall 0.775")

	var out bytes.Buffer
	require.NoError(t, rep.WriteJSON(&out))
	var decoded Report
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, 2, decoded.Summary.Succeeded)
	assert.Len(t, decoded.Results, 3)
}

func TestSummarizeWithoutSuccesses(t *testing.T) {
	s := Summarize([]Result{{ID: "x", Error: "boom"}})
	assert.Equal(t, 1.0, s.ErrorRate)
	assert.Zero(t, s.Overall)
	assert.Zero(t, Summarize(nil).Total)
}
