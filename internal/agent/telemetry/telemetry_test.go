package telemetry

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	tel := New(reg, nil)

	tel.RecordRun(RunEvent{RunID: "a", Duration: 2 * time.Second, Outcome: "complete", Confidence: 0.8})
	tel.RecordRun(RunEvent{RunID: "b", Duration: 4 * time.Second, Outcome: "complete", Confidence: 0.6, FastMode: true})
	tel.RecordRun(RunEvent{RunID: "c", Duration: 6 * time.Second, Outcome: "ResearchError"})

	m := tel.GetMetrics()
	if m.TotalRuns != 3 || m.CompletedRuns != 2 || m.FailedRuns != 1 {
		t.Fatalf("unexpected counts %+v", m)
	}
	if m.AverageRunTime != 4*time.Second {
		t.Fatalf("average run time = %v", m.AverageRunTime)
	}
	if m.AverageConfidence < 0.699 || m.AverageConfidence > 0.701 {
		t.Fatalf("average confidence = %v", m.AverageConfidence)
	}
	if m.ErrorKinds["ResearchError"] != 1 {
		t.Fatalf("error kinds = %v", m.ErrorKinds)
	}
	if got := testutil.ToFloat64(tel.runs.WithLabelValues("complete", "fast")); got != 1 {
		t.Fatalf("runs_total{complete,fast} = %v", got)
	}
}

func TestRecordToolAndStage(t *testing.T) {
	tel := New(nil, nil)
	tel.RecordTool(ToolEvent{Tool: "web_search", Results: 3})
	tel.RecordTool(ToolEvent{Tool: "web_search", Err: errors.New("timeout")})
	tel.RecordTool(ToolEvent{Tool: "retriever", Empty: true})
	tel.RecordStage(StageEvent{Stage: "critic", Degraded: true})

	if got := testutil.ToFloat64(tel.toolCalls.WithLabelValues("web_search", "failure")); got != 1 {
		t.Fatalf("tool failures = %v", got)
	}
	if got := testutil.ToFloat64(tel.toolCalls.WithLabelValues("retriever", "empty")); got != 1 {
		t.Fatalf("tool empty = %v", got)
	}
	m := tel.GetMetrics()
	if m.ToolCalls["web_search"] != 2 || m.ToolFailures["web_search"] != 1 || m.ToolFailures["retriever"] != 0 {
		t.Fatalf("unexpected tool snapshot %+v", m)
	}
	if m.StageFailures["critic"] != 1 {
		t.Fatalf("expected degraded critic counted, got %v", m.StageFailures)
	}
}

func TestRecordLLM(t *testing.T) {
	tel := New(nil, nil)
	tel.RecordLLM(LLMEvent{Role: "synthesizer", Provider: "openai", Model: "gpt-4o-mini", InputTokens: 100, OutputTokens: 20, Success: true})
	if got := testutil.ToFloat64(tel.llmTokens.WithLabelValues("openai", "gpt-4o-mini", "output")); got != 20 {
		t.Fatalf("output tokens = %v", got)
	}
	if m := tel.GetMetrics(); m.LLMTokensUsed["gpt-4o-mini"] != 120 {
		t.Fatalf("tokens snapshot = %v", m.LLMTokensUsed)
	}
}

func TestNilTelemetryIsSafe(t *testing.T) {
	var tel *Telemetry
	tel.RecordRun(RunEvent{})
	tel.RecordStage(StageEvent{})
	tel.RecordTool(ToolEvent{})
	tel.RecordLLM(LLMEvent{})
	if tel.GetMetrics().TotalRuns != 0 {
		t.Fatalf("expected empty snapshot")
	}
}
