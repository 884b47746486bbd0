package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/research-assistant/internal/agent/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfidenceStyle(t *testing.T) {
	tests := []struct {
		conf float64
		want any
	}{
		{0.95, goodColor},
		{0.7, goodColor},
		{0.69, warnColor},
		{0.5, warnColor},
		{0.49, badColor},
		{0, badColor},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, confidenceStyle(tt.conf).GetForeground(), "confidence %.2f", tt.conf)
	}
}

func TestProgressSink(t *testing.T) {
	var buf bytes.Buffer
	sink := newProgressSink(&buf)
	findings, conf := 3, 0.82
	events := []core.Event{
		{Type: core.EventPhaseStart, Phase: core.PhaseResearcher, Iteration: 2},
		{Type: core.EventToolStart, Phase: core.PhaseResearcher, Tool: "web_search", Input: "docker\ncontainers"},
		{Type: core.EventToolEnd, Phase: core.PhaseResearcher, Tool: "web_search", Failed: true, Output: "timeout"},
		{Type: core.EventPhaseComplete, Phase: core.PhaseResearcher, FindingsCount: &findings},
		{Type: core.EventPhaseSkip, Phase: core.PhaseCritic, Reason: "fast_mode"},
		{Type: core.EventToken, Phase: core.PhaseSynthesizer, Content: "Dock"},
		{Type: core.EventToken, Phase: core.PhaseSynthesizer, Content: "er"},
		{Type: core.EventPipelineComplete, Confidence: &conf},
	}
	for _, ev := range events {
		require.NoError(t, sink.Send(context.Background(), ev))
	}
	out := buf.String()
	for _, want := range []string{"researcher (round 2)", "web_search docker containers", "✘ web_search", "3 findings", "critic skipped: fast_mode", "Docker\n", "complete confidence 0.82"} {
		assert.Contains(t, out, want)
	}
}

func TestDescribeError(t *testing.T) {
	line := describe(core.Event{Type: core.EventError, Error: &core.ErrorInfo{Kind: core.KindResearch, Message: "all tools failed"}})
	assert.Contains(t, line, "ResearchError")
	assert.Contains(t, line, "all tools failed")
	assert.Empty(t, describe(core.Event{Type: "unknown"}))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "a b", truncate(" a\n b ", 10))
	got := truncate(strings.Repeat("é", 20), 5)
	assert.Equal(t, 5, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "…"))
}
