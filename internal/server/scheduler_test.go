package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewSchedulerRejectsBadSpec(t *testing.T) {
	_, err := NewScheduler("every day", "docs", &fakeKB{}, nil, nil)
	require.ErrorContains(t, err, "knowledge.refresh_cron")
}

func TestSchedulerNext(t *testing.T) {
	s, err := NewScheduler("0 */6 * * *", "docs", &fakeKB{}, nil, nil)
	require.NoError(t, err)
	base := time.Date(2025, 1, 1, 7, 30, 0, 0, time.UTC)
	require.Equal(t, time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC), s.Next(base))
}

func TestSchedulerTickIngestsSources(t *testing.T) {
	kb := &fakeKB{}
	s, err := NewScheduler("@hourly", "sources", kb, nil, nil)
	require.NoError(t, err)
	s.tick(context.Background())
	require.Equal(t, []string{"sources"}, kb.pathCalls())
}

func TestSchedulerStartStop(t *testing.T) {
	s, err := NewScheduler("@yearly", "sources", &fakeKB{}, nil, nil)
	require.NoError(t, err)
	s.Start(context.Background())
	s.Stop()
}
