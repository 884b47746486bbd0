package streams

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// StreamStats summarises the event stream and, when a group is named, its
// consumer lag.
type StreamStats struct {
	Stream     string        `json:"stream"`
	Length     int64         `json:"length"`
	LastID     string        `json:"last_id,omitempty"`
	Group      string        `json:"group,omitempty"`
	Pending    int64         `json:"pending,omitempty"`
	Lag        int64         `json:"lag,omitempty"`
	Consumers  int64         `json:"consumers,omitempty"`
	OldestIdle time.Duration `json:"oldest_idle,omitempty"`
}

// Stats reads stream length and group lag. A missing stream reports zero length.
func Stats(ctx context.Context, client *redis.Client, stream, group string) (StreamStats, error) {
	if client == nil {
		return StreamStats{}, fmt.Errorf("redis client is nil")
	}
	st := StreamStats{Stream: stream, Group: group}
	info, err := client.XInfoStream(ctx, stream).Result()
	if err != nil {
		if isNoSuchKey(err) {
			return st, nil
		}
		return StreamStats{}, fmt.Errorf("xinfo stream: %w", err)
	}
	st.Length = info.Length
	st.LastID = info.LastGeneratedID
	if group == "" {
		return st, nil
	}

	groups, err := client.XInfoGroups(ctx, stream).Result()
	if err != nil {
		return StreamStats{}, fmt.Errorf("xinfo groups: %w", err)
	}
	st.Lag = -1
	for _, g := range groups {
		if g.Name != group {
			continue
		}
		st.Pending = g.Pending
		st.Lag = g.Lag
		st.Consumers = g.Consumers
	}
	if st.Pending > 0 {
		entries, err := client.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: stream, Group: group, Start: "-", End: "+", Count: 1,
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return StreamStats{}, fmt.Errorf("xpendingext: %w", err)
		}
		if len(entries) > 0 {
			st.OldestIdle = entries[0].Idle
		}
	}
	return st, nil
}

func isNoSuchKey(err error) bool {
	return err != nil && (errors.Is(err, redis.Nil) || err.Error() == "ERR no such key")
}
