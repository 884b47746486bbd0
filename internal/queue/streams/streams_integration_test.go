package streams

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mohammad-safakhou/research-assistant/internal/agent/core"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	redisC, err := tcRedis.RunContainer(ctx, testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")))
	if err != nil {
		t.Fatalf("redis container: %v", err)
	}
	t.Cleanup(func() { _ = redisC.Terminate(ctx) })
	host, err := redisC.Host(ctx)
	require.NoError(t, err)
	port, err := redisC.MappedPort(ctx, "6379")
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

var errStop = errors.New("stop")

func TestSinkPublishesAndConsumerTails(t *testing.T) {
	client := startRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	reg, err := NewResearchRegistry()
	require.NoError(t, err)
	pub, err := NewPublisher(client, reg, "research.events.test", 1000)
	require.NoError(t, err)
	sink := NewSink(pub, false)

	for _, ev := range sampleEvents()[:7] {
		require.NoError(t, sink.Send(ctx, ev))
	}

	stats, err := Stats(ctx, client, pub.Stream(), "")
	require.NoError(t, err)
	require.EqualValues(t, 6, stats.Length, "token events are not published")

	var got []core.EventType
	consumer := NewConsumer(client, reg, pub.Stream(), WithBlock(200*time.Millisecond))
	err = consumer.Tail(ctx, "0", func(m Message) error {
		got = append(got, m.Event.Type)
		if m.Event.Type.Terminal() {
			return errStop
		}
		return nil
	})
	require.ErrorIs(t, err, errStop)
	require.Equal(t, []core.EventType{
		core.EventPhaseStart, core.EventPhaseComplete, core.EventToolStart,
		core.EventToolEnd, core.EventPhaseSkip, core.EventPipelineComplete,
	}, got)
}

func TestPublisherRejectsInvalidEvent(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()
	reg, err := NewResearchRegistry()
	require.NoError(t, err)
	pub, err := NewPublisher(client, reg, "research.events.invalid", 0)
	require.NoError(t, err)

	bad := core.Event{Type: core.EventPhaseStart, RunID: "run-1", Seq: 1, Timestamp: time.Now().UTC()}
	_, err = pub.PublishEvent(ctx, bad)
	require.Error(t, err)

	stats, err := Stats(ctx, client, pub.Stream(), "")
	require.NoError(t, err)
	require.Zero(t, stats.Length)
}

func TestConsumerGroupAcks(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()
	reg, err := NewResearchRegistry()
	require.NoError(t, err)
	pub, err := NewPublisher(client, reg, "research.events.group", 0)
	require.NoError(t, err)

	consumer := NewConsumer(client, reg, pub.Stream(), WithGroup("archivers", "a1"), WithBlock(200*time.Millisecond))
	require.NoError(t, consumer.EnsureGroup(ctx))
	require.NoError(t, consumer.EnsureGroup(ctx), "EnsureGroup is idempotent")

	_, err = pub.PublishEvent(ctx, sampleEvents()[0])
	require.NoError(t, err)

	msgs, err := consumer.Read(ctx, "")
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	stats, err := Stats(ctx, client, pub.Stream(), "archivers")
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.Pending)

	require.NoError(t, consumer.Ack(ctx, msgs[0].ID))
	stats, err = Stats(ctx, client, pub.Stream(), "archivers")
	require.NoError(t, err)
	require.Zero(t, stats.Pending)
}
