package streams

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/research-assistant/internal/agent/core"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	publishMetricsOnce sync.Once
	publishedEvents    otelmetric.Int64Counter
	rejectedEvents     otelmetric.Int64Counter
)

func initPublishMetrics() {
	meter := otel.Meter("research-assistant/queue/streams")
	publishedEvents, _ = meter.Int64Counter("research_events_published_total",
		otelmetric.WithDescription("Pipeline events appended to the event stream"))
	rejectedEvents, _ = meter.Int64Counter("research_events_rejected_total",
		otelmetric.WithDescription("Pipeline events rejected by schema validation or Redis"))
}

// Publisher appends research events to one Redis stream.
type Publisher struct {
	client   *redis.Client
	registry *SchemaRegistry
	stream   string
	maxLen   int64
}

// NewPublisher creates a Publisher for stream. maxLen > 0 trims the stream
// approximately to that length on every append.
func NewPublisher(client *redis.Client, registry *SchemaRegistry, stream string, maxLen int64) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	if stream == "" {
		return nil, fmt.Errorf("stream name is required")
	}
	publishMetricsOnce.Do(initPublishMetrics)
	return &Publisher{client: client, registry: registry, stream: stream, maxLen: maxLen}, nil
}

// Stream returns the stream name.
func (p *Publisher) Stream() string { return p.stream }

// Publish validates the envelope and appends it to the stream.
func (p *Publisher) Publish(ctx context.Context, envelope Envelope) (string, error) {
	if envelope.EventID == "" {
		envelope.EventID = uuid.NewString()
	}
	if envelope.OccurredAt.IsZero() {
		envelope.OccurredAt = time.Now().UTC()
	}
	attrs := otelmetric.WithAttributes(attribute.String("event_type", envelope.EventType))
	raw, err := envelope.Marshal()
	if err == nil && p.registry != nil {
		err = p.registry.Validate(envelope.EventType, envelope.PayloadVersion, envelope.Data)
	}
	if err != nil {
		rejectedEvents.Add(ctx, 1, attrs)
		return "", err
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{"envelope": raw},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		rejectedEvents.Add(ctx, 1, attrs)
		return "", fmt.Errorf("xadd: %w", err)
	}
	publishedEvents.Add(ctx, 1, attrs)
	return id, nil
}

// PublishEvent wraps a pipeline event in an envelope and publishes it.
func (p *Publisher) PublishEvent(ctx context.Context, ev core.Event) (string, error) {
	env, err := EnvelopeFor(ev)
	if err != nil {
		return "", err
	}
	return p.Publish(ctx, env)
}

// EnvelopeFor builds the stream envelope of a pipeline event.
func EnvelopeFor(ev core.Event) (Envelope, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal event: %w", err)
	}
	return Envelope{
		EventID:        fmt.Sprintf("%s-%d", ev.RunID, ev.Seq),
		EventType:      EventTypePrefix + string(ev.Type),
		RunID:          ev.RunID,
		Seq:            ev.Seq,
		OccurredAt:     ev.Timestamp,
		PayloadVersion: PayloadVersion,
		Data:           data,
	}, nil
}

// Sink publishes every event of a run. Token events are skipped unless
// enabled, since they multiply stream traffic.
type Sink struct {
	publisher *Publisher
	tokens    bool
}

func NewSink(p *Publisher, includeTokens bool) *Sink {
	return &Sink{publisher: p, tokens: includeTokens}
}

func (s *Sink) Send(ctx context.Context, ev core.Event) error {
	if ev.Type == core.EventToken && !s.tokens {
		return nil
	}
	_, err := s.publisher.PublishEvent(ctx, ev)
	return err
}
