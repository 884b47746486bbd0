package streams

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mohammad-safakhou/research-assistant/internal/agent/core"
	"github.com/redis/go-redis/v9"
)

// Message is one decoded stream entry.
type Message struct {
	ID       string
	Envelope Envelope
	Event    core.Event
}

// Consumer reads research events from a stream, either as a member of a
// consumer group or as a plain tail.
type Consumer struct {
	client   *redis.Client
	registry *SchemaRegistry
	stream   string
	group    string
	name     string
	block    time.Duration
	count    int64
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithGroup makes reads go through a consumer group.
func WithGroup(group, name string) ConsumerOption {
	return func(c *Consumer) { c.group, c.name = group, name }
}

// WithBlock sets the maximum blocking duration of one read.
func WithBlock(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if d > 0 {
			c.block = d
		}
	}
}

// WithCount caps the number of entries returned by one read.
func WithCount(n int64) ConsumerOption {
	return func(c *Consumer) {
		if n > 0 {
			c.count = n
		}
	}
}

func NewConsumer(client *redis.Client, registry *SchemaRegistry, stream string, opts ...ConsumerOption) *Consumer {
	c := &Consumer{client: client, registry: registry, stream: stream, block: 5 * time.Second, count: 100}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EnsureGroup creates the consumer group (and the stream) if missing.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	if c.group == "" {
		return fmt.Errorf("consumer group is not configured")
	}
	if err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "$").Err(); err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return fmt.Errorf("xgroup create: %w", err)
	}
	return nil
}

// Read returns the next batch. Without a group it reads entries after
// lastID ("$" for only new ones); with a group lastID is ignored and new
// entries for this consumer are returned. An empty batch after the block
// timeout is not an error.
func (c *Consumer) Read(ctx context.Context, lastID string) ([]Message, error) {
	var (
		res []redis.XStream
		err error
	)
	if c.group != "" {
		res, err = c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.name,
			Streams:  []string{c.stream, ">"},
			Count:    c.count,
			Block:    c.block,
		}).Result()
	} else {
		if lastID == "" {
			lastID = "$"
		}
		res, err = c.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{c.stream, lastID},
			Count:   c.count,
			Block:   c.block,
		}).Result()
	}
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", c.stream, err)
	}

	var out []Message
	for _, st := range res {
		for _, msg := range st.Messages {
			decoded, err := c.decode(msg)
			if err != nil {
				// Undecodable entries are acknowledged so they are not redelivered.
				_ = c.Ack(ctx, msg.ID)
				continue
			}
			out = append(out, decoded)
		}
	}
	return out, nil
}

// Ack acknowledges entries read through a group. It is a no-op otherwise.
func (c *Consumer) Ack(ctx context.Context, ids ...string) error {
	if c.group == "" || len(ids) == 0 {
		return nil
	}
	if err := c.client.XAck(ctx, c.stream, c.group, ids...).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	return nil
}

// Tail calls fn for every new event until ctx is done or fn returns an error.
func (c *Consumer) Tail(ctx context.Context, from string, fn func(Message) error) error {
	last := from
	for {
		msgs, err := c.Read(ctx, last)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		for _, m := range msgs {
			if err := fn(m); err != nil {
				return err
			}
			if err := c.Ack(ctx, m.ID); err != nil {
				return err
			}
			last = m.ID
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Consumer) decode(msg redis.XMessage) (Message, error) {
	raw, ok := msg.Values["envelope"]
	if !ok {
		return Message{}, fmt.Errorf("entry %s has no envelope", msg.ID)
	}
	var b []byte
	switch v := raw.(type) {
	case string:
		b = []byte(v)
	case []byte:
		b = v
	default:
		return Message{}, fmt.Errorf("entry %s: unexpected envelope type %T", msg.ID, raw)
	}
	env, err := UnmarshalEnvelope(b)
	if err != nil {
		return Message{}, err
	}
	if c.registry != nil {
		if err := c.registry.Validate(env.EventType, env.PayloadVersion, env.Data); err != nil {
			return Message{}, err
		}
	}
	var ev core.Event
	if err := json.Unmarshal(env.Data, &ev); err != nil {
		return Message{}, fmt.Errorf("decode event: %w", err)
	}
	return Message{ID: msg.ID, Envelope: env, Event: ev}, nil
}
