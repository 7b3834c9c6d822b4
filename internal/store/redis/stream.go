package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/emperorhan/signal-controller/internal/render"
)

const defaultMaxLen = 10000

// EventStream appends render envelopes to a Redis stream so out-of-process
// dashboards can tail the controller. It implements render.Sink.
type EventStream struct {
	client *redis.Client
	stream string
	maxLen int64
}

// StreamEntry is one envelope read back from the stream.
type StreamEntry struct {
	StreamID string
	ID       string
	Type     string
	At       time.Time
	Data     string
}

func NewEventStream(url, stream string, maxLen int64) (*EventStream, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return newEventStream(client, stream, maxLen), nil
}

func newEventStream(client *redis.Client, stream string, maxLen int64) *EventStream {
	if maxLen <= 0 {
		maxLen = defaultMaxLen
	}
	return &EventStream{client: client, stream: stream, maxLen: maxLen}
}

func (s *EventStream) Name() string { return "redis" }

func (s *EventStream) Write(ctx context.Context, env render.Envelope) error {
	values, err := envelopeValues(env)
	if err != nil {
		return err
	}
	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}

// Latest returns up to count entries, newest first.
func (s *EventStream) Latest(ctx context.Context, count int64) ([]StreamEntry, error) {
	msgs, err := s.client.XRevRangeN(ctx, s.stream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("xrevrange %s: %w", s.stream, err)
	}
	out := make([]StreamEntry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, entryFromValues(m.ID, m.Values))
	}
	return out, nil
}

func (s *EventStream) Close() error {
	return s.client.Close()
}

func envelopeValues(env render.Envelope) (map[string]any, error) {
	data, err := env.MarshalData()
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", env.Type, err)
	}
	return map[string]any{
		"id":   env.ID,
		"type": string(env.Type),
		"at":   env.At.UTC().Format(time.RFC3339Nano),
		"data": string(data),
	}, nil
}

func entryFromValues(streamID string, values map[string]any) StreamEntry {
	e := StreamEntry{StreamID: streamID}
	e.ID, _ = values["id"].(string)
	e.Type, _ = values["type"].(string)
	e.Data, _ = values["data"].(string)
	if at, ok := values["at"].(string); ok {
		e.At, _ = time.Parse(time.RFC3339Nano, at)
	}
	return e
}
