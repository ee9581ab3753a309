package backendclient

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/MasslessAI/push-claude-plugin/internal/contracts"
)

// lifecycleChannel is the pub/sub channel lifecycle events are published
// on when an optional event bus is configured.
const lifecycleChannel = "push.lifecycle"

// RedisEventSink publishes lifecycle events to a Redis pub/sub channel.
// Configured via PUSH_EVENTS_REDIS_URL; nil by default. The bus is
// optional infrastructure, never a hard dependency of the scheduler loop.
type RedisEventSink struct {
	client *redis.Client
}

var _ contracts.EventSink = (*RedisEventSink)(nil)

// NewRedisEventSink connects to a Redis server at the given URL (e.g.
// "redis://localhost:6379/0").
func NewRedisEventSink(url string) (*RedisEventSink, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return &RedisEventSink{client: redis.NewClient(opts)}, nil
}

func (s *RedisEventSink) Publish(ctx context.Context, event contracts.LifecycleEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal lifecycle event: %w", err)
	}
	return s.client.Publish(ctx, lifecycleChannel, payload).Err()
}

func (s *RedisEventSink) Close() error {
	return s.client.Close()
}

// NATSEventSink publishes lifecycle events to a NATS subject, the
// alternative transport for the same optional fan-out.
type NATSEventSink struct {
	conn *nats.Conn
}

var _ contracts.EventSink = (*NATSEventSink)(nil)

// NewNATSEventSink connects to a NATS server at the given URL.
func NewNATSEventSink(url string) (*NATSEventSink, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	return &NATSEventSink{conn: conn}, nil
}

func (s *NATSEventSink) Publish(ctx context.Context, event contracts.LifecycleEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal lifecycle event: %w", err)
	}
	return s.conn.Publish(lifecycleChannel, payload)
}

func (s *NATSEventSink) Close() {
	s.conn.Close()
}
