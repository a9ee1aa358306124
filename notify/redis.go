package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// envelope is the wire format published to Redis channels.
type envelope struct {
	Event     string    `json:"event"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RedisNotifier publishes events on Redis pub/sub channels. Channels are
// namespaced with the configured prefix.
type RedisNotifier struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisNotifier wraps a Redis client for publishing.
func NewRedisNotifier(client *redis.Client, prefix string, logger *zap.Logger) *RedisNotifier {
	if prefix == "" {
		prefix = "conductor"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisNotifier{
		client: client,
		prefix: prefix,
		logger: logger.With(zap.String("component", "redis_notifier")),
	}
}

func (n *RedisNotifier) Publish(ctx context.Context, channel, event string, payload any) error {
	data, err := json.Marshal(envelope{
		Event:     event,
		Payload:   payload,
		Timestamp: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event, err)
	}
	if err := n.client.Publish(ctx, n.prefix+":"+channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", event, err)
	}
	n.logger.Debug("event published",
		zap.String("channel", channel),
		zap.String("event", event),
	)
	return nil
}
