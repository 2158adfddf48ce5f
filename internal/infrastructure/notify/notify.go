package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/recap-app/recap/pkg/config"
)

// Event names broadcast to UI clients
const (
	EventRecordingStateChanged = "recording.state_changed"
	EventPipelineStageChanged  = "pipeline.stage_changed"
	EventTranscriptReady       = "transcript.ready"
	EventTranscriptFailed      = "transcript.failed"
	EventSummaryReady          = "summary.ready"
)

// Payload carries event-specific fields
type Payload map[string]interface{}

// Notifier broadcasts state changes to interested clients. Broadcasting is
// best effort; a failed publish never blocks or fails the operation that
// triggered it.
type Notifier interface {
	Publish(ctx context.Context, event string, payload Payload) error
	Close() error
}

// NoopNotifier drops all events. Used when Redis is disabled.
type NoopNotifier struct{}

func (NoopNotifier) Publish(ctx context.Context, event string, payload Payload) error { return nil }
func (NoopNotifier) Close() error                                                     { return nil }

// channel all events are published on
const eventChannel = "recap:events"

// RedisNotifier publishes events on a Redis pub/sub channel
type RedisNotifier struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisNotifier connects to Redis and verifies the connection
func NewRedisNotifier(cfg *config.Config, logger *zap.Logger) (*RedisNotifier, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.GetRedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisNotifier{client: client, logger: logger}, nil
}

type envelope struct {
	Event   string  `json:"event"`
	Payload Payload `json:"payload,omitempty"`
	Time    string  `json:"time"`
}

// Publish sends one event. Marshalling or publish errors are logged and
// returned, but callers are expected to ignore them.
func (n *RedisNotifier) Publish(ctx context.Context, event string, payload Payload) error {
	data, err := json.Marshal(envelope{
		Event:   event,
		Payload: payload,
		Time:    time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	if err := n.client.Publish(ctx, eventChannel, data).Err(); err != nil {
		n.logger.Warn("event publish failed",
			zap.String("event", event),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// Close releases the Redis connection
func (n *RedisNotifier) Close() error {
	return n.client.Close()
}
