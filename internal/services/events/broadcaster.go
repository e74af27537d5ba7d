package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Envelope wraps one pipeline event for observers of a session.
type Envelope struct {
	SessionID   string          `json:"session_id"`
	RequestID   string          `json:"request_id,omitempty"`
	PublishedAt time.Time       `json:"published_at"`
	Event       json.RawMessage `json:"event"`
}

// Channel is the pub/sub channel for a session.
func Channel(sessionID string) string {
	return fmt.Sprintf("turn-events:%s", sessionID)
}

// Broadcaster publishes pipeline events to Redis Pub/Sub for SSE distribution
type Broadcaster struct {
	redisClient *redis.Client
	logger      *slog.Logger
}

// NewBroadcaster creates a new event broadcaster
func NewBroadcaster(redisClient *redis.Client, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		redisClient: redisClient,
		logger:      logger,
	}
}

// Publish sends event to the session channel. Failures are logged and
// returned; callers treat them as non-fatal.
func (b *Broadcaster) Publish(ctx context.Context, sessionID, requestID string, event any) error {
	if sessionID == "" {
		return nil
	}
	raw, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("Failed to marshal event", "error", err)
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	data, err := json.Marshal(Envelope{
		SessionID:   sessionID,
		RequestID:   requestID,
		PublishedAt: time.Now().UTC(),
		Event:       raw,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	channel := Channel(sessionID)
	if err := b.redisClient.Publish(ctx, channel, data).Err(); err != nil {
		b.logger.Error("Failed to publish event", "error", err, "channel", channel)
		return fmt.Errorf("failed to publish event: %w", err)
	}

	b.logger.Debug("Event published", "channel", channel, "request_id", requestID)
	return nil
}

// Subscribe opens a subscription to a session channel. The caller closes it.
func (b *Broadcaster) Subscribe(ctx context.Context, sessionID string) *redis.PubSub {
	return b.redisClient.Subscribe(ctx, Channel(sessionID))
}
