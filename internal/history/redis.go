package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/unknown-world/pkg/chat"
)

// RedisStore keeps each session as a capped list at history:{session_id}
// so replicas share it.
type RedisStore struct {
	client *redis.Client
	opts   Options
	logger *slog.Logger
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(client *redis.Client, opts Options, logger *slog.Logger) *RedisStore {
	return &RedisStore{client: client, opts: opts.withDefaults(), logger: logger}
}

func key(sessionID string) string {
	return "history:" + sessionID
}

func (r *RedisStore) Name() string { return "redis" }

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) AddTurn(ctx context.Context, sessionID string, ex chat.Exchange) error {
	data, err := json.Marshal(ex)
	if err != nil {
		return fmt.Errorf("failed to marshal exchange: %w", err)
	}
	k := key(sessionID)
	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, k, data)
	pipe.LTrim(ctx, k, int64(-r.opts.MaxTurns), -1)
	pipe.Expire(ctx, k, r.opts.TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Error("Redis history append failed", "key", k, "error", err)
		return fmt.Errorf("redis history append failed: %w", err)
	}
	return nil
}

func (r *RedisStore) GetContents(ctx context.Context, sessionID string) ([]chat.Message, error) {
	k := key(sessionID)
	raw, err := r.client.LRange(ctx, k, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis history read failed: %w", err)
	}
	turns := make([]chat.Exchange, 0, len(raw))
	for _, item := range raw {
		var ex chat.Exchange
		if err := json.Unmarshal([]byte(item), &ex); err != nil {
			r.logger.Warn("Skipping corrupt history entry", "key", k, "error", err)
			continue
		}
		turns = append(turns, ex)
	}
	return flatten(window(turns, r.opts)), nil
}

func (r *RedisStore) Clear(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, key(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis history clear failed: %w", err)
	}
	return nil
}
