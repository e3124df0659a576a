package toolstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisKeyPrefix = "skillchat:toolstate:"

// RedisSnapshotter keeps tool state snapshots as JSON strings in Redis.
type RedisSnapshotter struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisSnapshotter stores snapshots with the given expiry; zero means they never expire.
func NewRedisSnapshotter(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisSnapshotter {
	return &RedisSnapshotter{rdb: rdb, ttl: ttl, logger: logger}
}

func (r *RedisSnapshotter) SaveToolState(ctx context.Context, s State) error {
	data, err := MarshalState(s)
	if err != nil {
		return err
	}
	key := redisKeyPrefix + s.ConversationID
	if err := r.rdb.Set(ctx, key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	r.logger.Debug("saved tool state", zap.String("conversation", s.ConversationID))
	return nil
}

func (r *RedisSnapshotter) LoadToolState(ctx context.Context, conversationID string) (State, bool, error) {
	key := redisKeyPrefix + conversationID
	data, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("load %s: %w", key, err)
	}
	s, err := UnmarshalState(data)
	if err != nil {
		return State{}, false, err
	}
	return s, true, nil
}

func (r *RedisSnapshotter) DeleteToolState(ctx context.Context, conversationID string) error {
	key := redisKeyPrefix + conversationID
	if err := r.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
