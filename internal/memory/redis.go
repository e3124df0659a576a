package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultRedisKey is the hash holding all facts.
const DefaultRedisKey = "skillchat:memory"

// RedisStore keeps facts as JSON values in one Redis hash.
type RedisStore struct {
	rdb    *redis.Client
	key    string
	now    func() time.Time
	logger *zap.Logger
}

// NewRedisStore creates a RedisStore on hash key (DefaultRedisKey if empty).
func NewRedisStore(rdb *redis.Client, key string, logger *zap.Logger) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{rdb: rdb, key: key, now: time.Now, logger: logger}
}

// Remember implements Store.
func (r *RedisStore) Remember(ctx context.Context, key, value string) (Fact, error) {
	key = NormalizeKey(key)
	if key == "" {
		return Fact{}, ErrEmptyKey
	}
	now := r.now()
	f := Fact{Key: key, CreatedAt: now}
	raw, err := r.rdb.HGet(ctx, r.key, key).Bytes()
	switch {
	case err == nil:
		if err := json.Unmarshal(raw, &f); err != nil {
			r.logger.Warn("memory: replacing unreadable fact", zap.String("key", key), zap.Error(err))
			f = Fact{Key: key, CreatedAt: now}
		}
	case !errors.Is(err, redis.Nil):
		return Fact{}, fmt.Errorf("memory: read %s: %w", key, err)
	}
	f.Value = value
	f.UpdatedAt = now
	if err := r.put(ctx, f); err != nil {
		return Fact{}, err
	}
	return f, nil
}

func (r *RedisStore) put(ctx context.Context, f Fact) error {
	b, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("memory: marshal %s: %w", f.Key, err)
	}
	if err := r.rdb.HSet(ctx, r.key, f.Key, b).Err(); err != nil {
		return fmt.Errorf("memory: write %s: %w", f.Key, err)
	}
	return nil
}

// Recall implements Store. It loads the whole hash; the memory skill keeps
// a personal-scale fact list.
func (r *RedisStore) Recall(ctx context.Context, query string, limit int) ([]Fact, error) {
	all, err := r.rdb.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("memory: load facts: %w", err)
	}
	facts := make([]Fact, 0, len(all))
	for k, v := range all {
		var f Fact
		if err := json.Unmarshal([]byte(v), &f); err != nil {
			r.logger.Warn("memory: skipping unreadable fact", zap.String("key", k), zap.Error(err))
			continue
		}
		facts = append(facts, f)
	}
	out := rank(facts, query, limit, r.now())

	pipe := r.rdb.Pipeline()
	for i := range out {
		out[i].AccessCount++
		stored := out[i]
		stored.Score = 0
		b, _ := json.Marshal(stored)
		pipe.HSet(ctx, r.key, stored.Key, b)
	}
	if len(out) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			r.logger.Warn("memory: update access counts", zap.Error(err))
		}
	}
	return out, nil
}

// Forget implements Store.
func (r *RedisStore) Forget(ctx context.Context, key string) (bool, error) {
	n, err := r.rdb.HDel(ctx, r.key, NormalizeKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("memory: delete %s: %w", key, err)
	}
	return n > 0, nil
}
