//go:build integration

package memory

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"
)

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(ctx) })
	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	opts, err := redis.ParseURL("redis://" + endpoint)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	t.Cleanup(func() { rdb.Close() })

	s := NewRedisStore(rdb, "", zap.NewNop())
	_, err = s.Remember(ctx, "Birthday", "march 3")
	require.NoError(t, err)
	f, err := s.Remember(ctx, "birthday", "march 4")
	require.NoError(t, err)
	assert.Equal(t, "march 4", f.Value)

	got, err := s.Recall(ctx, "birthday", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].AccessCount)

	got, err = s.Recall(ctx, "birthday", 5)
	require.NoError(t, err)
	assert.Equal(t, 2, got[0].AccessCount)

	found, err := s.Forget(ctx, "birthday")
	require.NoError(t, err)
	assert.True(t, found)
	n, err := rdb.HLen(ctx, DefaultRedisKey).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}
