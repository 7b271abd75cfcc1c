package lock

import (
	"context"
	"os"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger/internal/core/apperror"
)

func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisLocker_ExclusiveUntilReleased(t *testing.T) {
	client := redisClient(t)
	ctx := context.Background()
	l := NewRedisLocker(client, Config{Prefix: "test:lock:" + t.Name() + ":", Wait: 100 * time.Millisecond, Poll: 10 * time.Millisecond})

	release, err := l.Acquire(ctx, "M1@W1")
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "M1@W1")
	assert.True(t, apperror.IsConcurrentModification(err))

	require.NoError(t, release(ctx))

	release, err = l.Acquire(ctx, "M1@W1")
	require.NoError(t, err)
	require.NoError(t, release(ctx))
}

func TestRedisLocker_EmptyKey(t *testing.T) {
	l := NewRedisLocker(nil, Config{})
	_, err := l.Acquire(context.Background(), "")
	assert.Error(t, err)
}
