package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/settlr/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestDisabledSubmitLimiterAllows(t *testing.T) {
	limiter, err := NewSubmitLimiter(config.Config{}, nil)
	require.NoError(t, err)
	assert.Nil(t, limiter)

	res, err := limiter.AllowTenant(context.Background(), "t1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestSubmitLimiterRequiresRedis(t *testing.T) {
	_, err := NewSubmitLimiter(config.Config{RateLimit: config.RateLimitConfig{Enabled: true, SubmitRate: 1, SubmitBurst: 1}}, nil)
	assert.Error(t, err)
}

func TestNilLocker(t *testing.T) {
	var l *Locker
	_, ok, err := l.TryLock(context.Background(), "k", time.Second)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrLockNotConfigured)
	assert.NoError(t, l.Release(context.Background(), "k", "token"))
}

func TestLockerExclusive(t *testing.T) {
	client := redisClient(t)
	l := NewLocker(client)
	ctx := context.Background()
	key := "settlr:test:lock:" + time.Now().Format(time.RFC3339Nano)

	token, ok, err := l.TryLock(ctx, key, 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx, key, 5*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	// a foreign token does not release
	assert.ErrorIs(t, l.Release(ctx, key, "other"), ErrLockLost)
	_, ok, _ = l.TryLock(ctx, key, 5*time.Second)
	assert.False(t, ok)

	require.NoError(t, l.Release(ctx, key, token))
	_, ok, err = l.TryLock(ctx, key, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockerReportsExpiredHold(t *testing.T) {
	client := redisClient(t)
	l := NewLocker(client)
	ctx := context.Background()
	key := "settlr:test:expiry:" + time.Now().Format(time.RFC3339Nano)

	token, ok, err := l.TryLock(ctx, key, 20*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	time.Sleep(60 * time.Millisecond)

	assert.ErrorIs(t, l.Release(ctx, key, token), ErrLockLost)
}

func TestTokenBucketExhausts(t *testing.T) {
	client := redisClient(t)
	bucket := NewTokenBucket(client)
	ctx := context.Background()
	key := "settlr:test:bucket:" + time.Now().Format(time.RFC3339Nano)

	for i := 0; i < 2; i++ {
		res, err := bucket.Allow(ctx, key, 0.001, 2)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	res, err := bucket.Allow(ctx, key, 0.001, 2)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
}
