package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/seatledger/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBucket(t *testing.T) *TokenBucket {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewTokenBucket(client)
}

func TestPublicLimiterExhaustsBurst(t *testing.T) {
	limiter, err := NewPublicLimiter(newBucket(t), config.RateLimitConfig{Rate: 0.01, Burst: 3})
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		res, err := limiter.Allow(ctx, "view", "203.0.113.7")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d", i)
	}

	res, err := limiter.Allow(ctx, "view", "203.0.113.7")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Positive(t, res.RetryAfter)

	other, err := limiter.Allow(ctx, "view", "198.51.100.2")
	require.NoError(t, err)
	assert.True(t, other.Allowed)

	pay, err := limiter.Allow(ctx, "pay", "203.0.113.7")
	require.NoError(t, err)
	assert.True(t, pay.Allowed)
}

func TestNilPublicLimiterAllows(t *testing.T) {
	var limiter *PublicLimiter
	res, err := limiter.Allow(context.Background(), "view", "203.0.113.7")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestPublicLimiterRejectsBadConfig(t *testing.T) {
	_, err := NewPublicLimiter(newBucket(t), config.RateLimitConfig{Rate: 0, Burst: 1})
	assert.ErrorIs(t, err, ErrInvalidBucket)

	limiter, err := NewPublicLimiter(nil, config.RateLimitConfig{Rate: 1, Burst: 1})
	assert.NoError(t, err)
	assert.Nil(t, limiter)
}

func TestTokenBucketTake(t *testing.T) {
	bucket := newBucket(t)
	ctx := context.Background()

	first, err := bucket.Take(ctx, "k", 1, 2)
	require.NoError(t, err)
	assert.True(t, first.Allowed)
	assert.InDelta(t, 1, first.Remaining, 0.1)

	_, err = bucket.Take(ctx, "", 1, 2)
	assert.ErrorIs(t, err, ErrEmptyKey)

	_, err = bucket.Take(ctx, "k", 1, 0)
	assert.ErrorIs(t, err, ErrInvalidBucket)
}

func TestIdleTTL(t *testing.T) {
	assert.Equal(t, 60*time.Second, idleTTL(1, 30))
	assert.Equal(t, time.Second, idleTTL(100, 1))
}
