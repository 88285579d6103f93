package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucket(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	now := time.UnixMilli(1_700_000_000_000)
	bucket := NewTokenBucket(client, 2, 1, WithClock(func() time.Time { return now }))

	d, err := bucket.Allow(ctx, "learner-1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)

	d, err = bucket.Allow(ctx, "learner-1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = bucket.Allow(ctx, "learner-1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Second, d.RetryAfter)

	other, err := bucket.Allow(ctx, "learner-2")
	require.NoError(t, err)
	assert.True(t, other.Allowed, "buckets are per key")

	now = now.Add(500 * time.Millisecond)
	d, err = bucket.Allow(ctx, "learner-1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 500*time.Millisecond, d.RetryAfter)

	now = now.Add(500 * time.Millisecond)
	d, err = bucket.Allow(ctx, "learner-1")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "one token refilled after a second")
}

func TestTokenBucketUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	_, err = NewTokenBucket(client, 1, 1).Allow(context.Background(), "k")
	assert.Error(t, err)
}
