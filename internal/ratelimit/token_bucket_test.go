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

func newClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestTokenBucket(t *testing.T) {
	ctx := context.Background()
	_, client := newClient(t)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	bucket := NewTokenBucket(client, "test:", 2, 6*time.Hour)
	bucket.SetClock(func() time.Time { return now })

	allowed, _, err := bucket.Allow(ctx, "tenant")
	require.NoError(t, err)
	assert.True(t, allowed, "first token")
	allowed, tokens, err := bucket.Allow(ctx, "tenant")
	require.NoError(t, err)
	assert.True(t, allowed, "second token")
	assert.InDelta(t, 0, tokens, 1e-9)
	allowed, _, err = bucket.Allow(ctx, "tenant")
	require.NoError(t, err)
	assert.False(t, allowed, "third token should be rejected")

	// A little over half the period restores one of the two tokens.
	now = now.Add(3*time.Hour + time.Minute)
	allowed, _, err = bucket.Allow(ctx, "tenant")
	require.NoError(t, err)
	assert.True(t, allowed)
	allowed, _, err = bucket.Allow(ctx, "tenant")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestNotifyThrottle_PerOwner(t *testing.T) {
	ctx := context.Background()
	mr, client := newClient(t)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	th := NewNotifyThrottle(client, 2, 6*time.Hour)
	th.SetClock(func() time.Time { return now })

	for i := 0; i < 2; i++ {
		ok, err := th.AllowOwner(ctx, 1)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := th.AllowOwner(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok, "owner 1 exhausted")

	ok, err = th.AllowOwner(ctx, 2)
	require.NoError(t, err)
	assert.True(t, ok, "owner 2 has its own bucket")

	assert.True(t, mr.Exists("petsim:notify:owner:1"))
	assert.Equal(t, 6*time.Hour, mr.TTL("petsim:notify:owner:1"))
}

func TestNotifyThrottle_FailsOpen(t *testing.T) {
	mr, client := newClient(t)
	th := NewNotifyThrottle(client, 1, time.Hour)
	mr.Close()

	ok, err := th.AllowOwner(context.Background(), 7)
	assert.Error(t, err)
	assert.True(t, ok)
}
