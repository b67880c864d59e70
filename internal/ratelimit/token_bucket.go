package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenBucket is a token bucket shared by every worker through Redis.
type TokenBucket struct {
	client   redis.Scripter
	prefix   string
	capacity int
	refill   float64 // tokens per second
	ttl      time.Duration
	now      func() time.Time
}

// NewTokenBucket builds a bucket that holds capacity tokens and regains all of
// them over period. Keys are namespaced under prefix.
func NewTokenBucket(client redis.Scripter, prefix string, capacity int, period time.Duration) *TokenBucket {
	if capacity < 1 {
		capacity = 1
	}
	refill := 0.0
	if period > 0 {
		refill = float64(capacity) / period.Seconds()
	}
	return &TokenBucket{
		client:   client,
		prefix:   prefix,
		capacity: capacity,
		refill:   refill,
		ttl:      period,
		now:      time.Now,
	}
}

// SetClock replaces the time source passed to the script; used by tests.
func (b *TokenBucket) SetClock(now func() time.Time) {
	b.now = now
}

// Allow consumes a token for key if one is available.
// Returns allowed flag and the tokens left.
func (b *TokenBucket) Allow(ctx context.Context, key string) (bool, float64, error) {
	res, err := bucketScript.Run(ctx, b.client, []string{b.prefix + key},
		b.capacity, b.refill, b.now().UnixMilli(), b.ttl.Milliseconds()).Result()
	if err != nil {
		return false, 0, fmt.Errorf("token bucket %s: %w", key, err)
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return false, 0, fmt.Errorf("token bucket %s: unexpected reply %v", key, res)
	}
	allowed, _ := arr[0].(int64)
	var tokens float64
	switch v := arr[1].(type) {
	case int64:
		tokens = float64(v)
	case string:
		tokens, _ = strconv.ParseFloat(v, 64)
	}
	return allowed == 1, tokens, nil
}

// NotifyThrottle limits notifications per owner. Redis errors let the
// notification through.
type NotifyThrottle struct {
	bucket *TokenBucket
}

func NewNotifyThrottle(client redis.Scripter, capacity int, period time.Duration) *NotifyThrottle {
	return &NotifyThrottle{bucket: NewTokenBucket(client, "petsim:notify:", capacity, period)}
}

// SetClock forwards to the underlying bucket.
func (t *NotifyThrottle) SetClock(now func() time.Time) {
	t.bucket.SetClock(now)
}

// AllowOwner reports whether ownerID may receive another notification now.
// err is informational; allowed is true whenever the bucket could not be read.
func (t *NotifyThrottle) AllowOwner(ctx context.Context, ownerID int64) (bool, error) {
	allowed, _, err := t.bucket.Allow(ctx, fmt.Sprintf("owner:%d", ownerID))
	if err != nil {
		return true, err
	}
	return allowed, nil
}

// Fractional token counts come back as strings so the Lua number survives the
// integer reply conversion.
var bucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2]) -- tokens per second
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'tokens', 'last_ms')
local tokens = tonumber(data[1])
local last = tonumber(data[2])
if tokens == nil then tokens = capacity end
if last == nil then last = now end

local delta = math.max(0, now - last)
local add = delta / 1000 * refill
tokens = math.min(capacity, tokens + add)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call('HSET', key, 'tokens', tostring(tokens), 'last_ms', now)
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
return {allowed, tostring(tokens)}
`)
