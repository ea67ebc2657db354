package ratelimit

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Lua numbers come back truncated to integers, so the token count is returned
// as a string to keep its fraction.
var takeScript = redis.NewScript(`
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])

local t = redis.call("TIME")
local now = t[1] * 1000 + math.floor(t[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or burst
local ts = tonumber(state[2]) or now
if now > ts then
  tokens = math.min(burst, tokens + (now - ts) / 1000 * rate)
end

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], ARGV[3])
return {allowed, tostring(tokens)}
`)

var (
	ErrBucketNotConfigured = errors.New("bucket_not_configured")
	ErrBucketKeyEmpty      = errors.New("bucket_key_empty")
	ErrBucketInvalid       = errors.New("bucket_rate_or_burst_invalid")
)

// TokenBucket is a redis-side token bucket shared by every api replica.
type TokenBucket struct {
	client *redis.Client
}

type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  float64
	RetryAfter time.Duration
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{client: client}
}

// Allow takes one token from key, refilling at rate per second up to burst.
func (t *TokenBucket) Allow(ctx context.Context, key string, rate float64, burst int) (RateLimitResult, error) {
	switch {
	case t == nil || t.client == nil:
		return RateLimitResult{}, ErrBucketNotConfigured
	case key == "":
		return RateLimitResult{}, ErrBucketKeyEmpty
	case rate <= 0 || burst <= 0:
		return RateLimitResult{}, ErrBucketInvalid
	}

	res, err := takeScript.Run(ctx, t.client, []string{key}, rate, burst, bucketTTL(rate, burst).Milliseconds()).Slice()
	if err != nil {
		return RateLimitResult{}, err
	}
	if len(res) != 2 {
		return RateLimitResult{}, errors.New("token bucket: unexpected script reply")
	}
	allowed, _ := res[0].(int64)
	text, _ := res[1].(string)
	remaining, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return RateLimitResult{}, err
	}

	out := RateLimitResult{Allowed: allowed == 1, Limit: burst, Remaining: remaining}
	if !out.Allowed {
		out.RetryAfter = time.Duration((1 - remaining) / rate * float64(time.Second))
	}
	return out, nil
}

// bucketTTL outlives a full refill twice over so idle tenants expire.
func bucketTTL(rate float64, burst int) time.Duration {
	seconds := math.Max(1, math.Ceil(float64(burst)/rate*2))
	return time.Duration(seconds) * time.Second
}
