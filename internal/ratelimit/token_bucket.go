package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

var (
	ErrEmptyKey      = errors.New("rate limit key is empty")
	ErrInvalidBucket = errors.New("rate limit rate and burst must be positive")
)

// takeScript refills the bucket from the server clock, takes one token when
// available and returns {wait_ms, remaining}. remaining is sent back as a
// string so fractional tokens survive the Lua to RESP conversion.
const takeScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local clock = redis.call("TIME")
local now = clock[1] * 1000 + math.floor(clock[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or burst
local last = tonumber(state[2]) or now
local elapsed = math.max(0, now - last)
tokens = math.min(burst, tokens + elapsed * rate / 1000)

local wait = 0
if tokens >= 1 then
  tokens = tokens - 1
else
  wait = math.ceil((1 - tokens) * 1000 / rate)
end

redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)
return {wait, tostring(tokens)}
`

// Decision is the outcome of one take from a bucket.
type Decision struct {
	Allowed    bool
	Remaining  float64
	RetryAfter time.Duration
}

type TokenBucket struct {
	rdb    redis.Scripter
	script *redis.Script
}

func NewTokenBucket(rdb redis.Scripter) *TokenBucket {
	return &TokenBucket{rdb: rdb, script: redis.NewScript(takeScript)}
}

// Take removes one token from the bucket stored under key.
func (t *TokenBucket) Take(ctx context.Context, key string, rate float64, burst int) (Decision, error) {
	if key == "" {
		return Decision{}, ErrEmptyKey
	}
	if rate <= 0 || burst <= 0 {
		return Decision{}, ErrInvalidBucket
	}

	res, err := t.script.Run(ctx, t.rdb, []string{key}, rate, burst, idleTTL(rate, burst).Milliseconds()).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("run token bucket: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("token bucket: unexpected reply %v", res)
	}

	waitMs, _ := res[0].(int64)
	remaining, _ := strconv.ParseFloat(fmt.Sprint(res[1]), 64)
	return Decision{
		Allowed:    waitMs == 0,
		Remaining:  remaining,
		RetryAfter: time.Duration(waitMs) * time.Millisecond,
	}, nil
}

// idleTTL keeps a bucket around for twice the time it needs to refill.
func idleTTL(rate float64, burst int) time.Duration {
	seconds := math.Max(1, math.Ceil(2*float64(burst)/rate))
	return time.Duration(seconds) * time.Second
}
