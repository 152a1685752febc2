package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/calebmills99/guardrV6/internal/ratelimit"
)

// rateLimitPrefix is the Redis key prefix for admission buckets.
const rateLimitPrefix = "ratelimit:"

// tokenBucketScript is a Lua script implementing the token bucket algorithm.
// It's atomic and handles token refill and consumption in a single operation.
// Tokens are stored as a float so partial refills are not lost between calls.
var tokenBucketScript = redis.NewScript(`
	local key = KEYS[1]
	local rate = tonumber(ARGV[1])      -- tokens per millisecond
	local burst = tonumber(ARGV[2])     -- max tokens (bucket capacity)
	local now = tonumber(ARGV[3])       -- current time in milliseconds
	local ttl = tonumber(ARGV[4])       -- TTL in milliseconds

	-- Get current state
	local data = redis.call('HMGET', key, 'tokens', 'last_update')
	local tokens = tonumber(data[1]) or burst
	local last_update = tonumber(data[2]) or now
	if now < last_update then
		now = last_update
	end

	-- Refill tokens based on elapsed time
	local elapsed = now - last_update
	tokens = math.min(burst, tokens + (elapsed * rate))

	-- Check if request is allowed
	local allowed = 0
	if tokens >= 1 then
		tokens = tokens - 1
		allowed = 1
	end

	-- Update state
	redis.call('HSET', key, 'tokens', tostring(tokens), 'last_update', now)
	redis.call('PEXPIRE', key, ttl)

	return {allowed, tostring(tokens)}
`)

// Admit implements ratelimit.Admitter on a bucket shared by every instance
// using the same Redis. Errors are returned, never converted to a decision.
func (c *Cache) Admit(ctx context.Context, key string, q ratelimit.Quota) (ratelimit.Decision, error) {
	if !q.Valid() {
		return ratelimit.Decision{Allowed: false, Limit: q.Capacity}, nil
	}

	now := c.now()
	perMs := q.RefillPerMinute / float64(time.Minute/time.Millisecond)
	ttl := bucketTTL(q)

	res, err := tokenBucketScript.Run(ctx, c.client,
		[]string{rateLimitPrefix + hashKey(key)},
		perMs, q.Capacity, now.UnixMilli(), ttl.Milliseconds(),
	).Slice()
	if err != nil {
		return ratelimit.Decision{}, fmt.Errorf("token bucket: %w", err)
	}
	if len(res) != 2 {
		return ratelimit.Decision{}, fmt.Errorf("token bucket: unexpected reply %v", res)
	}

	allowed, _ := res[0].(int64)
	tokensStr, _ := res[1].(string)
	tokens, err := strconv.ParseFloat(tokensStr, 64)
	if err != nil {
		return ratelimit.Decision{}, fmt.Errorf("token bucket: parse tokens %q: %w", tokensStr, err)
	}

	return ratelimit.Decide(allowed == 1, q, tokens, now), nil
}

// bucketTTL is the time for an empty bucket to refill completely, plus a
// margin. A bucket that has not been touched for that long is full and can
// be dropped.
func bucketTTL(q ratelimit.Quota) time.Duration {
	secs := float64(q.Capacity) / (q.RefillPerMinute / 60)
	ttl := time.Duration(math.Ceil(secs))*time.Second + time.Second
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

// hashKey creates a truncated SHA256 hash of a client key.
// Raw IP addresses are never stored in Redis.
func hashKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:8]) // 16 hex chars
}
