package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// usagePrefix is the Redis key prefix for monthly usage hashes.
const usagePrefix = "usage:"

// usageRetention keeps a month's hash readable through the following month.
const usageRetention = 62 * 24 * time.Hour

func usageKey(userID, period string) string {
	return usagePrefix + userID + ":" + period
}

// IncrUsage increments the endpoint field of the user's monthly hash.
func (c *Cache) IncrUsage(ctx context.Context, userID, period, endpoint string) error {
	key := usageKey(userID, period)

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, key, endpoint, 1)
		pipe.Expire(ctx, key, usageRetention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("incr usage: %w", err)
	}
	return nil
}

// Usage returns the per-endpoint counters of the user's monthly hash.
func (c *Cache) Usage(ctx context.Context, userID, period string) (map[string]int64, error) {
	fields, err := c.client.HGetAll(ctx, usageKey(userID, period)).Result()
	if err != nil {
		return nil, fmt.Errorf("get usage: %w", err)
	}

	counts := make(map[string]int64, len(fields))
	for endpoint, raw := range fields {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse usage %q: %w", endpoint, err)
		}
		counts[endpoint] = n
	}
	return counts, nil
}
