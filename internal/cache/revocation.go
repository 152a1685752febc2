package cache

import (
	"context"
	"fmt"
	"time"
)

// revokedPrefix is the Redis key prefix for revoked token ids.
const revokedPrefix = "revoked:"

// Revoke blacklists a token id for ttl. It reports false when the id was
// already blacklisted. Entries expire with the token they revoke.
func (c *Cache) Revoke(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, nil
	}
	// Redis expiry has millisecond resolution.
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}

	ok, err := c.client.SetNX(ctx, revokedPrefix+id, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("revoke token: %w", err)
	}
	return ok, nil
}

// IsRevoked reports whether a token id is blacklisted.
func (c *Cache) IsRevoked(ctx context.Context, id string) (bool, error) {
	n, err := c.client.Exists(ctx, revokedPrefix+id).Result()
	if err != nil {
		return false, fmt.Errorf("check revocation: %w", err)
	}
	return n > 0, nil
}
