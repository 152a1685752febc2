package auth

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// Hasher runs password hashing on a bounded pool so that expensive
// Argon2 work never starves unrelated request handling.
type Hasher struct {
	params Params
	pool   *semaphore.Weighted
	// dummy is hashed with params so Burn costs the same as a real check.
	dummy string
}

// NewHasher creates a Hasher allowing at most concurrency hashes at once.
// concurrency <= 0 means runtime.NumCPU().
func NewHasher(params Params, concurrency int) *Hasher {
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	return &Hasher{
		params: params,
		pool:   semaphore.NewWeighted(int64(concurrency)),
		dummy:  hashWithSalt("guardr-unknown-account", make([]byte, params.SaltLen), params),
	}
}

// Hash hashes password with a fresh random salt.
// It fails only if ctx ends while waiting for a worker slot or the
// system random source fails.
func (h *Hasher) Hash(ctx context.Context, password string) (string, error) {
	if err := h.pool.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("acquire hash worker: %w", err)
	}
	defer h.pool.Release(1)

	return hashWithParams(password, h.params)
}

// Verify reports whether password matches encoded.
// Malformed hashes and cancelled contexts verify as false.
func (h *Hasher) Verify(ctx context.Context, password, encoded string) bool {
	if err := h.pool.Acquire(ctx, 1); err != nil {
		return false
	}
	defer h.pool.Release(1)

	ok, err := VerifyPassword(password, encoded)
	return err == nil && ok
}

// Burn runs a verification against a throwaway hash made with the same
// params. Login uses it when the account does not exist so response time
// does not reveal that.
func (h *Hasher) Burn(ctx context.Context, password string) {
	_ = h.Verify(ctx, password, h.dummy)
}
