package token

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process RevocationStore for single-instance
// deployments and tests. Entries expire lazily.
type MemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]time.Time
}

// NewMemoryStore creates an empty MemoryStore. now may be nil.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{now: now, entries: make(map[string]time.Time)}
}

// Revoke blacklists id for ttl.
func (m *MemoryStore) Revoke(_ context.Context, id string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if exp, ok := m.entries[id]; ok && now.Before(exp) {
		return false, nil
	}
	m.entries[id] = now.Add(ttl)
	return true, nil
}

// IsRevoked reports whether id is blacklisted.
func (m *MemoryStore) IsRevoked(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	exp, ok := m.entries[id]
	if !ok {
		return false, nil
	}
	if !m.now().Before(exp) {
		delete(m.entries, id)
		return false, nil
	}
	return true, nil
}

// Sweep drops expired entries and returns how many were removed.
func (m *MemoryStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for id, exp := range m.entries {
		if !now.Before(exp) {
			delete(m.entries, id)
			removed++
		}
	}
	return removed
}

// Run sweeps expired entries every interval until ctx is done.
func (m *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Len returns the number of stored entries, expired or not.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
