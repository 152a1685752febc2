package usage

import (
	"context"
	"maps"
	"sync"
)

type monthly struct {
	period string
	counts map[string]int64
}

// Memory is an in-process Store. It keeps only the latest period per user.
type Memory struct {
	mu    sync.Mutex
	users map[string]*monthly
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{users: make(map[string]*monthly)}
}

// IncrUsage adds one request. A new period replaces the previous one.
func (m *Memory) IncrUsage(_ context.Context, userID, period, endpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok || u.period != period {
		u = &monthly{period: period, counts: make(map[string]int64)}
		m.users[userID] = u
	}
	u.counts[endpoint]++
	return nil
}

// Usage returns a copy of the counters for period.
func (m *Memory) Usage(_ context.Context, userID, period string) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok || u.period != period {
		return map[string]int64{}, nil
	}
	return maps.Clone(u.counts), nil
}
