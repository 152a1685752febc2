package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/calebmills99/guardrV6/internal/model"
)

// Memory is an in-process store with the same semantics as Repository.
// It backs tests and single-node development runs without Postgres.
type Memory struct {
	mu      sync.RWMutex
	users   map[string]*model.User
	byEmail map[string]string
	keys    map[string]*model.APIKey
	byHash  map[string]string
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		users:   make(map[string]*model.User),
		byEmail: make(map[string]string),
		keys:    make(map[string]*model.APIKey),
		byHash:  make(map[string]string),
	}
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error {
	return nil
}

// CreateUser stores a copy of user with its email normalized.
func (m *Memory) CreateUser(_ context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user.Email = model.NormalizeEmail(user.Email)
	if _, ok := m.byEmail[user.Email]; ok {
		return ErrEmailExists
	}
	u := *user
	m.users[u.ID] = &u
	m.byEmail[u.Email] = u.ID
	return nil
}

// GetUserByID returns a copy of the user.
func (m *Memory) GetUserByID(_ context.Context, id string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	c := *u
	return &c, nil
}

// GetUserByEmail returns a copy of the user with that email.
func (m *Memory) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	m.mu.RLock()
	id, ok := m.byEmail[model.NormalizeEmail(email)]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrUserNotFound
	}
	return m.GetUserByID(ctx, id)
}

// UpdateLastLogin records a successful login.
func (m *Memory) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	return m.updateUser(id, func(u *model.User) {
		u.LastLoginAt = &at
		u.UpdatedAt = at
	})
}

// UpdateUserTier changes a user's subscription tier.
func (m *Memory) UpdateUserTier(_ context.Context, id string, tier model.Tier, at time.Time) error {
	return m.updateUser(id, func(u *model.User) {
		u.Tier = tier
		u.UpdatedAt = at
	})
}

// SetUserActive activates or deactivates a user.
func (m *Memory) SetUserActive(_ context.Context, id string, active bool, at time.Time) error {
	return m.updateUser(id, func(u *model.User) {
		u.Active = active
		u.UpdatedAt = at
	})
}

func (m *Memory) updateUser(id string, fn func(*model.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return ErrUserNotFound
	}
	fn(u)
	return nil
}

// CreateAPIKey stores a copy of key.
func (m *Memory) CreateAPIKey(_ context.Context, key *model.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byHash[key.KeyHash]; ok {
		return ErrAPIKeyExists
	}
	if _, ok := m.keys[key.ID]; ok {
		return ErrAPIKeyExists
	}
	k := *key
	m.keys[k.ID] = &k
	m.byHash[k.KeyHash] = k.ID
	return nil
}

// GetAPIKeyByID returns a copy of the key.
func (m *Memory) GetAPIKeyByID(_ context.Context, id string) (*model.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	k, ok := m.keys[id]
	if !ok {
		return nil, ErrAPIKeyNotFound
	}
	c := *k
	return &c, nil
}

// GetAPIKeyByHash returns a copy of the key with that digest.
func (m *Memory) GetAPIKeyByHash(ctx context.Context, keyHash string) (*model.APIKey, error) {
	m.mu.RLock()
	id, ok := m.byHash[keyHash]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrAPIKeyNotFound
	}
	return m.GetAPIKeyByID(ctx, id)
}

// ListAPIKeysByUserID returns copies of a user's keys, newest first.
func (m *Memory) ListAPIKeysByUserID(_ context.Context, userID string) ([]*model.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]*model.APIKey, 0)
	for _, k := range m.keys {
		if k.UserID == userID {
			c := *k
			keys = append(keys, &c)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if !keys[i].CreatedAt.Equal(keys[j].CreatedAt) {
			return keys[i].CreatedAt.After(keys[j].CreatedAt)
		}
		return keys[i].ID > keys[j].ID
	})
	return keys, nil
}

// CountActiveAPIKeys counts a user's keys that are active and unexpired at now.
func (m *Memory) CountActiveAPIKeys(_ context.Context, userID string, now time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, k := range m.keys {
		if k.UserID == userID && k.IsUsable(now) {
			count++
		}
	}
	return count, nil
}

// RevokeAPIKey deactivates a key owned by userID.
func (m *Memory) RevokeAPIKey(_ context.Context, userID, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k, ok := m.keys[id]
	if !ok || k.UserID != userID || !k.Active {
		return false, nil
	}
	k.Active = false
	return true, nil
}

// UpdateAPIKeyLastUsed updates the last used timestamp.
func (m *Memory) UpdateAPIKeyLastUsed(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if k, ok := m.keys[id]; ok {
		k.LastUsedAt = &at
	}
	return nil
}
