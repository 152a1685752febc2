package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/calebmills99/guardrV6/internal/audit"
	"github.com/calebmills99/guardrV6/internal/auth"
	"github.com/calebmills99/guardrV6/internal/metrics"
	"github.com/calebmills99/guardrV6/internal/model"
	"github.com/calebmills99/guardrV6/internal/repository"
	"github.com/calebmills99/guardrV6/internal/token"
)

var fastParams = auth.Params{Time: 1, Memory: 8 * 1024, Threads: 1, KeyLen: 32, SaltLen: 16}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// brokenStore fails every API key lookup.
type brokenStore struct {
	*repository.Memory
}

func (brokenStore) GetAPIKeyByHash(context.Context, string) (*model.APIKey, error) {
	return nil, errors.New("connection reset by peer")
}

func seedUser(t *testing.T, store *repository.Memory, tier model.Tier) *model.User {
	t.Helper()

	now := time.Now().UTC()
	user := &model.User{
		ID:        uuid.NewString(),
		Email:     "owner-" + uuid.NewString()[:8] + "@example.com",
		Tier:      tier,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.CreateUser(context.Background(), user))
	return user
}

type authEnv struct {
	store    *repository.Memory
	tokens   *token.Service
	svc      *AuthService
	recorder *metrics.InMemoryRecorder
	events   *audit.Memory
}

func newAuthEnv(t *testing.T) *authEnv {
	t.Helper()

	store := repository.NewMemory()
	tokens, err := token.New(token.Config{
		AccessSecret:  "access-secret-access-secret-0123456789",
		RefreshSecret: "refresh-secret-refresh-secret-0123456789",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
	}, token.NewMemoryStore(nil))
	require.NoError(t, err)

	recorder := metrics.NewInMemory()
	events := &audit.Memory{}
	svc := NewAuthService(store, auth.NewHasher(fastParams, 2), tokens, nil, recorder, WithAudit(events))
	return &authEnv{store: store, tokens: tokens, svc: svc, recorder: recorder, events: events}
}
