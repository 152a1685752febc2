package service

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calebmills99/guardrV6/internal/apperror"
	"github.com/calebmills99/guardrV6/internal/audit"
	"github.com/calebmills99/guardrV6/internal/metrics"
	"github.com/calebmills99/guardrV6/internal/model"
	"github.com/calebmills99/guardrV6/internal/repository"
)

func newKeyService(store KeyStore, clock *testClock) *APIKeyService {
	return NewAPIKeyService(store, APIKeyConfig{Now: clock.Now}, nil, metrics.NewNoop())
}

func TestAPIKeyService_CreateAndAuthenticate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := repository.NewMemory()
	owner := seedUser(t, store, model.TierFree)
	clock := newTestClock()
	svc := newKeyService(store, clock)

	key, plaintext, err := svc.Create(ctx, owner.ID, "  ci  ", nil)
	require.NoError(t, err)

	assert.Len(t, key.ID, 26)
	assert.Equal(t, "ci", key.Name)
	assert.Equal(t, plaintext[:8], key.KeyPrefix)
	assert.NotContains(t, key.KeyHash, plaintext)
	assert.True(t, key.Active)

	gotKey, gotUser, err := svc.Authenticate(ctx, plaintext)
	require.NoError(t, err)
	assert.Equal(t, key.ID, gotKey.ID)
	assert.Equal(t, owner.ID, gotUser.ID)

	svc.Wait()
	stored, err := store.GetAPIKeyByID(ctx, key.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastUsedAt)
	assert.True(t, stored.LastUsedAt.Equal(clock.Now()))

	identity := svc.Identity(gotKey, gotUser)
	assert.True(t, identity.IsAPIKey())
	assert.Equal(t, owner.ID, identity.UserID)
	assert.Equal(t, model.TierFree, identity.Tier)
	assert.Equal(t, key.KeyPrefix, identity.KeyPrefix)
}

func TestAPIKeyService_FreeTierCap(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := repository.NewMemory()
	owner := seedUser(t, store, model.TierFree)
	svc := newKeyService(store, newTestClock())

	first, _, err := svc.Create(ctx, owner.ID, "one", nil)
	require.NoError(t, err)
	_, _, err = svc.Create(ctx, owner.ID, "two", nil)
	require.NoError(t, err)

	_, _, err = svc.Create(ctx, owner.ID, "three", nil)
	require.ErrorIs(t, err, ErrKeyLimitReached)
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	keys, err := svc.List(ctx, owner.ID)
	require.NoError(t, err)
	assert.Len(t, keys, 2, "rejected create must not leave a record")

	require.NoError(t, svc.Revoke(ctx, owner.ID, first.ID))
	_, _, err = svc.Create(ctx, owner.ID, "three", nil)
	assert.NoError(t, err, "revoked keys do not count toward the cap")
}

func TestAPIKeyService_CapHoldsUnderConcurrency(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := repository.NewMemory()
	owner := seedUser(t, store, model.TierFree)
	svc := newKeyService(store, newTestClock())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = svc.Create(ctx, owner.ID, "burst", nil)
		}()
	}
	wg.Wait()

	count, err := store.CountActiveAPIKeys(ctx, owner.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, model.TierFree.Limits().MaxAPIKeys, count)
}

func TestAPIKeyService_CreateValidation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := repository.NewMemory()
	owner := seedUser(t, store, model.TierPro)
	clock := newTestClock()
	svc := newKeyService(store, clock)

	past := clock.Now().Add(-time.Minute)
	now := clock.Now()

	tests := []struct {
		name      string
		ownerID   string
		keyName   string
		expiresAt *time.Time
		want      error
	}{
		{"empty name", owner.ID, "   ", nil, ErrInvalidName},
		{"long name", owner.ID, string(bytes.Repeat([]byte("x"), 101)), nil, ErrInvalidName},
		{"expiry in past", owner.ID, "k", &past, ErrExpiresInPast},
		{"expiry now", owner.ID, "k", &now, ErrExpiresInPast},
		{"unknown owner", "nobody", "k", nil, apperror.ErrUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.Create(ctx, tt.ownerID, tt.keyName, tt.expiresAt)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	require.NoError(t, store.SetUserActive(ctx, owner.ID, false, now))
	_, _, err := svc.Create(ctx, owner.ID, "k", nil)
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)
}

func TestAPIKeyService_AuthenticateRejects(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("revoked key", func(t *testing.T) {
		store := repository.NewMemory()
		owner := seedUser(t, store, model.TierFree)
		svc := newKeyService(store, newTestClock())

		key, plaintext, err := svc.Create(ctx, owner.ID, "k", nil)
		require.NoError(t, err)
		require.NoError(t, svc.Revoke(ctx, owner.ID, key.ID))

		_, _, err = svc.Authenticate(ctx, plaintext)
		assert.ErrorIs(t, err, apperror.ErrUnauthorized)
	})

	t.Run("expired key", func(t *testing.T) {
		store := repository.NewMemory()
		owner := seedUser(t, store, model.TierFree)
		clock := newTestClock()
		svc := newKeyService(store, clock)

		exp := clock.Now().Add(time.Hour)
		_, plaintext, err := svc.Create(ctx, owner.ID, "k", &exp)
		require.NoError(t, err)

		clock.Advance(time.Hour)
		_, _, err = svc.Authenticate(ctx, plaintext)
		assert.ErrorIs(t, err, apperror.ErrUnauthorized)
	})

	t.Run("inactive owner", func(t *testing.T) {
		store := repository.NewMemory()
		owner := seedUser(t, store, model.TierFree)
		svc := newKeyService(store, newTestClock())

		_, plaintext, err := svc.Create(ctx, owner.ID, "k", nil)
		require.NoError(t, err)
		require.NoError(t, store.SetUserActive(ctx, owner.ID, false, time.Now()))

		_, _, err = svc.Authenticate(ctx, plaintext)
		assert.ErrorIs(t, err, apperror.ErrUnauthorized)
	})

	t.Run("malformed and unknown", func(t *testing.T) {
		svc := newKeyService(repository.NewMemory(), newTestClock())

		for _, k := range []string{"", "short", "has spaces in it but is long enough to pass length", "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"} {
			_, _, err := svc.Authenticate(ctx, k)
			assert.ErrorIs(t, err, apperror.ErrUnauthorized, "key %q", k)
		}
	})
}

func TestAPIKeyService_AuthenticateFailsClosed(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	store := repository.NewMemory()
	owner := seedUser(t, store, model.TierFree)

	issuer := newKeyService(store, newTestClock())
	_, plaintext, err := issuer.Create(context.Background(), owner.ID, "k", nil)
	require.NoError(t, err)

	svc := NewAPIKeyService(brokenStore{store}, APIKeyConfig{}, logger, nil)
	_, _, err = svc.Authenticate(context.Background(), plaintext)

	assert.ErrorIs(t, err, apperror.ErrUnauthorized)
	assert.Contains(t, logs.String(), "api key lookup failed")
	assert.NotContains(t, logs.String(), plaintext)
}

func TestAPIKeyService_RevokeScopedToOwner(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := repository.NewMemory()
	owner := seedUser(t, store, model.TierFree)
	other := seedUser(t, store, model.TierPro)
	recorder := metrics.NewInMemory()
	events := &audit.Memory{}
	svc := NewAPIKeyService(store, APIKeyConfig{Audit: events}, nil, recorder)

	key, _, err := svc.Create(ctx, owner.ID, "k", nil)
	require.NoError(t, err)

	err = svc.Revoke(ctx, other.ID, key.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	require.NoError(t, svc.Revoke(ctx, owner.ID, key.ID))
	assert.ErrorIs(t, svc.Revoke(ctx, owner.ID, key.ID), ErrAPIKeyNotFound, "second revoke is not found")

	snap := recorder.Snapshot()
	assert.Equal(t, uint64(1), snap.APIKeysCreated)
	assert.Equal(t, uint64(1), snap.APIKeysRevoked)

	recorded := events.Events()
	require.Len(t, recorded, 2, "failed revokes are not audited")
	assert.Equal(t, audit.TypeAPIKeyCreated, recorded[0].Type)
	assert.Equal(t, audit.TypeAPIKeyRevoked, recorded[1].Type)
	for _, e := range recorded {
		assert.Equal(t, owner.ID, e.UserID)
		assert.Equal(t, key.ID, e.KeyID)
		assert.NoError(t, e.Validate())
	}
}
