package token

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calebmills99/guardrV6/internal/apperror"
	"github.com/calebmills99/guardrV6/internal/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type failingStore struct{}

func (failingStore) Revoke(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("connection refused")
}

func (failingStore) IsRevoked(context.Context, string) (bool, error) {
	return false, errors.New("connection refused")
}

type userMap map[string]*model.User

func (m userMap) GetUserByID(_ context.Context, id string) (*model.User, error) {
	u, ok := m[id]
	if !ok {
		return nil, errors.New("user not found")
	}
	return u, nil
}

func testConfig() Config {
	return Config{
		AccessSecret:  strings.Repeat("a", 32),
		RefreshSecret: strings.Repeat("r", 32),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
	}
}

func testUser() *model.User {
	return &model.User{ID: "user-1", Email: "a@example.com", Tier: model.TierFree, Active: true}
}

func newTestService(t *testing.T, clock *fakeClock, opts ...Option) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore(clock.Now)
	svc, err := New(testConfig(), store, append([]Option{WithClock(clock.Now)}, opts...)...)
	require.NoError(t, err)
	return svc, store
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"short access secret", func(c *Config) { c.AccessSecret = "short" }},
		{"short refresh secret", func(c *Config) { c.RefreshSecret = strings.Repeat("x", 31) }},
		{"same secrets", func(c *Config) { c.RefreshSecret = c.AccessSecret }},
		{"zero access ttl", func(c *Config) { c.AccessTTL = 0 }},
		{"refresh not longer", func(c *Config) { c.RefreshTTL = c.AccessTTL }},
		{"negative leeway", func(c *Config) { c.Leeway = -time.Second }},
		{"huge leeway", func(c *Config) { c.Leeway = 2 * time.Minute }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig()
			tt.mutate(&cfg)
			_, err := New(cfg, NewMemoryStore(nil))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	_, err := New(testConfig(), nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(testConfig(), NewMemoryStore(nil))
	assert.NoError(t, err)
}

func TestIssueVerify_RoundTrip(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	svc, _ := newTestService(t, clock)
	ctx := context.Background()

	pair, err := svc.Issue(testUser())
	require.NoError(t, err)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.Equal(t, clock.Now().Add(15*time.Minute), pair.AccessExpiresAt)
	assert.Equal(t, clock.Now().Add(7*24*time.Hour), pair.RefreshExpiresAt)

	claims, err := svc.VerifyAccess(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "a@example.com", claims.Email)
	assert.Equal(t, model.TierFree, claims.Tier)
	assert.Equal(t, TypeAccess, claims.Type)
	assert.NotEmpty(t, claims.ID)

	id := claims.Identity()
	assert.True(t, id.IsToken())
	assert.Equal(t, "user-1", id.UserID)
	assert.Equal(t, claims.ID, id.TokenID)
	assert.Equal(t, pair.AccessExpiresAt, id.ExpiresAt)

	refresh, err := svc.VerifyRefresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", refresh.Subject)
	assert.NotEqual(t, claims.ID, refresh.ID)
}

func TestIssue_UniqueTokenIDs(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	svc, _ := newTestService(t, clock)
	ctx := context.Background()

	a, err := svc.Issue(testUser())
	require.NoError(t, err)
	b, err := svc.Issue(testUser())
	require.NoError(t, err)

	ca, err := svc.VerifyAccess(ctx, a.AccessToken)
	require.NoError(t, err)
	cb, err := svc.VerifyAccess(ctx, b.AccessToken)
	require.NoError(t, err)
	assert.NotEqual(t, ca.ID, cb.ID)
}

func TestVerifyAccess_Expired(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	svc, _ := newTestService(t, clock)
	ctx := context.Background()

	pair, err := svc.Issue(testUser())
	require.NoError(t, err)

	clock.Advance(15*time.Minute - time.Second)
	_, err = svc.VerifyAccess(ctx, pair.AccessToken)
	require.NoError(t, err, "token should be valid just before expiry")

	clock.Advance(time.Second)
	_, err = svc.VerifyAccess(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, apperror.ErrUnauthorized, "token should be rejected at expiry")
}

func TestVerifyAccess_Leeway(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := NewMemoryStore(clock.Now)
	cfg := testConfig()
	cfg.Leeway = 30 * time.Second
	svc, err := New(cfg, store, WithClock(clock.Now))
	require.NoError(t, err)

	pair, err := svc.Issue(testUser())
	require.NoError(t, err)

	clock.Advance(15*time.Minute + 10*time.Second)
	_, err = svc.VerifyAccess(context.Background(), pair.AccessToken)
	assert.NoError(t, err)

	clock.Advance(30 * time.Second)
	_, err = svc.VerifyAccess(context.Background(), pair.AccessToken)
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)
}

func TestVerifyAccess_Revoked(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	svc, _ := newTestService(t, clock)
	ctx := context.Background()

	pair, err := svc.Issue(testUser())
	require.NoError(t, err)
	claims, err := svc.VerifyAccess(ctx, pair.AccessToken)
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, claims.ID, claims.ExpiresAt.Time))
	// Revoking twice is a no-op.
	require.NoError(t, svc.Revoke(ctx, claims.ID, claims.ExpiresAt.Time))

	_, err = svc.VerifyAccess(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)

	// The refresh token is a different id and stays valid.
	_, err = svc.VerifyRefresh(ctx, pair.RefreshToken)
	assert.NoError(t, err)
}

func TestRevoke_ExpiredIsNoop(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	svc, store := newTestService(t, clock)

	require.NoError(t, svc.Revoke(context.Background(), "gone", clock.Now().Add(-time.Second)))
	require.NoError(t, svc.Revoke(context.Background(), "now", clock.Now()))
	assert.Equal(t, 0, store.Len())
}

func TestRevoke_StoreFailure(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	svc, err := New(testConfig(), failingStore{}, WithClock(clock.Now), WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))))
	require.NoError(t, err)

	err = svc.Revoke(context.Background(), "id", clock.Now().Add(time.Minute))
	assert.ErrorIs(t, err, apperror.ErrInternal)
}

func TestVerify_StoreFailureFailsClosed(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	var logs bytes.Buffer
	svc, err := New(testConfig(), failingStore{}, WithClock(clock.Now), WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	require.NoError(t, err)

	pair, err := svc.Issue(testUser())
	require.NoError(t, err)

	_, err = svc.VerifyAccess(context.Background(), pair.AccessToken)
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)
	assert.Contains(t, logs.String(), "revocation store unavailable")
	assert.NotContains(t, logs.String(), pair.AccessToken)
}

func TestVerify_NamespaceSeparation(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	svc, _ := newTestService(t, clock)
	ctx := context.Background()

	pair, err := svc.Issue(testUser())
	require.NoError(t, err)

	_, err = svc.VerifyRefresh(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, apperror.ErrUnauthorized, "access token must not verify as refresh")

	_, err = svc.VerifyAccess(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, apperror.ErrUnauthorized, "refresh token must not verify as access")
}

func TestVerify_RejectsTampering(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	svc, _ := newTestService(t, clock)
	ctx := context.Background()

	pair, err := svc.Issue(testUser())
	require.NoError(t, err)

	parts := strings.Split(pair.AccessToken, ".")
	require.Len(t, parts, 3)

	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}

	tests := map[string]string{
		"empty":         "",
		"garbage":       "not.a.token",
		"bad signature": parts[0] + "." + parts[1] + "." + string(sig),
		"missing sig":   parts[0] + "." + parts[1] + ".",
		"two segments":  parts[0] + "." + parts[1],
		"wrong secret":  signWith(t, jwt.SigningMethodHS256, []byte(strings.Repeat("z", 32)), validAccessClaims(clock)),
		"alg none":      signWith(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, validAccessClaims(clock)),
		"wrong issuer":  signWith(t, jwt.SigningMethodHS256, []byte(testConfig().AccessSecret), withIssuer(validAccessClaims(clock), "evil")),
		"missing jti":   signWith(t, jwt.SigningMethodHS256, []byte(testConfig().AccessSecret), withID(validAccessClaims(clock), "")),
		"future iat":    signWith(t, jwt.SigningMethodHS256, []byte(testConfig().AccessSecret), withIssuedAt(validAccessClaims(clock), clock.Now().Add(time.Hour))),
		"hs384":         signWith(t, jwt.SigningMethodHS384, []byte(testConfig().AccessSecret), validAccessClaims(clock)),
	}

	for name, tok := range tests {
		_, err := svc.VerifyAccess(ctx, tok)
		assert.ErrorIs(t, err, apperror.ErrUnauthorized, name)
	}

	// Sanity check: the helper produces tokens that do verify.
	good := signWith(t, jwt.SigningMethodHS256, []byte(testConfig().AccessSecret), validAccessClaims(clock))
	_, err = svc.VerifyAccess(ctx, good)
	assert.NoError(t, err)
}

func validAccessClaims(clock *fakeClock) AccessClaims {
	now := clock.Now()
	return AccessClaims{
		Email: "a@example.com",
		Tier:  model.TierFree,
		Type:  TypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ID:        "jti-1",
			Issuer:    DefaultIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
	}
}

func withIssuer(c AccessClaims, iss string) AccessClaims {
	c.Issuer = iss
	return c
}

func withID(c AccessClaims, id string) AccessClaims {
	c.ID = id
	return c
}

func withIssuedAt(c AccessClaims, at time.Time) AccessClaims {
	c.IssuedAt = jwt.NewNumericDate(at)
	return c
}

func signWith(t *testing.T, method jwt.SigningMethod, key any, claims AccessClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return tok
}

func TestRefresh_RotatesAndExtends(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	svc, _ := newTestService(t, clock)
	ctx := context.Background()
	users := userMap{"user-1": testUser()}

	original, err := svc.Issue(testUser())
	require.NoError(t, err)

	clock.Advance(time.Hour)

	next, err := svc.Refresh(ctx, original.RefreshToken, users)
	require.NoError(t, err)
	assert.True(t, next.RefreshExpiresAt.After(original.RefreshExpiresAt))
	assert.NotEqual(t, original.RefreshToken, next.RefreshToken)

	claims, err := svc.VerifyAccess(ctx, next.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)

	// The old refresh token is single-use.
	_, err = svc.Refresh(ctx, original.RefreshToken, users)
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)
	_, err = svc.VerifyRefresh(ctx, original.RefreshToken)
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)

	// The new one works.
	_, err = svc.Refresh(ctx, next.RefreshToken, users)
	assert.NoError(t, err)
}

func TestRefresh_SameSecondOutlivesOriginal(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	svc, _ := newTestService(t, clock)
	ctx := context.Background()

	original, err := svc.Issue(testUser())
	require.NoError(t, err)
	issuedAt := clock.Now()

	next, err := svc.Refresh(ctx, original.RefreshToken, userMap{"user-1": testUser()})
	require.NoError(t, err)
	assert.True(t, next.AccessExpiresAt.After(issuedAt.Add(15*time.Minute)),
		"refreshed access expiry %s must be after %s", next.AccessExpiresAt, original.AccessExpiresAt)

	claims, err := svc.VerifyAccess(ctx, next.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, next.AccessExpiresAt, claims.ExpiresAt.Time)
}

func TestRefresh_SingleUseInsideLeeway(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cfg := testConfig()
	cfg.Leeway = 30 * time.Second
	svc, err := New(cfg, NewMemoryStore(clock.Now), WithClock(clock.Now),
		WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))))
	require.NoError(t, err)
	ctx := context.Background()
	users := userMap{"user-1": testUser()}

	pair, err := svc.Issue(testUser())
	require.NoError(t, err)

	// Past exp, still accepted by the parser.
	clock.Advance(cfg.RefreshTTL + 10*time.Second)

	exchanges := 0
	for i := 0; i < 5; i++ {
		if _, err := svc.Refresh(ctx, pair.RefreshToken, users); err == nil {
			exchanges++
		}
	}
	assert.Equal(t, 1, exchanges)
}

func TestRevoke_InsideLeeway(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cfg := testConfig()
	cfg.Leeway = 30 * time.Second
	store := NewMemoryStore(clock.Now)
	svc, err := New(cfg, store, WithClock(clock.Now))
	require.NoError(t, err)
	ctx := context.Background()

	pair, err := svc.Issue(testUser())
	require.NoError(t, err)

	clock.Advance(cfg.AccessTTL + 5*time.Second)
	claims, err := svc.VerifyAccess(ctx, pair.AccessToken)
	require.NoError(t, err, "token is inside the leeway")

	require.NoError(t, svc.Revoke(ctx, claims.ID, claims.ExpiresAt.Time))
	_, err = svc.VerifyAccess(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)

	// The entry outlives the leeway window, then goes.
	clock.Advance(24 * time.Second)
	assert.Equal(t, 1, store.Len())
	clock.Advance(time.Second)
	assert.Equal(t, 1, store.Sweep())
}

func TestRefresh_ReplayIsLogged(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	var logs bytes.Buffer
	svc, _ := newTestService(t, clock, WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	ctx := context.Background()
	users := userMap{"user-1": testUser()}

	pair, err := svc.Issue(testUser())
	require.NoError(t, err)

	_, err = svc.Refresh(ctx, pair.RefreshToken, users)
	require.NoError(t, err)
	_, err = svc.Refresh(ctx, pair.RefreshToken, users)
	require.ErrorIs(t, err, apperror.ErrUnauthorized)

	assert.Contains(t, logs.String(), "refresh token replay")
	assert.Contains(t, logs.String(), "level=WARN")
	assert.NotContains(t, logs.String(), pair.RefreshToken)
}

func TestRefresh_ConcurrentExchangeYieldsOnePair(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	svc, _ := newTestService(t, clock, WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))))
	ctx := context.Background()
	users := userMap{"user-1": testUser()}

	pair, err := svc.Issue(testUser())
	require.NoError(t, err)

	const workers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Refresh(ctx, pair.RefreshToken, users); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
}

func TestRefresh_InactiveOrMissingUser(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	svc, _ := newTestService(t, clock)
	ctx := context.Background()

	pair, err := svc.Issue(testUser())
	require.NoError(t, err)

	inactive := testUser()
	inactive.Active = false

	_, err = svc.Refresh(ctx, pair.RefreshToken, userMap{"user-1": inactive})
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)

	_, err = svc.Refresh(ctx, pair.RefreshToken, userMap{})
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)

	// A rejected exchange does not consume the token.
	_, err = svc.Refresh(ctx, pair.RefreshToken, userMap{"user-1": testUser()})
	assert.NoError(t, err)
}

func TestRefresh_PicksUpCurrentTier(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	svc, _ := newTestService(t, clock)
	ctx := context.Background()

	pair, err := svc.Issue(testUser())
	require.NoError(t, err)

	upgraded := testUser()
	upgraded.Tier = model.TierPro

	next, err := svc.Refresh(ctx, pair.RefreshToken, userMap{"user-1": upgraded})
	require.NoError(t, err)

	claims, err := svc.VerifyAccess(ctx, next.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, model.TierPro, claims.Tier)
}

func TestRevokeAccessAndRefresh(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	svc, _ := newTestService(t, clock)
	ctx := context.Background()

	pair, err := svc.Issue(testUser())
	require.NoError(t, err)

	require.NoError(t, svc.RevokeAccess(ctx, pair.AccessToken))
	require.NoError(t, svc.RevokeRefresh(ctx, pair.RefreshToken))

	_, err = svc.VerifyAccess(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)
	_, err = svc.VerifyRefresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)

	assert.ErrorIs(t, svc.RevokeAccess(ctx, "garbage"), apperror.ErrUnauthorized)
	assert.ErrorIs(t, svc.RevokeRefresh(ctx, pair.AccessToken), apperror.ErrUnauthorized)
}

func TestRevocation_ExpiresWithToken(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	svc, store := newTestService(t, clock)
	ctx := context.Background()

	pair, err := svc.Issue(testUser())
	require.NoError(t, err)
	require.NoError(t, svc.RevokeAccess(ctx, pair.AccessToken))
	assert.Equal(t, 1, store.Len())

	clock.Advance(15 * time.Minute)
	assert.Equal(t, 1, store.Sweep())
	assert.Equal(t, 0, store.Len())
}
