// Package token issues and verifies signed session tokens.
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/calebmills99/guardrV6/internal/apperror"
	"github.com/calebmills99/guardrV6/internal/model"
)

// MinSecretLen is the minimum signing secret length in bytes.
const MinSecretLen = 32

// MaxLeeway bounds the clock skew tolerance.
const MaxLeeway = time.Minute

// DefaultIssuer is used when Config.Issuer is empty.
const DefaultIssuer = "guardr"

var (
	// ErrInvalidConfig is returned by New for unusable configuration.
	ErrInvalidConfig = errors.New("invalid token configuration")

	// errRevoked marks a structurally valid token whose id is blacklisted.
	errRevoked = errors.New("token revoked")
)

// RevocationStore records revoked token ids until they would have expired.
type RevocationStore interface {
	// Revoke blacklists id for ttl. It reports false if id was already revoked.
	Revoke(ctx context.Context, id string, ttl time.Duration) (bool, error)
	// IsRevoked reports whether id is blacklisted.
	IsRevoked(ctx context.Context, id string) (bool, error)
}

// UserLookup loads the current state of a user during refresh.
type UserLookup interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}

// Config holds signing and lifetime settings.
type Config struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Leeway        time.Duration
	Issuer        string
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if len(c.AccessSecret) < MinSecretLen || len(c.RefreshSecret) < MinSecretLen {
		return fmt.Errorf("%w: secrets must be at least %d bytes", ErrInvalidConfig, MinSecretLen)
	}
	if c.AccessSecret == c.RefreshSecret {
		return fmt.Errorf("%w: access and refresh secrets must differ", ErrInvalidConfig)
	}
	if c.AccessTTL <= 0 {
		return fmt.Errorf("%w: access ttl must be positive", ErrInvalidConfig)
	}
	if c.RefreshTTL <= c.AccessTTL {
		return fmt.Errorf("%w: refresh ttl must exceed access ttl", ErrInvalidConfig)
	}
	if c.Leeway < 0 || c.Leeway > MaxLeeway {
		return fmt.Errorf("%w: leeway must be within [0, %s]", ErrInvalidConfig, MaxLeeway)
	}
	return nil
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// Service issues, verifies, refreshes and revokes tokens.
// It is safe for concurrent use.
type Service struct {
	cfg         Config
	revocations RevocationStore
	now         func() time.Time
	logger      *slog.Logger
	parser      *jwt.Parser
}

// New creates a Service. revocations must not be nil.
func New(cfg Config, revocations RevocationStore, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if revocations == nil {
		return nil, fmt.Errorf("%w: revocation store is required", ErrInvalidConfig)
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}

	s := &Service{
		cfg:         cfg,
		revocations: revocations,
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(s.cfg.Leeway),
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	)
	return s, nil
}

// Issue creates a new access and refresh token pair for user.
func (s *Service) Issue(user *model.User) (Pair, error) {
	return s.issue(user, time.Time{})
}

// issue signs a pair whose access token expires no earlier than floor.
// Token times have one-second resolution, so a pair issued in the same
// second as its predecessor would otherwise share its expiry.
func (s *Service) issue(user *model.User, floor time.Time) (Pair, error) {
	now := s.now().Truncate(time.Second)
	accessExp := now.Add(s.cfg.AccessTTL)
	if accessExp.Before(floor) {
		accessExp = floor
	}
	refreshExp := now.Add(s.cfg.RefreshTTL)

	access := AccessClaims{
		Email: user.Email,
		Tier:  user.Tier,
		Type:  TypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ID:        uuid.NewString(),
			Issuer:    s.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(accessExp),
		},
	}
	refresh := RefreshClaims{
		Type: TypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ID:        uuid.NewString(),
			Issuer:    s.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(refreshExp),
		},
	}

	accessTok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, access).SignedString([]byte(s.cfg.AccessSecret))
	if err != nil {
		return Pair{}, apperror.Internal(fmt.Errorf("sign access token: %w", err))
	}
	refreshTok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, refresh).SignedString([]byte(s.cfg.RefreshSecret))
	if err != nil {
		return Pair{}, apperror.Internal(fmt.Errorf("sign refresh token: %w", err))
	}

	return Pair{
		AccessToken:      accessTok,
		RefreshToken:     refreshTok,
		TokenType:        "Bearer",
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// VerifyAccess validates an access token and returns its claims.
// Every failure, including a revocation store outage, is ErrUnauthorized.
func (s *Service) VerifyAccess(ctx context.Context, tok string) (*AccessClaims, error) {
	claims, err := s.parseAccess(tok)
	if err != nil {
		return nil, apperror.ErrUnauthorized
	}
	if err := s.checkRevoked(ctx, claims.ID); err != nil {
		return nil, apperror.ErrUnauthorized
	}
	return claims, nil
}

// VerifyRefresh validates a refresh token and returns its claims.
func (s *Service) VerifyRefresh(ctx context.Context, tok string) (*RefreshClaims, error) {
	claims, err := s.parseRefresh(tok)
	if err != nil {
		return nil, apperror.ErrUnauthorized
	}
	if err := s.checkRevoked(ctx, claims.ID); err != nil {
		return nil, apperror.ErrUnauthorized
	}
	return claims, nil
}

// Refresh exchanges a valid refresh token for a new pair and revokes the
// presented one. A refresh token can be exchanged once.
func (s *Service) Refresh(ctx context.Context, refreshTok string, users UserLookup) (Pair, error) {
	claims, err := s.parseRefresh(refreshTok)
	if err != nil {
		return Pair{}, apperror.ErrUnauthorized
	}
	if err := s.checkRevoked(ctx, claims.ID); err != nil {
		if errors.Is(err, errRevoked) {
			s.logger.Warn("refresh token replay", "user_id", claims.Subject, "token_id", claims.ID)
		}
		return Pair{}, apperror.ErrUnauthorized
	}

	user, err := users.GetUserByID(ctx, claims.Subject)
	if err != nil || user == nil || !user.Active {
		return Pair{}, apperror.ErrUnauthorized
	}

	// Claim the old token before issuing so concurrent exchanges of the
	// same refresh token yield at most one new pair. The parser accepted
	// it, so it is inside exp+leeway and the ttl is positive.
	ttl := s.revocationTTL(claims.ExpiresAt.Time)
	if ttl <= 0 {
		return Pair{}, apperror.ErrUnauthorized
	}
	fresh, err := s.revocations.Revoke(ctx, claims.ID, ttl)
	if err != nil {
		s.logger.Error("revocation store unavailable", "error", err)
		return Pair{}, apperror.ErrUnauthorized
	}
	if !fresh {
		s.logger.Warn("refresh token replay", "user_id", claims.Subject, "token_id", claims.ID)
		return Pair{}, apperror.ErrUnauthorized
	}

	// The new access token must outlive the one issued with the presented
	// refresh token.
	var floor time.Time
	if claims.IssuedAt != nil {
		floor = claims.IssuedAt.Time.Add(s.cfg.AccessTTL + time.Second)
	}
	return s.issue(user, floor)
}

// Revoke blacklists tokenID for as long as a token expiring at expiresAt
// can still verify, leeway included. Ids past that point or already
// revoked are a no-op.
func (s *Service) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	ttl := s.revocationTTL(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if _, err := s.revocations.Revoke(ctx, tokenID, ttl); err != nil {
		return apperror.Internal(fmt.Errorf("revoke token: %w", err))
	}
	return nil
}

// RevokeAccess revokes a signed access token.
func (s *Service) RevokeAccess(ctx context.Context, tok string) error {
	claims, err := s.parseAccess(tok)
	if err != nil {
		return apperror.ErrUnauthorized
	}
	return s.Revoke(ctx, claims.ID, claims.ExpiresAt.Time)
}

// RevokeRefresh revokes a signed refresh token.
func (s *Service) RevokeRefresh(ctx context.Context, tok string) error {
	claims, err := s.parseRefresh(tok)
	if err != nil {
		return apperror.ErrUnauthorized
	}
	return s.Revoke(ctx, claims.ID, claims.ExpiresAt.Time)
}

func (s *Service) parseAccess(tok string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	_, err := s.parser.ParseWithClaims(tok, claims, func(*jwt.Token) (any, error) {
		return []byte(s.cfg.AccessSecret), nil
	})
	if err != nil {
		return nil, err
	}
	if claims.Type != TypeAccess || claims.Subject == "" || claims.ID == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

func (s *Service) parseRefresh(tok string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	_, err := s.parser.ParseWithClaims(tok, claims, func(*jwt.Token) (any, error) {
		return []byte(s.cfg.RefreshSecret), nil
	})
	if err != nil {
		return nil, err
	}
	if claims.Type != TypeRefresh || claims.Subject == "" || claims.ID == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// revocationTTL is how long a token expiring at exp remains acceptable to
// the parser.
func (s *Service) revocationTTL(exp time.Time) time.Duration {
	return exp.Add(s.cfg.Leeway).Sub(s.now())
}

func (s *Service) checkRevoked(ctx context.Context, id string) error {
	revoked, err := s.revocations.IsRevoked(ctx, id)
	if err != nil {
		s.logger.Error("revocation store unavailable", "error", err)
		return err
	}
	if revoked {
		return errRevoked
	}
	return nil
}

// AccessTTL returns the configured access token lifetime.
func (s *Service) AccessTTL() time.Duration {
	return s.cfg.AccessTTL
}
