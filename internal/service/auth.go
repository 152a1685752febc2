package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/calebmills99/guardrV6/internal/apperror"
	"github.com/calebmills99/guardrV6/internal/audit"
	"github.com/calebmills99/guardrV6/internal/auth"
	"github.com/calebmills99/guardrV6/internal/metrics"
	"github.com/calebmills99/guardrV6/internal/model"
	"github.com/calebmills99/guardrV6/internal/repository"
	"github.com/calebmills99/guardrV6/internal/token"
)

const maxEmailLength = 254

// AuthService handles registration, login and session lifecycle.
type AuthService struct {
	users   UserStore
	hasher  *auth.Hasher
	tokens  *token.Service
	logger  *slog.Logger
	metrics metrics.Recorder
	audit   audit.Sink
	now     func() time.Time
}

// AuthOption configures an AuthService.
type AuthOption func(*AuthService)

// WithAudit sends account events to sink.
func WithAudit(sink audit.Sink) AuthOption {
	return func(s *AuthService) {
		if sink != nil {
			s.audit = sink
		}
	}
}

// NewAuthService creates a new AuthService.
func NewAuthService(users UserStore, hasher *auth.Hasher, tokens *token.Service, logger *slog.Logger, recorder metrics.Recorder, opts ...AuthOption) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	s := &AuthService{
		users:   users,
		hasher:  hasher,
		tokens:  tokens,
		logger:  logger,
		metrics: recorder,
		audit:   audit.Nop{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterInput defines input for creating an account.
type RegisterInput struct {
	Email    string
	Password string
	Name     string
}

// Session is an authenticated user with a fresh token pair.
type Session struct {
	User   *model.User
	Tokens token.Pair
}

// Register creates a free-tier account and signs it in.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*Session, error) {
	email, err := validateEmail(input.Email)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(input.Name)
	if utf8.RuneCountInString(name) > maxNameLength {
		return nil, ErrInvalidName
	}
	if err := auth.ValidatePasswordStrength(input.Password); err != nil {
		return nil, apperror.Wrap(apperror.KindValidation, "WEAK_PASSWORD", err.Error(), err)
	}

	hash, err := s.hash(ctx, input.Password)
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("hash password: %w", err))
	}

	now := s.now().UTC()
	user := &model.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Name:         name,
		Tier:         model.TierFree,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return nil, ErrEmailExists
		}
		return nil, apperror.Internal(fmt.Errorf("create user: %w", err))
	}

	s.logger.Info("user registered", "user_id", user.ID)
	s.record(ctx, audit.TypeRegistered, user.ID, "")

	return s.issue(user)
}

// Login verifies credentials and issues a token pair. Unknown emails,
// wrong passwords and inactive accounts fail identically.
func (s *AuthService) Login(ctx context.Context, email, password string) (*Session, error) {
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, repository.ErrUserNotFound) {
			return nil, apperror.Internal(fmt.Errorf("get user: %w", err))
		}
		s.hasher.Burn(ctx, password)
		s.metrics.IncLogin(metrics.ResultFailure)
		e := audit.NewEvent(audit.TypeLoginFailed, s.now())
		e.Subject = audit.SubjectHash(email, s.now())
		s.audit.Record(ctx, e)
		return nil, apperror.ErrUnauthorized
	}

	start := time.Now()
	ok := s.hasher.Verify(ctx, password, user.PasswordHash)
	s.metrics.ObserveHashDuration(time.Since(start))
	if !ok || !user.Active {
		s.metrics.IncLogin(metrics.ResultFailure)
		s.logger.Info("login failed", "user_id", user.ID)
		s.record(ctx, audit.TypeLoginFailed, user.ID, "")
		return nil, apperror.ErrUnauthorized
	}

	now := s.now().UTC()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn("update last login failed", "user_id", user.ID, "error", err)
	} else {
		user.LastLoginAt = &now
	}

	s.metrics.IncLogin(metrics.ResultSuccess)
	s.record(ctx, audit.TypeLoginSucceeded, user.ID, "")
	return s.issue(user)
}

// Refresh rotates a refresh token into a new pair.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (token.Pair, error) {
	pair, err := s.tokens.Refresh(ctx, refreshToken, s.users)
	if err != nil {
		return token.Pair{}, err
	}
	s.metrics.IncTokenIssued()
	return pair, nil
}

// Logout revokes the access token behind identity and, if given, the
// refresh token. A refresh token that no longer verifies is ignored.
func (s *AuthService) Logout(ctx context.Context, identity *model.Identity, refreshToken string) error {
	if identity != nil && identity.IsToken() {
		if err := s.tokens.Revoke(ctx, identity.TokenID, identity.ExpiresAt); err != nil {
			return err
		}
		s.metrics.IncTokenRevoked()
	}

	if refreshToken != "" {
		err := s.tokens.RevokeRefresh(ctx, refreshToken)
		switch {
		case err == nil:
			s.metrics.IncTokenRevoked()
		case errors.Is(err, apperror.ErrUnauthorized):
		default:
			return err
		}
	}

	if identity != nil {
		s.logger.Info("user logged out", "user_id", identity.UserID)
		s.record(ctx, audit.TypeLoggedOut, identity.UserID, identity.KeyID)
	}
	return nil
}

// Profile returns the current record of an active user.
func (s *AuthService) Profile(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, apperror.ErrUnauthorized
		}
		return nil, apperror.Internal(fmt.Errorf("get user: %w", err))
	}
	if !user.Active {
		return nil, apperror.ErrUnauthorized
	}
	return user, nil
}

func (s *AuthService) issue(user *model.User) (*Session, error) {
	pair, err := s.tokens.Issue(user)
	if err != nil {
		return nil, err
	}
	s.metrics.IncTokenIssued()
	return &Session{User: user, Tokens: pair}, nil
}

func (s *AuthService) record(ctx context.Context, t audit.Type, userID, keyID string) {
	e := audit.NewEvent(t, s.now())
	e.UserID, e.KeyID = userID, keyID
	s.audit.Record(ctx, e)
}

func (s *AuthService) hash(ctx context.Context, password string) (string, error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveHashDuration(time.Since(start))
	}()
	return s.hasher.Hash(ctx, password)
}

func validateEmail(raw string) (string, error) {
	email := model.NormalizeEmail(raw)
	if email == "" || len(email) > maxEmailLength {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "", ErrInvalidEmail
	}
	return email, nil
}
