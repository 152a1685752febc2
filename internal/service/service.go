// Package service provides the credential business logic: registration,
// login, session refresh and API key lifecycle.
package service

import (
	"context"
	"time"

	"github.com/calebmills99/guardrV6/internal/apperror"
	"github.com/calebmills99/guardrV6/internal/model"
)

// UserStore persists user records.
type UserStore interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
}

// APIKeyStore persists API key records.
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, key *model.APIKey) error
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*model.APIKey, error)
	ListAPIKeysByUserID(ctx context.Context, userID string) ([]*model.APIKey, error)
	CountActiveAPIKeys(ctx context.Context, userID string, now time.Time) (int, error)
	RevokeAPIKey(ctx context.Context, userID, id string) (bool, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id string, at time.Time) error
}

// KeyStore is the durable store behind both services.
// *repository.Repository and *repository.Memory implement it.
type KeyStore interface {
	UserStore
	APIKeyStore
}

// Service errors.
var (
	ErrKeyLimitReached = apperror.New(apperror.KindForbidden, "KEY_LIMIT_REACHED", "API key limit reached for subscription tier")
	ErrAPIKeyNotFound  = apperror.New(apperror.KindNotFound, "API_KEY_NOT_FOUND", "API key not found")
	ErrEmailExists     = apperror.New(apperror.KindConflict, "EMAIL_EXISTS", "Email already registered")
	ErrInvalidEmail    = apperror.New(apperror.KindValidation, "INVALID_EMAIL", "Invalid email address")
	ErrInvalidName     = apperror.New(apperror.KindValidation, "INVALID_NAME", "name must be 1-100 characters")
	ErrExpiresInPast   = apperror.New(apperror.KindValidation, "EXPIRES_IN_PAST", "expires_at must be in the future")
)

const maxNameLength = 100
