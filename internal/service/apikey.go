package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	"github.com/calebmills99/guardrV6/internal/apperror"
	"github.com/calebmills99/guardrV6/internal/audit"
	"github.com/calebmills99/guardrV6/internal/auth"
	"github.com/calebmills99/guardrV6/internal/metrics"
	"github.com/calebmills99/guardrV6/internal/model"
	"github.com/calebmills99/guardrV6/internal/repository"
)

const (
	// DefaultLastUsedTimeout bounds the background last-used update.
	DefaultLastUsedTimeout = 5 * time.Second

	createLockStripes = 64
)

// APIKeyConfig configures an APIKeyService.
type APIKeyConfig struct {
	KeyBytes        int
	LastUsedTimeout time.Duration
	Now             func() time.Time
	// Audit receives key lifecycle events. Nil discards them.
	Audit audit.Sink
}

// APIKeyService manages API key issuance, authentication and revocation.
type APIKeyService struct {
	store           KeyStore
	logger          *slog.Logger
	metrics         metrics.Recorder
	audit           audit.Sink
	now             func() time.Time
	keyBytes        int
	lastUsedTimeout time.Duration

	// createLocks serialize count-then-insert per owner.
	createLocks [createLockStripes]sync.Mutex
	background  sync.WaitGroup
}

// NewAPIKeyService creates a new APIKeyService.
func NewAPIKeyService(store KeyStore, cfg APIKeyConfig, logger *slog.Logger, recorder metrics.Recorder) *APIKeyService {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if cfg.KeyBytes < auth.MinKeyBytes {
		cfg.KeyBytes = auth.DefaultKeyBytes
	}
	if cfg.LastUsedTimeout <= 0 {
		cfg.LastUsedTimeout = DefaultLastUsedTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.Nop{}
	}
	return &APIKeyService{
		store:           store,
		logger:          logger,
		metrics:         recorder,
		audit:           cfg.Audit,
		now:             cfg.Now,
		keyBytes:        cfg.KeyBytes,
		lastUsedTimeout: cfg.LastUsedTimeout,
	}
}

// Create issues a new key for ownerID. The plaintext is returned once and
// never stored.
func (s *APIKeyService) Create(ctx context.Context, ownerID, name string, expiresAt *time.Time) (*model.APIKey, string, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxNameLength {
		return nil, "", ErrInvalidName
	}

	now := s.now().UTC()
	if expiresAt != nil && !expiresAt.After(now) {
		return nil, "", ErrExpiresInPast
	}

	owner, err := s.store.GetUserByID(ctx, ownerID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, "", apperror.ErrUnauthorized
		}
		return nil, "", apperror.Internal(fmt.Errorf("get owner: %w", err))
	}
	if !owner.Active {
		return nil, "", apperror.ErrUnauthorized
	}

	mu := s.createLock(ownerID)
	mu.Lock()
	defer mu.Unlock()

	count, err := s.store.CountActiveAPIKeys(ctx, ownerID, now)
	if err != nil {
		return nil, "", apperror.Internal(fmt.Errorf("count api keys: %w", err))
	}
	if count >= owner.Tier.Limits().MaxAPIKeys {
		return nil, "", ErrKeyLimitReached
	}

	generated, err := auth.GenerateAPIKey(s.keyBytes)
	if err != nil {
		return nil, "", apperror.Internal(fmt.Errorf("generate api key: %w", err))
	}

	key := &model.APIKey{
		ID:        ulid.Make().String(),
		UserID:    ownerID,
		Name:      name,
		KeyHash:   generated.Hash,
		KeyPrefix: generated.Prefix,
		CreatedAt: now,
		ExpiresAt: expiresAt,
		Active:    true,
	}
	if err := s.store.CreateAPIKey(ctx, key); err != nil {
		return nil, "", apperror.Internal(fmt.Errorf("create api key: %w", err))
	}

	s.metrics.IncAPIKeyCreated()
	s.logger.Info("api key created",
		"key_id", key.ID,
		"user_id", ownerID,
		"key_prefix", key.KeyPrefix,
	)
	s.record(ctx, audit.TypeAPIKeyCreated, ownerID, key.ID)

	return key, generated.Plaintext, nil
}

// Authenticate resolves a plaintext key to its record and owner.
// Every rejection, including a store failure, is ErrUnauthorized.
func (s *APIKeyService) Authenticate(ctx context.Context, plaintext string) (*model.APIKey, *model.User, error) {
	if !auth.ValidateKeyFormat(plaintext, s.keyBytes) {
		return nil, nil, apperror.ErrUnauthorized
	}

	key, err := s.store.GetAPIKeyByHash(ctx, auth.HashAPIKey(plaintext))
	if err != nil {
		if !errors.Is(err, repository.ErrAPIKeyNotFound) {
			s.logger.Error("api key lookup failed", "error", err)
		}
		return nil, nil, apperror.ErrUnauthorized
	}

	now := s.now()
	if !key.IsUsable(now) {
		return nil, nil, apperror.ErrUnauthorized
	}

	owner, err := s.store.GetUserByID(ctx, key.UserID)
	if err != nil {
		if !errors.Is(err, repository.ErrUserNotFound) {
			s.logger.Error("api key owner lookup failed", "key_id", key.ID, "error", err)
		}
		return nil, nil, apperror.ErrUnauthorized
	}
	if !owner.Active {
		return nil, nil, apperror.ErrUnauthorized
	}

	s.touch(ctx, key.ID, now)

	return key, owner, nil
}

// touch records key use without delaying the caller.
func (s *APIKeyService) touch(ctx context.Context, keyID string, at time.Time) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.lastUsedTimeout)
		defer cancel()

		if err := s.store.UpdateAPIKeyLastUsed(ctx, keyID, at.UTC()); err != nil {
			s.logger.Warn("update api key last used failed", "key_id", keyID, "error", err)
		}
	}()
}

// Revoke deactivates a key owned by ownerID.
// Unknown keys and keys of other users are ErrAPIKeyNotFound.
func (s *APIKeyService) Revoke(ctx context.Context, ownerID, keyID string) error {
	changed, err := s.store.RevokeAPIKey(ctx, ownerID, keyID)
	if err != nil {
		return apperror.Internal(fmt.Errorf("revoke api key: %w", err))
	}
	if !changed {
		return ErrAPIKeyNotFound
	}

	s.metrics.IncAPIKeyRevoked()
	s.logger.Info("api key revoked", "key_id", keyID, "user_id", ownerID)
	s.record(ctx, audit.TypeAPIKeyRevoked, ownerID, keyID)
	return nil
}

// List returns all keys of ownerID, newest first.
func (s *APIKeyService) List(ctx context.Context, ownerID string) ([]*model.APIKey, error) {
	keys, err := s.store.ListAPIKeysByUserID(ctx, ownerID)
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("list api keys: %w", err))
	}
	return keys, nil
}

// Identity builds the request identity for an authenticated key.
func (s *APIKeyService) Identity(key *model.APIKey, owner *model.User) *model.Identity {
	id := &model.Identity{
		Source:    model.IdentitySourceAPIKey,
		UserID:    owner.ID,
		Email:     owner.Email,
		Tier:      owner.Tier,
		KeyID:     key.ID,
		KeyPrefix: key.KeyPrefix,
	}
	if key.ExpiresAt != nil {
		id.ExpiresAt = *key.ExpiresAt
	}
	return id
}

// Wait blocks until background last-used updates finish.
func (s *APIKeyService) Wait() {
	s.background.Wait()
}

func (s *APIKeyService) record(ctx context.Context, t audit.Type, userID, keyID string) {
	e := audit.NewEvent(t, s.now())
	e.UserID, e.KeyID = userID, keyID
	s.audit.Record(ctx, e)
}

func (s *APIKeyService) createLock(ownerID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(ownerID))
	return &s.createLocks[h.Sum32()%createLockStripes]
}
