// Command bootstrap provisions a service account and issues its first API
// key. The account has no password and can only authenticate with keys.
// With -deactivate it disables the account instead, which stops its keys
// from authenticating.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/calebmills99/guardrV6/internal/audit"
	"github.com/calebmills99/guardrV6/internal/model"
	"github.com/calebmills99/guardrV6/internal/repository"
	"github.com/calebmills99/guardrV6/internal/service"
)

// accountStore is the storage the command needs.
type accountStore interface {
	service.KeyStore
	UpdateUserTier(ctx context.Context, id string, tier model.Tier, at time.Time) error
	SetUserActive(ctx context.Context, id string, active bool, at time.Time) error
}

type options struct {
	Email   string
	Name    string
	KeyName string
	Tier    model.Tier
	TTL     time.Duration
	Format  string

	Deactivate bool
}

type output struct {
	UserID    string     `json:"user_id"`
	Email     string     `json:"email"`
	Tier      model.Tier `json:"subscription_tier"`
	KeyID     string     `json:"key_id"`
	Key       string     `json:"key"`
	KeyPrefix string     `json:"key_prefix"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func main() {
	_ = godotenv.Load()

	var (
		databaseURL = flag.String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
		email       = flag.String("email", "system@guardr.local", "Service account email")
		name        = flag.String("name", "system", "Service account display name")
		keyName     = flag.String("key-name", "bootstrap", "API key name")
		tierInput   = flag.String("tier", string(model.TierEnterprise), "Subscription tier (free, pro, enterprise)")
		ttl         = flag.Duration("ttl", 0, "Key lifetime; 0 means no expiry")
		format      = flag.String("format", "plain", "Output format: plain or json")
		deactivate  = flag.Bool("deactivate", false, "Deactivate the account instead of issuing a key")
	)
	flag.Parse()

	if *databaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	tier, err := model.ParseTier(*tierInput)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, err := repository.New(ctx, *databaseURL, repository.PoolConfig{MaxConns: 2})
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect database:", err)
		os.Exit(1)
	}
	defer repo.Close()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	err = run(ctx, repo, logger, options{
		Email:   *email,
		Name:    *name,
		KeyName: *keyName,
		Tier:    tier,
		TTL:     *ttl,
		Format:  *format,

		Deactivate: *deactivate,
	}, os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// run ensures the account exists at the requested tier, then issues a key
// through the same service the API uses, so tier caps still apply.
func run(ctx context.Context, store accountStore, logger *slog.Logger, opts options, w io.Writer) error {
	format := strings.ToLower(opts.Format)
	if format != "plain" && format != "json" {
		return errors.New("invalid format; use plain or json")
	}

	if opts.Deactivate {
		return deactivate(ctx, store, opts.Email, w)
	}

	user, err := ensureUser(ctx, store, opts)
	if err != nil {
		return err
	}

	keys := service.NewAPIKeyService(store, service.APIKeyConfig{Audit: audit.NewLogSink(logger)}, logger, nil)
	defer keys.Wait()

	var expiresAt *time.Time
	if opts.TTL > 0 {
		exp := time.Now().UTC().Add(opts.TTL)
		expiresAt = &exp
	}

	key, plaintext, err := keys.Create(ctx, user.ID, opts.KeyName, expiresAt)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	out := output{
		UserID:    user.ID,
		Email:     user.Email,
		Tier:      user.Tier,
		KeyID:     key.ID,
		Key:       plaintext,
		KeyPrefix: key.KeyPrefix,
		ExpiresAt: key.ExpiresAt,
	}

	if format == "plain" {
		_, err = fmt.Fprintln(w, out.Key)
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// deactivate disables an existing account. Running it twice is harmless.
func deactivate(ctx context.Context, store accountStore, email string, w io.Writer) error {
	user, err := store.GetUserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	if user.Active {
		if err := store.SetUserActive(ctx, user.ID, false, time.Now().UTC()); err != nil {
			return fmt.Errorf("deactivate user: %w", err)
		}
	}
	_, err = fmt.Fprintf(w, "deactivated %s\n", user.Email)
	return err
}

func ensureUser(ctx context.Context, store accountStore, opts options) (*model.User, error) {
	now := time.Now().UTC()

	existing, err := store.GetUserByEmail(ctx, opts.Email)
	switch {
	case err == nil:
		if !existing.Active {
			return nil, fmt.Errorf("user %s is deactivated", existing.Email)
		}
		if existing.Tier != opts.Tier {
			if err := store.UpdateUserTier(ctx, existing.ID, opts.Tier, now); err != nil {
				return nil, fmt.Errorf("update tier: %w", err)
			}
			existing.Tier = opts.Tier
		}
		return existing, nil
	case !errors.Is(err, repository.ErrUserNotFound):
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	user := &model.User{
		ID:        uuid.NewString(),
		Email:     model.NormalizeEmail(opts.Email),
		Name:      opts.Name,
		Tier:      opts.Tier,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}
