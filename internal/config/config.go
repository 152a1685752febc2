// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Storage and state backends.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
)

// minSecretLen mirrors the token package's lower bound on signing secrets.
const minSecretLen = 32

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// User and API key storage (PostgreSQL or in-process)
	StoreBackend  string `env:"STORE_BACKEND" envDefault:"postgres"`
	DatabaseURL   string `env:"DATABASE_URL"`
	DBMaxConns    int32  `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns    int32  `env:"DB_MIN_CONNS" envDefault:"2"`
	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"migrations"`
	AutoMigrate   bool   `env:"AUTO_MIGRATE" envDefault:"true"`

	// Revocation list and rate limit buckets (in-process or Redis)
	StateBackend string `env:"STATE_BACKEND" envDefault:"memory"`
	RedisURL     string `env:"REDIS_URL"`

	// Tokens
	JWTAccessSecret  string        `env:"JWT_ACCESS_SECRET,required"`
	JWTRefreshSecret string        `env:"JWT_REFRESH_SECRET,required"`
	AccessTokenTTL   time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTokenTTL  time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"168h"`
	TokenLeeway      time.Duration `env:"TOKEN_LEEWAY" envDefault:"30s"`
	JWTIssuer        string        `env:"JWT_ISSUER" envDefault:"guardr"`

	// Credentials. Argon2id cost; existing hashes keep verifying after a change.
	HashTime        uint32 `env:"HASH_TIME" envDefault:"3"`
	HashMemoryKiB   uint32 `env:"HASH_MEMORY_KIB" envDefault:"65536"`
	HashThreads     uint8  `env:"HASH_THREADS" envDefault:"4"`
	HashConcurrency int    `env:"HASH_CONCURRENCY" envDefault:"0"`
	APIKeyBytes     int    `env:"API_KEY_BYTES" envDefault:"32"`

	// Rate limiting. The anonymous quota is keyed by client IP; the user
	// quota is keyed by identity and scaled by tier.
	RateLimitCapacity      int           `env:"RATE_LIMIT_CAPACITY" envDefault:"10"`
	RateLimitPerMinute     float64       `env:"RATE_LIMIT_PER_MINUTE" envDefault:"60"`
	UserRateLimitCapacity  int           `env:"USER_RATE_LIMIT_CAPACITY" envDefault:"30"`
	UserRateLimitPerMinute float64       `env:"USER_RATE_LIMIT_PER_MINUTE" envDefault:"120"`
	RateLimitIdleTTL       time.Duration `env:"RATE_LIMIT_IDLE_TTL" envDefault:"10m"`

	// CORS configuration
	// Comma-separated list of allowed origins (e.g., "https://example.com,https://app.example.com")
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:""`

	// Request body size limit in bytes (default 1MB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`

	// Compliance response headers
	DataProcessingPurpose string `env:"DATA_PROCESSING_PURPOSE" envDefault:"authentication"`
	DataRetentionPeriod   string `env:"DATA_RETENTION_PERIOD" envDefault:"P30D"`
	DataController        string `env:"DATA_CONTROLLER" envDefault:"Guardr"`

	MetricsEnabled bool `env:"METRICS_ENABLED" envDefault:"true"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// UsesRedis reports whether revocations and rate limit buckets live in Redis.
func (c *Config) UsesRedis() bool {
	return c.StateBackend == BackendRedis
}

// UsesPostgres reports whether users and API keys live in PostgreSQL.
func (c *Config) UsesPostgres() bool {
	return c.StoreBackend == BackendPostgres
}

// GetCORSAllowedOrigins parses the comma-separated origins string into a slice.
func (c *Config) GetCORSAllowedOrigins() []string {
	if c.CORSAllowedOrigins == "" {
		return nil
	}

	origins := strings.Split(c.CORSAllowedOrigins, ",")
	result := make([]string, 0, len(origins))

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// Validate checks cross-field constraints that struct tags cannot express.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	switch c.StoreBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when STORE_BACKEND=postgres"))
		}
		if c.DBMaxConns < 1 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
			errs = append(errs, errors.New("DB_MIN_CONNS must be within [0, DB_MAX_CONNS] and DB_MAX_CONNS at least 1"))
		}
	case BackendMemory:
		if c.IsProduction() {
			errs = append(errs, errors.New("STORE_BACKEND=memory is not allowed in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", BackendPostgres, BackendMemory, c.StoreBackend))
	}

	switch c.StateBackend {
	case BackendRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required when STATE_BACKEND=redis"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("STATE_BACKEND must be %q or %q, got %q", BackendMemory, BackendRedis, c.StateBackend))
	}

	if len(c.JWTAccessSecret) < minSecretLen || len(c.JWTRefreshSecret) < minSecretLen {
		errs = append(errs, fmt.Errorf("JWT secrets must be at least %d characters", minSecretLen))
	}
	if c.JWTAccessSecret == c.JWTRefreshSecret {
		errs = append(errs, errors.New("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ"))
	}
	if c.AccessTokenTTL <= 0 {
		errs = append(errs, errors.New("ACCESS_TOKEN_TTL must be positive"))
	}
	if c.RefreshTokenTTL <= c.AccessTokenTTL {
		errs = append(errs, errors.New("REFRESH_TOKEN_TTL must exceed ACCESS_TOKEN_TTL"))
	}

	if c.RateLimitCapacity <= 0 || c.RateLimitPerMinute <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_CAPACITY and RATE_LIMIT_PER_MINUTE must be positive"))
	}
	if c.UserRateLimitCapacity <= 0 || c.UserRateLimitPerMinute <= 0 {
		errs = append(errs, errors.New("USER_RATE_LIMIT_CAPACITY and USER_RATE_LIMIT_PER_MINUTE must be positive"))
	}

	if c.HashTime < 1 || c.HashThreads < 1 || c.HashMemoryKiB < 8*uint32(c.HashThreads) {
		errs = append(errs, errors.New("HASH_TIME and HASH_THREADS must be at least 1 and HASH_MEMORY_KIB at least 8*HASH_THREADS"))
	}

	if c.APIKeyBytes < 16 {
		errs = append(errs, errors.New("API_KEY_BYTES must be at least 16"))
	}

	switch c.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat))
	}

	return errors.Join(errs...)
}

// Load reads an optional .env file, parses environment variables and
// validates the result. Variables already set in the environment win over
// the .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
