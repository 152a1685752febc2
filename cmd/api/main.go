// Package main is the entrypoint for the Guardr API server.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/calebmills99/guardrV6/internal/audit"
	"github.com/calebmills99/guardrV6/internal/auth"
	"github.com/calebmills99/guardrV6/internal/cache"
	"github.com/calebmills99/guardrV6/internal/config"
	"github.com/calebmills99/guardrV6/internal/handler"
	"github.com/calebmills99/guardrV6/internal/metrics"
	"github.com/calebmills99/guardrV6/internal/middleware"
	"github.com/calebmills99/guardrV6/internal/ratelimit"
	"github.com/calebmills99/guardrV6/internal/repository"
	"github.com/calebmills99/guardrV6/internal/server"
	"github.com/calebmills99/guardrV6/internal/service"
	"github.com/calebmills99/guardrV6/internal/token"
	"github.com/calebmills99/guardrV6/internal/usage"
)

// state is the backend holding revocations, rate limit buckets and usage
// counters.
type state interface {
	token.RevocationStore
	ratelimit.Admitter
	usage.Store
}

// component is a named resource stopped during graceful shutdown.
type component struct {
	name string
	stop server.ShutdownFunc
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg)

	// Registered in start order; the server stops them in reverse.
	var components []component

	// Initialize user and API key storage
	var (
		store  service.KeyStore
		dbPing handler.HealthChecker
	)
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		if cfg.AutoMigrate {
			if err := repository.ApplyMigrations(logger, cfg.MigrationsDir, cfg.DatabaseURL); err != nil {
				logger.Error(
					"failed to apply migrations",
					slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
				)
				os.Exit(1)
			}
		} else {
			version, dirty, err := repository.MigrationVersion(cfg.MigrationsDir, cfg.DatabaseURL)
			switch {
			case err != nil:
				logger.Warn("could not read schema version", slog.String("error", sanitizeError(err, cfg.DatabaseURL)))
			case dirty || version == 0:
				logger.Warn("database schema needs migrating", "version", version, "dirty", dirty)
			default:
				logger.Info("database schema version", "version", version)
			}
		}

		repo, err := repository.New(ctx, cfg.DatabaseURL, repository.PoolConfig{
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
		})
		if err != nil {
			logger.Error(
				"failed to connect to database",
				slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
				slog.String("database_url", redactURL(cfg.DatabaseURL)),
			)
			os.Exit(1)
		}
		components = append(components, component{"postgres", func(context.Context) error {
			repo.Close()
			return nil
		}})
		store, dbPing = repo, repo
		logger.Info("connected to database")
	default:
		store = repository.NewMemory()
		logger.Warn("using in-memory user store; data is lost on restart")
	}

	// Initialize revocation and rate limit state
	anonymousQuota := ratelimit.Quota{Capacity: cfg.RateLimitCapacity, RefillPerMinute: cfg.RateLimitPerMinute}
	userQuota := ratelimit.Quota{Capacity: cfg.UserRateLimitCapacity, RefillPerMinute: cfg.UserRateLimitPerMinute}

	var (
		shared    state
		cachePing handler.HealthChecker
		events    audit.Sink
	)
	if cfg.UsesRedis() {
		cacheClient, err := cache.New(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error(
				"failed to connect to Redis",
				slog.String("error", sanitizeError(err, cfg.RedisURL)),
				slog.String("redis_url", redactURL(cfg.RedisURL)),
			)
			os.Exit(1)
		}
		components = append(components, component{"redis", func(context.Context) error {
			return cacheClient.Close()
		}})
		shared, cachePing = cacheClient, cacheClient
		logger.Info("connected to Redis")

		stream := audit.NewStream(cacheClient.Client(), logger)
		components = append(components, component{"audit", func(context.Context) error {
			stream.Wait()
			return nil
		}})
		events = stream
	} else {
		shared = newLocalState(ctx, anonymousQuota, cfg.RateLimitIdleTTL)
		events = audit.NewLogSink(logger)
		logger.Info("using in-process revocation and rate limit state")
	}

	// Initialize metrics
	var (
		recorder       metrics.Recorder = metrics.NewNoop()
		metricsHandler http.Handler
	)
	if cfg.MetricsEnabled {
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		prom := metrics.NewPrometheus(registry)
		recorder, metricsHandler = prom, prom.Handler()
	}

	// Initialize services
	tokens, err := token.New(token.Config{
		AccessSecret:  cfg.JWTAccessSecret,
		RefreshSecret: cfg.JWTRefreshSecret,
		AccessTTL:     cfg.AccessTokenTTL,
		RefreshTTL:    cfg.RefreshTokenTTL,
		Leeway:        cfg.TokenLeeway,
		Issuer:        cfg.JWTIssuer,
	}, shared, token.WithLogger(logger))
	if err != nil {
		logger.Error("failed to configure token service", "error", err)
		os.Exit(1)
	}

	hasher := auth.NewHasher(hashParams(cfg), cfg.HashConcurrency)
	apiKeyService := service.NewAPIKeyService(store, service.APIKeyConfig{
		KeyBytes: cfg.APIKeyBytes,
		Audit:    events,
	}, logger, recorder)
	authService := service.NewAuthService(store, hasher, tokens, logger, recorder, service.WithAudit(events))
	tracker := usage.NewTracker(shared, logger)

	// Background work is stopped before stores close.
	components = append(components, component{"background", func(context.Context) error {
		cancel()
		apiKeyService.Wait()
		tracker.Wait()
		return nil
	}})

	// Setup router
	router := server.NewRouter(server.Routes{
		Pipeline: middleware.PipelineConfig{
			Logger:  logger,
			Metrics: recorder,
			Security: middleware.SecurityConfig{
				IsDevelopment:         cfg.IsDevelopment(),
				MaxRequestBodySize:    cfg.MaxRequestBodySize,
				DataProcessingPurpose: cfg.DataProcessingPurpose,
				DataRetentionPeriod:   cfg.DataRetentionPeriod,
				DataController:        cfg.DataController,
			},
			CORS:           corsConfig(cfg),
			Admitter:       shared,
			AnonymousQuota: anonymousQuota,
			UserQuota:      userQuota,
			Tokens:         tokens,
			APIKeys:        apiKeyService,
			Usage:          tracker,
		},
		Health:  handler.NewHealthHandler(dbPing, cachePing, logger),
		Auth:    handler.NewAuthHandler(authService, logger, handler.WithUsage(tracker)),
		APIKeys: handler.NewAPIKeyHandler(apiKeyService, logger),
		Metrics: metricsHandler,
	})

	// Create and run server
	srv := server.New(router, server.Config{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)
	for _, c := range components {
		srv.OnShutdown(c.name, c.stop)
	}

	logger.Info("starting server",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
		"store", cfg.StoreBackend,
		"state", cfg.StateBackend,
	)

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// localState keeps revocations, rate limit buckets and usage counters in
// process memory.
type localState struct {
	*token.MemoryStore
	*ratelimit.Controller
	*usage.Memory
}

// newLocalState builds the in-process state and starts its sweepers,
// which stop when ctx ends.
func newLocalState(ctx context.Context, quota ratelimit.Quota, idleTTL time.Duration) *localState {
	revocations := token.NewMemoryStore(nil)
	limiter := ratelimit.NewController(ratelimit.Config{
		Quota:         quota,
		IdleTTL:       idleTTL,
		SweepInterval: idleTTL / 2,
	})

	go revocations.Run(ctx, time.Minute)
	go limiter.Run(ctx)

	return &localState{MemoryStore: revocations, Controller: limiter, Memory: usage.NewMemory()}
}

// hashParams applies the configured Argon2id cost to the default sizes.
func hashParams(cfg *config.Config) auth.Params {
	p := auth.DefaultParams
	p.Time = cfg.HashTime
	p.Memory = cfg.HashMemoryKiB
	p.Threads = cfg.HashThreads
	return p
}

func corsConfig(cfg *config.Config) middleware.CORSConfig {
	c := middleware.DefaultCORSConfig()
	c.AllowedOrigins = cfg.GetCORSAllowedOrigins()
	if cfg.IsDevelopment() && len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"http://localhost:3000"}
	}
	return c
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	level := parseLogLevel(cfg.LogLevel)

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h).With("service", "guardr")
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s&]+`)

// redactURL strips the password from a connection string.
func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

// sanitizeError replaces every secret in err's message with its redacted
// form and masks inline password parameters.
func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
