package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/Krigsexe/Yggdrasil/internal/adapter"
	"github.com/Krigsexe/Yggdrasil/internal/auth"
	"github.com/Krigsexe/Yggdrasil/internal/branches"
	"github.com/Krigsexe/Yggdrasil/internal/config"
	"github.com/Krigsexe/Yggdrasil/internal/council"
	"github.com/Krigsexe/Yggdrasil/internal/ledger"
	"github.com/Krigsexe/Yggdrasil/internal/model"
	"github.com/Krigsexe/Yggdrasil/internal/pipeline"
	"github.com/Krigsexe/Yggdrasil/internal/ratelimit"
	"github.com/Krigsexe/Yggdrasil/internal/server"
	"github.com/Krigsexe/Yggdrasil/internal/storage"
	"github.com/Krigsexe/Yggdrasil/internal/telemetry"
	"github.com/Krigsexe/Yggdrasil/internal/validator"
	"github.com/Krigsexe/Yggdrasil/internal/watcher"
	"github.com/Krigsexe/Yggdrasil/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

// Default provider models per member. Groq hosts the fast open-weight
// members; Gemini hosts the rest. When only one provider key is configured,
// it backs the whole council.
const (
	groqModel   = "llama-3.3-70b-versatile"
	geminiModel = "gemini-2.0-flash"
)

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("YGGDRASIL_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("yggdrasil starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Select the ledger store. Postgres when DATABASE_URL is set, else the
	// in-memory store for local development.
	var store ledger.Store
	if cfg.DatabaseURL != "" {
		db, err := storage.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		defer db.Close()

		if err := db.RunMigrations(ctx, migrations.FS); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		store = db
		logger.Info("ledger store: postgres")
	} else {
		store = ledger.NewMemoryStore()
		logger.Warn("ledger store: in-memory (knowledge does not survive a restart)")
	}

	jwtMgr, err := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiration)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	// Assemble the council from configured provider keys.
	registry := newCouncilRegistry(cfg, logger)
	thing := council.New(registry, logger)
	odin := validator.New(logger)
	munin := ledger.New(store, logger)

	// Evidence searchers. No provider APIs are wired yet, so the branches run
	// on the static searchers and serve no evidence until one is configured.
	// TODO: add arXiv/PubMed SourceSearcher implementations for MIMIR/VOLVA.
	sourceSearcher := &branches.StaticSourceSearcher{}
	webSearcher := &branches.StaticWebSearcher{}
	logger.Info("evidence providers: none configured")

	handlers := []branches.Handler{
		branches.NewMimir(sourceSearcher, logger),
		branches.NewVolva(sourceSearcher, logger),
		branches.NewHugin(webSearcher, logger),
	}

	pipe := pipeline.New(handlers, thing, odin, munin, nil, logger)

	// Start the watcher daemon.
	var wtr *watcher.Watcher
	if cfg.WatcherEnabled {
		wtr = watcher.New(munin, webSearcher, logger, watcher.Config{
			BatchSize: cfg.WatcherBatchSize,
		})
		go func() { _ = wtr.Run(ctx) }()
		logger.Info("watcher: enabled", "batch_size", cfg.WatcherBatchSize)
	} else {
		logger.Info("watcher: disabled")
	}

	// Create the rate limiter. Redis when REDIS_URL is set so the limit holds
	// across replicas, else a per-process token bucket.
	limiter, err := newLimiter(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = limiter.Close() }()

	srv := server.New(server.Config{
		Pipeline:            pipe,
		Ledger:              munin,
		Watcher:             wtr,
		JWTMgr:              jwtMgr,
		Limiter:             limiter,
		Logger:              logger,
		APIKey:              cfg.APIKey,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	// Start HTTP server in background.
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	// Graceful shutdown: stop accepting new HTTP requests and drain in-flight
	// work. The watcher stops with the signal context; a sweep in flight
	// finishes its batch before Run returns.
	slog.Info("yggdrasil shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	slog.Info("yggdrasil stopped")
	return nil
}

// newCouncilRegistry backs each council member with a configured provider.
// With both keys the council splits across providers so a single outage
// degrades it instead of silencing it. With no keys the registry is empty
// and every knowledge query is refused.
func newCouncilRegistry(cfg config.Config, logger *slog.Logger) *adapter.Registry {
	var adapters []adapter.ILLMAdapter

	switch {
	case cfg.GroqAPIKey != "" && cfg.GeminiAPIKey != "":
		for _, m := range []model.CouncilMember{model.MemberKvasir, model.MemberSaga, model.MemberLoki} {
			adapters = append(adapters, adapter.NewGroqAdapter(m, groqModel, cfg.GroqAPIKey))
		}
		for _, m := range []model.CouncilMember{model.MemberBragi, model.MemberNornes, model.MemberSyn, model.MemberTyr} {
			adapters = append(adapters, adapter.NewGeminiAdapter(m, geminiModel, cfg.GeminiAPIKey))
		}
		logger.Info("council: groq + gemini", "members", len(adapters))

	case cfg.GroqAPIKey != "":
		for _, m := range model.AllMembers {
			adapters = append(adapters, adapter.NewGroqAdapter(m, groqModel, cfg.GroqAPIKey))
		}
		logger.Info("council: groq only", "members", len(adapters))

	case cfg.GeminiAPIKey != "":
		for _, m := range model.AllMembers {
			adapters = append(adapters, adapter.NewGeminiAdapter(m, geminiModel, cfg.GeminiAPIKey))
		}
		logger.Info("council: gemini only", "members", len(adapters))

	default:
		logger.Warn("council: no provider keys configured, all knowledge queries will be refused")
	}

	return adapter.NewRegistry(adapters...)
}

// newLimiter selects the rate limiter backend. The Redis limiter counts in
// fixed one-minute windows, so the per-second rate is scaled up to a
// per-window budget.
func newLimiter(cfg config.Config, logger *slog.Logger) (ratelimit.Limiter, error) {
	if cfg.RedisURL == "" {
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
		return ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst), nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	client := redis.NewClient(opts)

	window := time.Minute
	limit := int(cfg.RateLimitRPS * window.Seconds())
	if limit < cfg.RateLimitBurst {
		limit = cfg.RateLimitBurst
	}
	logger.Info("rate limiting: redis (fixed window)", "limit", limit, "window", window.String())
	return ratelimit.NewRedisLimiter(client, limit, window), nil
}
