package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx driver for database/sql
	"github.com/redis/go-redis/v9"

	"github.com/phrazzld/jobstream/internal/api"
	"github.com/phrazzld/jobstream/internal/cache"
	"github.com/phrazzld/jobstream/internal/config"
	"github.com/phrazzld/jobstream/internal/events"
	"github.com/phrazzld/jobstream/internal/platform/gemini"
	"github.com/phrazzld/jobstream/internal/platform/memory"
	"github.com/phrazzld/jobstream/internal/platform/postgres"
	"github.com/phrazzld/jobstream/internal/resilience"
	"github.com/phrazzld/jobstream/internal/store"
	"github.com/phrazzld/jobstream/internal/stream"
	"github.com/phrazzld/jobstream/internal/task"
)

// application holds the process-wide dependencies so they can be released
// in one place on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger

	db    *sql.DB
	redis *redis.Client

	store       store.JobStore
	bus         events.Bus
	cache       cache.Cache
	memoryCache *cache.MemoryCache

	breakers *resilience.Registry
	runner   *task.Runner
	listener *cache.Listener
	router   http.Handler
}

// newApplication wires every component. Backends are chosen by config: an
// empty database url selects the in-memory store, an empty redis url the
// in-process bus and cache.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{config: cfg, logger: logger}

	if err := app.setupStore(ctx); err != nil {
		app.cleanup()
		return nil, err
	}
	if err := app.setupEvents(ctx); err != nil {
		app.cleanup()
		return nil, err
	}

	handlers, err := app.setupHandlers(ctx)
	if err != nil {
		app.cleanup()
		return nil, err
	}

	app.breakers = resilience.NewRegistry(cfg.Breaker.FailureThreshold, cfg.Breaker.Cooldown())
	envelope := resilience.NewEnvelope(resilience.PolicyFromConfig(cfg.Retry), app.breakers, logger)
	executor := task.NewExecutor(app.store, app.bus, envelope, handlers, task.ExecutorConfig{
		SoftTimeout: cfg.Task.SoftTimeout(),
		HardTimeout: cfg.Task.HardTimeout(),
	}, logger)
	app.runner = task.NewRunner(app.store, executor, task.RunnerConfigFromConfig(cfg.Task), logger)
	app.listener = cache.NewListener(app.cache, app.store, logger)

	gateway := stream.NewGateway(app.cache, app.store, app.bus, cfg.Stream.Heartbeat(), logger)
	jobs := api.NewJobHandler(app.runner, app.cache, app.store, gateway, logger)
	app.router = api.NewRouter(jobs, app.breakers, logger)

	logger.Info("application initialized",
		"store", storeBackend(cfg),
		"events", eventBackend(cfg),
		"kinds", handlers.Kinds())
	return app, nil
}

func (app *application) setupStore(ctx context.Context) error {
	if app.config.Database.URL == "" {
		app.logger.Warn("no database url configured, jobs are kept in memory")
		app.store = memory.NewJobStore(app.logger)
		return nil
	}

	db, err := openDatabase(ctx, app.config.Database.URL, app.logger)
	if err != nil {
		return err
	}
	app.db = db
	app.store = postgres.NewPostgresJobStore(db)
	return nil
}

func (app *application) setupEvents(ctx context.Context) error {
	if app.config.Redis.URL == "" {
		app.bus = events.NewMemoryBus(app.logger)
		app.memoryCache = cache.NewMemoryCache(app.config.Cache.CacheTTL())
		app.cache = app.memoryCache
		return nil
	}

	opts, err := redis.ParseURL(app.config.Redis.URL)
	if err != nil {
		return fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	app.redis = client
	app.bus = events.NewRedisBus(client, app.logger)
	app.cache = cache.NewRedisCache(client, app.config.Cache.CacheTTL())
	app.logger.Info("redis connection established")
	return nil
}

func (app *application) setupHandlers(ctx context.Context) (*task.Registry, error) {
	var gen gemini.Generator = gemini.Unconfigured
	if app.config.LLM.GeminiAPIKey != "" {
		client, err := gemini.NewClient(ctx, app.config.LLM, app.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize gemini client: %w", err)
		}
		gen = client
	} else {
		app.logger.Warn("no gemini api key configured, generation jobs will fail")
	}

	handlers := task.NewRegistry()
	if err := gemini.Register(handlers, gen, app.logger); err != nil {
		return nil, fmt.Errorf("failed to register task handlers: %w", err)
	}
	return handlers, nil
}

// cleanup releases connections. It is safe on a partially built application.
func (app *application) cleanup() {
	if app.bus != nil {
		if err := app.bus.Close(); err != nil {
			app.logger.Error("failed to close event bus", "error", err)
		}
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error("failed to close redis client", "error", err)
		}
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("failed to close database", "error", err)
		}
	}
}

func openDatabase(ctx context.Context, url string, logger *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established")
	return db, nil
}

func storeBackend(cfg *config.Config) string {
	if cfg.Database.URL == "" {
		return "memory"
	}
	return "postgres"
}

func eventBackend(cfg *config.Config) string {
	if cfg.Redis.URL == "" {
		return "memory"
	}
	return "redis"
}
