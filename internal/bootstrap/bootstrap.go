// Package bootstrap builds the shared runtime pieces from configuration so
// every binary wires storage, queue and provider the same way.
package bootstrap

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/kurihiro0119/sponsor-access-sync/internal/config"
	"github.com/kurihiro0119/sponsor-access-sync/internal/logging"
	"github.com/kurihiro0119/sponsor-access-sync/internal/metrics"
	"github.com/kurihiro0119/sponsor-access-sync/internal/provider/github"
	"github.com/kurihiro0119/sponsor-access-sync/internal/queue"
	queuememory "github.com/kurihiro0119/sponsor-access-sync/internal/queue/memory"
	queueredis "github.com/kurihiro0119/sponsor-access-sync/internal/queue/redis"
	"github.com/kurihiro0119/sponsor-access-sync/internal/reconciler"
	"github.com/kurihiro0119/sponsor-access-sync/internal/scheduler"
	"github.com/kurihiro0119/sponsor-access-sync/internal/storage"
	"github.com/kurihiro0119/sponsor-access-sync/internal/storage/memory"
	"github.com/kurihiro0119/sponsor-access-sync/internal/storage/postgres"
	"github.com/kurihiro0119/sponsor-access-sync/internal/storage/sqlite"
	"github.com/kurihiro0119/sponsor-access-sync/internal/worker"
)

// LoadConfig loads and validates the configuration
func LoadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Logger builds the root logger
func Logger(cfg *config.Config) zerolog.Logger {
	return logging.New(cfg.LogLevel, cfg.LogFormat).With().
		Str("env", cfg.Environment).
		Logger()
}

// OpenStorage opens the configured storage backend
func OpenStorage(cfg *config.Config) (storage.Storage, error) {
	switch cfg.StorageType {
	case "postgres":
		store, err := postgres.NewPostgresStorage(cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize PostgreSQL storage: %w", err)
		}
		return store, nil
	case "memory":
		return memory.New(), nil
	default:
		store, err := sqlite.NewSQLiteStorage(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite storage: %w", err)
		}
		return store, nil
	}
}

// OpenQueue opens the configured queue backend
func OpenQueue(ctx context.Context, cfg *config.Config) (queue.Queue, error) {
	if cfg.QueueBackend != "redis" {
		return queuememory.New(), nil
	}

	opts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	q, err := queueredis.New(client, queueredis.Config{KeyPrefix: cfg.QueuePrefix})
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return q, nil
}

// ProviderFactory builds the GitHub provider factory
func ProviderFactory(cfg *config.Config, logger zerolog.Logger) (*github.Factory, error) {
	return github.NewFactory(github.Options{
		BaseURL: cfg.GitHubAPIURL,
		Timeout: cfg.ProviderTimeout,
		Logger:  logging.Component(logger, "github"),
	})
}

// RetryPolicy returns the queue retry policy from configuration
func RetryPolicy(cfg *config.Config) queue.RetryPolicy {
	return queue.RetryPolicy{
		MaxAttempts: cfg.JobMaxAttempts,
		BaseDelay:   cfg.JobRetryBaseDelay,
		MaxDelay:    queue.DefaultMaxDelay,
	}
}

// Engine is the job-processing side of the service
type Engine struct {
	Reconciler *reconciler.Reconciler
	Pool       *worker.Pool
	Scheduler  *scheduler.Scheduler
}

// NewEngine wires the reconciler, worker pool and scheduler together
func NewEngine(cfg *config.Config, store storage.Storage, q queue.Queue, recorder metrics.Recorder, logger zerolog.Logger) (*Engine, error) {
	providers, err := ProviderFactory(cfg, logger)
	if err != nil {
		return nil, err
	}

	rec := reconciler.New(store, providers, q, recorder, logger)
	pool := worker.NewPool(q, rec, worker.Config{
		Concurrency: cfg.WorkerConcurrency,
		Retry:       RetryPolicy(cfg),
	}, recorder, logger)

	return &Engine{
		Reconciler: rec,
		Pool:       pool,
		Scheduler:  scheduler.New(store, q, recorder, logger),
	}, nil
}

// Recover requeues in-flight jobs abandoned by a crashed worker, when the
// backend supports it
func Recover(ctx context.Context, q queue.Queue, logger zerolog.Logger) error {
	r, ok := q.(interface {
		Recover(ctx context.Context) (int, error)
	})
	if !ok {
		return nil
	}
	moved, err := r.Recover(ctx)
	if err != nil {
		return err
	}
	if moved > 0 {
		logger.Warn().Int("jobs", moved).Msg("requeued jobs abandoned by a previous worker")
	}
	return nil
}
