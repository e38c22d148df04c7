package bootstrap

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/sponsor-access-sync/internal/config"
	"github.com/kurihiro0119/sponsor-access-sync/internal/metrics"
	queuememory "github.com/kurihiro0119/sponsor-access-sync/internal/queue/memory"
	"github.com/kurihiro0119/sponsor-access-sync/internal/storage/memory"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Environment:       config.EnvDevelopment,
		StorageType:       "sqlite",
		SQLitePath:        filepath.Join(t.TempDir(), "bootstrap.db"),
		QueueBackend:      "memory",
		WorkerConcurrency: 2,
		JobMaxAttempts:    3,
		JobRetryBaseDelay: time.Second,
		SchedulerCron:     config.DevelopmentSweepCron,
	}
}

func TestOpenStorage(t *testing.T) {
	cfg := testConfig(t)
	store, err := OpenStorage(cfg)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	cfg.StorageType = "memory"
	store, err = OpenStorage(cfg)
	require.NoError(t, err)
	assert.IsType(t, &memory.Storage{}, store)
}

func TestOpenQueue_Memory(t *testing.T) {
	q, err := OpenQueue(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer q.Close()
	assert.IsType(t, &queuememory.Queue{}, q)
	assert.NoError(t, Recover(context.Background(), q, zerolog.Nop()))
}

func TestOpenQueue_BadRedisURL(t *testing.T) {
	cfg := testConfig(t)
	cfg.QueueBackend = "redis"
	cfg.RedisURL = "://nope"
	_, err := OpenQueue(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNewEngine(t *testing.T) {
	cfg := testConfig(t)
	q := queuememory.New()
	defer q.Close()

	engine, err := NewEngine(cfg, memory.New(), q, metrics.Noop{}, zerolog.Nop())
	require.NoError(t, err)
	assert.NotNil(t, engine.Reconciler)
	assert.NotNil(t, engine.Pool)
	assert.NotNil(t, engine.Scheduler)

	assert.Equal(t, 3, RetryPolicy(cfg).MaxAttempts)
}
