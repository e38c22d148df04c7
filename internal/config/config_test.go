package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Environment:       EnvDevelopment,
		StorageType:       "sqlite",
		SQLitePath:        "./sponsors.db",
		QueueBackend:      "memory",
		WorkerConcurrency: 1,
		JobMaxAttempts:    3,
		SchedulerCron:     DevelopmentSweepCron,
	}
}

func TestLoad_EnvironmentDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("SCHEDULER_CRON", "")
	t.Setenv("JOB_RETRY_BASE_DELAY", "2s")
	t.Setenv("WORKER_CONCURRENCY", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, ProductionSweepCron, cfg.SchedulerCron)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 2*time.Second, cfg.JobRetryBaseDelay)
	assert.Equal(t, 4, cfg.WorkerConcurrency)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "bad env", mutate: func(c *Config) { c.Environment = "staging" }, field: "APP_ENV"},
		{name: "bad storage", mutate: func(c *Config) { c.StorageType = "mysql" }, field: "STORAGE_TYPE"},
		{name: "memory storage", mutate: func(c *Config) { c.StorageType = "memory" }},
		{name: "postgres without url", mutate: func(c *Config) { c.StorageType = "postgres" }, field: "POSTGRES_URL"},
		{name: "bad queue", mutate: func(c *Config) { c.QueueBackend = "sqs" }, field: "QUEUE_BACKEND"},
		{name: "redis without url", mutate: func(c *Config) { c.QueueBackend = "redis" }, field: "REDIS_URL"},
		{name: "zero workers", mutate: func(c *Config) { c.WorkerConcurrency = 0 }, field: "WORKER_CONCURRENCY"},
		{name: "zero attempts", mutate: func(c *Config) { c.JobMaxAttempts = 0 }, field: "JOB_MAX_ATTEMPTS"},
		{name: "bad cron", mutate: func(c *Config) { c.SchedulerCron = "every day" }, field: "SCHEDULER_CRON"},
		{name: "descriptor cron", mutate: func(c *Config) { c.SchedulerCron = "@daily" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}
