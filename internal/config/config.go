package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	// six-field cron expressions (seconds first)
	DevelopmentSweepCron = "*/5 * * * * *"
	ProductionSweepCron  = "0 0 0 * * *"
)

// Config holds the application configuration
type Config struct {
	Environment string // "development" or "production"
	LogLevel    string
	LogFormat   string // "console" or "json"

	// Storage
	StorageType string // "sqlite", "postgres" or "memory"
	SQLitePath  string
	PostgresURL string

	// Queue
	QueueBackend      string // "memory" or "redis"
	RedisURL          string
	QueuePrefix       string
	WorkerConcurrency int
	JobMaxAttempts    int
	JobRetryBaseDelay time.Duration

	// Provider
	GitHubAPIURL    string
	ProviderTimeout time.Duration

	// Scheduler
	SchedulerCron string

	// API Server
	APIPort           string
	APIHost           string
	WorkerMetricsPort string

	MetricsNamespace string
}

// Load loads the configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	env := getEnv("APP_ENV", EnvDevelopment)
	defaultCron := DevelopmentSweepCron
	defaultFormat := "console"
	if env == EnvProduction {
		defaultCron = ProductionSweepCron
		defaultFormat = "json"
	}

	return &Config{
		Environment:       env,
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", defaultFormat),
		StorageType:       getEnv("STORAGE_TYPE", "sqlite"),
		SQLitePath:        getEnv("SQLITE_PATH", "./sponsors.db"),
		PostgresURL:       getEnv("POSTGRES_URL", ""),
		QueueBackend:      getEnv("QUEUE_BACKEND", "memory"),
		RedisURL:          getEnv("REDIS_URL", "redis://localhost:6379/0"),
		QueuePrefix:       getEnv("QUEUE_PREFIX", "sponsorsync:"),
		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 4),
		JobMaxAttempts:    getEnvInt("JOB_MAX_ATTEMPTS", 8),
		JobRetryBaseDelay: getEnvDuration("JOB_RETRY_BASE_DELAY", 5*time.Second),
		GitHubAPIURL:      getEnv("GITHUB_API_URL", ""),
		ProviderTimeout:   getEnvDuration("PROVIDER_TIMEOUT", 30*time.Second),
		SchedulerCron:     getEnv("SCHEDULER_CRON", defaultCron),
		APIPort:           getEnv("API_PORT", "8080"),
		WorkerMetricsPort: getEnv("WORKER_METRICS_PORT", "9090"),
		APIHost:           getEnv("API_HOST", "localhost"),
		MetricsNamespace:  getEnv("METRICS_NAMESPACE", "sponsorsync"),
	}, nil
}

// getEnv returns the value of an environment variable or a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// IsProduction reports whether the service runs in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Environment != EnvDevelopment && c.Environment != EnvProduction {
		return &ConfigError{Field: "APP_ENV", Message: "must be 'development' or 'production'"}
	}
	switch c.StorageType {
	case "sqlite", "postgres", "memory":
	default:
		return &ConfigError{Field: "STORAGE_TYPE", Message: "must be 'sqlite', 'postgres' or 'memory'"}
	}
	if c.StorageType == "postgres" && c.PostgresURL == "" {
		return &ConfigError{Field: "POSTGRES_URL", Message: "PostgreSQL URL is required when STORAGE_TYPE is 'postgres'"}
	}
	if c.QueueBackend != "memory" && c.QueueBackend != "redis" {
		return &ConfigError{Field: "QUEUE_BACKEND", Message: "must be 'memory' or 'redis'"}
	}
	if c.QueueBackend == "redis" && c.RedisURL == "" {
		return &ConfigError{Field: "REDIS_URL", Message: "Redis URL is required when QUEUE_BACKEND is 'redis'"}
	}
	if c.WorkerConcurrency < 1 {
		return &ConfigError{Field: "WORKER_CONCURRENCY", Message: "must be at least 1"}
	}
	if c.JobMaxAttempts < 1 {
		return &ConfigError{Field: "JOB_MAX_ATTEMPTS", Message: "must be at least 1"}
	}
	if _, err := cron.NewParser(SweepCronFields).Parse(c.SchedulerCron); err != nil {
		return &ConfigError{Field: "SCHEDULER_CRON", Message: err.Error()}
	}
	return nil
}

// SweepCronFields is the cron syntax accepted for SCHEDULER_CRON
const SweepCronFields = cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
