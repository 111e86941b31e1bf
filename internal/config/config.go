package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Cache    CacheConfig    `mapstructure:"cache" validate:"required"`
	Retry    RetryConfig    `mapstructure:"retry" validate:"required"`
	Breaker  BreakerConfig  `mapstructure:"breaker" validate:"required"`
	Task     TaskConfig     `mapstructure:"task" validate:"required"`
	Stream   StreamConfig   `mapstructure:"stream" validate:"required"`
	LLM      LLMConfig      `mapstructure:"llm"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
// An empty URL selects the in-memory job store.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"omitempty,url"`
}

// RedisConfig selects the Redis-backed event bus and result cache.
// An empty URL keeps both in process.
type RedisConfig struct {
	URL string `mapstructure:"url" validate:"omitempty,url"`
}

// CacheConfig controls the terminal-result cache.
type CacheConfig struct {
	TTLSeconds int `mapstructure:"ttl_seconds" validate:"required,gt=0"`
}

// RetryConfig controls retries of transient failures inside a task body.
type RetryConfig struct {
	MaxRetries    int `mapstructure:"max_retries" validate:"gte=0,lte=20"`
	BackoffBaseMs int `mapstructure:"backoff_base_ms" validate:"required,gt=0"`
	BackoffCapMs  int `mapstructure:"backoff_cap_ms" validate:"required,gtefield=BackoffBaseMs"`
}

// BreakerConfig controls the per-dependency circuit breakers.
type BreakerConfig struct {
	FailureThreshold int `mapstructure:"failure_threshold" validate:"required,gt=0"`
	CooldownSeconds  int `mapstructure:"cooldown_seconds" validate:"required,gt=0"`
}

// TaskConfig controls the worker pool and per-task timeouts.
type TaskConfig struct {
	WorkerCount          int `mapstructure:"worker_count" validate:"required,gt=0"`
	QueueSize            int `mapstructure:"queue_size" validate:"required,gt=0"`
	HardTimeoutSeconds   int `mapstructure:"hard_timeout_seconds" validate:"required,gt=0"`
	SoftTimeoutSeconds   int `mapstructure:"soft_timeout_seconds" validate:"required,gt=0,ltfield=HardTimeoutSeconds"`
	StuckJobAgeMinutes   int `mapstructure:"stuck_job_age_minutes" validate:"required,gt=0"`
	SweepIntervalSeconds int `mapstructure:"sweep_interval_seconds" validate:"required,gt=0"`
}

// StreamConfig controls the server-push streaming gateway.
type StreamConfig struct {
	HeartbeatSeconds int `mapstructure:"heartbeat_seconds" validate:"required,gt=0"`
}

// LLMConfig contains the settings of the generation backend used by task handlers.
type LLMConfig struct {
	GeminiAPIKey string `mapstructure:"gemini_api_key"`
	Model        string `mapstructure:"model" validate:"required"`
}

// CacheTTL returns the cache TTL as a duration.
func (c CacheConfig) CacheTTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// BackoffBase returns the retry backoff base as a duration.
func (c RetryConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMs) * time.Millisecond
}

// BackoffCap returns the retry backoff cap as a duration.
func (c RetryConfig) BackoffCap() time.Duration {
	return time.Duration(c.BackoffCapMs) * time.Millisecond
}

// Cooldown returns the breaker cooldown as a duration.
func (c BreakerConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

// HardTimeout returns the per-task hard ceiling.
func (c TaskConfig) HardTimeout() time.Duration {
	return time.Duration(c.HardTimeoutSeconds) * time.Second
}

// SoftTimeout returns the per-task soft ceiling.
func (c TaskConfig) SoftTimeout() time.Duration {
	return time.Duration(c.SoftTimeoutSeconds) * time.Second
}

// StuckJobAge returns how long a job may stay processing before it is considered stuck.
func (c TaskConfig) StuckJobAge() time.Duration {
	return time.Duration(c.StuckJobAgeMinutes) * time.Minute
}

// SweepInterval returns how often pending and stuck jobs are swept.
func (c TaskConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// Heartbeat returns the idle interval between stream keep-alive comments.
func (c StreamConfig) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}
