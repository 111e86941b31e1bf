package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "JOBSTREAM"

// defaults lists every recognized key with its default value.
// Keys must be registered so that viper binds their environment variables.
var defaults = map[string]any{
	"server.port":                 8080,
	"server.log_level":            "info",
	"database.url":                "",
	"redis.url":                   "",
	"cache.ttl_seconds":           3600,
	"retry.max_retries":           3,
	"retry.backoff_base_ms":       500,
	"retry.backoff_cap_ms":        30000,
	"breaker.failure_threshold":   5,
	"breaker.cooldown_seconds":    30,
	"task.worker_count":           4,
	"task.queue_size":             100,
	"task.hard_timeout_seconds":   600,
	"task.soft_timeout_seconds":   540,
	"task.stuck_job_age_minutes":  30,
	"task.sweep_interval_seconds": 15,
	"stream.heartbeat_seconds":    15,
	"llm.gemini_api_key":          "",
	"llm.model":                   "gemini-2.0-flash",
}

// Load configuration from environment variables and optionally a config file.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cfg against its struct tags.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}
