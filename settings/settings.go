package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	return validate.Struct(c)
}

// LoadConfig loads the configuration from the config.toml file.
// It returns a pointer to the Config struct or an error if loading fails.
func LoadConfig() (*Config, error) {
	return LoadConfigFrom("config.toml")
}

// LoadConfigFrom loads the configuration from the given path, applies
// defaults and validates the result.
func LoadConfigFrom(configPath string) (*Config, error) {
	var config Config

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", configPath)
	}

	// Get absolute path for better error messages
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		absPath = configPath // fallback to relative path
	}

	_, err = toml.DecodeFile(configPath, &config)
	if err != nil {
		return nil, fmt.Errorf("error parsing config file %s: %w", absPath, err)
	}

	applyDefaults(&config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// applyDefaults fills in values the config file may omit.
func applyDefaults(config *Config) {
	if config.Queue.Workers == 0 {
		config.Queue.Workers = 3
	}
	if config.Queue.InterleaveEvery == 0 {
		config.Queue.InterleaveEvery = 3
	}
	if config.Queue.PollIntervalMs == 0 {
		config.Queue.PollIntervalMs = 100
	}
	if config.Queue.JobTimeoutMins == 0 {
		config.Queue.JobTimeoutMins = 4
	}
	if config.Pipeline.TimeoutSeconds == 0 {
		config.Pipeline.TimeoutSeconds = 300
	}
	if config.Premium.CacheMinutes == 0 {
		config.Premium.CacheMinutes = 5
	}
	if config.Database.Path == "" {
		config.Database.Path = "beat.db"
	}
	if config.Limits.AutoLimit == 0 {
		config.Limits.AutoLimit = 4
	}
	if config.Limits.RandomLimit == 0 {
		config.Limits.RandomLimit = 8
	}
}

// PollInterval returns the worker poll interval as a duration.
func (q QueueConfig) PollInterval() time.Duration {
	return time.Duration(q.PollIntervalMs) * time.Millisecond
}

// JobTimeout returns the per-job processing timeout as a duration.
func (q QueueConfig) JobTimeout() time.Duration {
	return time.Duration(q.JobTimeoutMins) * time.Minute
}
