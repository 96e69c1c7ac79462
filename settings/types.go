package settings

import (
	"resyncbot/logger"
)

type (
	Config struct {
		Queue    QueueConfig    `toml:"queue" validate:"required"`
		Api      ApiConfig      `toml:"api" validate:"required"`
		Pipeline PipelineConfig `toml:"pipeline" validate:"required"`
		Database DatabaseConfig `toml:"database"`
		Premium  PremiumConfig  `toml:"premium"`
		Limits   LimitsConfig   `toml:"limits"`
		Notify   NotifyConfig   `toml:"notify"`
		Logging  logger.Config  `toml:"logging" validate:"required"`
	}

	// QueueConfig controls the dual-priority scheduler and its worker pool.
	QueueConfig struct {
		Workers         int `toml:"workers" validate:"gte=1"`
		InterleaveEvery int `toml:"interleaveEvery" validate:"gte=1"`
		MaxQueueSize    int `toml:"maxQueueSize" validate:"gte=0"`
		PollIntervalMs  int `toml:"pollIntervalMs" validate:"gte=0"`
		JobTimeoutMins  int `toml:"jobTimeoutMins" validate:"gte=0"`
	}

	ApiConfig struct {
		Bind   string `toml:"bind" validate:"required"`
		Secret string `toml:"secret"`
	}

	PipelineConfig struct {
		Url            string `toml:"url" validate:"required,url"`
		Secret         string `toml:"secret"`
		TimeoutSeconds int    `toml:"timeoutSeconds" validate:"gte=0"`
	}

	DatabaseConfig struct {
		Url  string `toml:"url"`
		Path string `toml:"path"`
	}

	PremiumConfig struct {
		Enabled      bool `toml:"enabled"`
		CacheMinutes int  `toml:"cacheMinutes" validate:"gte=0"`
	}

	LimitsConfig struct {
		CooldownSeconds int `toml:"cooldownSeconds" validate:"gte=0"`
		AutoLimit       int `toml:"autoLimit" validate:"gte=0"`
		RandomLimit     int `toml:"randomLimit" validate:"gte=0"`
	}

	NotifyConfig struct {
		Url string `toml:"url" validate:"omitempty,url"`
		Key string `toml:"key"`
	}
)
