package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"DEDUP_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"DEDUP_DB_MAX_CONNS" default:"8"`

	RedisURL string        `envconfig:"REDIS_URL" default:""`
	LockTTL  time.Duration `envconfig:"DEDUP_LOCK_TTL" default:"5m"`

	Workers        int           `envconfig:"DEDUP_WORKERS" default:"4"`
	URLWindow      time.Duration `envconfig:"DEDUP_URL_WINDOW" default:"168h"`
	URLWindowLimit int           `envconfig:"DEDUP_URL_WINDOW_LIMIT" default:"100"`
	ContentWindow  time.Duration `envconfig:"DEDUP_CONTENT_WINDOW" default:"24h"`
	MaxGroupSize   int           `envconfig:"DEDUP_MAX_GROUP_SIZE" default:"1000"`
	BatchLimit     int           `envconfig:"DEDUP_BATCH_LIMIT" default:"5000"`

	Retention      time.Duration `envconfig:"DEDUP_RETENTION" default:"168h"`
	SweepBatchSize int           `envconfig:"DEDUP_SWEEP_BATCH_SIZE" default:"500"`
	SweepRate      float64       `envconfig:"DEDUP_SWEEP_RATE" default:"2"`

	ThresholdsFile string `envconfig:"DEDUP_THRESHOLDS_FILE" default:""`

	HTTPHost string `envconfig:"HTTP_HOST" default:"0.0.0.0"`
	HTTPPort int    `envconfig:"HTTP_PORT" default:"8090"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("DEDUP_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("DEDUP_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DEDUP_DB_MIN_CONNS (%d) cannot exceed DEDUP_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("DEDUP_LOCK_TTL must be > 0")
	}
	if c.Workers < 1 {
		return fmt.Errorf("DEDUP_WORKERS must be >= 1")
	}
	if c.URLWindow <= 0 {
		return fmt.Errorf("DEDUP_URL_WINDOW must be > 0")
	}
	if c.URLWindowLimit < 1 {
		return fmt.Errorf("DEDUP_URL_WINDOW_LIMIT must be >= 1")
	}
	if c.ContentWindow <= 0 {
		return fmt.Errorf("DEDUP_CONTENT_WINDOW must be > 0")
	}
	if c.MaxGroupSize < 2 {
		return fmt.Errorf("DEDUP_MAX_GROUP_SIZE must be >= 2")
	}
	if c.BatchLimit < 1 {
		return fmt.Errorf("DEDUP_BATCH_LIMIT must be >= 1")
	}
	if c.Retention <= 0 {
		return fmt.Errorf("DEDUP_RETENTION must be > 0")
	}
	if c.SweepBatchSize < 1 {
		return fmt.Errorf("DEDUP_SWEEP_BATCH_SIZE must be >= 1")
	}
	if c.SweepRate <= 0 {
		return fmt.Errorf("DEDUP_SWEEP_RATE must be > 0")
	}
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 0 and 65535")
	}
	return nil
}
