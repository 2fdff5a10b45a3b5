// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all pipeline configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	OpsPort int    `env:"OPS_PORT" envDefault:"8081"`

	// Database (PostgreSQL): outbox + rollup stores
	DatabaseURL string `env:"DATABASE_URL,required"`

	// Broker (Redis streams). Only required by the consumer process.
	RedisURL string `env:"REDIS_URL" envDefault:""`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Aggregation worker
	BatchSize    int           `env:"BATCH_SIZE" envDefault:"5000"`
	ChunkSize    int           `env:"CHUNK_SIZE" envDefault:"700"`
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"10s"`

	// Outbox retention for processed events
	Retention     time.Duration `env:"RETENTION" envDefault:"168h"`
	PurgeInterval time.Duration `env:"PURGE_INTERVAL" envDefault:"1h"`

	// Stream consumer tuning
	ConsumerBatchSize int           `env:"CONSUMER_BATCH_SIZE" envDefault:"500"`
	BlockTimeout      time.Duration `env:"BLOCK_TIMEOUT" envDefault:"5s"`
	ClaimInterval     time.Duration `env:"CLAIM_INTERVAL" envDefault:"10s"`
	ClaimIdle         time.Duration `env:"CLAIM_IDLE" envDefault:"30s"`

	// Ops server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Load parses environment variables and returns a Config.
// Returns an error if required variables are missing.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}
