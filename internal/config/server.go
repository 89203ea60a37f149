// Package config provides configuration management for WABDesk.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Environment represents the deployment environment.
type Environment string

const (
	// EnvDevelopment is the default local development environment.
	EnvDevelopment Environment = "development"
	// EnvStaging is the staging/pre-production environment.
	EnvStaging Environment = "staging"
	// EnvProduction is the production environment.
	EnvProduction Environment = "production"
)

// envPrefix is prepended to every server environment variable.
const envPrefix = "WABDESK"

// ServerConfig holds server-level configuration loaded from environment variables.
type ServerConfig struct {
	Environment     Environment   `envconfig:"ENV" default:"development"`
	ListenAddr      string        `envconfig:"LISTEN_ADDR" default:":8080"`
	DatabaseURL     string        `envconfig:"DATABASE_URL"`
	DBMaxConns      int32         `envconfig:"DB_MAX_CONNS" default:"25"`
	RedisURL        string        `envconfig:"REDIS_URL"`
	CORSOrigins     []string      `envconfig:"CORS_ORIGINS"`
	RateLimit       int64         `envconfig:"RATE_LIMIT_REQUESTS" default:"100"`
	RatePeriod      time.Duration `envconfig:"RATE_LIMIT_PERIOD" default:"1m"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadServerConfig reads server configuration from WABDESK_* environment variables.
func LoadServerConfig() (ServerConfig, error) {
	var cfg ServerConfig
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("load server config: %w", err)
	}

	switch cfg.Environment {
	case EnvDevelopment, EnvStaging, EnvProduction:
		// valid
	default:
		cfg.Environment = EnvDevelopment
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))

	return cfg, nil
}

// Validate checks that the configuration can be used to start the server.
func (c ServerConfig) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("WABDESK_DATABASE_URL is required")
	}
	if c.RateLimit <= 0 {
		return errors.New("WABDESK_RATE_LIMIT_REQUESTS must be positive")
	}
	if c.RatePeriod <= 0 {
		return errors.New("WABDESK_RATE_LIMIT_PERIOD must be positive")
	}
	return nil
}

// IsProduction reports whether the server runs in production mode.
func (c ServerConfig) IsProduction() bool {
	return c.Environment == EnvProduction
}
