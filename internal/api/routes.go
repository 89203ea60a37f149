// Package api provides the HTTP API for the WABDesk licensing server.
package api

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/ulule/limiter/v3"
	"github.com/wabdesk/wabdesk/internal/api/handlers"
	"github.com/wabdesk/wabdesk/internal/api/middleware"
	"github.com/wabdesk/wabdesk/internal/config"
	"github.com/wabdesk/wabdesk/internal/license"
	"github.com/wabdesk/wabdesk/internal/metrics"
)

// Config holds configuration for the API router.
type Config struct {
	Environment config.Environment
	// AllowedOrigins for CORS. Empty means all origins allowed outside production.
	AllowedOrigins []string
	// RateLimitRequests is the number of requests allowed per period and client IP.
	RateLimitRequests int64
	RateLimitPeriod   time.Duration
	// RateLimitStore backs the limiter. Nil selects an in-process store.
	RateLimitStore limiter.Store
	// HealthChecks are probed by /health in addition to the database.
	HealthChecks map[string]handlers.Pinger
	// Gatherer serves /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
	Metrics  *metrics.PrometheusMetrics
}

// DefaultConfig returns a Config with sensible defaults for development.
func DefaultConfig() Config {
	return Config{
		Environment:       config.EnvDevelopment,
		RateLimitRequests: 100,
		RateLimitPeriod:   time.Minute,
	}
}

// Services are the domain collaborators behind the routes.
type Services struct {
	Database  handlers.DatabaseHealthChecker
	Tokens    middleware.Authenticator
	Authority *license.Authority
	Ledger    *license.Ledger
}

// Router wraps a Gin engine with configured middleware and routes.
type Router struct {
	Engine *gin.Engine
	logger zerolog.Logger
}

// NewRouter creates a new Router with the given dependencies.
func NewRouter(cfg Config, svc Services, logger zerolog.Logger) (*Router, error) {
	if svc.Tokens == nil || svc.Authority == nil || svc.Ledger == nil {
		return nil, errors.New("api: tokens, authority and ledger are required")
	}

	r := &Router{
		Engine: gin.New(),
		logger: logger.With().Str("component", "router").Logger(),
	}

	// Global middleware
	r.Engine.Use(gin.Recovery())
	r.Engine.Use(middleware.RequestLogger(logger))
	r.Engine.Use(middleware.SecurityHeaders())
	r.Engine.Use(middleware.CORS(cfg.AllowedOrigins, cfg.Environment, logger))
	r.Engine.Use(middleware.Metrics(cfg.Metrics))
	r.Engine.Use(middleware.BodyLimit(middleware.DefaultMaxBodyBytes))

	store := cfg.RateLimitStore
	if store == nil {
		var err error
		if store, err = middleware.NewRateLimitStore(nil); err != nil {
			return nil, err
		}
	}
	rateLimiter, err := middleware.NewRateLimiter(store, cfg.RateLimitRequests, cfg.RateLimitPeriod)
	if err != nil {
		return nil, err
	}
	r.Engine.Use(rateLimiter)

	// Health and metrics (no auth required)
	healthHandler := handlers.NewHealthHandler(svc.Database, cfg.HealthChecks, cfg.Gatherer, logger)
	healthHandler.RegisterPublicRoutes(r.Engine)

	// API v1 routes (bearer token required)
	apiV1 := r.Engine.Group("/api/v1")
	apiV1.Use(middleware.AuthMiddleware(svc.Tokens, logger))

	handlers.NewPlansHandler(svc.Authority, logger).RegisterRoutes(apiV1)
	handlers.NewLicensesHandler(svc.Authority, svc.Ledger, logger).RegisterRoutes(apiV1)
	handlers.NewDevicesHandler(svc.Ledger, logger).RegisterRoutes(apiV1)

	r.logger.Info().Msg("API router initialized")
	return r, nil
}
