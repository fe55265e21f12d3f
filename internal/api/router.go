// Package api provides the HTTP API for Routewise.
package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/routewise/routewise/internal/api/handler"
	"github.com/routewise/routewise/internal/api/middleware"
	"github.com/routewise/routewise/internal/featureflags"
	"github.com/routewise/routewise/internal/plans"
	"github.com/routewise/routewise/internal/provider/resilience"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics
	RequireTLS  bool

	// RateLimits defaults to middleware.DefaultRateLimits when zero.
	RateLimits middleware.RateLimits

	PlanService *plans.Service
	PlanTimeout time.Duration

	FeatureFlagService *featureflags.Service
	Registry           *resilience.Registry

	// Checks run on readiness and status requests.
	Checks []handler.Check
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "routewise-api"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing(serviceName))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequireTLS(cfg.RequireTLS))

	validate := handler.NewValidator()

	opsHandler := handler.NewOpsHandler(handler.OpsHandlerConfig{
		Version:   cfg.Version,
		BuildTime: cfg.BuildTime,
		Registry:  cfg.Registry,
		Flags:     cfg.FeatureFlagService,
		Checks:    cfg.Checks,
	})
	distanceHandler := handler.NewDistanceHandler(validate)

	limits := cfg.RateLimits
	if limits == (middleware.RateLimits{}) {
		limits = middleware.DefaultRateLimits()
	}
	planningRateLimit := middleware.RateLimitByIP(limits.Planning)
	standardRateLimit := middleware.RateLimitByIP(limits.Standard)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.Get("/status", opsHandler.SystemStatus)
		})

		r.With(standardRateLimit, middleware.RequireJSON).Post("/distance:estimate", distanceHandler.EstimateDistance)

		if cfg.PlanService != nil {
			planHandler := handler.NewPlanHandler(handler.PlanHandlerConfig{
				Service:   cfg.PlanService,
				Timeout:   cfg.PlanTimeout,
				Logger:    cfg.Logger,
				Validator: validate,
			})

			r.With(planningRateLimit, middleware.RequireJSON).Post("/routes:plan", planHandler.PlanRoute)

			r.Route("/plans", func(r chi.Router) {
				r.Use(standardRateLimit)
				r.Get("/", planHandler.ListPlans)
				r.Get("/{planId}", planHandler.GetPlan)
			})
		}

		if cfg.FeatureFlagService != nil {
			featureFlagsHandler := handler.NewFeatureFlagsHandler(cfg.FeatureFlagService, cfg.Logger, validate)

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RateLimitByIP(limits.Admin))
				r.Use(middleware.RequireJSON)

				r.Route("/feature-flags", func(r chi.Router) {
					r.Get("/", featureFlagsHandler.ListFeatureFlags)
					r.Put("/", featureFlagsHandler.UpsertFeatureFlags)
					r.Post("/invalidate", featureFlagsHandler.InvalidateCache)
				})
			})
		}
	})

	return r
}
