// Package app assembles the Routewise service graph from configuration. The
// API server, the worker and their tests share it so every binary plans with
// the same distance stack.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/routewise/routewise/internal/api/handler"
	"github.com/routewise/routewise/internal/config"
	"github.com/routewise/routewise/internal/database"
	"github.com/routewise/routewise/internal/distance"
	"github.com/routewise/routewise/internal/distance/openrouteservice"
	"github.com/routewise/routewise/internal/distance/pgstore"
	"github.com/routewise/routewise/internal/distance/redisstore"
	"github.com/routewise/routewise/internal/featureflags"
	"github.com/routewise/routewise/internal/planner"
	"github.com/routewise/routewise/internal/plans"
	"github.com/routewise/routewise/internal/provider/resilience"
	"github.com/routewise/routewise/internal/telemetry"
)

// Components is the assembled service graph.
type Components struct {
	// Distance is the full lookup stack used by the planner.
	Distance distance.Service

	// Cached is the cached provider without the fallback layer, nil when the
	// cache is off or no road provider is configured. Warm-up jobs use it so
	// straight-line estimates never land in the cache.
	Cached distance.Service

	Registry *resilience.Registry
	Planner  *planner.Planner
	Plans    *plans.Service
	Flags    *featureflags.Service

	// Purger is set when the cache lives in PostgreSQL.
	Purger *pgstore.Store

	// Checks are the dependency probes behind the readiness endpoint.
	Checks []handler.Check

	pool  *pgxpool.Pool
	redis *redis.Client
}

// Build connects the configured backends and wires the services. Close must be
// called when the returned Components are no longer needed.
func Build(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*Components, error) {
	c := &Components{Registry: resilience.NewRegistry()}

	if cfg.Database.Enabled {
		pool, err := database.Connect(ctx, cfg.Database.Config)
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		c.pool = pool
		c.Checks = append(c.Checks, handler.Check{Name: "postgres", Ping: pool.Ping})
		logger.Info().
			Str("host", cfg.Database.Host).
			Str("database", cfg.Database.Database).
			Msg("database connected")
	}

	c.Flags = featureflags.NewService(featureflags.ServiceConfig{
		Repository:      c.flagRepository(),
		Logger:          logger,
		RefreshInterval: time.Minute,
	})

	if err := c.buildDistance(cfg, logger); err != nil {
		c.Close()
		return nil, err
	}

	plannerMetrics, err := telemetry.NewPlannerMetrics()
	if err != nil {
		logger.Warn().Err(err).Msg("planner metrics unavailable")
	}
	c.Planner = planner.New(planner.Config{
		Service:       c.Distance,
		Concurrency:   cfg.Planner.Concurrency,
		RateLimit:     cfg.Planner.RateLimit,
		Burst:         cfg.Planner.Burst,
		LookupTimeout: cfg.Planner.LookupTimeout,
		MaxStops:      cfg.Planner.MaxStops,
		Metrics:       plannerMetrics,
		Logger:        logger,
	})

	c.Plans = plans.NewService(plans.ServiceConfig{
		Repository: c.planRepository(),
		Planner:    c.Planner,
		Defaults:   c.Flags,
		Logger:     logger,
	})

	return c, nil
}

func (c *Components) flagRepository() featureflags.Repository {
	if c.pool != nil {
		return featureflags.NewPostgresRepository(c.pool)
	}
	return featureflags.NewInMemoryRepository()
}

func (c *Components) planRepository() plans.Repository {
	if c.pool != nil {
		return plans.NewPostgresRepository(c.pool)
	}
	return plans.NewInMemoryRepository()
}

// buildDistance layers the lookup stack: provider, then cache, then fallback.
// Without an ORS key the planner uses straight-line estimates directly.
func (c *Components) buildDistance(cfg config.Config, logger zerolog.Logger) error {
	orsCfg := cfg.OpenRouteService
	if !orsCfg.Enabled() {
		logger.Warn().Msg("openrouteservice not configured, planning with straight-line distances")
		c.Distance = distance.NewHaversineService()
		return nil
	}

	providerMetrics, err := telemetry.NewProviderMetrics()
	if err != nil {
		logger.Warn().Err(err).Msg("provider metrics unavailable")
	}

	var profiles map[distance.Mode]string
	if orsCfg.Profile != "" {
		profiles = map[distance.Mode]string{distance.ModeDriving: orsCfg.Profile}
	}

	var svc distance.Service = openrouteservice.NewClient(openrouteservice.ClientConfig{
		APIKey:    orsCfg.APIKey,
		BaseURL:   orsCfg.BaseURL,
		Timeout:   orsCfg.Timeout,
		Registry:  c.Registry,
		RateLimit: orsCfg.RateLimit,
		Burst:     orsCfg.Burst,
		Profiles:  profiles,
		Metrics:   providerMetrics,
		Logger:    logger,
	})

	store, err := c.cacheStore(cfg, logger)
	if err != nil {
		return err
	}
	if store != nil {
		svc = distance.NewCached(distance.CacheConfig{
			Service:         svc,
			Store:           store,
			Provider:        openrouteservice.ProviderName,
			Logger:          logger,
			Metrics:         providerMetrics,
			TTL:             cfg.Cache.TTL,
			StaleIfErrorTTL: cfg.Cache.StaleIfErrorTTL,
			GridSize:        cfg.Cache.GridSize,
		})
		c.Cached = svc
	}

	if orsCfg.Fallback {
		svc = distance.NewFallback(distance.FallbackConfig{
			Primary: svc,
			Enabled: c.Flags.DistanceFallbackEnabled,
			Logger:  logger,
		})
	}

	c.Distance = svc
	return nil
}

// cacheStore returns the configured store, or nil when caching is off.
func (c *Components) cacheStore(cfg config.Config, logger zerolog.Logger) (distance.Store, error) {
	switch cfg.Cache.Backend {
	case config.CacheBackendMemory:
		return distance.NewMemoryStore(distance.MemoryStoreConfig{MaxEntries: cfg.Cache.MaxEntries}), nil

	case config.CacheBackendRedis:
		c.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store := redisstore.New(redisstore.Config{Client: c.redis, KeyPrefix: cfg.Cache.KeyPrefix})
		c.Checks = append(c.Checks, handler.Check{Name: "redis", Ping: store.Ping})
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("distance cache backed by redis")
		return store, nil

	case config.CacheBackendPostgres:
		if c.pool == nil {
			return nil, fmt.Errorf("cache backend %q requires a database", cfg.Cache.Backend)
		}
		store := pgstore.New(c.pool)
		c.Purger = store
		return store, nil

	case config.CacheBackendNone, "":
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

// Close releases connections opened by Build.
func (c *Components) Close() {
	if c.redis != nil {
		_ = c.redis.Close()
	}
	if c.pool != nil {
		c.pool.Close()
	}
}
