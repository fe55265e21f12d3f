// Package config loads service configuration from an optional YAML file and
// environment variable overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/routewise/routewise/internal/api/middleware"
	"github.com/routewise/routewise/internal/database"
	"github.com/routewise/routewise/internal/telemetry"
)

// Cache backends.
const (
	CacheBackendNone     = "none"
	CacheBackendMemory   = "memory"
	CacheBackendRedis    = "redis"
	CacheBackendPostgres = "postgres"
)

// Config is the root configuration.
type Config struct {
	Server           ServerConfig           `yaml:"server"`
	Log              LogConfig              `yaml:"log"`
	Telemetry        telemetry.Config       `yaml:"telemetry"`
	Database         DatabaseConfig         `yaml:"database"`
	Redis            RedisConfig            `yaml:"redis"`
	OpenRouteService OpenRouteServiceConfig `yaml:"openrouteservice"`
	Planner          PlannerConfig          `yaml:"planner"`
	Cache            CacheConfig            `yaml:"cache"`
	PubSub           PubSubConfig           `yaml:"pubsub"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port            int           `yaml:"port" validate:"min=1,max=65535"`
	Environment     string        `yaml:"environment" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gt=0"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
	RequireTLS      bool          `yaml:"require_tls"`

	RateLimits middleware.RateLimits `yaml:"rate_limits"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return ":" + strconv.Itoa(s.Port)
}

// LogConfig configures zerolog.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Pretty bool   `yaml:"pretty"`
}

// ZerologLevel returns the parsed level, info when unknown.
func (l LogConfig) ZerologLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(l.Level)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// DatabaseConfig configures PostgreSQL. The service runs without a database
// when Enabled is false.
type DatabaseConfig struct {
	Enabled         bool `yaml:"enabled"`
	database.Config `yaml:",inline"`
}

// RedisConfig configures the Redis client used by the redis cache backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"min=0,max=15"`
}

// OpenRouteServiceConfig configures the road distance provider. The planner
// falls back to straight-line estimates when APIKey is empty.
type OpenRouteServiceConfig struct {
	APIKey    string        `yaml:"api_key"`
	BaseURL   string        `yaml:"base_url" validate:"omitempty,url"`
	Profile   string        `yaml:"profile" validate:"omitempty,oneof=driving-car driving-hgv"`
	Timeout   time.Duration `yaml:"timeout" validate:"gt=0"`
	RateLimit float64       `yaml:"rate_limit" validate:"min=0"`
	Burst     int           `yaml:"burst" validate:"min=0"`

	// Fallback answers with haversine estimates while ORS is unavailable.
	Fallback bool `yaml:"fallback"`
}

// Enabled reports whether ORS is configured.
func (o OpenRouteServiceConfig) Enabled() bool {
	return o.APIKey != ""
}

// PlannerConfig configures the route planner.
type PlannerConfig struct {
	Concurrency   int           `yaml:"concurrency" validate:"min=1,max=64"`
	RateLimit     float64       `yaml:"rate_limit" validate:"min=0"`
	Burst         int           `yaml:"burst" validate:"min=0"`
	LookupTimeout time.Duration `yaml:"lookup_timeout" validate:"gt=0"`
	PlanTimeout   time.Duration `yaml:"plan_timeout" validate:"gt=0"`
	MaxStops      int           `yaml:"max_stops" validate:"min=1,max=1000"`
}

// CacheConfig configures the distance cache.
type CacheConfig struct {
	Backend         string        `yaml:"backend" validate:"oneof=none memory redis postgres"`
	TTL             time.Duration `yaml:"ttl" validate:"gt=0"`
	StaleIfErrorTTL time.Duration `yaml:"stale_if_error_ttl" validate:"gtefield=TTL"`
	GridSize        float64       `yaml:"grid_size" validate:"gt=0,lt=1"`
	MaxEntries      int           `yaml:"max_entries" validate:"min=0"`
	KeyPrefix       string        `yaml:"key_prefix"`
}

// PubSubConfig configures the worker subscription.
type PubSubConfig struct {
	ProjectID              string        `yaml:"project_id"`
	SubscriptionID         string        `yaml:"subscription_id"`
	MaxOutstandingMessages int           `yaml:"max_outstanding_messages" validate:"min=1"`
	NumGoroutines          int           `yaml:"num_goroutines" validate:"min=1"`
	JobTimeout             time.Duration `yaml:"job_timeout" validate:"gt=0"`
	HealthPort             int           `yaml:"health_port" validate:"min=1,max=65535"`
}

// Default returns a configuration that runs with no external dependencies.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			Environment:     "development",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RateLimits:      middleware.DefaultRateLimits(),
		},
		Log: LogConfig{Level: "info"},
		Telemetry: telemetry.Config{
			Environment:  "development",
			OTLPEndpoint: "localhost:4317",
			SampleRatio:  1,
		},
		Database: DatabaseConfig{Config: database.DefaultConfig()},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		OpenRouteService: OpenRouteServiceConfig{
			Profile:   "driving-car",
			Timeout:   10 * time.Second,
			RateLimit: 40.0 / 60.0,
			Burst:     2,
			Fallback:  true,
		},
		Planner: PlannerConfig{
			Concurrency:   8,
			LookupTimeout: 10 * time.Second,
			PlanTimeout:   2 * time.Minute,
			MaxStops:      100,
		},
		Cache: CacheConfig{
			Backend:         CacheBackendMemory,
			TTL:             24 * time.Hour,
			StaleIfErrorTTL: 7 * 24 * time.Hour,
			GridSize:        0.0001,
			MaxEntries:      100000,
		},
		PubSub: PubSubConfig{
			SubscriptionID:         "route-planning-jobs",
			MaxOutstandingMessages: 10,
			NumGoroutines:          2,
			JobTimeout:             5 * time.Minute,
			HealthPort:             8081,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (skipped
// when path is empty), and environment overrides, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks field constraints and cross-section requirements.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Cache.Backend == CacheBackendRedis && c.Redis.Addr == "" {
		return errors.New("invalid configuration: cache backend redis requires redis.addr")
	}
	if c.Cache.Backend == CacheBackendPostgres && !c.Database.Enabled {
		return errors.New("invalid configuration: cache backend postgres requires database.enabled")
	}
	return nil
}

type lookupFunc func(key string) (string, bool)

// applyEnv overrides file values with environment variables.
func applyEnv(cfg *Config, lookup lookupFunc) error {
	e := envReader{lookup: lookup}

	e.int("APP_PORT", &cfg.Server.Port)
	e.string("APP_ENV", &cfg.Server.Environment)
	e.bool("REQUIRE_TLS", &cfg.Server.RequireTLS)

	e.string("LOG_LEVEL", &cfg.Log.Level)
	e.bool("LOG_PRETTY", &cfg.Log.Pretty)

	e.bool("OTEL_ENABLED", &cfg.Telemetry.Enabled)
	e.string("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint)
	e.float("OTEL_SAMPLE_RATIO", &cfg.Telemetry.SampleRatio)
	cfg.Telemetry.Environment = cfg.Server.Environment

	e.bool("DB_ENABLED", &cfg.Database.Enabled)
	e.string("DATABASE_URL", &cfg.Database.URL)
	e.string("DB_HOST", &cfg.Database.Host)
	e.int("DB_PORT", &cfg.Database.Port)
	e.string("DB_USER", &cfg.Database.User)
	e.string("DB_PASSWORD", &cfg.Database.Password)
	e.string("DB_NAME", &cfg.Database.Database)
	e.string("DB_SSL_MODE", &cfg.Database.SSLMode)
	e.int("DB_MAX_OPEN_CONNS", &cfg.Database.MaxOpenConns)
	e.int("DB_MAX_IDLE_CONNS", &cfg.Database.MaxIdleConns)
	e.duration("DB_CONN_MAX_LIFETIME", &cfg.Database.ConnMaxLifetime)

	e.string("REDIS_ADDR", &cfg.Redis.Addr)
	e.string("REDIS_PASSWORD", &cfg.Redis.Password)
	e.int("REDIS_DB", &cfg.Redis.DB)

	e.string("ORS_API_KEY", &cfg.OpenRouteService.APIKey)
	e.string("ORS_BASE_URL", &cfg.OpenRouteService.BaseURL)
	e.string("ORS_PROFILE", &cfg.OpenRouteService.Profile)
	e.duration("ORS_TIMEOUT", &cfg.OpenRouteService.Timeout)
	e.float("ORS_RATE_LIMIT", &cfg.OpenRouteService.RateLimit)
	e.bool("ORS_FALLBACK", &cfg.OpenRouteService.Fallback)

	e.int("PLANNER_CONCURRENCY", &cfg.Planner.Concurrency)
	e.float("PLANNER_RATE_LIMIT", &cfg.Planner.RateLimit)
	e.duration("PLANNER_LOOKUP_TIMEOUT", &cfg.Planner.LookupTimeout)
	e.duration("PLANNER_PLAN_TIMEOUT", &cfg.Planner.PlanTimeout)
	e.int("PLANNER_MAX_STOPS", &cfg.Planner.MaxStops)

	e.string("CACHE_BACKEND", &cfg.Cache.Backend)
	e.duration("CACHE_TTL", &cfg.Cache.TTL)
	e.duration("CACHE_STALE_IF_ERROR_TTL", &cfg.Cache.StaleIfErrorTTL)

	e.string("PUBSUB_PROJECT_ID", &cfg.PubSub.ProjectID)
	e.string("PUBSUB_SUBSCRIPTION", &cfg.PubSub.SubscriptionID)
	e.int("WORKER_HEALTH_PORT", &cfg.PubSub.HealthPort)

	if len(e.errs) > 0 {
		return fmt.Errorf("invalid environment: %w", errors.Join(e.errs...))
	}
	return nil
}

// envReader collects parse errors so every bad variable is reported at once.
type envReader struct {
	lookup lookupFunc
	errs   []error
}

func (e *envReader) value(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) string(key string, dst *string) {
	if v, ok := e.value(key); ok {
		*dst = v
	}
}

func (e *envReader) int(key string, dst *int) {
	if v, ok := e.value(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v, ok := e.value(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = f
	}
}

func (e *envReader) bool(key string, dst *bool) {
	if v, ok := e.value(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = b
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.value(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
}
