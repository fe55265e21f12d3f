package distance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/routewise/routewise/internal/geo"
	"github.com/routewise/routewise/internal/telemetry"
)

// ErrCacheMiss is returned by a Store when the key is absent or expired.
var ErrCacheMiss = errors.New("distance cache miss")

// CacheEntry is a cached measurement with the time it was fetched.
type CacheEntry struct {
	Measurement
	FetchedAt time.Time `json:"fetched_at"`
}

// Store persists cache entries. Entries may be evicted once ttl has elapsed.
type Store interface {
	Get(ctx context.Context, key string) (*CacheEntry, error)
	Set(ctx context.Context, key string, entry CacheEntry, ttl time.Duration) error
}

// CacheConfig holds configuration for the caching decorator.
type CacheConfig struct {
	// Service is the wrapped distance service (required).
	Service Service

	// Store holds cached entries. Defaults to a MemoryStore.
	Store Store

	// Provider labels logs and metrics.
	Provider string

	// Logger for cache operations.
	Logger zerolog.Logger

	// Metrics records cache hits and misses (optional).
	Metrics *telemetry.ProviderMetrics

	// TTL is how long an entry is served without asking the provider (default: 24 hours).
	TTL time.Duration

	// StaleIfErrorTTL allows serving older entries when the provider fails (default: 7 days).
	StaleIfErrorTTL time.Duration

	// GridSize quantizes coordinates in degrees (default: 0.0001, about 11m).
	// Points within the same grid cell share cached data.
	GridSize float64

	// FlightTimeout bounds a provider lookup shared by concurrent callers
	// (default: 30 seconds). The lookup does not stop when one caller gives up.
	FlightTimeout time.Duration
}

// Cached serves lookups from a Store before asking the wrapped service.
type Cached struct {
	next            Service
	store           Store
	provider        string
	logger          zerolog.Logger
	metrics         *telemetry.ProviderMetrics
	ttl             time.Duration
	staleIfErrorTTL time.Duration
	gridSize        float64
	flightTimeout   time.Duration

	group singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
	stale  atomic.Int64
}

// CacheStats contains cache statistics.
type CacheStats struct {
	Hits      int64
	Misses    int64
	StaleHits int64
	Provider  string
}

// NewCached wraps cfg.Service with a cache. When the wrapped service also
// implements RowService the returned value does too.
func NewCached(cfg CacheConfig) Service {
	c := newCached(cfg)
	if rows, ok := cfg.Service.(RowService); ok {
		return &cachedRows{Cached: c, rows: rows}
	}
	return c
}

func newCached(cfg CacheConfig) *Cached {
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = 24 * time.Hour
	}

	staleIfErrorTTL := cfg.StaleIfErrorTTL
	if staleIfErrorTTL == 0 {
		staleIfErrorTTL = 7 * 24 * time.Hour
	}
	if staleIfErrorTTL < ttl {
		staleIfErrorTTL = ttl
	}

	gridSize := cfg.GridSize
	if gridSize <= 0 {
		gridSize = 0.0001
	}

	store := cfg.Store
	if store == nil {
		store = NewMemoryStore(MemoryStoreConfig{})
	}

	provider := cfg.Provider
	if provider == "" {
		provider = "unknown"
	}

	flightTimeout := cfg.FlightTimeout
	if flightTimeout <= 0 {
		flightTimeout = 30 * time.Second
	}

	return &Cached{
		next:            cfg.Service,
		store:           store,
		provider:        provider,
		logger:          cfg.Logger,
		metrics:         cfg.Metrics,
		ttl:             ttl,
		staleIfErrorTTL: staleIfErrorTTL,
		gridSize:        gridSize,
		flightTimeout:   flightTimeout,
	}
}

// Distance returns a cached measurement when fresh, otherwise asks the wrapped service.
// If the wrapped service fails with a transient error, an entry inside the
// stale-if-error window is served instead.
func (c *Cached) Distance(ctx context.Context, origin, destination geo.Coordinate, mode Mode) (Measurement, error) {
	key := c.key(origin, destination, mode)

	cached := c.lookup(ctx, key)
	if cached != nil && time.Since(cached.FetchedAt) < c.ttl {
		c.hits.Add(1)
		c.metrics.RecordCacheHit(ctx, c.provider)
		return cached.Measurement, nil
	}
	c.misses.Add(1)
	c.metrics.RecordCacheMiss(ctx, c.provider)

	// Callers joining the lookup share its result but not its deadline: the
	// lookup runs detached and each caller stops waiting when its own ctx ends.
	flight := c.group.DoChan(key, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.flightTimeout)
		defer cancel()

		m, err := c.next.Distance(fctx, origin, destination, mode)
		if err != nil {
			return Measurement{}, err
		}
		c.save(fctx, key, m)
		return m, nil
	})

	var res singleflight.Result
	select {
	case res = <-flight:
	case <-ctx.Done():
		return Measurement{}, ctx.Err()
	}
	if res.Err != nil {
		if m, ok := c.serveStale(key, cached, res.Err); ok {
			return m, nil
		}
		return Measurement{}, res.Err
	}

	return res.Val.(Measurement), nil
}

// Leg delegates to the wrapped service when it supports richer lookups,
// otherwise builds a leg from the cached distance.
func (c *Cached) Leg(ctx context.Context, origin, destination geo.Coordinate, mode Mode) (*Leg, error) {
	if legs, ok := c.next.(LegService); ok {
		leg, err := legs.Leg(ctx, origin, destination, mode)
		if err == nil {
			c.save(ctx, c.key(origin, destination, mode), leg.Measurement)
			return leg, nil
		}
		if errors.Is(err, ErrNoRoute) || errors.Is(err, ErrInvalidCoordinates) {
			return nil, err
		}
		c.logger.Debug().Err(err).
			Str("provider", c.provider).
			Msg("leg lookup failed, falling back to cached distance")
	}

	m, err := c.Distance(ctx, origin, destination, mode)
	if err != nil {
		return nil, err
	}
	return &Leg{Measurement: m}, nil
}

// Stats returns cache statistics.
func (c *Cached) Stats() CacheStats {
	return CacheStats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		StaleHits: c.stale.Load(),
		Provider:  c.provider,
	}
}

func (c *Cached) lookup(ctx context.Context, key string) *CacheEntry {
	entry, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			c.logger.Warn().Err(err).
				Str("cache_key", key).
				Msg("distance cache read failed")
		}
		return nil
	}
	return entry
}

func (c *Cached) save(ctx context.Context, key string, m Measurement) {
	entry := CacheEntry{Measurement: m, FetchedAt: time.Now()}
	if err := c.store.Set(ctx, key, entry, c.staleIfErrorTTL); err != nil {
		c.logger.Warn().Err(err).
			Str("cache_key", key).
			Msg("distance cache write failed")
	}
}

func (c *Cached) serveStale(key string, cached *CacheEntry, err error) (Measurement, bool) {
	if cached == nil {
		return Measurement{}, false
	}
	if errors.Is(err, ErrNoRoute) || errors.Is(err, ErrInvalidCoordinates) {
		return Measurement{}, false
	}
	if time.Since(cached.FetchedAt) >= c.staleIfErrorTTL {
		return Measurement{}, false
	}

	c.stale.Add(1)
	c.logger.Warn().Err(err).
		Time("fetched_at", cached.FetchedAt).
		Str("cache_key", key).
		Msg("serving stale distance due to provider error")
	return cached.Measurement, true
}

// key quantizes both points to the grid.
// Format: {mode}:{originLatCell},{originLonCell}:{destLatCell},{destLonCell}.
func (c *Cached) key(origin, destination geo.Coordinate, mode Mode) string {
	cell := func(v float64) int64 {
		return int64(math.Floor(v / c.gridSize))
	}
	return fmt.Sprintf("%s:%d,%d:%d,%d",
		mode,
		cell(origin.Lat), cell(origin.Lon),
		cell(destination.Lat), cell(destination.Lon),
	)
}

// cachedRows adds one-to-many lookups when the wrapped service supports them.
type cachedRows struct {
	*Cached
	rows RowService
}

// DistanceRow serves cached destinations and resolves the rest in one batched call.
func (c *cachedRows) DistanceRow(ctx context.Context, origin geo.Coordinate, destinations []geo.Coordinate, mode Mode) ([]RowResult, error) {
	out := make([]RowResult, len(destinations))
	keys := make([]string, len(destinations))
	stale := make([]*CacheEntry, len(destinations))

	var (
		missIdx    []int
		missCoords []geo.Coordinate
	)
	for i, d := range destinations {
		keys[i] = c.key(origin, d, mode)
		cached := c.lookup(ctx, keys[i])
		if cached != nil && time.Since(cached.FetchedAt) < c.ttl {
			c.hits.Add(1)
			c.metrics.RecordCacheHit(ctx, c.provider)
			out[i] = RowResult{Measurement: cached.Measurement}
			continue
		}
		c.misses.Add(1)
		c.metrics.RecordCacheMiss(ctx, c.provider)
		stale[i] = cached
		missIdx = append(missIdx, i)
		missCoords = append(missCoords, d)
	}

	if len(missIdx) == 0 {
		return out, nil
	}

	results, err := c.rows.DistanceRow(ctx, origin, missCoords, mode)
	for j, i := range missIdx {
		rowErr := err
		var m Measurement
		if err == nil && j < len(results) {
			m, rowErr = results[j].Measurement, results[j].Err
		} else if err == nil {
			rowErr = fmt.Errorf("%w: short matrix row", ErrUnavailable)
		}

		if rowErr == nil {
			c.save(ctx, keys[i], m)
			out[i] = RowResult{Measurement: m}
			continue
		}
		if sm, ok := c.serveStale(keys[i], stale[i], rowErr); ok {
			out[i] = RowResult{Measurement: sm}
			continue
		}
		out[i] = RowResult{Err: rowErr}
	}

	return out, nil
}

var (
	_ Service    = (*Cached)(nil)
	_ LegService = (*Cached)(nil)
	_ RowService = (*cachedRows)(nil)
)
