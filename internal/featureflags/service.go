package featureflags

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// ServiceConfig holds configuration for the flag service.
type ServiceConfig struct {
	Repository Repository
	Logger     zerolog.Logger

	// RefreshInterval is how long a loaded snapshot is served before the
	// repository is read again (default: 1 minute).
	RefreshInterval time.Duration
}

// Service resolves flag values. It serves a snapshot of every flag and
// reloads it from the repository once it is older than the refresh
// interval. When the repository fails, the previous snapshot (or the
// defaults) stays in use.
type Service struct {
	repo     Repository
	logger   zerolog.Logger
	interval time.Duration
	now      func() time.Time

	loads singleflight.Group

	mu       sync.RWMutex
	snapshot map[string]Flag
	loadedAt time.Time
}

// NewService creates a flag service.
func NewService(cfg ServiceConfig) *Service {
	interval := cfg.RefreshInterval
	if interval <= 0 {
		interval = time.Minute
	}
	return &Service{
		repo:     cfg.Repository,
		logger:   cfg.Logger,
		interval: interval,
		now:      time.Now,
	}
}

// Get returns the current value of key. Unknown keys return a Flag with a
// nil Value.
func (s *Service) Get(ctx context.Context, key string) Flag {
	if f, ok := s.current(ctx)[key]; ok {
		return f
	}
	return Flag{Key: key}
}

// List returns every defined flag ordered by key.
func (s *Service) List(ctx context.Context) []Flag {
	snap := s.current(ctx)
	out := make([]Flag, 0, len(snap))
	for _, f := range snap {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Apply validates and stores updates. Nothing is written if any update names
// an unknown flag or carries a value of the wrong kind.
func (s *Service) Apply(ctx context.Context, updates []FlagUpdate, reason string) error {
	flags := make([]Flag, 0, len(updates))
	for _, u := range updates {
		d, ok := Lookup(u.Key)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownFlag, u.Key)
		}
		value, err := d.Normalize(u.Value)
		if err != nil {
			return err
		}
		flags = append(flags, Flag{Key: u.Key, Value: value})
	}

	if err := s.repo.Save(ctx, flags, reason); err != nil {
		return err
	}
	s.Invalidate()

	for _, f := range flags {
		s.logger.Info().
			Str("flag", f.Key).
			Interface("value", f.Value).
			Str("reason", reason).
			Msg("feature flag changed")
	}
	return nil
}

// Invalidate drops the snapshot so the next read goes to the repository.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.loadedAt = time.Time{}
	s.mu.Unlock()
}

// TwoOptEnabled reports whether plans run the 2-opt pass by default.
func (s *Service) TwoOptEnabled(ctx context.Context) bool {
	return s.Get(ctx, FlagPlannerTwoOpt).Bool(false)
}

// LazyMatrixEnabled reports whether plans resolve distances on demand by default.
func (s *Service) LazyMatrixEnabled(ctx context.Context) bool {
	return s.Get(ctx, FlagPlannerLazyMatrix).Bool(false)
}

// MaxStops returns the stop cap for plan requests.
func (s *Service) MaxStops(ctx context.Context) int {
	n := s.Get(ctx, FlagPlannerMaxStops).Int(DefaultPlannerMaxStops)
	if n <= 0 {
		return DefaultPlannerMaxStops
	}
	return n
}

// DistanceFallbackEnabled reports whether straight-line estimates may replace
// failed provider lookups.
func (s *Service) DistanceFallbackEnabled(ctx context.Context) bool {
	return s.Get(ctx, FlagDistanceFallback).Bool(true)
}

func (s *Service) current(ctx context.Context) map[string]Flag {
	s.mu.RLock()
	snap, fresh := s.snapshot, s.snapshot != nil && s.now().Sub(s.loadedAt) < s.interval
	s.mu.RUnlock()
	if fresh {
		return snap
	}

	v, _, _ := s.loads.Do("flags", func() (any, error) {
		return s.reload(ctx), nil
	})
	return v.(map[string]Flag)
}

func (s *Service) reload(ctx context.Context) map[string]Flag {
	stored, err := s.repo.List(ctx)
	if err != nil {
		s.mu.RLock()
		prev := s.snapshot
		s.mu.RUnlock()

		if prev == nil {
			prev = defaults()
		}
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn().Err(err).Msg("failed to load feature flags, serving previous values")
		}
		return prev
	}

	snap := defaults()
	for _, f := range stored {
		d, ok := Lookup(f.Key)
		if !ok {
			continue
		}
		value, err := d.Normalize(f.Value)
		if err != nil {
			s.logger.Warn().Err(err).Str("flag", f.Key).Msg("ignoring stored feature flag")
			continue
		}
		snap[f.Key] = Flag{Key: f.Key, Value: value, Description: d.Description, UpdatedAt: f.UpdatedAt}
	}

	s.mu.Lock()
	s.snapshot = snap
	s.loadedAt = s.now()
	s.mu.Unlock()
	return snap
}
