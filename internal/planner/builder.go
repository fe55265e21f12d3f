package planner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/routewise/routewise/internal/distance"
	"github.com/routewise/routewise/internal/geo"
)

// Builder defaults.
const (
	DefaultConcurrency   = 8
	DefaultLookupTimeout = 10 * time.Second
)

var errInvalidMeasurement = errors.New("distance service returned a negative or non-finite measurement")

// BuilderConfig holds configuration for the matrix builder.
type BuilderConfig struct {
	// Service answers pairwise lookups (required). When it also implements
	// distance.RowService each matrix row is fetched with a single call.
	Service distance.Service

	// Mode is the travel mode for every lookup (default: driving).
	Mode distance.Mode

	// Concurrency caps in-flight lookups (default: 8).
	Concurrency int

	// RateLimit caps lookups per second across all plans sharing the builder.
	// Zero disables the limiter.
	RateLimit float64

	// Burst is the limiter bucket size (default: Concurrency).
	Burst int

	// LookupTimeout bounds each individual lookup (default: 10 seconds).
	// A timed out lookup is recorded as unreachable.
	LookupTimeout time.Duration

	Logger zerolog.Logger
}

// MatrixBuilder resolves distance matrices with bounded concurrent fan-out.
// It is safe for concurrent use; every Build works on its own matrix.
type MatrixBuilder struct {
	service     distance.Service
	rows        distance.RowService
	mode        distance.Mode
	concurrency int
	limiter     *rate.Limiter
	timeout     time.Duration
	logger      zerolog.Logger
}

// NewMatrixBuilder creates a matrix builder.
func NewMatrixBuilder(cfg BuilderConfig) *MatrixBuilder {
	mode := cfg.Mode
	if mode == "" {
		mode = distance.ModeDriving
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	timeout := cfg.LookupTimeout
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = concurrency
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	rows, _ := cfg.Service.(distance.RowService)

	return &MatrixBuilder{
		service:     cfg.Service,
		rows:        rows,
		mode:        mode,
		concurrency: concurrency,
		limiter:     limiter,
		timeout:     timeout,
		logger:      cfg.Logger,
	}
}

// BuildStats counts the lookups behind a matrix.
type BuildStats struct {
	// Lookups is the number of ordered pairs requested.
	Lookups int
	// Calls is the number of distance service calls made.
	Calls int
	// Unreachable is the number of requested pairs recorded as unreachable.
	Unreachable int
	// LastError is the most recent lookup failure.
	LastError error
}

type buildStats struct {
	mu sync.Mutex
	BuildStats
}

func (s *buildStats) requested(n int) {
	s.mu.Lock()
	s.Lookups += n
	s.mu.Unlock()
}

func (s *buildStats) called() {
	s.mu.Lock()
	s.Calls++
	s.mu.Unlock()
}

func (s *buildStats) failed(err error) {
	s.mu.Lock()
	s.Unreachable++
	s.LastError = err
	s.mu.Unlock()
}

func (s *buildStats) snapshot() BuildStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.BuildStats
}

type rowTask struct {
	from int
	to   []int
}

// Build looks up every off-diagonal pair of stops. Failed lookups are recorded
// as Unreachable and logged; the build only fails when ctx is done.
func (b *MatrixBuilder) Build(ctx context.Context, stops []Stop) (*Matrix, BuildStats, error) {
	n := len(stops)
	m := NewMatrix(n)
	st := &buildStats{}

	tasks := make([]rowTask, 0, n)
	for i := 0; i < n; i++ {
		to := make([]int, 0, n-1)
		for j := 0; j < n; j++ {
			if j != i {
				to = append(to, j)
			}
		}
		if len(to) > 0 {
			tasks = append(tasks, rowTask{from: i, to: to})
			st.requested(len(to))
		}
	}

	if err := b.fill(ctx, stops, m, tasks, st); err != nil {
		return nil, st.snapshot(), err
	}
	return m, st.snapshot(), nil
}

// Lazy returns a matrix that looks up entries only when the route constructor asks for them.
func (b *MatrixBuilder) Lazy(stops []Stop) *LazyMatrix {
	n := len(stops)
	return &LazyMatrix{
		builder:  b,
		stops:    stops,
		matrix:   NewMatrix(n),
		resolved: make([]bool, n*n),
		stats:    &buildStats{},
	}
}

func (b *MatrixBuilder) fill(ctx context.Context, stops []Stop, m *Matrix, tasks []rowTask, st *buildStats) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	for _, t := range tasks {
		if b.rows != nil {
			g.Go(func() error {
				return b.lookupRow(gctx, stops, m, t, st)
			})
			continue
		}
		for _, to := range t.to {
			g.Go(func() error {
				return b.lookupPair(gctx, stops, m, t.from, to, st)
			})
		}
	}

	return g.Wait()
}

func (b *MatrixBuilder) lookupPair(ctx context.Context, stops []Stop, m *Matrix, from, to int, st *buildStats) error {
	if err := b.wait(ctx); err != nil {
		return err
	}

	lctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	meas, err := b.service.Distance(lctx, stops[from].Coordinate, stops[to].Coordinate, b.mode)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	st.called()

	if err == nil && !meas.Valid() {
		err = errInvalidMeasurement
	}
	if err != nil {
		b.markUnreachable(stops, from, to, err, st)
		return nil
	}

	m.Set(from, to, Entry{Meters: meas.Meters, Seconds: meas.Seconds})
	return nil
}

func (b *MatrixBuilder) lookupRow(ctx context.Context, stops []Stop, m *Matrix, t rowTask, st *buildStats) error {
	if err := b.wait(ctx); err != nil {
		return err
	}

	dests := make([]geo.Coordinate, len(t.to))
	for k, j := range t.to {
		dests[k] = stops[j].Coordinate
	}

	lctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	results, err := b.rows.DistanceRow(lctx, stops[t.from].Coordinate, dests, b.mode)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	st.called()

	if err == nil && len(results) != len(t.to) {
		err = fmt.Errorf("distance row has %d entries, want %d", len(results), len(t.to))
	}
	if err != nil {
		for _, j := range t.to {
			b.markUnreachable(stops, t.from, j, err, st)
		}
		return nil
	}

	for k, j := range t.to {
		r := results[k]
		cellErr := r.Err
		if cellErr == nil && !r.Valid() {
			cellErr = errInvalidMeasurement
		}
		if cellErr != nil {
			b.markUnreachable(stops, t.from, j, cellErr, st)
			continue
		}
		m.Set(t.from, j, Entry{Meters: r.Meters, Seconds: r.Seconds})
	}
	return nil
}

// wait blocks on the rate limiter. A wait that cannot finish before the
// deadline counts as the context expiring.
func (b *MatrixBuilder) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.limiter == nil {
		return nil
	}
	if err := b.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("waiting for lookup slot: %w", context.DeadlineExceeded)
	}
	return nil
}

func (b *MatrixBuilder) markUnreachable(stops []Stop, from, to int, err error, st *buildStats) {
	st.failed(err)
	b.logger.Warn().Err(err).
		Int("from", from).
		Int("to", to).
		Str("stop_from", stops[from].ID).
		Str("stop_to", stops[to].ID).
		Msg("distance lookup failed, pair marked unreachable")
}

// LazyMatrix resolves entries on demand. It is not safe for concurrent use;
// lookups inside one Resolve call still fan out.
type LazyMatrix struct {
	builder  *MatrixBuilder
	stops    []Stop
	matrix   *Matrix
	resolved []bool
	stats    *buildStats
}

// Len returns the number of stops.
func (l *LazyMatrix) Len() int {
	return l.matrix.Len()
}

// At returns the entry, Unreachable when it has not been resolved.
func (l *LazyMatrix) At(from, to int) Entry {
	return l.matrix.At(from, to)
}

// Resolve looks up the entries from one stop that are not known yet.
func (l *LazyMatrix) Resolve(ctx context.Context, from int, to []int) error {
	n := l.matrix.Len()
	pending := make([]int, 0, len(to))
	for _, j := range to {
		if j != from && !l.resolved[from*n+j] {
			pending = append(pending, j)
		}
	}
	if len(pending) == 0 {
		return ctx.Err()
	}

	l.stats.requested(len(pending))
	if err := l.builder.fill(ctx, l.stops, l.matrix, []rowTask{{from: from, to: pending}}, l.stats); err != nil {
		return err
	}
	for _, j := range pending {
		l.resolved[from*n+j] = true
	}
	return nil
}

// ResolveUntilReachable looks up whole rows, in stop order, until some
// off-diagonal entry is reachable or every entry is known. It reports whether
// a reachable entry was found.
func (l *LazyMatrix) ResolveUntilReachable(ctx context.Context) (bool, error) {
	n := l.matrix.Len()
	all := make([]int, n)
	for i := range all {
		all[i] = i
	}
	for from := 0; from < n; from++ {
		if l.matrix.AnyReachable() {
			return true, nil
		}
		if err := l.Resolve(ctx, from, all); err != nil {
			return false, err
		}
	}
	return l.matrix.AnyReachable(), nil
}

// Matrix returns the entries resolved so far.
func (l *LazyMatrix) Matrix() *Matrix {
	return l.matrix
}

// Stats returns the lookups made so far.
func (l *LazyMatrix) Stats() BuildStats {
	return l.stats.snapshot()
}

var _ Distances = (*LazyMatrix)(nil)
