package planner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/routewise/routewise/internal/distance"
	"github.com/routewise/routewise/pkg/polyline"
)

var errUnreachableLeg = errors.New("leg is unreachable in the distance matrix")

// AggregatorConfig holds configuration for the route aggregator.
type AggregatorConfig struct {
	// Service is re-queried per leg when it implements distance.LegService.
	// Otherwise the matrix entries are reused. Optional.
	Service distance.Service

	// Mode is the travel mode for leg lookups (default: driving).
	Mode distance.Mode

	// Concurrency caps in-flight leg lookups (default: 8).
	Concurrency int

	// LookupTimeout bounds each leg lookup (default: 10 seconds).
	LookupTimeout time.Duration

	Logger zerolog.Logger
}

// Aggregator totals the legs of a visiting order.
type Aggregator struct {
	legs        distance.LegService
	mode        distance.Mode
	concurrency int
	timeout     time.Duration
	logger      zerolog.Logger
}

// NewAggregator creates a route aggregator.
func NewAggregator(cfg AggregatorConfig) *Aggregator {
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

	legs, _ := cfg.Service.(distance.LegService)

	return &Aggregator{
		legs:        legs,
		mode:        mode,
		concurrency: concurrency,
		timeout:     timeout,
		logger:      cfg.Logger,
	}
}

// Aggregate builds the route for order. A leg whose lookup fails is marked
// skipped and contributes zero, making the totals a lower bound. The closing
// leg back to the first stop is added when returnToDepot is set. Only a done
// ctx fails the call.
func (a *Aggregator) Aggregate(ctx context.Context, stops []Stop, order []int, d Distances, returnToDepot bool) (Route, int, error) {
	route := Route{Visits: make([]Visit, len(order))}
	if len(order) == 0 {
		return route, 0, nil
	}

	type pair struct{ from, to int }
	pairs := make([]pair, 0, len(order))
	for i := 1; i < len(order); i++ {
		pairs = append(pairs, pair{order[i-1], order[i]})
	}
	if returnToDepot && len(order) > 1 {
		pairs = append(pairs, pair{order[len(order)-1], order[0]})
	}

	legs := make([]*Leg, len(pairs))
	lookups := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for k, p := range pairs {
		if a.legs == nil {
			legs[k] = matrixLeg(d.At(p.from, p.to))
			continue
		}
		lookups++
		g.Go(func() error {
			leg, err := a.lookup(gctx, stops[p.from], stops[p.to])
			if err != nil {
				return err
			}
			legs[k] = leg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Route{}, lookups, err
	}

	route.Visits[0] = Visit{Stop: stops[order[0]], Index: order[0]}
	geometries := make([]string, 0, len(legs))
	for k, leg := range legs {
		if k < len(order)-1 {
			route.Visits[k+1] = Visit{Stop: stops[order[k+1]], Index: order[k+1], Leg: leg}
		} else {
			route.ReturnLeg = leg
		}

		if leg.Skipped {
			route.SkippedLegs++
			a.logger.Warn().
				Str("stop_from", stops[pairs[k].from].ID).
				Str("stop_to", stops[pairs[k].to].ID).
				Str("error", leg.Error).
				Msg("leg lookup failed, leg left out of route totals")
			continue
		}
		route.TotalMeters += leg.Meters
		route.TotalSeconds += leg.Seconds
		geometries = append(geometries, leg.Geometry)
	}

	if geometry, err := polyline.Join(geometries...); err != nil {
		a.logger.Debug().Err(err).Msg("discarding route geometry")
	} else {
		route.Geometry = geometry
	}

	return route, lookups, nil
}

// lookup returns the leg between two stops. Lookup failures become skipped
// legs; only a done ctx is returned as an error.
func (a *Aggregator) lookup(ctx context.Context, from, to Stop) (*Leg, error) {
	lctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	leg, err := a.legs.Leg(lctx, from.Coordinate, to.Coordinate, a.mode)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err == nil && (leg == nil || !leg.Valid()) {
		err = errInvalidMeasurement
	}
	if err != nil {
		return &Leg{Skipped: true, Error: err.Error()}, nil
	}
	return &Leg{Meters: leg.Meters, Seconds: leg.Seconds, Geometry: leg.Geometry}, nil
}

func matrixLeg(e Entry) *Leg {
	if !e.Reachable() {
		return &Leg{Skipped: true, Error: errUnreachableLeg.Error()}
	}
	return &Leg{Meters: e.Meters, Seconds: e.Seconds}
}

// String renders the route as "a -> b -> c".
func (r Route) String() string {
	s := ""
	for i, v := range r.Visits {
		if i > 0 {
			s += " -> "
		}
		s += v.Stop.ID
	}
	return fmt.Sprintf("%s (%.0f m, %.0f s)", s, r.TotalMeters, r.TotalSeconds)
}
