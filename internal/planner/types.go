// Package planner orders delivery stops into a route starting at the depot and
// estimates the total travel distance and duration.
//
// Ordering uses the greedy nearest-neighbor heuristic over a pairwise distance
// matrix, optionally followed by a 2-opt improvement pass. Neither guarantees a
// minimal route.
package planner

import (
	"time"

	"github.com/routewise/routewise/internal/geo"
)

// DepotStopID is the ID given to the stop synthesized from an explicit depot coordinate.
const DepotStopID = "depot"

// Stop is a delivery location.
type Stop struct {
	ID         string         `json:"id" yaml:"id"`
	Coordinate geo.Coordinate `json:"coordinate" yaml:"coordinate"`
	Address    string         `json:"address,omitempty" yaml:"address,omitempty"`
}

// Objective selects the matrix value nearest-neighbor minimizes.
type Objective string

const (
	// ObjectiveDistance minimizes meters (default).
	ObjectiveDistance Objective = "DISTANCE"
	// ObjectiveDuration minimizes seconds.
	ObjectiveDuration Objective = "DURATION"
)

// Valid reports whether o is a known objective. The empty value means the default.
func (o Objective) Valid() bool {
	return o == "" || o == ObjectiveDistance || o == ObjectiveDuration
}

// Options tunes a single planning call.
type Options struct {
	// Objective defaults to ObjectiveDistance.
	Objective Objective `json:"objective,omitempty" yaml:"objective,omitempty"`

	// ReturnToDepot adds the closing leg back to the depot to the totals.
	ReturnToDepot bool `json:"return_to_depot,omitempty" yaml:"return_to_depot,omitempty"`

	// TwoOpt runs a 2-opt improvement pass after nearest-neighbor.
	TwoOpt bool `json:"two_opt,omitempty" yaml:"two_opt,omitempty"`

	// LazyMatrix resolves distances on demand instead of building the full matrix up front.
	// It changes the number of lookups, not whether a plan is complete, partial or failed.
	LazyMatrix bool `json:"lazy_matrix,omitempty" yaml:"lazy_matrix,omitempty"`

	// MaxStops caps the number of stops accepted. Zero uses the planner default.
	MaxStops int `json:"max_stops,omitempty" yaml:"max_stops,omitempty"`
}

// Request is the input of a planning call.
type Request struct {
	// Depot is the start location. When nil the first stop is the depot.
	Depot *geo.Coordinate `json:"depot,omitempty" yaml:"depot,omitempty"`

	Stops   []Stop  `json:"stops" yaml:"stops"`
	Options Options `json:"options" yaml:"options"`
}

// Leg is the travel cost from the previous visit.
type Leg struct {
	Meters   float64 `json:"meters"`
	Seconds  float64 `json:"seconds"`
	Geometry string  `json:"geometry,omitempty"`

	// Skipped is set when the lookup failed. The leg then contributes nothing to the totals.
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Visit is one stop of a route.
type Visit struct {
	Stop Stop `json:"stop"`

	// Index is the stop's position in the planning list (the depot is 0).
	Index int `json:"index"`

	// Leg is nil for the depot.
	Leg *Leg `json:"leg,omitempty"`
}

// Route is the ordered sequence of visited stops with aggregate totals.
// When any leg is skipped the totals are a lower bound.
type Route struct {
	Visits       []Visit `json:"visits"`
	ReturnLeg    *Leg    `json:"return_leg,omitempty"`
	TotalMeters  float64 `json:"total_meters"`
	TotalSeconds float64 `json:"total_seconds"`
	SkippedLegs  int     `json:"skipped_legs"`

	// Geometry joins the per-leg geometries when the distance service returns them.
	Geometry string `json:"geometry,omitempty"`
}

// Stops returns the visited stops in order.
func (r Route) Stops() []Stop {
	stops := make([]Stop, len(r.Visits))
	for i, v := range r.Visits {
		stops[i] = v.Stop
	}
	return stops
}

// Order returns the planning-list indexes in visiting order.
func (r Route) Order() []int {
	order := make([]int, len(r.Visits))
	for i, v := range r.Visits {
		order[i] = v.Index
	}
	return order
}

// TotalDuration returns TotalSeconds as a time.Duration.
func (r Route) TotalDuration() time.Duration {
	return time.Duration(r.TotalSeconds * float64(time.Second))
}

// Status distinguishes complete from degraded results.
type Status string

const (
	// StatusComplete means every stop was visited.
	StatusComplete Status = "COMPLETE"
	// StatusPartial means construction stopped early because no reachable stop was left.
	StatusPartial Status = "PARTIAL"
)

// Stats describes the work done for a plan.
type Stats struct {
	// Lookups is the number of ordered pairs requested from the distance service.
	Lookups int `json:"lookups"`
	// Calls is the number of distance service calls, lower than Lookups when rows are batched.
	Calls int `json:"calls"`
	// Unreachable is the number of requested pairs recorded as unreachable.
	Unreachable int `json:"unreachable"`
	// LegLookups is the number of per-leg lookups made while aggregating.
	LegLookups int `json:"leg_lookups"`
	// TwoOptGain is the objective reduction achieved by 2-opt.
	TwoOptGain float64 `json:"two_opt_gain,omitempty"`
	// Lazy is set when the matrix was resolved on demand.
	Lazy bool `json:"lazy,omitempty"`

	Elapsed time.Duration `json:"elapsed"`
}

// Result is the output of a planning call.
type Result struct {
	// PlanID is set by callers that persist plans.
	PlanID string `json:"plan_id,omitempty"`

	Status Status `json:"status"`
	Route  Route  `json:"route"`

	// Unvisited lists the input stops missing from a partial route.
	Unvisited []Stop `json:"unvisited,omitempty"`

	// Requested is the number of stops in the request, excluding a synthesized depot.
	Requested int   `json:"requested"`
	Stats     Stats `json:"stats"`
}

// Complete reports whether every stop was visited.
func (r *Result) Complete() bool {
	return r.Status == StatusComplete
}
