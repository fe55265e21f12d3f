package models

// Objective values accepted in plan requests.
const (
	ObjectiveDistance = "DISTANCE"
	ObjectiveDuration = "DURATION"
)

// PlanStatus values.
const (
	PlanStatusComplete = "COMPLETE"
	PlanStatusPartial  = "PARTIAL"
)

// PlanRequest is the body of POST /v1/routes:plan.
type PlanRequest struct {
	// Depot is the start location. When omitted the first stop is the depot.
	Depot   *Point       `json:"depot,omitempty"`
	Stops   []Stop       `json:"stops" validate:"required,min=1,dive"`
	Options *PlanOptions `json:"options,omitempty"`
}

// Stop is a delivery stop in a plan request.
type Stop struct {
	ID       string `json:"id" validate:"required,max=64"`
	Location Point  `json:"location"`
	Address  string `json:"address,omitempty" validate:"max=500"`
}

// PlanOptions tunes a plan. Omitted booleans use the service defaults.
type PlanOptions struct {
	Objective     string `json:"objective,omitempty" validate:"omitempty,oneof=DISTANCE DURATION"`
	ReturnToDepot bool   `json:"returnToDepot,omitempty"`
	TwoOpt        *bool  `json:"twoOpt,omitempty"`
	LazyMatrix    *bool  `json:"lazyMatrix,omitempty"`
	MaxStops      int    `json:"maxStops,omitempty" validate:"gte=0"`
}

// Plan is a planned route.
type Plan struct {
	ID        string      `json:"id"`
	CreatedAt Timestamp   `json:"createdAt"`
	Status    string      `json:"status"`
	Route     Route       `json:"route"`
	Unvisited []RouteStop `json:"unvisited,omitempty"`
	Requested int         `json:"requested"`
	Stats     PlanStats   `json:"stats"`
}

// Route is the ordered visit list with totals over traversed legs.
type Route struct {
	Stops           []RouteStop `json:"stops"`
	ReturnLeg       *Leg        `json:"returnLeg,omitempty"`
	DistanceMeters  float64     `json:"distanceMeters"`
	DurationSeconds float64     `json:"durationSeconds"`
	SkippedLegs     int         `json:"skippedLegs"`
	Geometry        string      `json:"geometry,omitempty"`
}

// RouteStop is a stop in route order.
type RouteStop struct {
	ID       string     `json:"id"`
	Location Coordinate `json:"location"`
	Address  string     `json:"address,omitempty"`
	// Leg is the leg arriving at this stop; absent for the depot.
	Leg *Leg `json:"leg,omitempty"`
}

// Leg is the travel between two consecutive stops.
type Leg struct {
	DistanceMeters  float64 `json:"distanceMeters"`
	DurationSeconds float64 `json:"durationSeconds"`
	Geometry        string  `json:"geometry,omitempty"`
	Skipped         bool    `json:"skipped,omitempty"`
	Error           string  `json:"error,omitempty"`
}

// PlanStats describes the work done for a plan.
type PlanStats struct {
	Lookups     int     `json:"lookups"`
	Calls       int     `json:"calls"`
	Unreachable int     `json:"unreachable"`
	LegLookups  int     `json:"legLookups"`
	TwoOptGain  float64 `json:"twoOptGain,omitempty"`
	LazyMatrix  bool    `json:"lazyMatrix,omitempty"`
	ElapsedMs   int64   `json:"elapsedMs"`
}

// PlanSummary is a plan in list responses.
type PlanSummary struct {
	ID              string    `json:"id"`
	CreatedAt       Timestamp `json:"createdAt"`
	Status          string    `json:"status"`
	Requested       int       `json:"requested"`
	Visited         int       `json:"visited"`
	DistanceMeters  float64   `json:"distanceMeters"`
	DurationSeconds float64   `json:"durationSeconds"`
}

// PagedPlans is a page of plan summaries.
type PagedPlans struct {
	Items []PlanSummary      `json:"items"`
	Meta  PagedResponseMeta `json:"meta"`
}

// DistanceEstimateRequest is the body of POST /v1/distance:estimate.
type DistanceEstimateRequest struct {
	Origin      Point `json:"origin"`
	Destination Point `json:"destination"`
}

// DistanceEstimate is a straight-line distance with a travel time estimate.
type DistanceEstimate struct {
	DistanceMeters  float64 `json:"distanceMeters"`
	DurationSeconds float64 `json:"durationSeconds"`
	Method          string  `json:"method"`
}
