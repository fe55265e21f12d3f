// Package plans runs route plans and keeps their results.
package plans

import (
	"errors"
	"time"

	"github.com/routewise/routewise/internal/planner"
)

// ErrPlanNotFound is returned when no plan has the requested ID.
var ErrPlanNotFound = errors.New("plan not found")

// IDPrefix starts every plan ID.
const IDPrefix = "pln_"

// Plan is a stored planning result.
type Plan struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	Request   planner.Request `json:"request"`
	Result    planner.Result  `json:"result"`
}

// CreateRequest is the input of Service.Create. Options left nil take their
// value from the configured Defaults.
type CreateRequest struct {
	Depot         *planner.Point      `json:"depot,omitempty"`
	Stops         []planner.StopInput `json:"stops"`
	Objective     planner.Objective   `json:"objective,omitempty"`
	ReturnToDepot bool                `json:"return_to_depot,omitempty"`
	TwoOpt        *bool               `json:"two_opt,omitempty"`
	LazyMatrix    *bool               `json:"lazy_matrix,omitempty"`
	MaxStops      int                 `json:"max_stops,omitempty"`
}
