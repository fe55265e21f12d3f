package handler

import (
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/routewise/routewise/internal/api/models"
	"github.com/routewise/routewise/internal/api/response"
	"github.com/routewise/routewise/internal/geo"
)

// MethodHaversine marks straight-line estimates.
const MethodHaversine = "HAVERSINE"

// DistanceHandler handles distance estimate endpoints.
type DistanceHandler struct {
	validate *validator.Validate
}

// NewDistanceHandler creates a new DistanceHandler.
func NewDistanceHandler(v *validator.Validate) *DistanceHandler {
	if v == nil {
		v = NewValidator()
	}
	return &DistanceHandler{validate: v}
}

// EstimateDistance handles POST /v1/distance:estimate - great-circle distance
// with a travel time at the fallback speed.
func (h *DistanceHandler) EstimateDistance(w http.ResponseWriter, r *http.Request) {
	var input models.DistanceEstimateRequest
	if err := decodeJSON(w, r, &input); err != nil {
		response.BadRequest(w, r, err.Error(), nil)
		return
	}
	if err := h.validate.Struct(&input); err != nil {
		response.BadRequest(w, r, "request validation failed", fieldErrors(err))
		return
	}

	meters := geo.Haversine(toCoordinate(input.Origin), toCoordinate(input.Destination))
	response.JSON(w, r, http.StatusOK, models.DistanceEstimate{
		DistanceMeters:  meters,
		DurationSeconds: geo.EstimateSeconds(meters),
		Method:          MethodHaversine,
	})
}

// toCoordinate converts a validated point.
func toCoordinate(p models.Point) geo.Coordinate {
	return geo.Coordinate{Lat: *p.Lat, Lon: *p.Lon}
}
