package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/routewise/routewise/internal/api/models"
	"github.com/routewise/routewise/internal/api/response"
	"github.com/routewise/routewise/internal/planner"
	"github.com/routewise/routewise/internal/plans"
)

// Plan list page sizes.
const (
	DefaultPlanPageSize = 20
	MaxPlanPageSize     = 100
)

// PlanHandlerConfig holds configuration for the plan handler.
type PlanHandlerConfig struct {
	Service *plans.Service

	// Timeout bounds a single planning request. Zero means no limit beyond
	// the request context.
	Timeout time.Duration

	Logger    zerolog.Logger
	Validator *validator.Validate
}

// PlanHandler handles route planning endpoints.
type PlanHandler struct {
	service  *plans.Service
	timeout  time.Duration
	logger   zerolog.Logger
	validate *validator.Validate
}

// NewPlanHandler creates a new PlanHandler.
func NewPlanHandler(cfg PlanHandlerConfig) *PlanHandler {
	v := cfg.Validator
	if v == nil {
		v = NewValidator()
	}
	return &PlanHandler{
		service:  cfg.Service,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger,
		validate: v,
	}
}

// PlanRoute handles POST /v1/routes:plan - order stops into a route.
func (h *PlanHandler) PlanRoute(w http.ResponseWriter, r *http.Request) {
	var input models.PlanRequest
	if err := decodeJSON(w, r, &input); err != nil {
		response.BadRequest(w, r, err.Error(), nil)
		return
	}
	if err := h.validate.Struct(&input); err != nil {
		response.BadRequest(w, r, "request validation failed", fieldErrors(err))
		return
	}

	ctx := r.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	plan, err := h.service.Create(ctx, toCreateRequest(input))
	if err != nil {
		h.writePlanError(w, r, err)
		return
	}

	response.Created(w, r, "/v1/plans/"+plan.ID, toPlan(plan))
}

func (h *PlanHandler) writePlanError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *planner.ValidationError
	switch {
	case errors.As(err, &verr):
		fields := make([]models.FieldError, len(verr.Fields))
		for i, f := range verr.Fields {
			fields[i] = models.FieldError{Field: f.Field, Message: f.Message}
		}
		response.BadRequest(w, r, "invalid planning request", fields)
	case errors.Is(err, planner.ErrNoDistanceData):
		response.Problem(w, r, models.KindNoDistanceData, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		h.logger.Warn().Err(err).Msg("route planning did not finish")
		response.Problem(w, r, models.KindUnavailable, "route planning did not finish in time")
	default:
		h.logger.Error().Err(err).Msg("route planning failed")
		response.Problem(w, r, models.KindInternal, "route planning failed")
	}
}

// GetPlan handles GET /v1/plans/{planId} - get a stored plan.
func (h *PlanHandler) GetPlan(w http.ResponseWriter, r *http.Request) {
	planID := chi.URLParam(r, "planId")
	if planID == "" {
		response.BadRequest(w, r, "planId is required", nil)
		return
	}

	plan, err := h.service.Get(r.Context(), planID)
	if err != nil {
		if errors.Is(err, plans.ErrPlanNotFound) {
			response.Problem(w, r, models.KindNotFound, "plan not found")
			return
		}
		h.logger.Error().Err(err).Str("plan_id", planID).Msg("failed to get plan")
		response.Problem(w, r, models.KindInternal, "failed to get plan")
		return
	}

	response.JSON(w, r, http.StatusOK, toPlan(plan))
}

// ListPlans handles GET /v1/plans - list stored plans, newest first.
func (h *PlanHandler) ListPlans(w http.ResponseWriter, r *http.Request) {
	limit := DefaultPlanPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > MaxPlanPageSize {
			response.BadRequest(w, r, "invalid limit", []models.FieldError{
				{Field: "limit", Message: "must be an integer between 1 and " + strconv.Itoa(MaxPlanPageSize)},
			})
			return
		}
		limit = n
	}
	cursor := r.URL.Query().Get("cursor")

	result, err := h.service.List(r.Context(), limit, cursor)
	if err != nil {
		if errors.Is(err, plans.ErrPlanNotFound) {
			response.BadRequest(w, r, "invalid cursor", []models.FieldError{
				{Field: "cursor", Message: "does not match a stored plan"},
			})
			return
		}
		h.logger.Error().Err(err).Msg("failed to list plans")
		response.Problem(w, r, models.KindInternal, "failed to list plans")
		return
	}

	page := models.PagedPlans{
		Items: make([]models.PlanSummary, 0, len(result.Items)),
		Meta:  models.PagedResponseMeta{Limit: limit},
	}
	for _, p := range result.Items {
		page.Items = append(page.Items, toPlanSummary(p))
	}
	if result.NextCursor != "" {
		next := result.NextCursor
		page.Meta.NextCursor = &next
	}

	response.JSON(w, r, http.StatusOK, page)
}

func toPoint(p models.Point) *planner.Point {
	return &planner.Point{Lat: p.Lat, Lon: p.Lon}
}

func toCreateRequest(in models.PlanRequest) plans.CreateRequest {
	out := plans.CreateRequest{
		Stops: make([]planner.StopInput, len(in.Stops)),
	}
	if in.Depot != nil {
		out.Depot = toPoint(*in.Depot)
	}
	for i, s := range in.Stops {
		out.Stops[i] = planner.StopInput{
			ID:         s.ID,
			Coordinate: toPoint(s.Location),
			Address:    s.Address,
		}
	}
	if o := in.Options; o != nil {
		out.Objective = planner.Objective(o.Objective)
		out.ReturnToDepot = o.ReturnToDepot
		out.TwoOpt = o.TwoOpt
		out.LazyMatrix = o.LazyMatrix
		out.MaxStops = o.MaxStops
	}
	return out
}

func toLeg(l *planner.Leg) *models.Leg {
	if l == nil {
		return nil
	}
	return &models.Leg{
		DistanceMeters:  l.Meters,
		DurationSeconds: l.Seconds,
		Geometry:        l.Geometry,
		Skipped:         l.Skipped,
		Error:           l.Error,
	}
}

func toRouteStop(s planner.Stop, leg *planner.Leg) models.RouteStop {
	return models.RouteStop{
		ID:       s.ID,
		Location: models.Coordinate{Lat: s.Coordinate.Lat, Lon: s.Coordinate.Lon},
		Address:  s.Address,
		Leg:      toLeg(leg),
	}
}

func toPlan(p *plans.Plan) models.Plan {
	res := p.Result
	out := models.Plan{
		ID:        p.ID,
		CreatedAt: models.Timestamp(p.CreatedAt),
		Status:    string(res.Status),
		Route: models.Route{
			Stops:           make([]models.RouteStop, len(res.Route.Visits)),
			ReturnLeg:       toLeg(res.Route.ReturnLeg),
			DistanceMeters:  res.Route.TotalMeters,
			DurationSeconds: res.Route.TotalSeconds,
			SkippedLegs:     res.Route.SkippedLegs,
			Geometry:        res.Route.Geometry,
		},
		Requested: res.Requested,
		Stats: models.PlanStats{
			Lookups:     res.Stats.Lookups,
			Calls:       res.Stats.Calls,
			Unreachable: res.Stats.Unreachable,
			LegLookups:  res.Stats.LegLookups,
			TwoOptGain:  res.Stats.TwoOptGain,
			LazyMatrix:  res.Stats.Lazy,
			ElapsedMs:   res.Stats.Elapsed.Milliseconds(),
		},
	}
	for i, v := range res.Route.Visits {
		out.Route.Stops[i] = toRouteStop(v.Stop, v.Leg)
	}
	for _, s := range res.Unvisited {
		out.Unvisited = append(out.Unvisited, toRouteStop(s, nil))
	}
	return out
}

func toPlanSummary(p *plans.Plan) models.PlanSummary {
	return models.PlanSummary{
		ID:              p.ID,
		CreatedAt:       models.Timestamp(p.CreatedAt),
		Status:          string(p.Result.Status),
		Requested:       p.Result.Requested,
		Visited:         len(p.Result.Route.Visits),
		DistanceMeters:  p.Result.Route.TotalMeters,
		DurationSeconds: p.Result.Route.TotalSeconds,
	}
}
