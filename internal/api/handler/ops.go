package handler

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/routewise/routewise/internal/api/models"
	"github.com/routewise/routewise/internal/api/response"
	"github.com/routewise/routewise/internal/featureflags"
	"github.com/routewise/routewise/internal/provider/resilience"
)

// checkTimeout bounds each dependency check.
const checkTimeout = 2 * time.Second

// Check is a named dependency probe, e.g. a database or cache ping.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// OpsHandlerConfig holds configuration for the ops handler.
type OpsHandlerConfig struct {
	Version   string
	BuildTime string

	// Registry reports distance provider health. Optional.
	Registry *resilience.Registry

	// Flags reports active degradations. Optional.
	Flags *featureflags.Service

	Checks []Check
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	registry  *resilience.Registry
	flags     *featureflags.Service
	checks    []Check
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsHandlerConfig) *OpsHandler {
	return &OpsHandler{
		version:   cfg.Version,
		buildTime: cfg.BuildTime,
		registry:  cfg.Registry,
		flags:     cfg.Flags,
		checks:    cfg.Checks,
	}
}

// HealthCheck handles GET /v1/ops/health. It never touches dependencies.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.Health{
		Status:    models.HealthStatusOK,
		Time:      models.Timestamp(time.Now()),
		Version:   h.version,
		BuildTime: h.buildTime,
	})
}

// ReadinessCheck handles GET /v1/ops/ready. Any failed dependency check
// makes the service unready.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status:  models.HealthStatusOK,
		Time:    models.Timestamp(time.Now()),
		Version: h.version,
	}
	if subsystems := h.runChecks(r.Context()); len(subsystems) > 0 {
		health.Checks = make(map[string]models.HealthStatus, len(subsystems))
		for _, s := range subsystems {
			health.Checks[s.Name] = s.Status
			if s.Status != models.HealthStatusOK {
				health.Status = models.HealthStatusFail
			}
		}
	}

	status := http.StatusOK
	if health.Status != models.HealthStatusOK {
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, r, status, health)
}

// SystemStatus handles GET /v1/ops/status. A failed dependency fails the
// service; an unhealthy provider only degrades it.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := models.SystemStatus{
		Status:     models.HealthStatusOK,
		Time:       models.Timestamp(time.Now()),
		Version:    h.version,
		Subsystems: h.runChecks(ctx),
		Providers:  h.providerStatuses(),
	}

	for _, s := range status.Subsystems {
		if s.Status == models.HealthStatusFail {
			status.Status = models.HealthStatusFail
		}
	}
	if status.Status == models.HealthStatusOK {
		for _, p := range status.Providers {
			if p.Status != models.HealthStatusOK {
				status.Status = models.HealthStatusDegraded
			}
		}
	}

	if status.Status == models.HealthStatusDegraded && h.flags != nil && h.flags.DistanceFallbackEnabled(ctx) {
		status.ActiveDegradationFlags = []string{featureflags.FlagDistanceFallback}
	}

	response.JSON(w, r, http.StatusOK, status)
}

// runChecks probes every dependency concurrently. Results keep the
// configured order.
func (h *OpsHandler) runChecks(ctx context.Context) []models.SubsystemStatus {
	out := make([]models.SubsystemStatus, len(h.checks))

	var g errgroup.Group
	for i, c := range h.checks {
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()

			start := time.Now()
			err := c.Ping(checkCtx)

			s := models.SubsystemStatus{
				Name:      c.Name,
				Status:    models.HealthStatusOK,
				LatencyMS: time.Since(start).Milliseconds(),
			}
			if err != nil {
				detail := err.Error()
				s.Status = models.HealthStatusFail
				s.Detail = &detail
			}
			out[i] = s
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (h *OpsHandler) providerStatuses() []models.ProviderStatus {
	if h.registry == nil {
		return []models.ProviderStatus{}
	}

	all := h.registry.All()
	out := make([]models.ProviderStatus, 0, len(all))
	for _, ph := range all {
		ps := models.ProviderStatus{
			Provider:            ph.Name,
			Status:              models.HealthStatusOK,
			CircuitState:        ph.CircuitState.String(),
			ConsecutiveFailures: ph.ConsecutiveFailures,
			LastSuccessAt:       timestampPtr(ph.LastSuccessAt),
			LastFailureAt:       timestampPtr(ph.LastFailureAt),
		}
		switch ph.Status() {
		case resilience.StatusDown:
			ps.Status = models.HealthStatusFail
		case resilience.StatusDegraded:
			ps.Status = models.HealthStatusDegraded
		}
		if ph.LastError != "" {
			msg := ph.LastError
			ps.Message = &msg
		}
		out = append(out, ps)
	}
	return out
}

func timestampPtr(t *time.Time) *models.Timestamp {
	if t == nil {
		return nil
	}
	ts := models.Timestamp(*t)
	return &ts
}
