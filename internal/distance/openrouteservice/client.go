// Package openrouteservice provides a distance client for the OpenRouteService
// matrix and directions APIs.
package openrouteservice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/routewise/routewise/internal/distance"
	"github.com/routewise/routewise/internal/geo"
	"github.com/routewise/routewise/internal/provider/resilience"
	"github.com/routewise/routewise/internal/telemetry"
)

const (
	// ProviderName identifies this distance provider.
	ProviderName = "openrouteservice"

	// DefaultBaseURL is the OpenRouteService API base URL.
	DefaultBaseURL = "https://api.openrouteservice.org"

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 10 * time.Second
)

// HTTPDoer is an interface for executing HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig holds configuration for the OpenRouteService client.
type ClientConfig struct {
	// APIKey is the ORS API key (required).
	APIKey string

	// BaseURL is the API base URL (optional, defaults to ORS API).
	BaseURL string

	// HTTPClient is the HTTP client to use (optional).
	// If nil, uses a resilient client with defaults.
	HTTPClient HTTPDoer

	// Timeout is the request timeout (optional, defaults to 10s).
	Timeout time.Duration

	// Registry is the provider registry for health tracking (optional).
	Registry *resilience.Registry

	// RateLimit caps outbound requests per second (optional).
	RateLimit float64

	// Burst is the rate limiter bucket size.
	Burst int

	// Profiles overrides the ORS profile per travel mode (optional).
	Profiles map[distance.Mode]string

	// Metrics records request outcomes (optional).
	Metrics *telemetry.ProviderMetrics

	// Logger for client operations.
	Logger zerolog.Logger
}

// DefaultProfiles maps travel modes to ORS routing profiles.
var DefaultProfiles = map[distance.Mode]string{
	distance.ModeDriving: "driving-car",
	distance.ModeCycling: "cycling-regular",
	distance.ModeWalking: "foot-walking",
}

// Client is an OpenRouteService API client.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient HTTPDoer
	profiles   map[distance.Mode]string
	metrics    *telemetry.ProviderMetrics
	logger     zerolog.Logger
}

// NewClient creates a new OpenRouteService client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		clientCfg := resilience.DefaultClientConfig(ProviderName)
		clientCfg.Timeout = timeout
		clientCfg.RateLimit = cfg.RateLimit
		clientCfg.Burst = cfg.Burst
		clientCfg.Registry = cfg.Registry
		clientCfg.Logger = cfg.Logger
		httpClient = resilience.NewClient(clientCfg)
	}

	profiles := make(map[distance.Mode]string, len(DefaultProfiles))
	for mode, profile := range DefaultProfiles {
		profiles[mode] = profile
	}
	for mode, profile := range cfg.Profiles {
		profiles[mode] = profile
	}

	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		httpClient: httpClient,
		profiles:   profiles,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// Distance returns the road distance and duration between two points.
func (c *Client) Distance(ctx context.Context, origin, destination geo.Coordinate, mode distance.Mode) (distance.Measurement, error) {
	row, err := c.DistanceRow(ctx, origin, []geo.Coordinate{destination}, mode)
	if err != nil {
		return distance.Measurement{}, err
	}
	if row[0].Err != nil {
		return distance.Measurement{}, row[0].Err
	}
	return row[0].Measurement, nil
}

// DistanceRow resolves one origin against many destinations with a single matrix call.
// Destinations ORS cannot route to carry a per-entry distance.ErrNoRoute.
func (c *Client) DistanceRow(ctx context.Context, origin geo.Coordinate, destinations []geo.Coordinate, mode distance.Mode) ([]distance.RowResult, error) {
	if len(destinations) == 0 {
		return nil, nil
	}
	if err := validateCoordinates(origin); err != nil {
		return nil, &distance.Error{
			Provider: ProviderName,
			Code:     "INVALID_ORIGIN",
			Message:  "invalid origin coordinates",
			Err:      distance.ErrInvalidCoordinates,
		}
	}

	profile, err := c.profile(mode)
	if err != nil {
		return nil, err
	}

	// ORS uses [lon, lat] order (GeoJSON)
	locations := make([][]float64, 0, len(destinations)+1)
	locations = append(locations, []float64{origin.Lon, origin.Lat})
	dests := make([]int, len(destinations))
	for i, d := range destinations {
		if err := validateCoordinates(d); err != nil {
			return nil, &distance.Error{
				Provider: ProviderName,
				Code:     "INVALID_DESTINATION",
				Message:  fmt.Sprintf("invalid destination coordinates at index %d", i),
				Err:      distance.ErrInvalidCoordinates,
			}
		}
		locations = append(locations, []float64{d.Lon, d.Lat})
		dests[i] = i + 1
	}

	orsReq := matrixRequest{
		Locations:    locations,
		Sources:      []int{0},
		Destinations: dests,
		Metrics:      []string{"distance", "duration"},
		Units:        "m",
	}

	var orsResp matrixResponse
	if err := c.post(ctx, "matrix", "/v2/matrix/"+profile, orsReq, &orsResp); err != nil {
		return nil, err
	}

	if len(orsResp.Distances) == 0 || len(orsResp.Distances[0]) != len(destinations) {
		return nil, &distance.Error{
			Provider: ProviderName,
			Code:     "MALFORMED_RESPONSE",
			Message:  "matrix response does not match the request",
			Err:      distance.ErrUnavailable,
		}
	}

	out := make([]distance.RowResult, len(destinations))
	for i := range destinations {
		meters := orsResp.Distances[0][i]
		var seconds *float64
		if len(orsResp.Durations) > 0 && len(orsResp.Durations[0]) > i {
			seconds = orsResp.Durations[0][i]
		}
		if meters == nil {
			out[i].Err = &distance.Error{
				Provider: ProviderName,
				Code:     "NO_ROUTE",
				Message:  fmt.Sprintf("no route to destination %d", i),
				Err:      distance.ErrNoRoute,
			}
			continue
		}
		out[i].Meters = *meters
		if seconds != nil {
			out[i].Seconds = *seconds
		} else {
			out[i].Seconds = geo.EstimateSeconds(*meters)
		}
	}

	c.logger.Debug().
		Str("profile", profile).
		Int("destinations", len(destinations)).
		Msg("received matrix row from ORS")

	return out, nil
}

// Leg returns the distance, duration, and geometry of the best route between two points.
func (c *Client) Leg(ctx context.Context, origin, destination geo.Coordinate, mode distance.Mode) (*distance.Leg, error) {
	if err := validateCoordinates(origin); err != nil {
		return nil, &distance.Error{
			Provider: ProviderName,
			Code:     "INVALID_ORIGIN",
			Message:  "invalid origin coordinates",
			Err:      distance.ErrInvalidCoordinates,
		}
	}
	if err := validateCoordinates(destination); err != nil {
		return nil, &distance.Error{
			Provider: ProviderName,
			Code:     "INVALID_DESTINATION",
			Message:  "invalid destination coordinates",
			Err:      distance.ErrInvalidCoordinates,
		}
	}

	profile, err := c.profile(mode)
	if err != nil {
		return nil, err
	}

	orsReq := directionsRequest{
		Coordinates: [][]float64{
			{origin.Lon, origin.Lat},
			{destination.Lon, destination.Lat},
		},
		Instructions: false,
		Geometry:     true,
		Units:        "m",
	}

	var orsResp directionsResponse
	if err := c.post(ctx, "directions", "/v2/directions/"+profile, orsReq, &orsResp); err != nil {
		return nil, err
	}

	if len(orsResp.Routes) == 0 {
		return nil, &distance.Error{
			Provider: ProviderName,
			Code:     "NO_ROUTE",
			Message:  "no route found between the given points",
			Err:      distance.ErrNoRoute,
		}
	}

	route := orsResp.Routes[0]
	return &distance.Leg{
		Measurement: distance.Measurement{
			Meters:  route.Summary.Distance,
			Seconds: route.Summary.Duration,
		},
		Geometry: route.Geometry,
	}, nil
}

func (c *Client) profile(mode distance.Mode) (string, error) {
	if mode == "" {
		mode = distance.ModeDriving
	}
	profile, ok := c.profiles[mode]
	if !ok {
		return "", &distance.Error{
			Provider: ProviderName,
			Code:     "UNSUPPORTED_MODE",
			Message:  fmt.Sprintf("travel mode %q is not supported", mode),
			Err:      distance.ErrInvalidCoordinates,
		}
	}
	return profile, nil
}

// post sends a JSON request and decodes a 200 response into out.
func (c *Client) post(ctx context.Context, operation, path string, in, out any) (err error) {
	start := time.Now()
	defer func() {
		c.metrics.RecordRequest(ctx, ProviderName, operation, outcome(err), time.Since(start))
	}()

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", c.apiKey)
	httpReq.Header.Set("Accept", "application/json, application/geo+json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &distance.Error{
			Provider: ProviderName,
			Code:     "REQUEST_FAILED",
			Message:  "failed to reach distance provider",
			Err:      distance.ErrUnavailable,
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return c.handleErrorResponse(resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &distance.Error{
			Provider: ProviderName,
			Code:     "MALFORMED_RESPONSE",
			Message:  "could not decode provider response",
			Err:      errors.Join(distance.ErrUnavailable, err),
		}
	}
	return nil
}

// handleErrorResponse maps ORS error responses to domain errors.
func (c *Client) handleErrorResponse(statusCode int, body []byte) error {
	var orsErr orsErrorResponse
	if err := json.Unmarshal(body, &orsErr); err != nil {
		orsErr.Error.Message = fmt.Sprintf("distance provider returned status %d", statusCode)
	}

	c.logger.Debug().
		Int("status", statusCode).
		Int("ors_code", orsErr.Error.Code).
		Str("message", orsErr.Error.Message).
		Msg("ORS returned an error")

	switch {
	case statusCode == http.StatusTooManyRequests:
		return &distance.Error{
			Provider: ProviderName,
			Code:     "RATE_LIMIT",
			Message:  "API rate limit exceeded, please try again later",
			Err:      distance.ErrRateLimited,
		}
	case statusCode == http.StatusForbidden || statusCode == http.StatusUnauthorized:
		return &distance.Error{
			Provider: ProviderName,
			Code:     "FORBIDDEN",
			Message:  "API access denied - check API key configuration",
			Err:      distance.ErrUnavailable,
		}
	case statusCode == http.StatusNotFound,
		orsErr.Error.Code == orsErrorCodeRouteNotFound,
		orsErr.Error.Code == orsErrorCodePointNotFound:
		return &distance.Error{
			Provider: ProviderName,
			Code:     "NO_ROUTE",
			Message:  "no route found between the given points",
			Err:      distance.ErrNoRoute,
		}
	case statusCode == http.StatusBadRequest:
		return &distance.Error{
			Provider: ProviderName,
			Code:     "BAD_REQUEST",
			Message:  orsErr.Error.Message,
			Err:      distance.ErrInvalidCoordinates,
		}
	case statusCode >= 500:
		return &distance.Error{
			Provider: ProviderName,
			Code:     fmt.Sprintf("SERVER_%d", statusCode),
			Message:  "distance provider is temporarily unavailable",
			Err:      distance.ErrUnavailable,
		}
	default:
		return &distance.Error{
			Provider: ProviderName,
			Code:     fmt.Sprintf("HTTP_%d", statusCode),
			Message:  orsErr.Error.Message,
			Err:      distance.ErrUnavailable,
		}
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, distance.ErrNoRoute):
		return "no_route"
	case errors.Is(err, distance.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, distance.ErrInvalidCoordinates):
		return "invalid"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}

// validateCoordinates checks if coordinates are within valid ranges.
func validateCoordinates(c geo.Coordinate) error {
	return c.Validate()
}

var (
	_ distance.Service    = (*Client)(nil)
	_ distance.LegService = (*Client)(nil)
	_ distance.RowService = (*Client)(nil)
)
