package models

import (
	"encoding/json"
	"net/http"
)

const problemTypeBase = "https://api.routewise.dev/problems/"

// ProblemKind is a class of error response. Every problem of a kind shares
// its type URI, title and status.
type ProblemKind struct {
	Slug   string
	Title  string
	Status int
}

// Problem kinds returned by the API.
var (
	KindValidation           = ProblemKind{"validation-error", "Validation error", http.StatusBadRequest}
	KindTLSRequired          = ProblemKind{"tls-required", "TLS required", http.StatusForbidden}
	KindNotFound             = ProblemKind{"not-found", "Not found", http.StatusNotFound}
	KindUnsupportedMediaType = ProblemKind{"unsupported-media-type", "Unsupported media type", http.StatusUnsupportedMediaType}
	KindNoDistanceData       = ProblemKind{"no-distance-data", "No distance data", http.StatusUnprocessableEntity}
	KindTooManyRequests      = ProblemKind{"too-many-requests", "Too many requests", http.StatusTooManyRequests}
	KindInternal             = ProblemKind{"internal-error", "Internal server error", http.StatusInternalServerError}
	KindUnavailable          = ProblemKind{"service-unavailable", "Service unavailable", http.StatusServiceUnavailable}
)

// TypeURI returns the problem type URI for the kind.
func (k ProblemKind) TypeURI() string {
	return problemTypeBase + k.Slug
}

// Problem is an RFC 7807 error body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	// TraceID echoes the request ID so clients can quote it in reports.
	TraceID string       `json:"traceId"`
	Errors  []FieldError `json:"errors,omitempty"`
}

// FieldError points at one invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// NewProblem builds a problem of the given kind.
func NewProblem(kind ProblemKind, traceID, detail string) *Problem {
	return &Problem{
		Type:    kind.TypeURI(),
		Title:   kind.Title,
		Status:  kind.Status,
		Detail:  detail,
		TraceID: traceID,
	}
}

// Write sends the problem as application/problem+json for the request.
func (p *Problem) Write(w http.ResponseWriter, r *http.Request) {
	if p.Instance == "" {
		p.Instance = r.URL.Path
	}
	h := w.Header()
	h.Set("Content-Type", "application/problem+json")
	h.Set("Cache-Control", "no-store")
	if p.TraceID != "" {
		h.Set("X-Request-Id", p.TraceID)
	}
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}
