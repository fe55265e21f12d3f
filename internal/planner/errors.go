package planner

import (
	"errors"
	"strings"
)

// Sentinel errors for planning.
var (
	// ErrInvalidRequest is wrapped by every validation failure.
	ErrInvalidRequest = errors.New("invalid planning request")

	// ErrNoDistanceData means no pair of stops could be resolved by the distance service.
	ErrNoDistanceData = errors.New("no usable distance data")
)

// FieldError describes one invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is returned before any lookup is made.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrInvalidRequest.Error()
	}
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return ErrInvalidRequest.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidRequest
}

func (e *ValidationError) add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// PlanError is a total planning failure.
type PlanError struct {
	Message string

	// Err is the planner sentinel, e.g. ErrNoDistanceData.
	Err error

	// Upstream is the last distance service error seen, if any.
	Upstream error

	// Result holds the depot-only route built before the failure was detected.
	Result *Result
}

func (e *PlanError) Error() string {
	if e.Upstream != nil {
		return e.Message + ": " + e.Upstream.Error()
	}
	return e.Message
}

func (e *PlanError) Unwrap() []error {
	if e.Upstream != nil {
		return []error{e.Err, e.Upstream}
	}
	return []error{e.Err}
}
