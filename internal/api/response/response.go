// Package response writes API responses. Successful bodies are JSON and
// errors are RFC 7807 problems; both carry the request ID header.
package response

import (
	"encoding/json"
	"net/http"

	"github.com/routewise/routewise/internal/api/middleware"
	"github.com/routewise/routewise/internal/api/models"
)

// JSON writes data with the given status.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	write(w, r, status, data)
}

// Created writes a 201 with a Location header.
func Created(w http.ResponseWriter, r *http.Request, location string, data any) {
	if location != "" {
		w.Header().Set("Location", location)
	}
	write(w, r, http.StatusCreated, data)
}

// NoContent writes a 204.
func NoContent(w http.ResponseWriter, r *http.Request) {
	write(w, r, http.StatusNoContent, nil)
}

// Problem writes an error response of the given kind.
func Problem(w http.ResponseWriter, r *http.Request, kind models.ProblemKind, detail string) {
	models.NewProblem(kind, middleware.GetRequestID(r.Context()), detail).Write(w, r)
}

// BadRequest writes a validation problem listing the offending fields.
func BadRequest(w http.ResponseWriter, r *http.Request, detail string, fields []models.FieldError) {
	p := models.NewProblem(models.KindValidation, middleware.GetRequestID(r.Context()), detail)
	p.Errors = fields
	p.Write(w, r)
}

func write(w http.ResponseWriter, r *http.Request, status int, data any) {
	if id := middleware.GetRequestID(r.Context()); id != "" {
		w.Header().Set("X-Request-Id", id)
	}
	if data == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
