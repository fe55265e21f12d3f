package middleware_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/routewise/routewise/internal/api/middleware"
)

// stack mirrors the order the API router installs its middleware in.
type stack struct {
	router *chi.Mux
	logs   bytes.Buffer
	spans  *tracetest.SpanRecorder
}

func newStack(t *testing.T) *stack {
	t.Helper()
	s := &stack{spans: tracetest.NewSpanRecorder()}

	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(s.spans))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	s.router = chi.NewRouter()
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Tracing("routewise-test"))
	s.router.Use(middleware.Logger(zerolog.New(&s.logs)))
	return s
}

func (s *stack) respond(pattern string, status int, body string) {
	s.router.HandleFunc(pattern, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
}

func (s *stack) serve(t *testing.T, req *http.Request) map[string]any {
	t.Helper()
	s.router.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(s.logs.Bytes(), &entry))
	return entry
}

func spanAttr(span sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestObservability_RouteLabels(t *testing.T) {
	s := newStack(t)
	s.respond("/v1/plans/{planId}", http.StatusOK, `{"id":"pln_9"}`)

	entry := s.serve(t, httptest.NewRequest(http.MethodGet, "/v1/plans/pln_9", http.NoBody))

	assert.Equal(t, "request completed", entry["message"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "/v1/plans/{planId}", entry["route"])
	assert.Equal(t, "/v1/plans/pln_9", entry["path"])
	assert.Equal(t, float64(200), entry["status"])
	assert.Equal(t, float64(len(`{"id":"pln_9"}`)), entry["bytes"])

	spans := s.spans.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /v1/plans/{planId}", spans[0].Name())
	route, ok := spanAttr(spans[0], "http.route")
	require.True(t, ok)
	assert.Equal(t, "/v1/plans/{planId}", route.AsString())
}

func TestObservability_CorrelatesIDs(t *testing.T) {
	s := newStack(t)
	s.respond("/v1/ops/health", http.StatusOK, "")

	req := httptest.NewRequest(http.MethodGet, "/v1/ops/health", http.NoBody)
	req.Header.Set("traceparent", "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01")
	req.Header.Set(middleware.RequestIDHeader, "lb-123")
	entry := s.serve(t, req)

	spans := s.spans.Ended()
	require.Len(t, spans, 1)
	span := spans[0]

	assert.Equal(t, "0af7651916cd43dd8448eb211c80319c", span.SpanContext().TraceID().String())
	assert.Equal(t, "b7ad6b7169203331", span.Parent().SpanID().String())
	assert.Equal(t, span.SpanContext().TraceID().String(), entry["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), entry["span_id"])
	assert.Equal(t, "lb-123", entry["request_id"])

	requestID, ok := spanAttr(span, "request.id")
	require.True(t, ok)
	assert.Equal(t, "lb-123", requestID.AsString())
}

func TestObservability_StatusHandling(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantLevel string
		wantError bool
	}{
		{"success", http.StatusCreated, "info", false},
		{"client error", http.StatusUnprocessableEntity, "warn", false},
		{"server error", http.StatusServiceUnavailable, "error", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStack(t)
			s.respond("/v1/routes:plan", tt.status, "")

			entry := s.serve(t, httptest.NewRequest(http.MethodPost, "/v1/routes:plan", http.NoBody))

			assert.Equal(t, tt.wantLevel, entry["level"])
			assert.Equal(t, float64(tt.status), entry["status"])

			spans := s.spans.Ended()
			require.Len(t, spans, 1)
			code, ok := spanAttr(spans[0], "http.response.status_code")
			require.True(t, ok)
			assert.Equal(t, int64(tt.status), code.AsInt64())
			if tt.wantError {
				assert.Equal(t, codes.Error, spans[0].Status().Code)
			} else {
				assert.Equal(t, codes.Unset, spans[0].Status().Code)
			}
		})
	}
}

func TestLogger_OutsideRouter(t *testing.T) {
	var logs bytes.Buffer
	h := middleware.Logger(zerolog.New(&logs))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	req.Header.Set("User-Agent", "kube-probe/1.30")
	h.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(logs.Bytes(), &entry))
	assert.Equal(t, "/healthz", entry["route"], "falls back to the raw path")
	assert.Equal(t, float64(200), entry["status"], "an implicit header is a 200")
	assert.Equal(t, "kube-probe/1.30", entry["user_agent"])
	assert.Empty(t, entry["trace_id"])
}

func TestLogger_RequestScopedLogger(t *testing.T) {
	var logs bytes.Buffer
	h := middleware.RequestID(middleware.Logger(zerolog.New(&logs))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		zerolog.Ctx(r.Context()).Info().Msg("plan stored")
		w.WriteHeader(http.StatusCreated)
	})))

	req := httptest.NewRequest(http.MethodPost, "/v1/routes:plan", http.NoBody)
	req.Header.Set(middleware.RequestIDHeader, "req_abc")
	h.ServeHTTP(httptest.NewRecorder(), req)

	lines := bytes.Split(bytes.TrimSpace(logs.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	for _, line := range lines {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(line, &entry))
		assert.Equal(t, "req_abc", entry["request_id"])
	}
}
