package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/routewise/routewise/internal/api/middleware"
)

func serveRequestID(incoming string) (ctxID, headerID string) {
	h := middleware.RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		ctxID = middleware.GetRequestID(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/v1/ops/health", http.NoBody)
	if incoming != "" {
		req.Header.Set(middleware.RequestIDHeader, incoming)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return ctxID, rec.Header().Get(middleware.RequestIDHeader)
}

func TestRequestID_Generated(t *testing.T) {
	ctxID, headerID := serveRequestID("")

	assert.Equal(t, ctxID, headerID)
	assert.True(t, strings.HasPrefix(ctxID, "req_"), ctxID)
	assert.Len(t, ctxID, len("req_")+32)
	assert.NotContains(t, ctxID, "-")
}

func TestRequestID_Incoming(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		kept     bool
	}{
		{"upstream id", "lb-7f3a.91:2", true},
		{"generated by us", "req_0192f1b2c3d4", true},
		{"contains space", "abc def", false},
		{"newline", "abc\nX-Injected: 1", false},
		{"too long", strings.Repeat("a", 129), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctxID, headerID := serveRequestID(tt.incoming)

			assert.Equal(t, ctxID, headerID)
			if tt.kept {
				assert.Equal(t, tt.incoming, ctxID)
			} else {
				assert.NotEqual(t, tt.incoming, ctxID)
				assert.True(t, strings.HasPrefix(ctxID, "req_"))
			}
		})
	}
}

func TestRequestID_Unique(t *testing.T) {
	seen := make(map[string]struct{})
	for range 200 {
		id, _ := serveRequestID("")
		_, dup := seen[id]
		assert.False(t, dup, "duplicate request ID %s", id)
		seen[id] = struct{}{}
	}
}

func TestGetRequestID_Missing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	assert.Empty(t, middleware.GetRequestID(req.Context()))
	assert.Equal(t, "req_x", middleware.GetRequestID(middleware.WithRequestID(req.Context(), "req_x")))
}
