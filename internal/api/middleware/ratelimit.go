package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/routewise/routewise/internal/api/models"
)

// RateLimit allows Requests per Window for each client IP. A zero Requests
// disables the limit.
type RateLimit struct {
	Requests int           `yaml:"requests" validate:"min=0"`
	Window   time.Duration `yaml:"window" validate:"min=0"`
}

// RateLimits holds the per-tier limits of the API.
type RateLimits struct {
	// Planning covers route planning, which fans out to the distance provider.
	Planning RateLimit `yaml:"planning"`
	Standard RateLimit `yaml:"standard"`
	Admin    RateLimit `yaml:"admin"`
}

// DefaultRateLimits returns the production tiers.
func DefaultRateLimits() RateLimits {
	return RateLimits{
		Planning: RateLimit{Requests: 30, Window: time.Minute},
		Standard: RateLimit{Requests: 100, Window: time.Minute},
		Admin:    RateLimit{Requests: 10, Window: time.Minute},
	}
}

// RateLimitByIP limits requests per client IP as resolved by chi's RealIP.
func RateLimitByIP(limit RateLimit) func(http.Handler) http.Handler {
	if limit.Requests <= 0 || limit.Window <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	retryAfter := strconv.Itoa(int(math.Ceil(limit.Window.Seconds())))
	return httprate.Limit(
		limit.Requests,
		limit.Window,
		httprate.WithKeyFuncs(httprate.KeyByRealIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			// httprate does not expose when the window resets; a full window
			// is the upper bound.
			w.Header().Set("Retry-After", retryAfter)
			models.NewProblem(models.KindTooManyRequests, GetRequestID(r.Context()),
				"rate limit exceeded, retry after "+retryAfter+"s").Write(w, r)
		}),
	)
}
