package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ayo6706/wallet-settlement/internal/api/problem"
	"github.com/ayo6706/wallet-settlement/internal/observability"
	"github.com/go-chi/httprate"
)

// PublicRateLimiter limits registration and other unauthenticated routes per IP.
func PublicRateLimiter(rps int) func(http.Handler) http.Handler {
	return limiter("public", rps, "this IP", httprate.KeyByIP)
}

// AuthRateLimiter limits authenticated users by user id, falling back to the
// client IP. PIN guessing is bounded separately by the PIN lockout.
func AuthRateLimiter(rps int) func(http.Handler) http.Handler {
	return limiter("user", rps, "this user", func(r *http.Request) (string, error) {
		if userID := UserIDFromContext(r.Context()); userID != "" {
			return userID, nil
		}
		return httprate.KeyByIP(r)
	})
}

func limiter(scope string, rps int, subject string, key httprate.KeyFunc) func(http.Handler) http.Handler {
	return httprate.Limit(rps, time.Second,
		httprate.WithKeyFuncs(key),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			observability.IncrementRateLimited(scope)
			w.Header().Set("Retry-After", "1")
			problem.Write(w, r, http.StatusTooManyRequests,
				problem.Type("rate-limit-exceeded"),
				http.StatusText(http.StatusTooManyRequests),
				fmt.Sprintf("Rate limit of %d req/s exceeded for %s", rps, subject),
			)
		}),
	)
}
