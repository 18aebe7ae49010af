package middleware

import (
	"net/http"
	"time"

	"github.com/ayo6706/wallet-settlement/internal/observability"
	"github.com/go-chi/chi/v5"
)

const unmatchedRoute = "unmatched"

// Probes and scrapes would drown the latency buckets of real traffic.
var unmeteredPaths = map[string]struct{}{
	"/metrics":      {},
	"/health/live":  {},
	"/health/ready": {},
}

// MetricsMiddleware records latency, response size and in-flight requests,
// labelled by chi route pattern so ids in paths never become label values.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, skip := unmeteredPaths[r.URL.Path]; skip {
			next.ServeHTTP(w, r)
			return
		}
		done := observability.TrackInFlight()
		defer done()

		start := time.Now()
		rec := newStatusRecorder(w)
		next.ServeHTTP(rec, r)

		observability.ObserveHTTP(observability.HTTPRequest{
			Method:   r.Method,
			Route:    routePattern(r),
			Status:   rec.status,
			Bytes:    rec.bytes,
			Duration: time.Since(start),
		})
	})
}

// routePattern must run after routing; before it chi has no pattern yet.
func routePattern(r *http.Request) string {
	rc := chi.RouteContext(r.Context())
	if rc == nil {
		return unmatchedRoute
	}
	if pattern := rc.RoutePattern(); pattern != "" {
		return pattern
	}
	return unmatchedRoute
}
