package middleware

import (
	"context"
	"net/http"
	"regexp"

	"github.com/ayo6706/wallet-settlement/internal/api/problem"
	"github.com/google/uuid"
)

// Accepted inbound id headers, most specific first. Gateways send
// X-Request-ID or X-Correlation-ID on callbacks.
var traceHeaders = []string{problem.TraceHeader, "X-Request-ID", "X-Correlation-ID"}

// Inbound ids end up in logs and problem bodies.
var traceIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{8,64}$`)

// TraceMiddleware tags the request with a trace id, reusing a well-formed
// inbound one, and echoes it in the response.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID, ok := inboundTraceID(r.Header)
		if !ok {
			traceID = uuid.NewString()
		}
		r.Header.Set(problem.TraceHeader, traceID)
		w.Header().Set(problem.TraceHeader, traceID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), traceContextKey, traceID)))
	})
}

// inboundTraceID returns the first present header value. A malformed value
// is not skipped in favour of a later header; it is replaced.
func inboundTraceID(h http.Header) (string, bool) {
	for _, name := range traceHeaders {
		if v := h.Get(name); v != "" {
			return v, traceIDPattern.MatchString(v)
		}
	}
	return "", false
}
