package middleware

import (
	"net/http"

	"github.com/ayo6706/wallet-settlement/internal/api/problem"
	"github.com/ayo6706/wallet-settlement/internal/observability"
	"go.uber.org/zap"
)

// RecoverMiddleware converts panics into RFC 7807 responses. A panic after
// the response has started can only be logged.
func RecoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := newStatusRecorder(w)
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				observability.IncrementPanic(routePattern(r))
				logger.Error("panic recovered",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
					zap.String("method", r.Method),
					zap.String("user_id", UserIDFromContext(r.Context())),
					zap.String("request_id", TraceIDFromContext(r.Context())),
					zap.Bool("response_started", rw.wroteHeader),
					zap.Stack("stack"),
				)
				if rw.wroteHeader {
					return
				}
				problem.Write(rw, r, http.StatusInternalServerError,
					problem.Type("internal-server-error"),
					http.StatusText(http.StatusInternalServerError),
					"unexpected server error",
				)
			}()
			next.ServeHTTP(rw, r)
		})
	}
}
