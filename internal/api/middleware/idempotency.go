package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/ayo6706/wallet-settlement/internal/api/problem"
	"github.com/ayo6706/wallet-settlement/internal/idempotency"
	"github.com/ayo6706/wallet-settlement/internal/observability"
	"go.uber.org/zap"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	ReplayHeader      = "X-Idempotent-Replay"

	maxKeyLength = 255
	maxBodyBytes = 1 << 20
)

// IdempotencyMiddleware replays the first response for a repeated
// Idempotency-Key on writes. The header is optional and keys are scoped to
// the caller. Server errors release the reservation so the same key can be
// retried.
func IdempotencyMiddleware(store *idempotency.Store, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if store == nil || r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			header := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
			if header == "" {
				observability.IncrementIdempotencyEvent("missing_key")
				next.ServeHTTP(w, r)
				return
			}
			if len(header) > maxKeyLength {
				problem.Write(w, r, http.StatusBadRequest, problem.Type("idempotency/invalid-key"), "", "Idempotency-Key is too long")
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
			if err != nil {
				problem.Write(w, r, http.StatusBadRequest, problem.Type("request/invalid-body"), "", "Failed to read request body")
				return
			}
			_ = r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))

			call := &keyedCall{
				store:  store,
				logger: logger,
				key:    UserIDFromContext(r.Context()) + ":" + header,
				hash:   hashRequest(r.Method, r.URL.Path, body),
			}
			call.serve(w, r, next)
		})
	}
}

// keyedCall is one request carrying an Idempotency-Key.
type keyedCall struct {
	store  *idempotency.Store
	logger *zap.Logger
	key    string
	hash   string
}

func (c *keyedCall) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	ctx := r.Context()

	rec, err := c.store.Lookup(ctx, c.key, c.hash)
	switch {
	case err == nil:
		c.replay(w, rec, "replay")
		return
	case errors.Is(err, idempotency.ErrHashMismatch):
		observability.IncrementIdempotencyEvent("hash_mismatch")
		problem.Write(w, r, http.StatusConflict, problem.Type("idempotency/key-conflict"), "", "Idempotency-Key was already used with a different request")
		return
	case errors.Is(err, idempotency.ErrInProgress):
		c.await(w, r, "replay_after_wait")
		return
	case !errors.Is(err, idempotency.ErrNotFound):
		// Lookup failures fall through to Reserve, which is authoritative.
		observability.IncrementIdempotencyEvent("lookup_error")
		c.logger.Warn("idempotency lookup failed", zap.Error(err))
	}

	reserved, err := c.store.Reserve(ctx, c.key, c.hash, r.Method, r.URL.Path)
	if err != nil {
		observability.IncrementIdempotencyEvent("reserve_error")
		c.logger.Error("idempotency reserve failed", zap.Error(err))
		problem.Write(w, r, http.StatusInternalServerError, problem.Type("idempotency/unavailable"), "", "idempotency unavailable")
		return
	}
	if !reserved {
		c.await(w, r, "replay_after_reserve")
		return
	}
	observability.IncrementIdempotencyEvent("reserved")

	capture := &bodyRecorder{ResponseWriter: w}
	next.ServeHTTP(capture, r)
	c.settle(r, capture)
}

// await blocks on a concurrent request holding the same key.
func (c *keyedCall) await(w http.ResponseWriter, r *http.Request, outcome string) {
	rec, err := c.store.WaitForCompletion(r.Context(), c.key, c.hash)
	if err != nil {
		observability.IncrementIdempotencyEvent("in_progress_conflict")
		c.logger.Warn("idempotency wait failed", zap.Error(err))
		problem.Write(w, r, http.StatusConflict, problem.Type("idempotency/in-progress"), "", "a request with this Idempotency-Key is still processing")
		return
	}
	c.replay(w, rec, outcome)
}

func (c *keyedCall) replay(w http.ResponseWriter, rec *idempotency.Record, outcome string) {
	observability.IncrementIdempotencyEvent(outcome)
	w.Header().Set("Content-Type", rec.ContentType)
	w.Header().Set(ReplayHeader, rec.ServedBy)
	w.WriteHeader(rec.Status)
	_, _ = w.Write(rec.Body)
}

// settle stores the captured response, or releases the key on a 5xx.
func (c *keyedCall) settle(r *http.Request, capture *bodyRecorder) {
	ctx := r.Context()
	status := capture.status
	if status == 0 {
		status = http.StatusOK
	}
	if status >= http.StatusInternalServerError {
		if err := c.store.Release(ctx, c.key, c.hash); err != nil {
			c.logger.Warn("idempotency release failed", zap.Error(err), zap.String("key", c.key))
		}
		observability.IncrementIdempotencyEvent("released")
		return
	}

	contentType := capture.Header().Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	if _, err := c.store.Finalize(ctx, c.key, c.hash, status, capture.body.Bytes(), contentType); err != nil {
		observability.IncrementIdempotencyEvent("finalize_error")
		c.logger.Warn("idempotency finalize failed", zap.Error(err), zap.String("key", c.key))
		return
	}
	observability.IncrementIdempotencyEvent("finalized")
}

func hashRequest(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{'|'})
	h.Write([]byte(path))
	h.Write([]byte{'|'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

type bodyRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (br *bodyRecorder) WriteHeader(code int) {
	if br.status == 0 {
		br.status = code
	}
	br.ResponseWriter.WriteHeader(code)
}

func (br *bodyRecorder) Write(b []byte) (int, error) {
	if br.status == 0 {
		br.status = http.StatusOK
	}
	br.body.Write(b)
	return br.ResponseWriter.Write(b)
}
