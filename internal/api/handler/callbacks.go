package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ayo6706/wallet-settlement/internal/observability"
	"github.com/ayo6706/wallet-settlement/internal/service"
	"go.uber.org/zap"
)

const SignatureHeader = "X-Callback-Signature"

// CallbackHandler receives gateway results. Every well-formed, authentic
// callback is acknowledged with 200, including duplicates and unmatched ids;
// only a storage failure returns 5xx so the gateway redelivers.
type CallbackHandler struct {
	reconciler *service.Reconciler
}

func NewCallbackHandler(reconciler *service.Reconciler) *CallbackHandler {
	return &CallbackHandler{reconciler: reconciler}
}

// readSigned reads and authenticates the body and decodes it into dst.
func (h *CallbackHandler) readSigned(w http.ResponseWriter, r *http.Request, kind string, dst any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		zap.L().Error("read callback body failed", zap.Error(err), zap.String("kind", kind))
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Failed to read request body")
		return false
	}
	if err := h.reconciler.VerifySignature(body, r.Header.Get(SignatureHeader)); err != nil {
		observability.IncrementCallback(kind, "bad_signature")
		if errors.Is(err, service.ErrInvalidSignature) {
			RespondError(w, r, http.StatusUnauthorized, "callback/invalid-signature", "Invalid signature")
			return false
		}
		RespondError(w, r, http.StatusInternalServerError, "callback/verify-failed", "Failed to verify signature")
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		observability.IncrementCallback(kind, "malformed")
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid callback body")
		return false
	}
	return true
}

func (h *CallbackHandler) ack(w http.ResponseWriter, r *http.Request, kind string, outcome service.CallbackOutcome, err error) {
	if err != nil {
		zap.L().Error("callback processing failed", zap.Error(err), zap.String("kind", kind))
		RespondError(w, r, http.StatusInternalServerError, "callback/process-failed", "Failed to process callback")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]string{"outcome": string(outcome)})
}

// Collection handles POST /v1/callbacks/collection.
func (h *CallbackHandler) Collection(w http.ResponseWriter, r *http.Request) {
	var cb service.CollectionCallback
	if !h.readSigned(w, r, "collection", &cb) {
		return
	}
	outcome, err := h.reconciler.HandleCollection(r.Context(), cb)
	h.ack(w, r, "collection", outcome, err)
}

// PayoutResult handles POST /v1/callbacks/payout-result.
func (h *CallbackHandler) PayoutResult(w http.ResponseWriter, r *http.Request) {
	var cb service.PayoutResultCallback
	if !h.readSigned(w, r, "payout_result", &cb) {
		return
	}
	outcome, err := h.reconciler.HandlePayoutResult(r.Context(), cb)
	h.ack(w, r, "payout_result", outcome, err)
}

// PayoutTimeout handles POST /v1/callbacks/payout-timeout.
func (h *CallbackHandler) PayoutTimeout(w http.ResponseWriter, r *http.Request) {
	var cb service.PayoutTimeoutCallback
	if !h.readSigned(w, r, "payout_timeout", &cb) {
		return
	}
	outcome, err := h.reconciler.HandlePayoutTimeout(r.Context(), cb)
	h.ack(w, r, "payout_timeout", outcome, err)
}
