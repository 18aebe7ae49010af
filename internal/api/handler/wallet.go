package handler

import (
	"net/http"
	"strings"

	"github.com/ayo6706/wallet-settlement/internal/domain"
	"github.com/ayo6706/wallet-settlement/internal/service"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// WalletHandler serves the caller's own wallet: balances, PIN and deposits.
type WalletHandler struct {
	ledger      *service.WalletLedger
	pins        *service.PinGuard
	payments    *service.PaymentService
	commissions *service.CommissionEngine
	currency    string
}

func NewWalletHandler(ledger *service.WalletLedger, pins *service.PinGuard, payments *service.PaymentService, commissions *service.CommissionEngine, currency string) *WalletHandler {
	return &WalletHandler{ledger: ledger, pins: pins, payments: payments, commissions: commissions, currency: currency}
}

// GetWallet handles GET /v1/wallet.
func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := mustActor(w, r)
	if !ok {
		return
	}
	wallet, err := h.ledger.GetWallet(r.Context(), actorID)
	if err != nil {
		respondServiceError(w, r, err, "wallet/read-failed", "Failed to get wallet")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"wallet":   wallet,
		"currency": h.currency,
	})
}

// ListCommissions handles GET /v1/wallet/commissions.
func (h *WalletHandler) ListCommissions(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := mustActor(w, r)
	if !ok {
		return
	}
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}
	items, err := h.commissions.ListForReferrer(r.Context(), actorID, limit, offset)
	if err != nil {
		respondServiceError(w, r, err, "commission/list-failed", "Failed to list commissions")
		return
	}
	RespondJSON(w, http.StatusOK, page(items, limit, offset))
}

type setPinRequest struct {
	Pin string `json:"pin"`
}

func (req setPinRequest) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.Pin, validation.Required),
	)
}

// SetPin handles POST /v1/wallet/pin. Only allowed while no PIN exists.
func (h *WalletHandler) SetPin(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := mustActor(w, r)
	if !ok {
		return
	}
	var req setPinRequest
	if !decodeJSON(w, r, &req) || !validate(w, r, req) {
		return
	}
	if err := h.pins.SetPin(r.Context(), actorID, req.Pin); err != nil {
		respondServiceError(w, r, err, "pin/set-failed", "Failed to set PIN")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RequestPinCode handles POST /v1/wallet/pin/otp.
func (h *WalletHandler) RequestPinCode(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := mustActor(w, r)
	if !ok {
		return
	}
	ttl, err := h.pins.RequestChangeCode(r.Context(), actorID)
	if err != nil {
		respondServiceError(w, r, err, "pin/code-failed", "Failed to issue verification code")
		return
	}
	RespondJSON(w, http.StatusAccepted, map[string]any{"expires_in_seconds": int64(ttl.Seconds())})
}

type changePinRequest struct {
	CurrentPin string `json:"current_pin"`
	Code       string `json:"code"`
	NewPin     string `json:"new_pin"`
}

func (req changePinRequest) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.CurrentPin, validation.Required),
		validation.Field(&req.Code, validation.Required, validation.Length(6, 6)),
		validation.Field(&req.NewPin, validation.Required),
	)
}

// ChangePin handles PUT /v1/wallet/pin.
func (h *WalletHandler) ChangePin(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := mustActor(w, r)
	if !ok {
		return
	}
	var req changePinRequest
	if !decodeJSON(w, r, &req) || !validate(w, r, req) {
		return
	}
	if err := h.pins.ChangePin(r.Context(), actorID, req.CurrentPin, strings.TrimSpace(req.Code), req.NewPin); err != nil {
		respondServiceError(w, r, err, "pin/change-failed", "Failed to change PIN")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type depositRequest struct {
	Amount domain.Money `json:"amount"`
	Phone  string       `json:"phone"`
}

func (req depositRequest) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.Amount, validation.Required),
		validation.Field(&req.Phone, validation.Required),
	)
}

// Deposit handles POST /v1/wallet/deposits. The wallet is credited when the
// collection callback confirms the charge.
func (h *WalletHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := mustActor(w, r)
	if !ok {
		return
	}
	var req depositRequest
	if !decodeJSON(w, r, &req) || !validate(w, r, req) {
		return
	}
	tx, err := h.payments.InitiateDeposit(r.Context(), actorID, req.Amount, req.Phone)
	if err != nil {
		respondServiceError(w, r, err, "deposit/initiate-failed", "Failed to initiate deposit")
		return
	}
	RespondJSON(w, http.StatusAccepted, tx)
}
