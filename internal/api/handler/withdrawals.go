package handler

import (
	"net/http"

	"github.com/ayo6706/wallet-settlement/internal/domain"
	"github.com/ayo6706/wallet-settlement/internal/service"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// WithdrawalHandler serves withdrawal requests and the admin state machine.
type WithdrawalHandler struct {
	withdrawals *service.WithdrawalService
}

func NewWithdrawalHandler(withdrawals *service.WithdrawalService) *WithdrawalHandler {
	return &WithdrawalHandler{withdrawals: withdrawals}
}

type createWithdrawalRequest struct {
	Amount domain.Money `json:"amount"`
	Phone  string       `json:"phone"`
	Pin    string       `json:"pin"`
}

func (req createWithdrawalRequest) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.Amount, validation.Required),
		validation.Field(&req.Phone, validation.Required),
		validation.Field(&req.Pin, validation.Required),
	)
}

// Create handles POST /v1/withdrawals and returns 201 with the pending withdrawal.
func (h *WithdrawalHandler) Create(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := mustActor(w, r)
	if !ok {
		return
	}
	var req createWithdrawalRequest
	if !decodeJSON(w, r, &req) || !validate(w, r, req) {
		return
	}
	wd, err := h.withdrawals.Request(r.Context(), service.WithdrawalRequest{
		UserID: actorID,
		Amount: req.Amount,
		Phone:  req.Phone,
		Pin:    req.Pin,
	})
	if err != nil {
		respondServiceError(w, r, err, "withdrawal/create-failed", "Failed to create withdrawal")
		return
	}
	RespondJSON(w, http.StatusCreated, map[string]any{
		"withdrawal_id": wd.ID,
		"status":        wd.Status,
		"amount":        wd.Amount,
		"requested_at":  wd.RequestedAt,
	})
}

// Get handles GET /v1/withdrawals/{id}. Owners and admins only.
func (h *WithdrawalHandler) Get(w http.ResponseWriter, r *http.Request) {
	actorID, isAdmin, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}
	wd, err := h.withdrawals.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err, "withdrawal/read-failed", "Failed to get withdrawal")
		return
	}
	if !isAdmin && wd.UserID != actorID {
		RespondError(w, r, http.StatusNotFound, "not-found", service.ErrWithdrawalNotFound.Error())
		return
	}
	RespondJSON(w, http.StatusOK, wd)
}

// List handles GET /v1/admin/withdrawals?status=.
func (h *WithdrawalHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}
	status := r.URL.Query().Get("status")
	if status == "" {
		status = domain.WithdrawalPending
	}
	items, err := h.withdrawals.ListByStatus(r.Context(), status, limit, offset)
	if err != nil {
		respondServiceError(w, r, err, "withdrawal/list-failed", "Failed to list withdrawals")
		return
	}
	RespondJSON(w, http.StatusOK, page(items, limit, offset))
}

// Approve handles POST /v1/admin/withdrawals/{id}/approve.
func (h *WithdrawalHandler) Approve(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}
	wd, err := h.withdrawals.Approve(r.Context(), &actorID, id)
	if err != nil {
		respondServiceError(w, r, err, "withdrawal/approve-failed", "Failed to approve withdrawal")
		return
	}
	RespondJSON(w, http.StatusOK, wd)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (req reasonRequest) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.Reason, validation.Required, validation.Length(1, 500)),
	)
}

// Reject handles POST /v1/admin/withdrawals/{id}/reject.
func (h *WithdrawalHandler) Reject(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}
	var req reasonRequest
	if !decodeJSON(w, r, &req) || !validate(w, r, req) {
		return
	}
	wd, err := h.withdrawals.Reject(r.Context(), &actorID, id, req.Reason)
	if err != nil {
		respondServiceError(w, r, err, "withdrawal/reject-failed", "Failed to reject withdrawal")
		return
	}
	RespondJSON(w, http.StatusOK, wd)
}

type forceCompleteRequest struct {
	ExternalRef string `json:"external_ref"`
}

// ForceComplete handles POST /v1/admin/withdrawals/{id}/force-complete.
// An empty external_ref is replaced with a generated MANUAL- reference.
func (h *WithdrawalHandler) ForceComplete(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}
	var req forceCompleteRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	wd, err := h.withdrawals.ForceComplete(r.Context(), &actorID, id, req.ExternalRef)
	if err != nil {
		respondServiceError(w, r, err, "withdrawal/force-complete-failed", "Failed to complete withdrawal")
		return
	}
	RespondJSON(w, http.StatusOK, wd)
}

// Refund handles POST /v1/admin/withdrawals/{id}/refund.
func (h *WithdrawalHandler) Refund(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}
	var req reasonRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	wd, err := h.withdrawals.Refund(r.Context(), &actorID, id, req.Reason)
	if err != nil {
		respondServiceError(w, r, err, "withdrawal/refund-failed", "Failed to refund withdrawal")
		return
	}
	RespondJSON(w, http.StatusOK, wd)
}
