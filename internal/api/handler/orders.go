package handler

import (
	"net/http"

	"github.com/ayo6706/wallet-settlement/internal/domain"
	"github.com/ayo6706/wallet-settlement/internal/service"
	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// OrderHandler takes payment for catalog orders.
type OrderHandler struct {
	payments    *service.PaymentService
	commissions *service.CommissionEngine
}

func NewOrderHandler(payments *service.PaymentService, commissions *service.CommissionEngine) *OrderHandler {
	return &OrderHandler{payments: payments, commissions: commissions}
}

func orderRef(w http.ResponseWriter, r *http.Request) (domain.OrderRef, bool) {
	kind, err := domain.ParseOrderKind(chi.URLParam(r, "kind"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-order-kind", "order kind must be ecommerce or service")
		return domain.OrderRef{}, false
	}
	id, ok := urlUUID(w, r, "id")
	if !ok {
		return domain.OrderRef{}, false
	}
	return domain.OrderRef{Kind: kind, ID: id}, true
}

type payOrderRequest struct {
	Phone string `json:"phone"`
}

func (req payOrderRequest) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.Phone, validation.Required),
	)
}

// Pay handles POST /v1/orders/{kind}/{id}/pay by charging the buyer's phone.
func (h *OrderHandler) Pay(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := mustActor(w, r)
	if !ok {
		return
	}
	ref, ok := orderRef(w, r)
	if !ok {
		return
	}
	var req payOrderRequest
	if !decodeJSON(w, r, &req) || !validate(w, r, req) {
		return
	}
	tx, err := h.payments.InitiateOrderCollection(r.Context(), actorID, ref, req.Phone)
	if err != nil {
		respondServiceError(w, r, err, "order/pay-failed", "Failed to initiate order payment")
		return
	}
	RespondJSON(w, http.StatusAccepted, tx)
}

// PayFromWallet handles POST /v1/orders/{kind}/{id}/pay-from-wallet.
func (h *OrderHandler) PayFromWallet(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := mustActor(w, r)
	if !ok {
		return
	}
	ref, ok := orderRef(w, r)
	if !ok {
		return
	}
	res, err := h.payments.PayOrderFromWallet(r.Context(), actorID, ref)
	if err != nil {
		respondServiceError(w, r, err, "order/pay-failed", "Failed to pay order from wallet")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"order_id":           ref.ID,
		"kind":               ref.Kind,
		"amount":             res.Order.Amount,
		"payment_status":     res.Order.PaymentStatus,
		"debited_deposited":  res.Debited.Deposited,
		"debited_commission": res.Debited.Commission,
		"deposited_balance":  res.Balances.Deposited,
		"commission_balance": res.Balances.Commission,
		"total_balance":      res.Balances.Total(),
	})
}

// ConfirmPayment handles POST /v1/admin/orders/{kind}/{id}/confirm-payment for
// payments settled outside the gateway. Commission posting is idempotent.
func (h *OrderHandler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := mustActor(w, r)
	if !ok {
		return
	}
	ref, ok := orderRef(w, r)
	if !ok {
		return
	}
	c, err := h.commissions.HandlePaymentConfirmed(r.Context(), &actorID, ref)
	if err != nil {
		respondServiceError(w, r, err, "order/confirm-failed", "Failed to confirm payment")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"commission": c})
}
