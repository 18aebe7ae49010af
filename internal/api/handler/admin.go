package handler

import (
	"context"
	"net/http"

	"github.com/ayo6706/wallet-settlement/internal/domain"
	"github.com/ayo6706/wallet-settlement/internal/service"
	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/google/uuid"
)

// Jobs runs the background jobs on demand. Both are safe to run while the
// workers are active.
type Jobs interface {
	Sweep(ctx context.Context) (service.SweepReport, error)
	Audit(ctx context.Context) (service.AuditReport, error)
}

// AdminHandler serves operator endpoints. Routes are guarded by the admin role.
type AdminHandler struct {
	commissions *service.CommissionEngine
	settings    *service.Settings
	audit       *service.AuditService
	reconciler  *service.Reconciler
	jobs        Jobs
}

func NewAdminHandler(commissions *service.CommissionEngine, settings *service.Settings, audit *service.AuditService, reconciler *service.Reconciler, jobs Jobs) *AdminHandler {
	return &AdminHandler{
		commissions: commissions,
		settings:    settings,
		audit:       audit,
		reconciler:  reconciler,
		jobs:        jobs,
	}
}

type manualCommissionRequest struct {
	UserID      string       `json:"user_id"`
	Amount      domain.Money `json:"amount"`
	Description string       `json:"description"`
}

func (req manualCommissionRequest) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.UserID, validation.Required, is.UUID),
		validation.Field(&req.Amount, validation.Required),
		validation.Field(&req.Description, validation.Required, validation.Length(1, 500)),
	)
}

// CreateCommission handles POST /v1/admin/commissions.
func (h *AdminHandler) CreateCommission(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := mustActor(w, r)
	if !ok {
		return
	}
	var req manualCommissionRequest
	if !decodeJSON(w, r, &req) || !validate(w, r, req) {
		return
	}
	userID := uuid.MustParse(req.UserID)
	c, err := h.commissions.CreateManualCommission(r.Context(), &actorID, userID, req.Amount, req.Description)
	if err != nil {
		respondServiceError(w, r, err, "commission/create-failed", "Failed to create commission")
		return
	}
	RespondJSON(w, http.StatusCreated, c)
}

type removeCommissionRequest struct {
	Description string `json:"description"`
}

// RemoveCommission handles POST /v1/admin/commissions/{id}/remove. The
// original entry stays; an offsetting entry is written.
func (h *AdminHandler) RemoveCommission(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}
	var req removeCommissionRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	c, err := h.commissions.RemoveManualCommission(r.Context(), &actorID, id, req.Description)
	if err != nil {
		respondServiceError(w, r, err, "commission/remove-failed", "Failed to remove commission")
		return
	}
	RespondJSON(w, http.StatusOK, c)
}

// ListSettings handles GET /v1/admin/settings.
func (h *AdminHandler) ListSettings(w http.ResponseWriter, r *http.Request) {
	all, err := h.settings.All(r.Context())
	if err != nil {
		respondServiceError(w, r, err, "settings/read-failed", "Failed to read settings")
		return
	}
	RespondJSON(w, http.StatusOK, all)
}

type settingRequest struct {
	Value string `json:"value"`
}

// UpdateSetting handles PUT /v1/admin/settings/{key}.
func (h *AdminHandler) UpdateSetting(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := mustActor(w, r)
	if !ok {
		return
	}
	var req settingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	key := chi.URLParam(r, "key")
	if err := h.settings.Set(r.Context(), &actorID, key, req.Value); err != nil {
		respondServiceError(w, r, err, "settings/update-failed", "Failed to update setting")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListAuditReview handles GET /v1/admin/review/audit.
func (h *AdminHandler) ListAuditReview(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}
	items, err := h.audit.ListNeedingReview(r.Context(), limit, offset)
	if err != nil {
		respondServiceError(w, r, err, "review/list-failed", "Failed to list audit entries")
		return
	}
	RespondJSON(w, http.StatusOK, page(items, limit, offset))
}

// ListGatewayReview handles GET /v1/admin/review/gateway.
func (h *AdminHandler) ListGatewayReview(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}
	items, err := h.reconciler.ListNeedingReview(r.Context(), limit, offset)
	if err != nil {
		respondServiceError(w, r, err, "review/list-failed", "Failed to list gateway transactions")
		return
	}
	RespondJSON(w, http.StatusOK, page(items, limit, offset))
}

// RunSweep handles POST /v1/admin/jobs/sweep.
func (h *AdminHandler) RunSweep(w http.ResponseWriter, r *http.Request) {
	report, err := h.jobs.Sweep(r.Context())
	if err != nil {
		respondServiceError(w, r, err, "jobs/sweep-failed", "Sweep failed")
		return
	}
	RespondJSON(w, http.StatusOK, report)
}

// RunAudit handles POST /v1/admin/jobs/audit.
func (h *AdminHandler) RunAudit(w http.ResponseWriter, r *http.Request) {
	report, err := h.jobs.Audit(r.Context())
	if err != nil {
		respondServiceError(w, r, err, "jobs/audit-failed", "Balance audit failed")
		return
	}
	RespondJSON(w, http.StatusOK, report)
}
