package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ayo6706/wallet-settlement/internal/api/middleware"
	"github.com/ayo6706/wallet-settlement/internal/api/problem"
	"github.com/ayo6706/wallet-settlement/internal/domain"
	"github.com/ayo6706/wallet-settlement/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string, opts ...problem.Option) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.Write(w, r, status, problemType, http.StatusText(status), message, opts...)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return false
	}
	return true
}

func requestActor(r *http.Request) (uuid.UUID, bool, error) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		return uuid.Nil, false, errors.New("missing user in auth context")
	}

	actorID, err := uuid.Parse(userID)
	if err != nil {
		return uuid.Nil, false, errors.New("invalid user_id in auth context")
	}

	return actorID, middleware.UserRoleFromContext(r.Context()) == middleware.RoleAdmin, nil
}

// mustActor writes a 401 and returns false when the auth context is unusable.
func mustActor(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool, bool) {
	actorID, isAdmin, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return uuid.Nil, false, false
	}
	return actorID, isAdmin, true
}

func urlUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-"+param, "Invalid "+param)
		return uuid.Nil, false
	}
	return id, true
}

func pagination(w http.ResponseWriter, r *http.Request) (int32, int32, bool) {
	limit := int32(50)
	offset := int32(0)
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-limit", "limit must be a positive integer")
			return 0, 0, false
		}
		limit = int32(min(parsed, 500))
	}
	if v := strings.TrimSpace(r.URL.Query().Get("offset")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-offset", "offset must be a non-negative integer")
			return 0, 0, false
		}
		offset = int32(parsed)
	}
	return limit, offset, true
}

func page[T any](items []T, limit, offset int32) map[string]any {
	if items == nil {
		items = []T{}
	}
	return map[string]any{
		"items":  items,
		"limit":  limit,
		"offset": offset,
		"count":  len(items),
	}
}

// respondServiceError maps the domain error taxonomy onto problem responses.
// Anything unrecognized is logged and reported as a 500 with the given slug.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error, fallbackType, fallbackMsg string) {
	var (
		validation *domain.ValidationError
		locked     *domain.PinLockedError
		badPin     *domain.PinInvalidError
		integrity  *domain.DataIntegrityError
	)
	switch {
	case errors.As(err, &validation):
		var opts []problem.Option
		if validation.Field != "" {
			opts = append(opts, problem.WithInvalidParams(problem.InvalidParam{Name: validation.Field, Reason: validation.Reason}))
		}
		RespondError(w, r, http.StatusBadRequest, "request/validation", validation.Error(), opts...)
	case errors.As(err, &locked):
		w.Header().Set("Retry-After", strconv.Itoa(int(locked.Remaining.Round(time.Second).Seconds())))
		RespondError(w, r, http.StatusLocked, "pin/locked", locked.Error())
	case errors.As(err, &badPin):
		RespondError(w, r, http.StatusBadRequest, "pin/invalid", badPin.Error(), problem.WithAttemptsRemaining(badPin.AttemptsRemaining))
	case errors.Is(err, domain.ErrInsufficientFunds):
		RespondError(w, r, http.StatusBadRequest, "wallet/insufficient-funds", err.Error())
	case errors.Is(err, domain.ErrInvalidOTP):
		RespondError(w, r, http.StatusBadRequest, "pin/invalid-code", err.Error())
	case errors.Is(err, domain.ErrPinNotSet):
		RespondError(w, r, http.StatusBadRequest, "pin/not-set", err.Error())
	case errors.Is(err, domain.ErrPinAlreadySet):
		RespondError(w, r, http.StatusConflict, "pin/already-set", err.Error())
	case errors.Is(err, domain.ErrWithdrawalAlreadyPending):
		RespondError(w, r, http.StatusConflict, "withdrawal/already-pending", err.Error())
	case errors.Is(err, domain.ErrWithdrawalCooldown):
		RespondError(w, r, http.StatusConflict, "withdrawal/cooldown", err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		RespondError(w, r, http.StatusConflict, "state/invalid-transition", err.Error())
	case errors.Is(err, service.ErrOrderAlreadyPaid):
		RespondError(w, r, http.StatusConflict, "order/already-paid", err.Error())
	case errors.Is(err, service.ErrUserExists):
		RespondError(w, r, http.StatusConflict, "user/exists", err.Error())
	case errors.Is(err, service.ErrCommissionAlreadyRemoved):
		RespondError(w, r, http.StatusConflict, "commission/already-removed", err.Error())
	case errors.Is(err, service.ErrNotManualCommission):
		RespondError(w, r, http.StatusConflict, "commission/not-manual", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		RespondError(w, r, http.StatusNotFound, "not-found", err.Error())
	case errors.Is(err, domain.ErrGatewayUnavailable):
		RespondError(w, r, http.StatusServiceUnavailable, "gateway/unavailable", "payment gateway unavailable, retry later")
	case errors.As(err, &integrity):
		zap.L().Error("data integrity violation", zap.Error(err), zap.String("path", r.URL.Path))
		RespondError(w, r, http.StatusConflict, "data-integrity", "request conflicts with stored state and was flagged for review")
	default:
		if status, pType, msg, ok := mapDBError(err); ok {
			RespondError(w, r, status, pType, msg)
			return
		}
		zap.L().Error(fallbackMsg, zap.Error(err), zap.String("path", r.URL.Path), zap.String("trace_id", middleware.TraceIDFromContext(r.Context())))
		RespondError(w, r, http.StatusInternalServerError, fallbackType, fallbackMsg)
	}
}

func mapDBError(err error) (status int, problemType, message string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return 0, "", "", false
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		return http.StatusConflict, "db/unique-violation", "resource already exists", true
	case "23503": // foreign_key_violation
		return http.StatusBadRequest, "db/foreign-key-violation", "invalid reference", true
	case "23514": // check_violation
		return http.StatusBadRequest, "db/check-violation", "request violates data constraints", true
	case "23502": // not_null_violation
		return http.StatusBadRequest, "db/not-null-violation", "missing required field", true
	default:
		return 0, "", "", false
	}
}
