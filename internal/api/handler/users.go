package handler

import (
	"net/http"

	"github.com/ayo6706/wallet-settlement/internal/service"
)

type UserHandler struct {
	users *service.UserService
}

func NewUserHandler(users *service.UserService) *UserHandler {
	return &UserHandler{users: users}
}

// Register handles POST /v1/users. The wallet is created with the user.
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, err := h.users.Register(r.Context(), req)
	if err != nil {
		respondServiceError(w, r, err, "user/create-failed", "Failed to create user")
		return
	}
	RespondJSON(w, http.StatusCreated, user)
}

// Me handles GET /v1/users/me.
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := mustActor(w, r)
	if !ok {
		return
	}
	user, err := h.users.Get(r.Context(), actorID)
	if err != nil {
		respondServiceError(w, r, err, "user/read-failed", "Failed to get user")
		return
	}
	RespondJSON(w, http.StatusOK, user)
}
