package handler

import (
	"errors"
	"net/http"

	"github.com/faucetdb/turnstile/internal/autherr"
	"github.com/faucetdb/turnstile/internal/guard"
	"github.com/faucetdb/turnstile/internal/model"
	"github.com/faucetdb/turnstile/internal/store"
)

// UserHandler serves the caller's own account.
type UserHandler struct {
	store UserStore
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(s UserStore) *UserHandler {
	return &UserHandler{store: s}
}

// Profile is the caller's account with its live role.
type Profile struct {
	User *model.User     `json:"user"`
	Role model.RoleGrant `json:"role"`
}

// Profile returns the authenticated user's profile.
// GET /api/v1/user/profile
func (h *UserHandler) Profile(w http.ResponseWriter, r *http.Request) {
	ac, ok := guard.FromContext(r.Context())
	if !ok || ac.User == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	user, err := h.store.GetUser(r.Context(), ac.User.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeFailure(w, autherr.New(autherr.KindPrincipalNotFound, "user.profile"), "")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load user")
		return
	}
	writeJSON(w, http.StatusOK, Profile{User: user, Role: ac.User.Role})
}
