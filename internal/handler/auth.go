package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/faucetdb/turnstile/internal/autherr"
	"github.com/faucetdb/turnstile/internal/guard"
	"github.com/faucetdb/turnstile/internal/model"
	"github.com/faucetdb/turnstile/internal/store"
	"github.com/faucetdb/turnstile/internal/token"
)

// DefaultSignUpRole is the role given to self-registered users.
const DefaultSignUpRole = "user"

// UserStore is the slice of the store the auth and user handlers need.
type UserStore interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	UserExists(ctx context.Context, email, mobile string) (emailTaken, mobileTaken bool, err error)
	UpdateUserPassword(ctx context.Context, id string, pw model.Password) (*model.User, error)
	GetRole(ctx context.Context, id string) (*model.Role, error)
	GetRoleByName(ctx context.Context, name string) (*model.Role, error)
}

// AuthHandler serves login, refresh, change-password and sign-up.
type AuthHandler struct {
	store     UserStore
	issuer    *token.Issuer
	passwords *token.Passwords
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(s UserStore, issuer *token.Issuer, passwords *token.Passwords) *AuthHandler {
	return &AuthHandler{store: s, issuer: issuer, passwords: passwords}
}

// LoginRequest is the payload for Login.
type LoginRequest struct {
	Email      string `json:"email" validate:"required,email,max=50"`
	Password   string `json:"password" validate:"required,max=100"`
	RememberMe bool   `json:"remember_me"`
}

// TokenResponse is returned by Login, Refresh and SignUp. Code is set to the
// PasswordExpired code when the password has expired, so clients can route
// the user to change-password.
type TokenResponse struct {
	AccessToken     string `json:"access_token"`
	RefreshToken    string `json:"refresh_token"`
	TokenType       string `json:"token_type"`
	ExpiresIn       int    `json:"expires_in"`
	PasswordExpired bool   `json:"password_expired"`
	Code            int    `json:"code,omitempty"`
}

// Login checks the user's password and issues an access and refresh token.
// POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	const op = "auth.login"

	var req LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx := r.Context()

	user, err := h.store.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeFailure(w, autherr.New(autherr.KindPrincipalNotFound, op), "")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load user")
		return
	}
	if !h.passwords.Validate(req.Password, user.PasswordHash, user.Salt) {
		writeFailure(w, autherr.New(autherr.KindPasswordMismatch, op), "")
		return
	}
	if !user.IsActive {
		writeFailure(w, autherr.New(autherr.KindPrincipalInactive, op), "")
		return
	}
	role, ok := h.activeRole(ctx, w, user.RoleID, op)
	if !ok {
		return
	}

	resp, err := h.issue(store.PrincipalOf(user, role), req.RememberMe, token.Overrides{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue tokens")
		return
	}
	if h.passwords.CheckPasswordExpired(user.PasswordExpiration) {
		resp.PasswordExpired = true
		resp.Code = autherr.KindPasswordExpired.Code()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Refresh issues a new access token for the refresh token's user. The
// refresh token itself is returned unchanged and the login date is kept.
// POST /api/v1/auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	const op = "auth.refresh"

	ac, ok := guard.FromContext(r.Context())
	if !ok || ac.User == nil || ac.Claims == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	if h.passwords.CheckPasswordExpired(ac.User.PasswordExpiration) {
		writeFailure(w, autherr.New(autherr.KindPasswordExpired, op), "")
		return
	}

	access, _, err := h.issuer.CreateAccessToken(ac.User, ac.Claims.RememberMe, token.Overrides{LoginDate: ac.Claims.LoginDate})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue token")
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{
		AccessToken:  access,
		RefreshToken: ac.Token,
		TokenType:    "Bearer",
		ExpiresIn:    int(h.issuer.AccessTTL().Seconds()),
	})
}

// ChangePasswordRequest is the payload for ChangePassword.
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8,max=200,strong_password"`
}

// ChangePassword replaces the caller's password and resets its expiration.
// It is reachable with an expired password.
// PATCH /api/v1/auth/change-password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	const op = "auth.change_password"

	ac, ok := guard.FromContext(r.Context())
	if !ok || ac.User == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	var req ChangePasswordRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx := r.Context()

	user, err := h.store.GetUser(ctx, ac.User.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeFailure(w, autherr.New(autherr.KindPrincipalNotFound, op), "")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load user")
		return
	}
	if !h.passwords.Validate(req.OldPassword, user.PasswordHash, user.Salt) {
		writeFailure(w, autherr.New(autherr.KindPasswordMismatch, op), "")
		return
	}
	if h.passwords.Validate(req.NewPassword, user.PasswordHash, user.Salt) {
		writeFailure(w, autherr.New(autherr.KindNewPasswordMustDiffer, op), "")
		return
	}

	pw, err := h.passwords.CreatePassword(req.NewPassword)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to hash password")
		return
	}
	updated, err := h.store.UpdateUserPassword(ctx, user.ID, pw)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update password")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":             true,
		"password_expiration": updated.PasswordExpiration,
	})
}

// SignUpRequest is the payload for SignUp.
type SignUpRequest struct {
	Email        string `json:"email" validate:"required,email,max=100"`
	FirstName    string `json:"first_name" validate:"required,min=1,max=30"`
	LastName     string `json:"last_name" validate:"omitempty,max=30"`
	MobileNumber string `json:"mobile_number" validate:"omitempty,min=10,max=14,startswith=+"`
	Password     string `json:"password" validate:"required,min=8,max=200,strong_password"`
}

// SignUp registers a user with the default sign-up role and logs them in.
// POST /api/v1/auth/sign-up
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	const op = "auth.sign_up"

	var req SignUpRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx := r.Context()

	emailTaken, mobileTaken, err := h.store.UserExists(ctx, req.Email, req.MobileNumber)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to check user")
		return
	}
	switch {
	case emailTaken:
		writeFailure(w, autherr.New(autherr.KindPrincipalExists, op), "", map[string]interface{}{"field": "email"})
		return
	case mobileTaken:
		writeFailure(w, autherr.New(autherr.KindPrincipalExists, op), "", map[string]interface{}{"field": "mobile_number"})
		return
	}

	role, err := h.store.GetRoleByName(ctx, DefaultSignUpRole)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeFailure(w, autherr.New(autherr.KindRoleNotFound, op), "")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load role")
		return
	}

	pw, err := h.passwords.CreatePassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to hash password")
		return
	}
	user := &model.User{
		Email:              req.Email,
		FirstName:          req.FirstName,
		LastName:           req.LastName,
		MobileNumber:       req.MobileNumber,
		RoleID:             role.ID,
		PasswordHash:       pw.Hash,
		Salt:               pw.Salt,
		PasswordExpiration: pw.Expiration,
		IsActive:           true,
	}
	if err := h.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeFailure(w, autherr.New(autherr.KindPrincipalExists, op), "")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to create user")
		return
	}

	resp, err := h.issue(store.PrincipalOf(user, role), false, token.Overrides{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue tokens")
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// activeRole loads the user's role and writes the failure when it is missing
// or inactive.
func (h *AuthHandler) activeRole(ctx context.Context, w http.ResponseWriter, roleID, op string) (*model.Role, bool) {
	role, err := h.store.GetRole(ctx, roleID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeFailure(w, autherr.New(autherr.KindRoleNotFound, op), "")
			return nil, false
		}
		writeError(w, http.StatusInternalServerError, "Failed to load role")
		return nil, false
	}
	if !role.IsActive {
		writeFailure(w, autherr.New(autherr.KindRoleInactive, op), "")
		return nil, false
	}
	return role, true
}

func (h *AuthHandler) issue(p *model.SessionPrincipal, rememberMe bool, o token.Overrides) (TokenResponse, error) {
	access, claims, err := h.issuer.CreateAccessToken(p, rememberMe, o)
	if err != nil {
		return TokenResponse{}, err
	}
	refresh, _, err := h.issuer.CreateRefreshToken(p, rememberMe, token.Overrides{LoginDate: claims.LoginDate})
	if err != nil {
		return TokenResponse{}, err
	}
	return TokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int(h.issuer.AccessTTL().Seconds()),
	}, nil
}
