package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/faucetdb/turnstile/internal/apikey"
	"github.com/faucetdb/turnstile/internal/guard"
	"github.com/faucetdb/turnstile/internal/model"
)

// KeyManager is the credential lifecycle used by APIKeyHandler.
type KeyManager interface {
	Issue(ctx context.Context, req apikey.IssueRequest) (*model.APIKey, model.APIKeySecret, error)
	Get(ctx context.Context, id string) (*model.APIKey, error)
	List(ctx context.Context) ([]model.APIKey, error)
	Update(ctx context.Context, id, name, description string) (*model.APIKey, error)
	Activate(ctx context.Context, id string) (*model.APIKey, error)
	Deactivate(ctx context.Context, id string) (*model.APIKey, error)
	Rotate(ctx context.Context, id string) (*model.APIKey, model.APIKeySecret, error)
	Delete(ctx context.Context, id string) (*model.APIKey, error)
}

// APIKeyHandler manages API key credentials.
type APIKeyHandler struct {
	keys KeyManager
}

// NewAPIKeyHandler creates a new APIKeyHandler.
func NewAPIKeyHandler(keys KeyManager) *APIKeyHandler {
	return &APIKeyHandler{keys: keys}
}

// CreateAPIKeyRequest is the payload for Create.
type CreateAPIKeyRequest struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=255"`
}

// UpdateAPIKeyRequest is the payload for Update.
type UpdateAPIKeyRequest struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=255"`
}

// IssuedAPIKey is returned by Create and Reset. Credentials is the only
// disclosure of the secret material.
type IssuedAPIKey struct {
	APIKey      *model.APIKey      `json:"api_key"`
	Credentials model.APIKeySecret `json:"credentials"`
}

// List returns every API key.
// GET /api/v1/apikey/list
func (h *APIKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	keys, err := h.keys.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list API keys")
		return
	}
	if keys == nil {
		keys = []model.APIKey{}
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: keys,
		Meta:     &model.ResponseMeta{Count: len(keys)},
	})
}

// Create issues a new API key.
// POST /api/v1/apikey
func (h *APIKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateAPIKeyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	key, secret, err := h.keys.Issue(r.Context(), apikey.IssueRequest{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		if errors.Is(err, apikey.ErrInvalidPassphrase) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeFailure(w, err, "Failed to create API key")
		return
	}
	writeJSON(w, http.StatusCreated, IssuedAPIKey{APIKey: key, Credentials: secret})
}

// Get returns one API key.
// GET /api/v1/apikey/{id}
func (h *APIKeyHandler) Get(w http.ResponseWriter, r *http.Request) {
	key, err := h.keys.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, err, "Failed to get API key")
		return
	}
	writeJSON(w, http.StatusOK, key)
}

// Update changes an API key's name and description.
// PUT /api/v1/apikey/{id}
func (h *APIKeyHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateAPIKeyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	key, err := h.keys.Update(r.Context(), chi.URLParam(r, "id"), req.Name, req.Description)
	if err != nil {
		writeFailure(w, err, "Failed to update API key")
		return
	}
	writeJSON(w, http.StatusOK, key)
}

// Active re-enables an API key.
// PATCH /api/v1/apikey/{id}/active
func (h *APIKeyHandler) Active(w http.ResponseWriter, r *http.Request) {
	key, err := h.keys.Activate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, err, "Failed to activate API key")
		return
	}
	writeJSON(w, http.StatusOK, key)
}

// Inactive disables an API key. Requests signed with it fail from then on.
// PATCH /api/v1/apikey/{id}/inactive
func (h *APIKeyHandler) Inactive(w http.ResponseWriter, r *http.Request) {
	key, err := h.keys.Deactivate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, err, "Failed to deactivate API key")
		return
	}
	writeJSON(w, http.StatusOK, key)
}

// Reset rotates an API key's secret material. The public key is kept.
// PATCH /api/v1/apikey/{id}/reset
func (h *APIKeyHandler) Reset(w http.ResponseWriter, r *http.Request) {
	key, secret, err := h.keys.Rotate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, err, "Failed to reset API key")
		return
	}
	writeJSON(w, http.StatusOK, IssuedAPIKey{APIKey: key, Credentials: secret})
}

// Delete removes an API key.
// DELETE /api/v1/apikey/{id}
func (h *APIKeyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	key, err := h.keys.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, err, "Failed to delete API key")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"id":      key.ID,
	})
}

// WhoAmI returns the credential that authenticated the request.
// GET /api/v1/apikey/whoami
func (h *APIKeyHandler) WhoAmI(w http.ResponseWriter, r *http.Request) {
	ac, ok := guard.FromContext(r.Context())
	if !ok || ac.APIKey == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	writeJSON(w, http.StatusOK, ac.APIKey)
}
