package server

import (
	"net/http"

	"github.com/faucetdb/turnstile/internal/apikey"
	"github.com/faucetdb/turnstile/internal/guard"
	"github.com/faucetdb/turnstile/internal/handler"
	"github.com/faucetdb/turnstile/internal/model"
	"github.com/faucetdb/turnstile/internal/openapi"
	"github.com/faucetdb/turnstile/internal/permission"
)

// APIPrefix is the mount point of every documented route.
const APIPrefix = "/api/v1"

// route is one entry of the route table. The router and the OpenAPI
// document are both built from it.
type route struct {
	openapi.Operation
	handler http.HandlerFunc
	// authLimited routes share the per-IP credential rate limit.
	authLimited bool
}

func (s *Server) routes() []route {
	auth := handler.NewAuthHandler(s.deps.Store, s.deps.Issuer, s.deps.Passwords)
	users := handler.NewUserHandler(s.deps.Store)
	keys := handler.NewAPIKeyHandler(s.deps.Keys)
	hello := handler.NewHelloHandler(s.deps.Now)

	op := func(method, path, summary, tag string, policy guard.Policy) openapi.Operation {
		return openapi.Operation{
			Method:  method,
			Path:    APIPrefix + path,
			Summary: summary,
			Tag:     tag,
			Policy:  policy,
		}
	}
	with := func(o openapi.Operation, req, resp interface{}, status int) openapi.Operation {
		o.Request, o.Response, o.Status = req, resp, status
		return o
	}
	keyResp := model.APIKey{}
	issued := handler.IssuedAPIKey{}

	return []route{
		// Auth
		{
			Operation:   with(op(http.MethodPost, "/auth/login", "Log in with email and password", "auth", guard.APIKey()), handler.LoginRequest{}, handler.TokenResponse{}, 0),
			handler:     auth.Login,
			authLimited: true,
		},
		{
			Operation:   with(op(http.MethodPost, "/auth/refresh", "Exchange a refresh token for an access token", "auth", guard.RefreshJWT()), nil, handler.TokenResponse{}, 0),
			handler:     auth.Refresh,
			authLimited: true,
		},
		{
			Operation:   with(op(http.MethodPatch, "/auth/change-password", "Change the caller's password", "auth", guard.JWT()), handler.ChangePasswordRequest{}, nil, 0),
			handler:     auth.ChangePassword,
			authLimited: true,
		},
		{
			Operation:   with(op(http.MethodPost, "/auth/sign-up", "Register a new user", "auth", guard.Public()), handler.SignUpRequest{}, handler.TokenResponse{}, http.StatusCreated),
			handler:     auth.SignUp,
			authLimited: true,
		},

		// User
		{
			Operation: with(op(http.MethodGet, "/user/profile", "Get the caller's profile", "user", guard.PublicJWT()), nil, handler.Profile{}, 0),
			handler:   users.Profile,
		},

		// API keys
		{
			Operation: with(op(http.MethodGet, "/apikey/list", "List API keys", "apikey", guard.AdminJWT(permission.APIKeyRead)), nil, model.ListResponse{}, 0),
			handler:   keys.List,
		},
		{
			Operation: with(op(http.MethodGet, "/apikey/whoami", "Describe the calling API key", "apikey", guard.Basic()), nil, apikey.Principal{}, 0),
			handler:   keys.WhoAmI,
		},
		{
			Operation: with(op(http.MethodPost, "/apikey", "Issue an API key", "apikey", guard.AdminJWT(permission.APIKeyCreate)), handler.CreateAPIKeyRequest{}, issued, http.StatusCreated),
			handler:   keys.Create,
		},
		{
			Operation: with(op(http.MethodGet, "/apikey/{id}", "Get an API key", "apikey", guard.AdminJWT(permission.APIKeyRead)), nil, keyResp, 0),
			handler:   keys.Get,
		},
		{
			Operation: with(op(http.MethodPut, "/apikey/{id}", "Update an API key", "apikey", guard.AdminJWT(permission.APIKeyUpdate)), handler.UpdateAPIKeyRequest{}, keyResp, 0),
			handler:   keys.Update,
		},
		{
			Operation: with(op(http.MethodPatch, "/apikey/{id}/active", "Activate an API key", "apikey", guard.AdminJWT(permission.APIKeyUpdate)), nil, keyResp, 0),
			handler:   keys.Active,
		},
		{
			Operation: with(op(http.MethodPatch, "/apikey/{id}/inactive", "Deactivate an API key", "apikey", guard.AdminJWT(permission.APIKeyUpdate)), nil, keyResp, 0),
			handler:   keys.Inactive,
		},
		{
			Operation: with(op(http.MethodPatch, "/apikey/{id}/reset", "Rotate an API key's secret", "apikey", guard.AdminJWT(permission.APIKeyUpdate)), nil, issued, 0),
			handler:   keys.Reset,
		},
		{
			Operation: with(op(http.MethodDelete, "/apikey/{id}", "Delete an API key", "apikey", guard.AdminJWT(permission.APIKeyDelete)), nil, nil, 0),
			handler:   keys.Delete,
		},

		// Diagnostics
		{
			Operation: with(op(http.MethodGet, "/hello", "Echo the user agent and server time", "test", guard.Public()), nil, handler.Hello{}, 0),
			handler:   hello.Hello,
		},
	}
}

func operations(routes []route) []openapi.Operation {
	ops := make([]openapi.Operation, len(routes))
	for i, rt := range routes {
		ops[i] = rt.Operation
	}
	return ops
}
