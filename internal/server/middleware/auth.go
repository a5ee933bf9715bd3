package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/faucetdb/turnstile/internal/autherr"
	"github.com/faucetdb/turnstile/internal/guard"
	"github.com/faucetdb/turnstile/internal/model"
)

// Request headers read by the guard.
const (
	HeaderAPIKey        = "x-api-key"
	HeaderTimestamp     = "x-timestamp"
	HeaderAuthorization = "Authorization"
)

// Guard returns an HTTP middleware that evaluates policy for every request.
// On success the guard.AuthContext is attached to the request context. On
// failure the error envelope is written with the kind's status and code, and
// the denial is logged at Warn (Error for internal failures).
func Guard(chain *guard.Chain, policy guard.Policy, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			cred := guard.Credentials{
				APIKey:        r.Header.Get(HeaderAPIKey),
				Timestamp:     r.Header.Get(HeaderTimestamp),
				Authorization: r.Header.Get(HeaderAuthorization),
			}

			ac, err := chain.Evaluate(ctx, cred, policy)
			if err != nil {
				kind := autherr.KindOf(err)
				level := slog.LevelWarn
				if kind == autherr.KindInternalAuthFailure {
					level = slog.LevelError
				}
				logger.Log(ctx, level, "auth denied",
					"policy", policy.Name,
					"kind", kind.String(),
					"code", kind.Code(),
					"method", r.Method,
					"path", r.URL.Path,
					"key", PublicKey(cred.APIKey),
					"request_id", GetRequestID(ctx),
					"error", err,
				)
				Annotate(ctx, slog.String("auth_kind", kind.String()))
				WriteError(w, err)
				return
			}

			if ac.APIKey != nil {
				Annotate(ctx, slog.String("key_id", ac.APIKey.ID))
			}
			if ac.User != nil {
				Annotate(ctx, slog.String("user_id", ac.User.ID))
			}
			next.ServeHTTP(w, r.WithContext(guard.WithAuthContext(ctx, ac)))
		})
	}
}

// PublicKey returns the public key part of an x-api-key header value, which
// is safe to log. The sealed payload is dropped.
func PublicKey(header string) string {
	key, _, _ := strings.Cut(header, ":")
	return key
}

// WriteError writes err as the standard error envelope. Errors outside the
// auth taxonomy are reported as internal failures; their text is never
// rendered.
func WriteError(w http.ResponseWriter, err error, ctx ...map[string]interface{}) {
	kind := autherr.KindOf(err)
	if kind == autherr.KindUnknown {
		kind = autherr.KindInternalAuthFailure
	}
	var ctxMap map[string]interface{}
	if len(ctx) > 0 {
		ctxMap = ctx[0]
	}
	writeEnvelope(w, model.ErrorDetail{
		Code:    kind.Code(),
		Status:  kind.Status(),
		Message: kind.Message(),
		Context: ctxMap,
	})
}

func writeEnvelope(w http.ResponseWriter, detail model.ErrorDetail) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(detail.Status)
	json.NewEncoder(w).Encode(model.ErrorResponse{Error: detail})
}
