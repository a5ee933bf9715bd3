package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/faucetdb/turnstile/internal/guard"
	"github.com/faucetdb/turnstile/internal/model"
)

// RateLimit returns an HTTP middleware that limits requests per IP address
// to the specified number per minute.
func RateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(limited),
	)
}

// RateLimitByAPIKey returns an HTTP middleware that limits requests per
// authenticated API key to the specified number per minute. It must run
// after Guard: the bucket is the credential ID the guard proved, so a forged
// x-api-key header is rejected before it can spend another client's budget.
// Requests that passed without an API key stage are limited by IP.
func RateLimitByAPIKey(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if ac, ok := guard.FromContext(r.Context()); ok && ac.APIKey != nil {
				return "key:" + ac.APIKey.ID, nil
			}
			ip, err := httprate.KeyByIP(r)
			return "ip:" + ip, err
		}),
		httprate.WithLimitHandler(limited),
	)
}

func limited(w http.ResponseWriter, r *http.Request) {
	writeEnvelope(w, model.ErrorDetail{
		Code:    http.StatusTooManyRequests,
		Status:  http.StatusTooManyRequests,
		Message: "Too many requests",
	})
}
