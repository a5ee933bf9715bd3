package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/faucetdb/turnstile/internal/apikey"
	"github.com/faucetdb/turnstile/internal/autherr"
	"github.com/faucetdb/turnstile/internal/guard"
	"github.com/faucetdb/turnstile/internal/model"
	"github.com/faucetdb/turnstile/internal/token"
)

// ---------------------------------------------------------------------------
// RequestID middleware tests
// ---------------------------------------------------------------------------

func TestRequestIDGeneratesUUID(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := GetRequestID(r.Context())
		if id == "" {
			t.Error("expected non-empty request ID in context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	respID := rr.Header().Get("X-Request-ID")
	if respID == "" {
		t.Error("expected X-Request-ID in response header")
	}
	// UUID v7 format check: 36 chars with dashes
	if len(respID) != 36 {
		t.Errorf("expected UUID-length request ID, got %q (len=%d)", respID, len(respID))
	}
}

func TestRequestIDPreservesClientID(t *testing.T) {
	clientID := "my-custom-trace-id-123"

	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := GetRequestID(r.Context())
		if id != clientID {
			t.Errorf("expected context ID %q, got %q", clientID, id)
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Request-ID", clientID)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	respID := rr.Header().Get("X-Request-ID")
	if respID != clientID {
		t.Errorf("expected response X-Request-ID %q, got %q", clientID, respID)
	}
}

func TestRequestIDReplacesUnsafeClientID(t *testing.T) {
	for _, id := range []string{"has space", strings.Repeat("a", 200), "tab\there"} {
		handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("X-Request-ID", id)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if got := rr.Header().Get("X-Request-ID"); got == id || len(got) != 36 {
			t.Errorf("client ID %q: got response ID %q", id, got)
		}
	}
}

func TestGetRequestIDEmptyContext(t *testing.T) {
	id := GetRequestID(context.Background())
	if id != "" {
		t.Errorf("expected empty string from bare context, got %q", id)
	}
}

// ---------------------------------------------------------------------------
// Guard middleware tests
// ---------------------------------------------------------------------------

type fakeKeys struct {
	err      error
	gotKey   string
	gotStamp string
}

func (f *fakeKeys) Authenticate(_ context.Context, key, ts string) (*apikey.Principal, error) {
	f.gotKey, f.gotStamp = key, ts
	if f.err != nil {
		return nil, f.err
	}
	return &apikey.Principal{ID: "key-1", Key: PublicKey(key)}, nil
}

func (f *fakeKeys) AuthenticateBasic(context.Context, string) (*apikey.Principal, error) {
	return nil, f.err
}

type noTokens struct{}

func (noTokens) Verify(string, token.Type) (*token.Claims, error) {
	return nil, autherr.New(autherr.KindInvalidTokenSignature, "test")
}

type noPrincipals struct{}

func (noPrincipals) LoadPrincipal(context.Context, string) (*model.SessionPrincipal, error) {
	return nil, errors.New("unused")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) model.ErrorDetail {
	t.Helper()
	var body model.ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	return body.Error
}

func TestGuardAttachesAuthContext(t *testing.T) {
	keys := &fakeKeys{}
	chain := guard.NewChain(keys, noTokens{}, noPrincipals{}, nil)

	var got *guard.AuthContext
	handler := Guard(chain, guard.APIKey(), discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = guard.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/hello", nil)
	req.Header.Set("x-api-key", "pub:sealed")
	req.Header.Set("x-timestamp", "1700000000000")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if keys.gotKey != "pub:sealed" || keys.gotStamp != "1700000000000" {
		t.Errorf("headers not passed through: %q %q", keys.gotKey, keys.gotStamp)
	}
	if got == nil || got.APIKey == nil || got.APIKey.Key != "pub" {
		t.Errorf("unexpected auth context %+v", got)
	}
	if got.Timestamp != "1700000000000" {
		t.Errorf("Timestamp = %q", got.Timestamp)
	}
}

func TestGuardWritesEnvelope(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   int
	}{
		{"stale", autherr.New(autherr.KindCredentialTimestampStale, "test"), http.StatusUnauthorized, 5026},
		{"inactive", autherr.New(autherr.KindInactiveCredential, "test"), http.StatusForbidden, 5024},
		{"internal", errors.New("db down"), http.StatusInternalServerError, 5990},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := guard.NewChain(&fakeKeys{err: tt.err}, noTokens{}, noPrincipals{}, nil)
			handler := Guard(chain, guard.APIKey(), discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Error("inner handler should not run")
			}))

			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, httptest.NewRequest("GET", "/hello", nil))

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			detail := decodeError(t, rr)
			if detail.Code != tt.wantCode || detail.Status != tt.wantStatus {
				t.Errorf("unexpected envelope %+v", detail)
			}
			if strings.Contains(detail.Message, "db down") {
				t.Error("internal error text must not be rendered")
			}
		})
	}
}

func TestGuardPublicPolicy(t *testing.T) {
	chain := guard.NewChain(&fakeKeys{err: errors.New("must not be called")}, noTokens{}, noPrincipals{}, nil)
	handler := Guard(chain, guard.Public(), discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/hello", nil))
	if rr.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rr.Code)
	}
}

func TestGuardLogsDenial(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	chain := guard.NewChain(&fakeKeys{err: autherr.New(autherr.KindUnknownCredential, "test")}, noTokens{}, noPrincipals{}, nil)

	handler := RequestID(Logger(logger)(Guard(chain, guard.APIKey(), logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))))
	req := httptest.NewRequest("GET", "/hello", nil)
	req.Header.Set("x-api-key", "pubkey:SECRETCIPHERTEXT")
	req.Header.Set("x-timestamp", "1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	if !strings.Contains(out, `"msg":"auth denied"`) || !strings.Contains(out, `"code":5023`) {
		t.Errorf("missing denial log: %s", out)
	}
	if !strings.Contains(out, `"key":"pubkey"`) {
		t.Errorf("expected public key in log: %s", out)
	}
	if strings.Contains(out, "SECRETCIPHERTEXT") {
		t.Errorf("sealed payload leaked into log: %s", out)
	}
	if !strings.Contains(out, `"auth_kind":"UnknownCredential"`) {
		t.Errorf("request log should carry the auth kind: %s", out)
	}
}

// ---------------------------------------------------------------------------
// Logger and rate limit tests
// ---------------------------------------------------------------------------

func TestAnnotateOutsideLogger(t *testing.T) {
	// Must not panic without a Logger in the chain.
	Annotate(context.Background(), slog.String("k", "v"))
}

func TestLoggerRecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	handler := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Annotate(r.Context(), slog.String("user_id", "u1"))
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/pot", nil))

	out := buf.String()
	for _, want := range []string{`"status":418`, `"bytes":15`, `"user_id":"u1"`, `"level":"WARN"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %s: %s", want, out)
		}
	}
}

// sealedKeys admits only the exact header values it knows.
type sealedKeys map[string]string

func (k sealedKeys) Authenticate(_ context.Context, header, _ string) (*apikey.Principal, error) {
	if id, ok := k[header]; ok {
		return &apikey.Principal{ID: id, Key: PublicKey(header)}, nil
	}
	return nil, autherr.New(autherr.KindUnknownCredential, "test")
}

func (sealedKeys) AuthenticateBasic(context.Context, string) (*apikey.Principal, error) {
	return nil, autherr.New(autherr.KindUnknownCredential, "test")
}

func TestRateLimitByAPIKey(t *testing.T) {
	keys := sealedKeys{"alpha:one": "id-alpha", "alpha:two": "id-alpha", "beta:one": "id-beta"}
	chain := guard.NewChain(keys, noTokens{}, noPrincipals{}, nil)
	handler := Guard(chain, guard.APIKey(), discardLogger())(RateLimitByAPIKey(1)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	send := func(header string) int {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("x-api-key", header)
		req.Header.Set("x-timestamp", "1")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	if code := send("alpha:one"); code != http.StatusOK {
		t.Fatalf("first request: %d", code)
	}
	// Same credential, different sealed payload.
	if code := send("alpha:two"); code != http.StatusTooManyRequests {
		t.Errorf("second request for same key: %d, want 429", code)
	}
	if code := send("beta:one"); code != http.StatusOK {
		t.Errorf("other key: %d, want 200", code)
	}
}

func TestForgedKeyHeaderSpendsNoBudget(t *testing.T) {
	keys := sealedKeys{"alpha:genuine": "id-alpha"}
	chain := guard.NewChain(keys, noTokens{}, noPrincipals{}, nil)
	handler := Guard(chain, guard.APIKey(), discardLogger())(RateLimitByAPIKey(2)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	send := func(header, ip string) int {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = ip + ":1234"
		req.Header.Set("x-api-key", header)
		req.Header.Set("x-timestamp", "1")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	for i := 0; i < 10; i++ {
		if code := send("alpha:garbage", "203.0.113.9"); code != http.StatusUnauthorized && code != http.StatusForbidden {
			t.Fatalf("forged request %d: %d, want a guard denial", i, code)
		}
	}
	for i := 0; i < 2; i++ {
		if code := send("alpha:genuine", "198.51.100.7"); code != http.StatusOK {
			t.Fatalf("genuine request %d: %d, want 200", i, code)
		}
	}
}

func TestRateLimitByAPIKeyFallsBackToIP(t *testing.T) {
	handler := RateLimitByAPIKey(1)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(ip string) int {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = ip + ":1234"
		// Unverified headers never pick the bucket.
		req.Header.Set("x-api-key", "alpha:one")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	if code := send("192.0.2.1"); code != http.StatusOK {
		t.Fatalf("first request: %d", code)
	}
	if code := send("192.0.2.1"); code != http.StatusTooManyRequests {
		t.Errorf("same ip: %d, want 429", code)
	}
	if code := send("192.0.2.2"); code != http.StatusOK {
		t.Errorf("other ip: %d, want 200", code)
	}
}

func TestPublicKey(t *testing.T) {
	tests := map[string]string{
		"":            "",
		"abc":         "abc",
		"abc:def:ghi": "abc",
	}
	for in, want := range tests {
		if got := PublicKey(in); got != want {
			t.Errorf("PublicKey(%q) = %q, want %q", in, got, want)
		}
	}
}
