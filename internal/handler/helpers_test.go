package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/faucetdb/turnstile/internal/autherr"
	"github.com/faucetdb/turnstile/internal/model"
)

func TestStrongPassword(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"aaAA@@123444", true},
		{"Abcdef1-", true},
		{"Abc1-", false},
		{"abcdefg1-", false},
		{"ABCDEFG1-", false},
		{"Abcdefgh-", false},
		{"Abcdefgh1", false},
		{"Abcdefg1+", false},
	}
	for _, tt := range tests {
		if got := StrongPassword(tt.in); got != tt.want {
			t.Errorf("StrongPassword(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestDecodeBody(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		ok     bool
		status int
	}{
		{"valid", `{"email":"a@example.com","password":"x"}`, true, http.StatusOK},
		{"malformed", `{"email":`, false, http.StatusBadRequest},
		{"missing password", `{"email":"a@example.com"}`, false, http.StatusBadRequest},
		{"email too long", `{"email":"` + strings.Repeat("a", 50) + `@example.com","password":"x"}`, false, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			req := httptest.NewRequest("POST", "/", strings.NewReader(tt.body))
			var v LoginRequest
			if got := decodeBody(rr, req, &v); got != tt.ok {
				t.Fatalf("decodeBody = %v, want %v (body: %s)", got, tt.ok, rr.Body.String())
			}
			if !tt.ok && rr.Code != tt.status {
				t.Errorf("status = %d, want %d", rr.Code, tt.status)
			}
		})
	}
}

func TestDecodeBodyTooLarge(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"email":"a@example.com","password":"x"}`))
	req.Body = http.MaxBytesReader(rr, req.Body, 8)
	var v LoginRequest
	if decodeBody(rr, req, &v) {
		t.Fatal("expected failure")
	}
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rr.Code)
	}
}

func TestWriteFailure(t *testing.T) {
	rr := httptest.NewRecorder()
	writeFailure(rr, autherr.New(autherr.KindCredentialNotFound, "test"), "fallback")
	var body model.ErrorResponse
	decodeJSON(t, rr, &body)
	if rr.Code != http.StatusNotFound || body.Error.Code != 5030 {
		t.Errorf("taxonomy error rendered as %d %+v", rr.Code, body.Error)
	}

	rr = httptest.NewRecorder()
	writeFailure(rr, http.ErrHandlerTimeout, "fallback")
	decodeJSON(t, rr, &body)
	if rr.Code != http.StatusInternalServerError || body.Error.Message != "fallback" {
		t.Errorf("plain error rendered as %d %+v", rr.Code, body.Error)
	}
}
