package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestAPIKeySecretsNotInJSON(t *testing.T) {
	key := APIKey{
		ID:            "0190b6c4-0000-7000-8000-000000000001",
		Name:          "Auth Default",
		Key:           "qwertyuiop12345zxcvbnmkjh",
		Hash:          "sha256hashvalue",
		EncryptionKey: "opbUwdiS1FBsrDUoPgZdx",
		Passphrase:    "cuwakimacojulawu",
		IsActive:      true,
		CreatedAt:     time.Now(),
	}

	b, err := json.Marshal(key)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	for _, field := range []string{"hash", "encryption_key", "passphrase", "Hash", "EncryptionKey", "Passphrase"} {
		if _, ok := m[field]; ok {
			t.Errorf("%s should NOT appear in JSON output", field)
		}
	}
	if m["key"] != "qwertyuiop12345zxcvbnmkjh" {
		t.Errorf("key = %v, want the public key", m["key"])
	}
}

func TestUserPasswordNotInJSON(t *testing.T) {
	u := User{
		ID:           "u1",
		Email:        "user@example.com",
		PasswordHash: "deadbeef",
		Salt:         "cafebabe",
		IsActive:     true,
	}

	b, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	if _, ok := m["password_hash"]; ok {
		t.Error("password_hash should NOT appear in JSON output")
	}
	if _, ok := m["salt"]; ok {
		t.Error("salt should NOT appear in JSON output")
	}
	if _, ok := m["email"]; !ok {
		t.Error("email should be present in JSON output")
	}
}

func TestActivePermissionCodes(t *testing.T) {
	r := RoleGrant{
		Name: "admin",
		Permissions: []PermissionGrant{
			{Code: "USER_READ", IsActive: true},
			{Code: "USER_DELETE", IsActive: false},
			{Code: "ROLE_READ", IsActive: true},
		},
	}

	got := r.ActivePermissionCodes()
	if len(got) != 2 || got[0] != "USER_READ" || got[1] != "ROLE_READ" {
		t.Errorf("ActivePermissionCodes = %v, want [USER_READ ROLE_READ]", got)
	}
}

func TestErrorResponseJSON(t *testing.T) {
	er := ErrorResponse{
		Error: ErrorDetail{
			Code:    5026,
			Status:  401,
			Message: "API key timestamp is outside the accepted window",
			Context: map[string]interface{}{
				"kind": "CredentialTimestampStale",
			},
		},
	}

	b, err := json.Marshal(er)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	errObj, ok := m["error"].(map[string]interface{})
	if !ok {
		t.Fatal("expected 'error' key to be an object")
	}
	if errObj["code"] != float64(5026) {
		t.Errorf("error.code = %v, want 5026", errObj["code"])
	}
	if errObj["status"] != float64(401) {
		t.Errorf("error.status = %v, want 401", errObj["status"])
	}

	// Context should be omitted when nil
	b2, _ := json.Marshal(ErrorResponse{Error: ErrorDetail{Code: 5990, Status: 500, Message: "x"}})
	var m2 map[string]interface{}
	if err := json.Unmarshal(b2, &m2); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if _, ok := m2["error"].(map[string]interface{})["context"]; ok {
		t.Error("context should be omitted when nil")
	}
}
