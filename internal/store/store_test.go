package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/faucetdb/turnstile/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore("") // in-memory
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedRole(t *testing.T, s *Store, name string, admin bool, codes ...string) *model.Role {
	t.Helper()
	ctx := context.Background()
	for _, c := range codes {
		if _, err := s.EnsurePermissions(ctx, []model.Permission{{Code: c, IsActive: true}}); err != nil {
			t.Fatalf("EnsurePermissions: %v", err)
		}
	}
	role := &model.Role{Name: name, IsActive: true, IsAdmin: admin}
	if err := s.CreateRole(ctx, role); err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	got, err := s.SetRolePermissions(ctx, role.ID, codes)
	if err != nil {
		t.Fatalf("SetRolePermissions: %v", err)
	}
	return got
}

func TestOpenUnsupportedDriver(t *testing.T) {
	if _, err := Open(Options{Driver: "oracle", DSN: "x"}); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestAPIKeyCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key := &model.APIKey{
		Name:          "Auth Default",
		Key:           "qwertyuiop12345zxcvbnmkjh",
		Hash:          "hash1",
		EncryptionKey: "opbUwdiS1FBsrDUoPgZdx",
		Passphrase:    "cuwakimacojulawu",
		IsActive:      true,
	}
	if err := s.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	if key.ID == "" {
		t.Fatal("expected generated ID")
	}

	got, err := s.GetAPIKeyByKey(ctx, key.Key)
	if err != nil {
		t.Fatalf("GetAPIKeyByKey: %v", err)
	}
	if got.ID != key.ID || got.Hash != "hash1" || got.Passphrase != "cuwakimacojulawu" || !got.IsActive {
		t.Errorf("unexpected key %+v", got)
	}

	// Duplicate public key.
	dup := *key
	dup.ID = ""
	if err := s.CreateAPIKey(ctx, &dup); !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate key: expected ErrConflict, got %v", err)
	}

	updated, err := s.UpdateAPIKey(ctx, key.ID, "renamed", "desc")
	if err != nil {
		t.Fatalf("UpdateAPIKey: %v", err)
	}
	if updated.Name != "renamed" || updated.Description != "desc" {
		t.Errorf("UpdateAPIKey returned %+v", updated)
	}

	inactive, err := s.SetAPIKeyActive(ctx, key.ID, false)
	if err != nil {
		t.Fatalf("SetAPIKeyActive: %v", err)
	}
	if inactive.IsActive {
		t.Error("expected inactive key")
	}
	// Setting the same state again still finds the row.
	if _, err := s.SetAPIKeyActive(ctx, key.ID, false); err != nil {
		t.Errorf("SetAPIKeyActive (no-op): %v", err)
	}

	rotated, err := s.RotateAPIKeySecret(ctx, key.ID, "hash2", "aaaaaaaaaaaaaaaa", "enc2")
	if err != nil {
		t.Fatalf("RotateAPIKeySecret: %v", err)
	}
	if rotated.Hash != "hash2" || rotated.Passphrase != "aaaaaaaaaaaaaaaa" || rotated.EncryptionKey != "enc2" {
		t.Errorf("RotateAPIKeySecret returned %+v", rotated)
	}
	if rotated.Key != key.Key {
		t.Error("rotation must not change the public key")
	}

	list, err := s.ListAPIKeys(ctx)
	if err != nil {
		t.Fatalf("ListAPIKeys: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("got %d keys, want 1", len(list))
	}

	deleted, err := s.DeleteAPIKey(ctx, key.ID)
	if err != nil {
		t.Fatalf("DeleteAPIKey: %v", err)
	}
	if deleted.ID != key.ID {
		t.Errorf("DeleteAPIKey returned %s, want %s", deleted.ID, key.ID)
	}
	if _, err := s.GetAPIKey(ctx, key.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestAPIKeyNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetAPIKeyByKey(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetAPIKeyByKey: expected ErrNotFound, got %v", err)
	}
	if _, err := s.SetAPIKeyActive(ctx, "missing", true); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetAPIKeyActive: expected ErrNotFound, got %v", err)
	}
	if _, err := s.RotateAPIKeySecret(ctx, "missing", "h", "p", "e"); !errors.Is(err, ErrNotFound) {
		t.Errorf("RotateAPIKeySecret: expected ErrNotFound, got %v", err)
	}
	if _, err := s.DeleteAPIKey(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteAPIKey: expected ErrNotFound, got %v", err)
	}
}

func TestDeleteAllAPIKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		if err := s.CreateAPIKey(ctx, &model.APIKey{Name: k, Key: k, IsActive: true}); err != nil {
			t.Fatalf("CreateAPIKey: %v", err)
		}
	}
	n, err := s.DeleteAllAPIKeys(ctx)
	if err != nil {
		t.Fatalf("DeleteAllAPIKeys: %v", err)
	}
	if n != 3 {
		t.Errorf("deleted %d, want 3", n)
	}
}

func TestRolePermissions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	role := seedRole(t, s, "admin", true, "role_read", "ROLE_CREATE ", "ROLE_READ")
	if len(role.Permissions) != 2 {
		t.Fatalf("got %d permissions, want 2 (codes are normalized and deduplicated)", len(role.Permissions))
	}
	if role.Permissions[0].Code != "ROLE_CREATE" || role.Permissions[1].Code != "ROLE_READ" {
		t.Errorf("unexpected permissions %+v", role.Permissions)
	}

	// Replace the grant set.
	role, err := s.SetRolePermissions(ctx, role.ID, []string{"ROLE_READ"})
	if err != nil {
		t.Fatalf("SetRolePermissions: %v", err)
	}
	if len(role.Permissions) != 1 {
		t.Errorf("got %d permissions after replace, want 1", len(role.Permissions))
	}

	if _, err := s.SetRolePermissions(ctx, role.ID, []string{"NOPE"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown code: expected ErrNotFound, got %v", err)
	}
	// The failed transaction must not have touched the existing grants.
	role, _ = s.GetRole(ctx, role.ID)
	if len(role.Permissions) != 1 {
		t.Errorf("grants changed by failed update: %+v", role.Permissions)
	}

	if _, err := s.SetRolePermissions(ctx, "missing", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown role: expected ErrNotFound, got %v", err)
	}

	byName, err := s.GetRoleByName(ctx, "admin")
	if err != nil {
		t.Fatalf("GetRoleByName: %v", err)
	}
	if !byName.IsAdmin {
		t.Error("expected admin role")
	}

	if err := s.CreateRole(ctx, &model.Role{Name: "admin"}); !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate role: expected ErrConflict, got %v", err)
	}

	inactive, err := s.SetRoleActive(ctx, role.ID, false)
	if err != nil {
		t.Fatalf("SetRoleActive: %v", err)
	}
	if inactive.IsActive {
		t.Error("expected inactive role")
	}

	roles, err := s.ListRoles(ctx)
	if err != nil {
		t.Fatalf("ListRoles: %v", err)
	}
	if len(roles) != 1 || len(roles[0].Permissions) != 1 {
		t.Errorf("ListRoles returned %+v", roles)
	}

	if err := s.DeleteRole(ctx, role.ID); err != nil {
		t.Fatalf("DeleteRole: %v", err)
	}
	if _, err := s.GetRole(ctx, role.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestEnsurePermissions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	perms := []model.Permission{
		{Code: "USER_READ", Description: "read users", IsActive: true},
		{Code: "USER_UPDATE", IsActive: true},
	}
	n, err := s.EnsurePermissions(ctx, perms)
	if err != nil || n != 2 {
		t.Fatalf("EnsurePermissions = (%d, %v), want (2, nil)", n, err)
	}
	n, err = s.EnsurePermissions(ctx, perms)
	if err != nil || n != 0 {
		t.Fatalf("second EnsurePermissions = (%d, %v), want (0, nil)", n, err)
	}

	p, err := s.SetPermissionActive(ctx, "user_read", false)
	if err != nil {
		t.Fatalf("SetPermissionActive: %v", err)
	}
	if p.IsActive || p.Description != "read users" {
		t.Errorf("SetPermissionActive returned %+v", p)
	}

	list, _ := s.ListPermissions(ctx)
	if len(list) != 2 || list[0].Code != "USER_READ" {
		t.Errorf("ListPermissions returned %+v", list)
	}
}

func TestUserAndPrincipal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	role := seedRole(t, s, "user", false, "USER_READ", "USER_UPDATE")
	if _, err := s.SetPermissionActive(ctx, "USER_UPDATE", false); err != nil {
		t.Fatalf("SetPermissionActive: %v", err)
	}

	exp := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second)
	user := &model.User{
		Email:              "user@example.com",
		FirstName:          "Jane",
		LastName:           "Doe",
		MobileNumber:       "08111111111",
		RoleID:             role.ID,
		PasswordHash:       "h",
		Salt:               "s",
		PasswordExpiration: exp,
		IsActive:           true,
	}
	if err := s.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	dup := *user
	dup.ID = ""
	if err := s.CreateUser(ctx, &dup); !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate email: expected ErrConflict, got %v", err)
	}

	emailTaken, mobileTaken, err := s.UserExists(ctx, "user@example.com", "0000")
	if err != nil || !emailTaken || mobileTaken {
		t.Errorf("UserExists = (%v, %v, %v)", emailTaken, mobileTaken, err)
	}
	_, mobileTaken, _ = s.UserExists(ctx, "other@example.com", "08111111111")
	if !mobileTaken {
		t.Error("expected mobile number to be taken")
	}

	p, err := s.LoadPrincipal(ctx, user.ID)
	if err != nil {
		t.Fatalf("LoadPrincipal: %v", err)
	}
	if p.Email != user.Email || p.Role.Name != "user" || p.Role.IsAdmin || !p.Role.IsActive {
		t.Errorf("unexpected principal %+v", p)
	}
	if codes := p.Role.ActivePermissionCodes(); len(codes) != 1 || codes[0] != "USER_READ" {
		t.Errorf("ActivePermissionCodes = %v, want [USER_READ]", codes)
	}
	if !p.PasswordExpiration.Equal(exp) {
		t.Errorf("PasswordExpiration = %v, want %v", p.PasswordExpiration, exp)
	}

	if _, err := s.LoadPrincipal(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("LoadPrincipal: expected ErrNotFound, got %v", err)
	}

	newExp := exp.Add(time.Hour)
	updated, err := s.UpdateUserPassword(ctx, user.ID, model.Password{Hash: "h2", Salt: "s2", Expiration: newExp})
	if err != nil {
		t.Fatalf("UpdateUserPassword: %v", err)
	}
	if updated.PasswordHash != "h2" || updated.Salt != "s2" || !updated.PasswordExpiration.Equal(newExp) {
		t.Errorf("UpdateUserPassword returned %+v", updated)
	}

	inactive, err := s.SetUserActive(ctx, user.ID, false)
	if err != nil {
		t.Fatalf("SetUserActive: %v", err)
	}
	if inactive.IsActive {
		t.Error("expected inactive user")
	}

	other := seedRole(t, s, "other", false)
	moved, err := s.UpdateUserRole(ctx, user.ID, other.ID)
	if err != nil {
		t.Fatalf("UpdateUserRole: %v", err)
	}
	if moved.RoleID != other.ID {
		t.Errorf("RoleID = %s, want %s", moved.RoleID, other.ID)
	}

	users, _ := s.ListUsers(ctx)
	if len(users) != 1 {
		t.Errorf("got %d users, want 1", len(users))
	}
}

func TestSettings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetSetting(ctx, "auth.jwt_secret"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.SetSetting(ctx, "auth.jwt_secret", "one"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if err := s.SetSetting(ctx, "auth.jwt_secret", "two"); err != nil {
		t.Fatalf("SetSetting (overwrite): %v", err)
	}
	v, err := s.GetSetting(ctx, "auth.jwt_secret")
	if err != nil || v != "two" {
		t.Errorf("GetSetting = (%q, %v), want (two, nil)", v, err)
	}
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
	if s.Driver() != DriverSQLite {
		t.Errorf("Driver = %s, want sqlite", s.Driver())
	}
}
