package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/faucetdb/turnstile/internal/model"
)

// ---------------------------------------------------------------------------
// User CRUD
// ---------------------------------------------------------------------------

// CreateUser inserts a new user. An empty ID is generated; CreatedAt and
// UpdatedAt are populated.
func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	if user.ID == "" {
		id, err := newID()
		if err != nil {
			return err
		}
		user.ID = id
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	const q = `INSERT INTO users
		(id, email, first_name, last_name, mobile_number, role_id, password_hash, salt,
		 password_expiration, is_active, created_at, updated_at)
		VALUES
		(:id, :email, :first_name, :last_name, :mobile_number, :role_id, :password_hash, :salt,
		 :password_expiration, :is_active, :created_at, :updated_at)`

	return s.insert(ctx, "insert user", q, user)
}

// GetUser returns a user by ID.
func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	if err := s.get(ctx, &user, "get user", "SELECT * FROM users WHERE id = ?", id); err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByEmail returns a user by email address.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	if err := s.get(ctx, &user, "get user by email", "SELECT * FROM users WHERE email = ?", email); err != nil {
		return nil, err
	}
	return &user, nil
}

// UserExists reports whether the email, or the mobile number when non-empty,
// is already registered.
func (s *Store) UserExists(ctx context.Context, email, mobile string) (emailTaken, mobileTaken bool, err error) {
	var n int
	if err := s.db.GetContext(ctx, &n, s.rebind("SELECT COUNT(*) FROM users WHERE email = ?"), email); err != nil {
		return false, false, fmt.Errorf("check email: %w", err)
	}
	emailTaken = n > 0
	if mobile != "" {
		if err := s.db.GetContext(ctx, &n, s.rebind("SELECT COUNT(*) FROM users WHERE mobile_number = ?"), mobile); err != nil {
			return false, false, fmt.Errorf("check mobile number: %w", err)
		}
		mobileTaken = n > 0
	}
	return emailTaken, mobileTaken, nil
}

// ListUsers returns all users ordered by email.
func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	users := []model.User{}
	if err := s.db.SelectContext(ctx, &users, "SELECT * FROM users ORDER BY email"); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// SetUserActive flips the active flag of a user and returns the updated
// record.
func (s *Store) SetUserActive(ctx context.Context, id string, active bool) (*model.User, error) {
	if err := s.exec(ctx, "set user active",
		"UPDATE users SET is_active = ?, updated_at = ? WHERE id = ?",
		active, time.Now().UTC(), id); err != nil {
		return nil, err
	}
	return s.GetUser(ctx, id)
}

// UpdateUserPassword stores a new password and returns the updated record.
// Concurrent changes are last-write-wins.
func (s *Store) UpdateUserPassword(ctx context.Context, id string, pw model.Password) (*model.User, error) {
	if err := s.exec(ctx, "update user password",
		"UPDATE users SET password_hash = ?, salt = ?, password_expiration = ?, updated_at = ? WHERE id = ?",
		pw.Hash, pw.Salt, pw.Expiration.UTC(), time.Now().UTC(), id); err != nil {
		return nil, err
	}
	return s.GetUser(ctx, id)
}

// UpdateUserRole assigns a different role to a user.
func (s *Store) UpdateUserRole(ctx context.Context, id, roleID string) (*model.User, error) {
	if err := s.exec(ctx, "update user role",
		"UPDATE users SET role_id = ?, updated_at = ? WHERE id = ?",
		roleID, time.Now().UTC(), id); err != nil {
		return nil, err
	}
	return s.GetUser(ctx, id)
}

// ---------------------------------------------------------------------------
// Session principal
// ---------------------------------------------------------------------------

// LoadPrincipal assembles the live session principal for a user from the
// user, role and permission records. Session fields (RememberMe, LoginDate)
// are left zero for the caller to fill.
func (s *Store) LoadPrincipal(ctx context.Context, userID string) (*model.SessionPrincipal, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	role, err := s.GetRole(ctx, user.RoleID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("load principal: role %s: %w", user.RoleID, err)
		}
		return nil, err
	}
	return PrincipalOf(user, role), nil
}

// PrincipalOf builds a session principal from a user and its role.
func PrincipalOf(user *model.User, role *model.Role) *model.SessionPrincipal {
	grants := make([]model.PermissionGrant, len(role.Permissions))
	for i, p := range role.Permissions {
		grants[i] = model.PermissionGrant{Code: p.Code, IsActive: p.IsActive}
	}
	return &model.SessionPrincipal{
		ID:        user.ID,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		IsActive:  user.IsActive,
		Role: model.RoleGrant{
			Name:        role.Name,
			IsActive:    role.IsActive,
			IsAdmin:     role.IsAdmin,
			Permissions: grants,
		},
		PasswordExpiration: user.PasswordExpiration,
	}
}
