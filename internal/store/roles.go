package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/faucetdb/turnstile/internal/model"
)

// ---------------------------------------------------------------------------
// Role CRUD
// ---------------------------------------------------------------------------

// CreateRole inserts a new role. An empty ID is generated; CreatedAt and
// UpdatedAt are populated. Permissions on the model are ignored; use
// SetRolePermissions.
func (s *Store) CreateRole(ctx context.Context, role *model.Role) error {
	if role.ID == "" {
		id, err := newID()
		if err != nil {
			return err
		}
		role.ID = id
	}
	now := time.Now().UTC()
	role.CreatedAt = now
	role.UpdatedAt = now

	const q = `INSERT INTO roles (id, name, description, is_active, is_admin, created_at, updated_at)
		VALUES (:id, :name, :description, :is_active, :is_admin, :created_at, :updated_at)`

	return s.insert(ctx, "insert role", q, role)
}

// GetRole returns a role by ID, including its permissions.
func (s *Store) GetRole(ctx context.Context, id string) (*model.Role, error) {
	var role model.Role
	if err := s.get(ctx, &role, "get role", "SELECT * FROM roles WHERE id = ?", id); err != nil {
		return nil, err
	}
	return s.withPermissions(ctx, &role)
}

// GetRoleByName returns a role by its unique name, including its permissions.
func (s *Store) GetRoleByName(ctx context.Context, name string) (*model.Role, error) {
	var role model.Role
	if err := s.get(ctx, &role, "get role by name", "SELECT * FROM roles WHERE name = ?", name); err != nil {
		return nil, err
	}
	return s.withPermissions(ctx, &role)
}

// ListRoles returns all roles with their permissions.
func (s *Store) ListRoles(ctx context.Context) ([]model.Role, error) {
	var roles []model.Role
	if err := s.db.SelectContext(ctx, &roles, "SELECT * FROM roles ORDER BY name"); err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	for i := range roles {
		perms, err := s.rolePermissions(ctx, roles[i].ID)
		if err != nil {
			return nil, err
		}
		roles[i].Permissions = perms
	}
	return roles, nil
}

// SetRoleActive flips the active flag of a role and returns the updated
// record.
func (s *Store) SetRoleActive(ctx context.Context, id string, active bool) (*model.Role, error) {
	if err := s.exec(ctx, "set role active",
		"UPDATE roles SET is_active = ?, updated_at = ? WHERE id = ?",
		active, time.Now().UTC(), id); err != nil {
		return nil, err
	}
	return s.GetRole(ctx, id)
}

// SetRolePermissions replaces the permissions granted to a role within a
// transaction and returns the updated role. Every code must exist.
func (s *Store) SetRolePermissions(ctx context.Context, roleID string, codes []string) (*model.Role, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var exists int
	if err := tx.GetContext(ctx, &exists, tx.Rebind("SELECT COUNT(*) FROM roles WHERE id = ?"), roleID); err != nil {
		return nil, fmt.Errorf("check role: %w", err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("set role permissions: role %s: %w", roleID, ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM role_permissions WHERE role_id = ?"), roleID); err != nil {
		return nil, fmt.Errorf("delete existing role permissions: %w", err)
	}

	seen := make(map[string]bool, len(codes))
	for _, code := range codes {
		code = NormalizeCode(code)
		if seen[code] {
			continue
		}
		seen[code] = true

		var permID string
		if err := tx.GetContext(ctx, &permID, tx.Rebind("SELECT id FROM permissions WHERE code = ?"), code); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("set role permissions: permission %s: %w", code, ErrNotFound)
			}
			return nil, fmt.Errorf("get permission %s: %w", code, err)
		}
		if _, err := tx.ExecContext(ctx,
			tx.Rebind("INSERT INTO role_permissions (role_id, permission_id) VALUES (?, ?)"),
			roleID, permID); err != nil {
			return nil, fmt.Errorf("insert role permission: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind("UPDATE roles SET updated_at = ? WHERE id = ?"),
		time.Now().UTC(), roleID); err != nil {
		return nil, fmt.Errorf("touch role: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit role permissions: %w", err)
	}
	return s.GetRole(ctx, roleID)
}

// DeleteRole removes a role by ID. Its grants are cascade deleted; a role
// still assigned to users cannot be deleted.
func (s *Store) DeleteRole(ctx context.Context, id string) error {
	return s.exec(ctx, "delete role", "DELETE FROM roles WHERE id = ?", id)
}

func (s *Store) withPermissions(ctx context.Context, role *model.Role) (*model.Role, error) {
	perms, err := s.rolePermissions(ctx, role.ID)
	if err != nil {
		return nil, err
	}
	role.Permissions = perms
	return role, nil
}

func (s *Store) rolePermissions(ctx context.Context, roleID string) ([]model.Permission, error) {
	perms := []model.Permission{}
	const q = `SELECT p.* FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		WHERE rp.role_id = ?
		ORDER BY p.code`
	if err := s.db.SelectContext(ctx, &perms, s.rebind(q), roleID); err != nil {
		return nil, fmt.Errorf("get role permissions: %w", err)
	}
	return perms, nil
}

// ---------------------------------------------------------------------------
// Permission CRUD
// ---------------------------------------------------------------------------

// NormalizeCode returns the canonical form of a permission code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CreatePermission inserts a new permission. The code is normalized.
func (s *Store) CreatePermission(ctx context.Context, perm *model.Permission) error {
	if perm.ID == "" {
		id, err := newID()
		if err != nil {
			return err
		}
		perm.ID = id
	}
	perm.Code = NormalizeCode(perm.Code)
	perm.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO permissions (id, code, description, is_active, created_at)
		VALUES (:id, :code, :description, :is_active, :created_at)`

	return s.insert(ctx, "insert permission", q, perm)
}

// GetPermissionByCode returns a permission by its code.
func (s *Store) GetPermissionByCode(ctx context.Context, code string) (*model.Permission, error) {
	var perm model.Permission
	if err := s.get(ctx, &perm, "get permission", "SELECT * FROM permissions WHERE code = ?", NormalizeCode(code)); err != nil {
		return nil, err
	}
	return &perm, nil
}

// ListPermissions returns all permissions ordered by code.
func (s *Store) ListPermissions(ctx context.Context) ([]model.Permission, error) {
	perms := []model.Permission{}
	if err := s.db.SelectContext(ctx, &perms, "SELECT * FROM permissions ORDER BY code"); err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}
	return perms, nil
}

// SetPermissionActive flips the active flag of a permission and returns the
// updated record.
func (s *Store) SetPermissionActive(ctx context.Context, code string, active bool) (*model.Permission, error) {
	if err := s.exec(ctx, "set permission active",
		"UPDATE permissions SET is_active = ? WHERE code = ?", active, NormalizeCode(code)); err != nil {
		return nil, err
	}
	return s.GetPermissionByCode(ctx, code)
}

// EnsurePermissions inserts each permission whose code is not yet present
// and returns how many were created.
func (s *Store) EnsurePermissions(ctx context.Context, perms []model.Permission) (int, error) {
	created := 0
	for i := range perms {
		p := perms[i]
		err := s.CreatePermission(ctx, &p)
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}
