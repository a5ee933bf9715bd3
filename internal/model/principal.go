package model

import "time"

// SessionPrincipal is the authenticated identity behind a user session. It is
// derived from the user, role and permission records on every login and
// refresh, never persisted.
type SessionPrincipal struct {
	ID                 string    `json:"id"`
	Email              string    `json:"email"`
	FirstName          string    `json:"first_name"`
	LastName           string    `json:"last_name,omitempty"`
	IsActive           bool      `json:"is_active"`
	Role               RoleGrant `json:"role"`
	RememberMe         bool      `json:"remember_me"`
	LoginDate          time.Time `json:"login_date"`
	PasswordExpiration time.Time `json:"password_expiration"`
}

// RoleGrant is the role as seen by a session.
type RoleGrant struct {
	Name        string            `json:"name"`
	IsActive    bool              `json:"is_active"`
	IsAdmin     bool              `json:"is_admin"`
	Permissions []PermissionGrant `json:"permissions"`
}

// PermissionGrant is a single permission as seen by a session.
type PermissionGrant struct {
	Code     string `json:"code"`
	IsActive bool   `json:"is_active"`
}

// ActivePermissionCodes returns the codes of the role's active permissions.
func (r RoleGrant) ActivePermissionCodes() []string {
	codes := make([]string, 0, len(r.Permissions))
	for _, p := range r.Permissions {
		if p.IsActive {
			codes = append(codes, p.Code)
		}
	}
	return codes
}
