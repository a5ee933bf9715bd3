package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/faucetdb/turnstile/internal/model"
)

// Type distinguishes access tokens from refresh tokens.
type Type string

const (
	Access  Type = "access"
	Refresh Type = "refresh"
)

// ClaimsVersion is the version stamped on every issued token. Tokens from a
// newer version are rejected; unknown fields are ignored.
const ClaimsVersion = 1

// RoleClaim is the role snapshot carried by access tokens. Permissions holds
// only the codes that were active at issue time. It is informational for
// clients: the guard checks permissions against the principal loaded from
// the store on every request and never reads this claim.
type RoleClaim struct {
	Name        string   `json:"name"`
	IsActive    bool     `json:"is_active"`
	IsAdmin     bool     `json:"is_admin"`
	Permissions []string `json:"permissions"`
}

// Claims is the payload of an access or refresh token. Refresh tokens carry
// only the user ID, remember-me flag and login date.
type Claims struct {
	Version            int        `json:"ver"`
	Type               Type       `json:"typ"`
	UserID             string     `json:"uid"`
	Email              string     `json:"email,omitempty"`
	Role               *RoleClaim `json:"role,omitempty"`
	RememberMe         bool       `json:"remember_me"`
	LoginDate          time.Time  `json:"login_date"`
	PasswordExpiration *time.Time `json:"password_expiration,omitempty"`
	jwt.RegisteredClaims
}

func roleClaimOf(r model.RoleGrant) *RoleClaim {
	return &RoleClaim{
		Name:        r.Name,
		IsActive:    r.IsActive,
		IsAdmin:     r.IsAdmin,
		Permissions: r.ActivePermissionCodes(),
	}
}
