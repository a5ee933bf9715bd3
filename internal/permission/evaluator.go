// Package permission decides whether a session principal satisfies a
// route's role and permission requirement.
package permission

import (
	"fmt"
	"strings"
	"time"

	"github.com/faucetdb/turnstile/internal/autherr"
	"github.com/faucetdb/turnstile/internal/model"
)

// RoleMode restricts which kind of role may pass.
type RoleMode int

const (
	AnyRole RoleMode = iota
	AdminOnly
	NonAdminOnly
)

func (m RoleMode) String() string {
	switch m {
	case AdminOnly:
		return "admin"
	case NonAdminOnly:
		return "non-admin"
	default:
		return "any"
	}
}

// Requirement is what a route demands of the principal. All listed
// permissions must be held.
type Requirement struct {
	Mode                 RoleMode
	Permissions          []string
	AllowExpiredPassword bool
}

// Evaluator applies requirements. It holds no per-request state.
type Evaluator struct {
	now func() time.Time
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithClock replaces the wall clock used for the password expiry check.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

// NewEvaluator returns an Evaluator.
func NewEvaluator(opts ...Option) *Evaluator {
	e := &Evaluator{now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate returns nil when p satisfies req. Otherwise it returns the first
// failing rule, in order: role inactive, admin mode, password expiry,
// missing permissions.
func (e *Evaluator) Evaluate(p *model.SessionPrincipal, req Requirement) error {
	const op = "permission.evaluate"

	if !p.Role.IsActive {
		return autherr.New(autherr.KindRoleInactive, op)
	}
	switch {
	case req.Mode == AdminOnly && !p.Role.IsAdmin:
		return autherr.Wrap(autherr.KindAdminModeMismatch, op, fmt.Errorf("role %q is not an admin role", p.Role.Name))
	case req.Mode == NonAdminOnly && p.Role.IsAdmin:
		return autherr.Wrap(autherr.KindAdminModeMismatch, op, fmt.Errorf("role %q is an admin role", p.Role.Name))
	}

	if !req.AllowExpiredPassword && e.now().After(p.PasswordExpiration) {
		return autherr.New(autherr.KindPasswordExpired, op)
	}

	if missing := Missing(p.Role, req.Permissions); len(missing) > 0 {
		return autherr.Wrap(autherr.KindInsufficientPermission, op,
			fmt.Errorf("missing %s", strings.Join(missing, ", ")))
	}
	return nil
}

// Missing returns the required codes the role does not hold as active
// permissions. Codes compare trimmed and case-insensitively.
func Missing(role model.RoleGrant, required []string) []string {
	held := make(map[string]bool, len(role.Permissions))
	for _, c := range role.ActivePermissionCodes() {
		held[normalize(c)] = true
	}
	var missing []string
	for _, c := range required {
		if !held[normalize(c)] {
			missing = append(missing, normalize(c))
		}
	}
	return missing
}

func normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
