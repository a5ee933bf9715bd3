package guard

import (
	"slices"

	"github.com/faucetdb/turnstile/internal/permission"
	"github.com/faucetdb/turnstile/internal/token"
)

// Stage is one step of a route policy. The set of stages is closed: only the
// Requires* types in this package implement it.
type Stage interface {
	rank() int
	String() string
}

// RequiresAPIKey runs the signed x-api-key protocol.
type RequiresAPIKey struct{}

// RequiresBasic accepts an "Authorization: Basic" key/secret pair.
type RequiresBasic struct{}

// RequiresJWT verifies a bearer token of the given type and loads the live
// principal behind it.
type RequiresJWT struct {
	Mode                 permission.RoleMode
	Token                token.Type
	AllowExpiredPassword bool
}

// RequiresPermissions demands every listed permission code.
type RequiresPermissions struct {
	Codes []string
}

func (RequiresAPIKey) rank() int      { return 0 }
func (RequiresBasic) rank() int       { return 0 }
func (RequiresJWT) rank() int         { return 1 }
func (RequiresPermissions) rank() int { return 2 }

func (RequiresAPIKey) String() string      { return "api_key" }
func (RequiresBasic) String() string       { return "basic" }
func (s RequiresJWT) String() string       { return "jwt:" + string(s.Token) + ":" + s.Mode.String() }
func (RequiresPermissions) String() string { return "permissions" }

// Policy is the ordered set of stages guarding a route.
type Policy struct {
	Name   string
	Stages []Stage
}

// Public is exempt from every stage.
func Public() Policy {
	return Policy{Name: "public"}
}

// APIKey requires a signed API key only.
func APIKey() Policy {
	return Policy{Name: "api_key", Stages: []Stage{RequiresAPIKey{}}}
}

// Basic requires a basic key/secret pair only.
func Basic() Policy {
	return Policy{Name: "basic", Stages: []Stage{RequiresBasic{}}}
}

// JWT requires an API key and an access token of any role. Expired
// passwords are let through so the holder can change them.
func JWT(perms ...string) Policy {
	return jwtPolicy("jwt", RequiresJWT{Mode: permission.AnyRole, Token: token.Access, AllowExpiredPassword: true}, perms)
}

// PublicJWT requires an API key and an access token held by a non-admin role
// with a current password.
func PublicJWT(perms ...string) Policy {
	return jwtPolicy("public_jwt", RequiresJWT{Mode: permission.NonAdminOnly, Token: token.Access}, perms)
}

// AdminJWT requires an API key and an access token held by an admin role
// with a current password.
func AdminJWT(perms ...string) Policy {
	return jwtPolicy("admin_jwt", RequiresJWT{Mode: permission.AdminOnly, Token: token.Access}, perms)
}

// RefreshJWT requires an API key and a refresh token. Password expiry is left
// to the refresh handler.
func RefreshJWT() Policy {
	return jwtPolicy("refresh_jwt", RequiresJWT{Mode: permission.AnyRole, Token: token.Refresh, AllowExpiredPassword: true}, nil)
}

func jwtPolicy(name string, jwt RequiresJWT, perms []string) Policy {
	return Policy{
		Name:   name,
		Stages: []Stage{RequiresAPIKey{}, jwt, RequiresPermissions{Codes: perms}},
	}
}

// WithoutAPIKey returns a copy of p with the API key stage removed.
func (p Policy) WithoutAPIKey() Policy {
	out := Policy{Name: p.Name}
	for _, s := range p.Stages {
		if _, ok := s.(RequiresAPIKey); !ok {
			out.Stages = append(out.Stages, s)
		}
	}
	return out
}

// UsesAPIKey reports whether p runs the API key stage.
func (p Policy) UsesAPIKey() bool {
	return slices.ContainsFunc(p.Stages, func(s Stage) bool {
		_, ok := s.(RequiresAPIKey)
		return ok
	})
}

// UsesBasic reports whether p runs the basic stage.
func (p Policy) UsesBasic() bool {
	return slices.ContainsFunc(p.Stages, func(s Stage) bool {
		_, ok := s.(RequiresBasic)
		return ok
	})
}

// Bearer returns the JWT stage of p, if any.
func (p Policy) Bearer() (RequiresJWT, bool) {
	for _, s := range p.Stages {
		if j, ok := s.(RequiresJWT); ok {
			return j, true
		}
	}
	return RequiresJWT{}, false
}

// Permissions returns every permission code p demands.
func (p Policy) Permissions() []string {
	var codes []string
	for _, s := range p.Stages {
		if r, ok := s.(RequiresPermissions); ok {
			codes = append(codes, r.Codes...)
		}
	}
	return codes
}

// ordered returns the stages sorted by rank, keeping declaration order
// within a rank.
func (p Policy) ordered() []Stage {
	stages := slices.Clone(p.Stages)
	slices.SortStableFunc(stages, func(a, b Stage) int { return a.rank() - b.rank() })
	return stages
}
