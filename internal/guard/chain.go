// Package guard runs route policies: API key verification, bearer token
// verification, a live principal lookup and the permission check, in that
// order, stopping at the first failure.
package guard

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/faucetdb/turnstile/internal/apikey"
	"github.com/faucetdb/turnstile/internal/autherr"
	"github.com/faucetdb/turnstile/internal/model"
	"github.com/faucetdb/turnstile/internal/permission"
	"github.com/faucetdb/turnstile/internal/store"
	"github.com/faucetdb/turnstile/internal/token"
)

// KeyAuthenticator checks API key credentials.
type KeyAuthenticator interface {
	Authenticate(ctx context.Context, apiKeyHeader, timestampHeader string) (*apikey.Principal, error)
	AuthenticateBasic(ctx context.Context, basicToken string) (*apikey.Principal, error)
}

// TokenVerifier checks bearer tokens.
type TokenVerifier interface {
	Verify(tokenStr string, expected token.Type) (*token.Claims, error)
}

// PrincipalLoader fetches the live principal for a user ID. Implementations
// return an error wrapping store.ErrNotFound when the user does not exist.
type PrincipalLoader interface {
	LoadPrincipal(ctx context.Context, userID string) (*model.SessionPrincipal, error)
}

// Credentials are the raw request headers the chain inspects.
type Credentials struct {
	APIKey        string
	Timestamp     string
	Authorization string
}

// AuthContext is what a request proved about itself. It is built per request
// and never shared.
type AuthContext struct {
	APIKey    *apikey.Principal
	Claims    *token.Claims
	User      *model.SessionPrincipal
	Token     string
	Timestamp string
}

// Chain evaluates policies against request credentials.
type Chain struct {
	keys       KeyAuthenticator
	tokens     TokenVerifier
	principals PrincipalLoader
	evaluator  *permission.Evaluator
}

// NewChain returns a Chain.
func NewChain(keys KeyAuthenticator, tokens TokenVerifier, principals PrincipalLoader, evaluator *permission.Evaluator) *Chain {
	if evaluator == nil {
		evaluator = permission.NewEvaluator()
	}
	return &Chain{keys: keys, tokens: tokens, principals: principals, evaluator: evaluator}
}

// Evaluate runs the stages of p by rank and returns the resulting
// AuthContext, or the first failure as an *autherr.Error.
func (c *Chain) Evaluate(ctx context.Context, cred Credentials, p Policy) (*AuthContext, error) {
	const op = "guard.evaluate"

	ac := &AuthContext{Timestamp: cred.Timestamp}
	var (
		bearer    *RequiresJWT
		evaluated bool
	)

	for _, stage := range p.ordered() {
		switch s := stage.(type) {
		case RequiresAPIKey:
			principal, err := c.keys.Authenticate(ctx, cred.APIKey, cred.Timestamp)
			if err != nil {
				return nil, internal(op, err)
			}
			ac.APIKey = principal

		case RequiresBasic:
			tok, ok := scheme(cred.Authorization, "Basic")
			if !ok {
				return nil, autherr.New(autherr.KindMissingCredentialHeader, op)
			}
			principal, err := c.keys.AuthenticateBasic(ctx, tok)
			if err != nil {
				return nil, internal(op, err)
			}
			ac.APIKey = principal

		case RequiresJWT:
			if err := c.bearer(ctx, cred, s, ac); err != nil {
				return nil, err
			}
			bearer = &s

		case RequiresPermissions:
			if bearer == nil {
				return nil, autherr.Wrap(autherr.KindInternalAuthFailure, op,
					fmt.Errorf("policy %q checks permissions without a bearer stage", p.Name))
			}
			if err := c.evaluator.Evaluate(ac.User, requirement(*bearer, s.Codes)); err != nil {
				return nil, err
			}
			evaluated = true
		}
	}

	if bearer != nil && !evaluated {
		if err := c.evaluator.Evaluate(ac.User, requirement(*bearer, nil)); err != nil {
			return nil, err
		}
	}
	return ac, nil
}

// bearer verifies the token and runs payload sanity against the live
// principal.
func (c *Chain) bearer(ctx context.Context, cred Credentials, s RequiresJWT, ac *AuthContext) error {
	const op = "guard.bearer"

	tok, ok := scheme(cred.Authorization, "Bearer")
	if !ok {
		return autherr.New(autherr.KindMissingOrMalformedToken, op)
	}
	claims, err := c.tokens.Verify(tok, s.Token)
	if err != nil {
		return internal(op, err)
	}

	user, err := c.principals.LoadPrincipal(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return autherr.Wrap(autherr.KindPrincipalNotFound, op, err)
		}
		return internal(op, err)
	}
	if !user.IsActive {
		return autherr.New(autherr.KindPrincipalInactive, op)
	}
	if !user.Role.IsActive {
		return autherr.New(autherr.KindRoleInactive, op)
	}
	user.RememberMe = claims.RememberMe
	user.LoginDate = claims.LoginDate

	ac.Claims = claims
	ac.User = user
	ac.Token = tok
	return nil
}

func requirement(s RequiresJWT, codes []string) permission.Requirement {
	return permission.Requirement{
		Mode:                 s.Mode,
		Permissions:          codes,
		AllowExpiredPassword: s.AllowExpiredPassword,
	}
}

// scheme extracts the credentials of an Authorization header using the
// named scheme. The scheme name is case-insensitive.
func scheme(header, name string) (string, bool) {
	got, rest, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(got, name) {
		return "", false
	}
	rest = strings.TrimSpace(rest)
	return rest, rest != ""
}

// internal passes auth errors through and marks anything else as an
// internal failure.
func internal(op string, err error) error {
	var ae *autherr.Error
	if errors.As(err, &ae) {
		return err
	}
	return autherr.Wrap(autherr.KindInternalAuthFailure, op, err)
}

type ctxKey struct{}

// WithAuthContext returns a copy of ctx carrying ac.
func WithAuthContext(ctx context.Context, ac *AuthContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, ac)
}

// FromContext returns the AuthContext attached by WithAuthContext.
func FromContext(ctx context.Context) (*AuthContext, bool) {
	ac, ok := ctx.Value(ctxKey{}).(*AuthContext)
	return ac, ok && ac != nil
}
