// Package token issues and verifies the signed session tokens handed to
// users after login, and hashes their passwords.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/faucetdb/turnstile/internal/autherr"
	"github.com/faucetdb/turnstile/internal/model"
)

// ErrInvalidToken is matched by every error returned from Verify.
var ErrInvalidToken = errors.New("invalid token")

// Default lifetimes.
const (
	DefaultAccessTTL            = 30 * time.Minute
	DefaultRefreshTTL           = 24 * time.Hour
	DefaultRefreshRememberMeTTL = 30 * 24 * time.Hour
)

// Config controls token signing and lifetimes.
type Config struct {
	Secret               string
	Issuer               string
	Audience             string
	AccessTTL            time.Duration
	RefreshTTL           time.Duration
	RefreshRememberMeTTL time.Duration
	// RefreshNotBefore delays the moment a refresh token becomes usable.
	RefreshNotBefore time.Duration
}

// Overrides adjusts a single issuance.
type Overrides struct {
	// LoginDate carries the original login time through a refresh. Zero
	// means now.
	LoginDate time.Time
}

// Issuer signs and verifies HS256 tokens with a shared secret.
type Issuer struct {
	cfg    Config
	secret []byte
	now    func() time.Time
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithClock replaces the wall clock used for issuing and verifying.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

// NewIssuer returns an Issuer. Zero lifetimes take their defaults.
func NewIssuer(cfg Config, opts ...Option) *Issuer {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if cfg.RefreshRememberMeTTL <= 0 {
		cfg.RefreshRememberMeTTL = DefaultRefreshRememberMeTTL
	}
	i := &Issuer{cfg: cfg, secret: []byte(cfg.Secret), now: time.Now}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// AccessTTL returns the access token lifetime.
func (i *Issuer) AccessTTL() time.Duration { return i.cfg.AccessTTL }

// CreateAccessToken issues an access token for p. Its lifetime does not
// depend on rememberMe.
func (i *Issuer) CreateAccessToken(p *model.SessionPrincipal, rememberMe bool, o Overrides) (string, *Claims, error) {
	now := i.now()
	exp := p.PasswordExpiration
	claims := &Claims{
		Type:               Access,
		UserID:             p.ID,
		Email:              p.Email,
		Role:               roleClaimOf(p.Role),
		RememberMe:         rememberMe,
		LoginDate:          loginDate(o, now),
		PasswordExpiration: &exp,
		RegisteredClaims:   i.registered(p.ID, now, now, i.cfg.AccessTTL),
	}
	return i.sign(claims)
}

// CreateRefreshToken issues a refresh token for p. Remembered sessions get
// the longer lifetime.
func (i *Issuer) CreateRefreshToken(p *model.SessionPrincipal, rememberMe bool, o Overrides) (string, *Claims, error) {
	now := i.now()
	ttl := i.cfg.RefreshTTL
	if rememberMe {
		ttl = i.cfg.RefreshRememberMeTTL
	}
	claims := &Claims{
		Type:             Refresh,
		UserID:           p.ID,
		RememberMe:       rememberMe,
		LoginDate:        loginDate(o, now),
		RegisteredClaims: i.registered(p.ID, now, now.Add(i.cfg.RefreshNotBefore), ttl),
	}
	return i.sign(claims)
}

func loginDate(o Overrides, now time.Time) time.Time {
	if o.LoginDate.IsZero() {
		return now.UTC()
	}
	return o.LoginDate.UTC()
}

func (i *Issuer) registered(subject string, now, notBefore time.Time, ttl time.Duration) jwt.RegisteredClaims {
	rc := jwt.RegisteredClaims{
		Issuer:    i.cfg.Issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(notBefore),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if id, err := uuid.NewV7(); err == nil {
		rc.ID = id.String()
	}
	if i.cfg.Audience != "" {
		rc.Audience = jwt.ClaimStrings{i.cfg.Audience}
	}
	return rc
}

func (i *Issuer) sign(claims *Claims) (string, *Claims, error) {
	claims.Version = ClaimsVersion
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign %s token: %w", claims.Type, err)
	}
	return signed, claims, nil
}

// Verify parses tokenStr, checks its signature, time bounds and type, and
// returns its claims. Every error satisfies errors.Is(err, ErrInvalidToken)
// and carries one of the token error kinds.
func (i *Issuer) Verify(tokenStr string, expected Type) (*Claims, error) {
	const op = "token.verify"
	if tokenStr == "" {
		return nil, invalid(autherr.KindMissingOrMalformedToken, op, errors.New("empty token"))
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	}
	if i.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.cfg.Issuer))
	}
	if i.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(i.cfg.Audience))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return i.secret, nil
	}, opts...)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, invalid(autherr.KindTokenExpired, op, err)
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, invalid(autherr.KindMissingOrMalformedToken, op, err)
		default:
			return nil, invalid(autherr.KindInvalidTokenSignature, op, err)
		}
	}

	if claims.Type != expected {
		return nil, invalid(autherr.KindInvalidTokenSignature, op,
			fmt.Errorf("token type %q, want %q", claims.Type, expected))
	}
	if claims.Version < 1 || claims.Version > ClaimsVersion {
		return nil, invalid(autherr.KindInvalidTokenSignature, op,
			fmt.Errorf("unsupported claims version %d", claims.Version))
	}
	if claims.UserID == "" {
		return nil, invalid(autherr.KindMissingOrMalformedToken, op, errors.New("missing uid"))
	}
	return claims, nil
}

func invalid(kind autherr.Kind, op string, cause error) error {
	return autherr.Wrap(kind, op, fmt.Errorf("%w: %w", ErrInvalidToken, cause))
}
