package token

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/faucetdb/turnstile/internal/autherr"
	"github.com/faucetdb/turnstile/internal/model"
)

// clock is a settable time source.
type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestIssuer(t *testing.T, cfg Config) (*Issuer, *clock) {
	t.Helper()
	if cfg.Secret == "" {
		cfg.Secret = "test-secret"
	}
	c := &clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewIssuer(cfg, WithClock(c.now)), c
}

func testPrincipal() *model.SessionPrincipal {
	return &model.SessionPrincipal{
		ID:        "0190b6c4-0000-7000-8000-000000000001",
		Email:     "admin@example.com",
		FirstName: "Ada",
		IsActive:  true,
		Role: model.RoleGrant{
			Name:     "admin",
			IsActive: true,
			IsAdmin:  true,
			Permissions: []model.PermissionGrant{
				{Code: "ROLE_READ", IsActive: true},
				{Code: "ROLE_CREATE", IsActive: false},
			},
		},
		PasswordExpiration: time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC),
	}
}

func assertKind(t *testing.T, err error, want autherr.Kind) {
	t.Helper()
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected error to match ErrInvalidToken, got %v", err)
	}
	if got := autherr.KindOf(err); got != want {
		t.Fatalf("error kind: got %s (%v), want %s", got, err, want)
	}
}

func TestAccessTokenLifetime(t *testing.T) {
	iss, c := newTestIssuer(t, Config{})
	tok, issued, err := iss.CreateAccessToken(testPrincipal(), false, Overrides{})
	if err != nil {
		t.Fatalf("CreateAccessToken: %v", err)
	}

	claims, err := iss.Verify(tok, Access)
	if err != nil {
		t.Fatalf("Verify right after issue: %v", err)
	}
	if claims.UserID != issued.UserID || claims.Subject != issued.UserID {
		t.Errorf("uid/sub mismatch: %+v", claims)
	}
	if claims.Version != ClaimsVersion || claims.Type != Access {
		t.Errorf("unexpected ver/typ: %d %s", claims.Version, claims.Type)
	}
	if claims.Role == nil || len(claims.Role.Permissions) != 1 || claims.Role.Permissions[0] != "ROLE_READ" {
		t.Errorf("expected only active permission codes, got %+v", claims.Role)
	}
	if claims.ID == "" {
		t.Error("expected jti to be set")
	}

	c.t = c.t.Add(29 * time.Minute)
	if _, err := iss.Verify(tok, Access); err != nil {
		t.Fatalf("Verify within TTL: %v", err)
	}

	c.t = c.t.Add(2 * time.Minute)
	_, err = iss.Verify(tok, Access)
	assertKind(t, err, autherr.KindTokenExpired)
}

func TestAccessTTLIgnoresRememberMe(t *testing.T) {
	iss, _ := newTestIssuer(t, Config{})
	_, a, _ := iss.CreateAccessToken(testPrincipal(), false, Overrides{})
	_, b, _ := iss.CreateAccessToken(testPrincipal(), true, Overrides{})
	if !a.ExpiresAt.Equal(b.ExpiresAt.Time) {
		t.Errorf("access expiry differs with rememberMe: %v vs %v", a.ExpiresAt, b.ExpiresAt)
	}
	if !b.RememberMe {
		t.Error("expected remember_me claim")
	}
}

func TestRefreshRememberMeOutlives(t *testing.T) {
	iss, c := newTestIssuer(t, Config{})
	p := testPrincipal()

	short, shortClaims, err := iss.CreateRefreshToken(p, false, Overrides{})
	if err != nil {
		t.Fatalf("CreateRefreshToken: %v", err)
	}
	long, longClaims, err := iss.CreateRefreshToken(p, true, Overrides{})
	if err != nil {
		t.Fatalf("CreateRefreshToken (remember): %v", err)
	}
	if !longClaims.ExpiresAt.After(shortClaims.ExpiresAt.Time) {
		t.Fatalf("remember-me refresh should expire later: %v vs %v", longClaims.ExpiresAt, shortClaims.ExpiresAt)
	}
	if longClaims.Email != "" || longClaims.Role != nil {
		t.Error("refresh tokens should carry only uid, remember_me and login_date")
	}

	c.t = c.t.Add(2 * 24 * time.Hour)
	_, err = iss.Verify(short, Refresh)
	assertKind(t, err, autherr.KindTokenExpired)
	if _, err := iss.Verify(long, Refresh); err != nil {
		t.Fatalf("remember-me refresh should still verify: %v", err)
	}
}

func TestRefreshNotBefore(t *testing.T) {
	iss, c := newTestIssuer(t, Config{RefreshNotBefore: time.Minute})
	tok, _, _ := iss.CreateRefreshToken(testPrincipal(), false, Overrides{})

	_, err := iss.Verify(tok, Refresh)
	assertKind(t, err, autherr.KindInvalidTokenSignature)

	c.t = c.t.Add(2 * time.Minute)
	if _, err := iss.Verify(tok, Refresh); err != nil {
		t.Fatalf("Verify after nbf: %v", err)
	}
}

func TestLoginDateOverride(t *testing.T) {
	iss, _ := newTestIssuer(t, Config{})
	login := time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)
	_, claims, _ := iss.CreateAccessToken(testPrincipal(), true, Overrides{LoginDate: login})
	if !claims.LoginDate.Equal(login) {
		t.Errorf("LoginDate = %v, want %v", claims.LoginDate, login)
	}
}

func TestVerifyFailures(t *testing.T) {
	iss, _ := newTestIssuer(t, Config{Issuer: "turnstile"})
	other, _ := newTestIssuer(t, Config{Secret: "other-secret", Issuer: "turnstile"})
	foreign, _ := newTestIssuer(t, Config{Issuer: "someone-else"})

	access, _, _ := iss.CreateAccessToken(testPrincipal(), false, Overrides{})
	refresh, _, _ := iss.CreateRefreshToken(testPrincipal(), false, Overrides{})
	forged, _, _ := other.CreateAccessToken(testPrincipal(), false, Overrides{})
	wrongIss, _, _ := foreign.CreateAccessToken(testPrincipal(), false, Overrides{})

	// Header and signature of one token around the payload of another.
	parts := strings.Split(access, ".")
	tampered := parts[0] + "." + strings.Split(refresh, ".")[1] + "." + parts[2]

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{Version: 1, Type: Access, UserID: "u"})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name     string
		token    string
		expected Type
		want     autherr.Kind
	}{
		{"empty", "", Access, autherr.KindMissingOrMalformedToken},
		{"garbage", "not-a-jwt", Access, autherr.KindMissingOrMalformedToken},
		{"wrong secret", forged, Access, autherr.KindInvalidTokenSignature},
		{"tampered payload", tampered, Access, autherr.KindInvalidTokenSignature},
		{"refresh used as access", refresh, Access, autherr.KindInvalidTokenSignature},
		{"access used as refresh", access, Refresh, autherr.KindInvalidTokenSignature},
		{"alg none", unsigned, Access, autherr.KindInvalidTokenSignature},
		{"wrong issuer", wrongIss, Access, autherr.KindInvalidTokenSignature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := iss.Verify(tt.token, tt.expected)
			assertKind(t, err, tt.want)
		})
	}
}

func TestUnknownClaimsIgnored(t *testing.T) {
	iss, c := newTestIssuer(t, Config{})
	claims := jwt.MapClaims{
		"ver":         1,
		"typ":         "access",
		"uid":         "u1",
		"exp":         c.t.Add(time.Minute).Unix(),
		"future_flag": true,
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	got, err := iss.Verify(tok, Access)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got.UserID != "u1" {
		t.Errorf("UserID = %q, want u1", got.UserID)
	}

	claims["ver"] = 2
	tok, _ = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	_, err = iss.Verify(tok, Access)
	assertKind(t, err, autherr.KindInvalidTokenSignature)
}

func TestPasswords(t *testing.T) {
	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	start := c.t
	pw := NewPasswords(0, WithPasswordClock(c.now))

	p, err := pw.CreatePassword("aaAA@@123444")
	if err != nil {
		t.Fatalf("CreatePassword: %v", err)
	}
	if len(p.Salt) != 2*saltLen {
		t.Errorf("salt length: got %d, want %d hex chars", len(p.Salt), 2*saltLen)
	}
	if !p.Expiration.Equal(start.Add(DefaultPasswordExpiry)) {
		t.Errorf("Expiration = %v", p.Expiration)
	}

	if !pw.Validate("aaAA@@123444", p.Hash, p.Salt) {
		t.Error("expected correct password to validate")
	}
	if pw.Validate("aaAA@@123445", p.Hash, p.Salt) {
		t.Error("expected wrong password to fail")
	}
	if pw.Validate("aaAA@@123444", p.Hash, "zz") {
		t.Error("expected malformed salt to fail")
	}

	again, _ := pw.CreatePassword("aaAA@@123444")
	if again.Hash == p.Hash || again.Salt == p.Salt {
		t.Error("expected a fresh salt per password")
	}

	if pw.CheckPasswordExpired(p.Expiration) {
		t.Error("password should not be expired yet")
	}
	c.t = p.Expiration.Add(time.Second)
	if !pw.CheckPasswordExpired(p.Expiration) {
		t.Error("password should be expired")
	}
}

func TestPasswordsCustomExpiry(t *testing.T) {
	c := &clock{t: time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)}
	pw := NewPasswords(48*time.Hour, WithPasswordClock(c.now))

	p, err := pw.CreatePassword("aaAA@@123444")
	if err != nil {
		t.Fatalf("CreatePassword: %v", err)
	}
	if want := c.t.Add(48 * time.Hour); !p.Expiration.Equal(want) {
		t.Errorf("Expiration = %v, want %v", p.Expiration, want)
	}

	c.t = c.t.Add(47 * time.Hour)
	if pw.CheckPasswordExpired(p.Expiration) {
		t.Error("password expired a day early")
	}
	c.t = c.t.Add(2 * time.Hour)
	if !pw.CheckPasswordExpired(p.Expiration) {
		t.Error("password should be expired after 49h")
	}
}
