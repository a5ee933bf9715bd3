package token

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/argon2"

	"github.com/faucetdb/turnstile/internal/authcrypto"
	"github.com/faucetdb/turnstile/internal/model"
)

// DefaultPasswordExpiry is how long a new password stays valid.
const DefaultPasswordExpiry = 182 * 24 * time.Hour

// argon2id parameters.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

// Passwords hashes and checks user passwords.
type Passwords struct {
	expiry time.Duration
	now    func() time.Time
}

// PasswordOption configures a Passwords.
type PasswordOption func(*Passwords)

// WithPasswordClock replaces the wall clock used for new expirations and the
// expiry check.
func WithPasswordClock(now func() time.Time) PasswordOption {
	return func(p *Passwords) { p.now = now }
}

// NewPasswords returns a Passwords whose new passwords expire after expiry.
// A non-positive expiry selects DefaultPasswordExpiry.
func NewPasswords(expiry time.Duration, opts ...PasswordOption) *Passwords {
	if expiry <= 0 {
		expiry = DefaultPasswordExpiry
	}
	p := &Passwords{expiry: expiry, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CreatePassword hashes plain under a fresh random salt.
func (p *Passwords) CreatePassword(plain string) (model.Password, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return model.Password{}, fmt.Errorf("generate salt: %w", err)
	}
	return model.Password{
		Hash:       hashPassword(plain, salt),
		Salt:       hex.EncodeToString(salt),
		Expiration: p.now().Add(p.expiry).UTC(),
	}, nil
}

// Validate reports whether plain hashes to hash under salt.
func (p *Passwords) Validate(plain, hash, salt string) bool {
	rawSalt, err := hex.DecodeString(salt)
	if err != nil {
		return false
	}
	return authcrypto.HashEquals(hashPassword(plain, rawSalt), hash)
}

// CheckPasswordExpired reports whether exp has passed.
func (p *Passwords) CheckPasswordExpired(exp time.Time) bool {
	return p.now().After(exp)
}

func hashPassword(plain string, salt []byte) string {
	return hex.EncodeToString(argon2.IDKey([]byte(plain), salt, argonTime, argonMemory, argonThreads, argonKeyLen))
}
