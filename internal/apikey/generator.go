package apikey

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/faucetdb/turnstile/internal/model"
)

const (
	upperAlphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	lowerLetters      = "abcdefghijklmnopqrstuvwxyz"

	keyLength           = 25
	secretLength        = 35
	encryptionKeyLength = 15
	passphraseLength    = model.PassphraseLength
)

// Material is freshly generated credential material. Secret, Passphrase and
// EncryptionKey are disclosed once to the client that owns the credential.
type Material struct {
	Key           string
	Secret        string
	Passphrase    string
	EncryptionKey string
}

// EnvPrefix returns the prefix stamped on keys and encryption keys for the
// given environment name.
func EnvPrefix(env string) string {
	if env == "production" {
		return "production_"
	}
	return "development_"
}

// Generate produces a complete set of credential material for env.
func Generate(env string) (Material, error) {
	key, err := GenerateKey(env)
	if err != nil {
		return Material{}, err
	}
	secret, passphrase, encKey, err := generateSecrets(env)
	if err != nil {
		return Material{}, err
	}
	return Material{Key: key, Secret: secret, Passphrase: passphrase, EncryptionKey: encKey}, nil
}

// GenerateKey returns a new public key identifier.
func GenerateKey(env string) (string, error) {
	s, err := randomString(keyLength, upperAlphanumeric)
	if err != nil {
		return "", err
	}
	return EnvPrefix(env) + s, nil
}

// generateSecrets returns the secret, passphrase and encryption key. Rotation
// calls it on its own since the public key never changes.
func generateSecrets(env string) (secret, passphrase, encKey string, err error) {
	if secret, err = randomString(secretLength, upperAlphanumeric); err != nil {
		return "", "", "", err
	}
	if passphrase, err = randomString(passphraseLength, lowerLetters); err != nil {
		return "", "", "", err
	}
	if encKey, err = randomString(encryptionKeyLength, upperAlphanumeric); err != nil {
		return "", "", "", err
	}
	return secret, passphrase, EnvPrefix(env) + encKey, nil
}

func randomString(n int, alphabet string) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate random string: %w", err)
		}
		b[i] = alphabet[idx.Int64()]
	}
	return string(b), nil
}
