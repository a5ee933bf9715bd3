package apikey

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/faucetdb/turnstile/internal/authcrypto"
	"github.com/faucetdb/turnstile/internal/model"
)

// Payload is the plaintext sealed inside the x-api-key header.
type Payload struct {
	Key       string `json:"key"`
	Timestamp int64  `json:"timestamp"`
	Hash      string `json:"hash"`
}

var (
	errEmptyHeaderPart = errors.New("header must be key:ciphertext")
	errKeyMismatch     = errors.New("payload key does not match header key")
)

// Encode seals p under the credential's cipher material and returns the
// "key:ciphertext" header value.
func Encode(p Payload, encryptionKey, passphrase string) (string, error) {
	plain, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	ct, err := authcrypto.Encrypt(plain, encryptionKey, passphrase)
	if err != nil {
		return "", fmt.Errorf("encrypt payload: %w", err)
	}
	return p.Key + ":" + ct, nil
}

// SplitHeader splits an x-api-key value on its first colon. Base64 never
// contains a colon, so the ciphertext survives intact.
func SplitHeader(h string) (key, ciphertext string, err error) {
	key, ciphertext, ok := strings.Cut(h, ":")
	if !ok || key == "" || ciphertext == "" {
		return "", "", errEmptyHeaderPart
	}
	return key, ciphertext, nil
}

// Decode opens ciphertext with cred's own cipher material. The sealed key
// must equal outerKey, the key the credential was looked up by.
func Decode(cred *model.APIKey, outerKey, ciphertext string) (Payload, error) {
	plain, err := authcrypto.Decrypt(ciphertext, cred.EncryptionKey, cred.Passphrase)
	if err != nil {
		return Payload{}, err
	}
	var p Payload
	if err := json.Unmarshal(plain, &p); err != nil {
		return Payload{}, fmt.Errorf("unmarshal payload: %w", err)
	}
	if p.Key != outerKey {
		return Payload{}, errKeyMismatch
	}
	return p, nil
}
