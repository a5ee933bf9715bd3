// Package authcrypto holds the cryptographic building blocks used by the API
// key protocol: one-way hashing, constant-time comparison, the symmetric
// cipher that protects per-request payloads, and the base64 helpers used by
// the basic-auth compatibility path.
package authcrypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// ErrDecryptionFailed is returned for every decryption failure. Callers never
// learn whether the encoding, the authentication tag, or the padding was at
// fault.
var ErrDecryptionFailed = errors.New("decryption failed")

// ErrInvalidBasicToken is returned when a basic token does not decode to an
// "id:secret" pair.
var ErrInvalidBasicToken = errors.New("invalid basic token")

const (
	kdfInfo = "turnstile/apikey/v1"
	tagSize = sha256.Size
)

// Hash returns the lowercase hex SHA-256 digest of input.
func Hash(input []byte) string {
	h := sha256.Sum256(input)
	return hex.EncodeToString(h[:])
}

// HashString is Hash for string input.
func HashString(input string) string {
	return Hash([]byte(input))
}

// HashEquals compares two digests in constant time.
func HashEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// HMAC returns the lowercase hex HMAC-SHA256 of msg under key.
func HMAC(key, msg string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}

type keyMaterial struct {
	enc []byte
	mac []byte
	iv  []byte
}

// deriveKeys expands the credential's encryption key and passphrase into an
// AES-256 key, an HMAC key and the CBC IV. The IV is fixed per credential;
// the request timestamp inside every plaintext keeps ciphertexts distinct.
func deriveKeys(encryptionKey, passphrase string) (keyMaterial, error) {
	r := hkdf.New(sha256.New, []byte(encryptionKey), []byte(passphrase), []byte(kdfInfo))
	buf := make([]byte, 32+32+aes.BlockSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return keyMaterial{}, err
	}
	return keyMaterial{enc: buf[:32], mac: buf[32:64], iv: buf[64:]}, nil
}

// Encrypt seals plaintext with AES-256-CBC and appends an HMAC-SHA256 tag over
// IV and ciphertext. The result is standard base64.
func Encrypt(plaintext []byte, encryptionKey, passphrase string) (string, error) {
	km, err := deriveKeys(encryptionKey, passphrase)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(km.enc)
	if err != nil {
		return "", err
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded), len(padded)+tagSize)
	cipher.NewCBCEncrypter(block, km.iv).CryptBlocks(out, padded)

	out = append(out, tag(km, out)...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Any failure yields ErrDecryptionFailed.
func Decrypt(ciphertext, encryptionKey, passphrase string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	if len(raw) < aes.BlockSize+tagSize || (len(raw)-tagSize)%aes.BlockSize != 0 {
		return nil, ErrDecryptionFailed
	}

	km, err := deriveKeys(encryptionKey, passphrase)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	body, sum := raw[:len(raw)-tagSize], raw[len(raw)-tagSize:]
	if !hmac.Equal(sum, tag(km, body)) {
		return nil, ErrDecryptionFailed
	}

	block, err := aes.NewCipher(km.enc)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	plain := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, km.iv).CryptBlocks(plain, body)

	plain, ok := pkcs7Unpad(plain, aes.BlockSize)
	if !ok {
		return nil, ErrDecryptionFailed
	}
	return plain, nil
}

func tag(km keyMaterial, body []byte) []byte {
	mac := hmac.New(sha256.New, km.mac)
	mac.Write(km.iv)
	mac.Write(body)
	return mac.Sum(nil)
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(append([]byte{}, b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, size int) ([]byte, bool) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, false
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size {
		return nil, false
	}
	var bad byte
	for _, c := range b[len(b)-n:] {
		bad |= c ^ byte(n)
	}
	if bad != 0 {
		return nil, false
	}
	return b[:len(b)-n], true
}

// Base64Encode returns the standard base64 encoding of s.
func Base64Encode(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// Base64Decode decodes standard base64 input.
func Base64Decode(s string) (string, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// BasicToken encodes an id/secret pair the way HTTP basic auth does.
func BasicToken(id, secret string) string {
	return Base64Encode(id + ":" + secret)
}

// ParseBasicToken decodes a token produced by BasicToken.
func ParseBasicToken(token string) (id, secret string, err error) {
	decoded, err := Base64Decode(token)
	if err != nil {
		return "", "", ErrInvalidBasicToken
	}
	id, secret, ok := strings.Cut(decoded, ":")
	if !ok || id == "" || secret == "" {
		return "", "", ErrInvalidBasicToken
	}
	return id, secret, nil
}
