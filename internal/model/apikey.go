package model

import "time"

// APIKey is a client integration credential. The secret the client signs
// with is never stored; only Hash (SHA-256 of "key:secret") is persisted,
// together with the per-credential cipher material used to seal request
// payloads.
type APIKey struct {
	ID            string    `json:"id" db:"id"`
	Name          string    `json:"name" db:"name"`
	Description   string    `json:"description" db:"description"`
	Key           string    `json:"key" db:"api_key"`
	Hash          string    `json:"-" db:"hash"`           // never expose
	EncryptionKey string    `json:"-" db:"encryption_key"` // never expose
	Passphrase    string    `json:"-" db:"passphrase"`     // exactly 16 chars, never expose
	IsActive      bool      `json:"is_active" db:"is_active"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// PassphraseLength is the required length of APIKey.Passphrase.
const PassphraseLength = 16

// APIKeySecret is the one-time disclosure returned when a credential is issued
// or rotated. None of these values can be retrieved again.
type APIKeySecret struct {
	ID            string `json:"id"`
	Key           string `json:"key"`
	Secret        string `json:"secret"`
	Passphrase    string `json:"passphrase"`
	EncryptionKey string `json:"encryption_key"`
}
