package apikey

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/faucetdb/turnstile/internal/autherr"
	"github.com/faucetdb/turnstile/internal/model"
	"github.com/faucetdb/turnstile/internal/store"
)

// ErrInvalidPassphrase is returned when a caller-supplied passphrase is not
// exactly model.PassphraseLength characters long.
var ErrInvalidPassphrase = fmt.Errorf("passphrase must be exactly %d characters", model.PassphraseLength)

// CredentialStore persists credentials. Every mutation returns the new state
// of the record it touched.
type CredentialStore interface {
	CredentialFinder
	CreateAPIKey(ctx context.Context, key *model.APIKey) error
	GetAPIKey(ctx context.Context, id string) (*model.APIKey, error)
	ListAPIKeys(ctx context.Context) ([]model.APIKey, error)
	UpdateAPIKey(ctx context.Context, id, name, description string) (*model.APIKey, error)
	SetAPIKeyActive(ctx context.Context, id string, active bool) (*model.APIKey, error)
	RotateAPIKeySecret(ctx context.Context, id, hash, passphrase, encryptionKey string) (*model.APIKey, error)
	DeleteAPIKey(ctx context.Context, id string) (*model.APIKey, error)
	DeleteAllAPIKeys(ctx context.Context) (int64, error)
}

// IssueRequest describes a credential to issue. Empty material fields are
// generated.
type IssueRequest struct {
	Name          string
	Description   string
	Key           string
	Secret        string
	Passphrase    string
	EncryptionKey string
}

// Manager owns the credential lifecycle and keeps the lookup cache coherent
// with the store.
type Manager struct {
	store CredentialStore
	env   string
	cache *CachedFinder
}

// NewManager returns a Manager. cache may be nil.
func NewManager(s CredentialStore, env string, cache *CachedFinder) *Manager {
	return &Manager{store: s, env: env, cache: cache}
}

// Issue creates and stores a new active credential. The returned secret is
// the only time Secret, Passphrase and EncryptionKey are disclosed.
func (m *Manager) Issue(ctx context.Context, req IssueRequest) (*model.APIKey, model.APIKeySecret, error) {
	if req.Passphrase != "" && len(req.Passphrase) != model.PassphraseLength {
		return nil, model.APIKeySecret{}, ErrInvalidPassphrase
	}

	mat, err := Generate(m.env)
	if err != nil {
		return nil, model.APIKeySecret{}, err
	}
	if req.Key != "" {
		mat.Key = req.Key
	}
	if req.Secret != "" {
		mat.Secret = req.Secret
	}
	if req.Passphrase != "" {
		mat.Passphrase = req.Passphrase
	}
	if req.EncryptionKey != "" {
		mat.EncryptionKey = req.EncryptionKey
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, model.APIKeySecret{}, fmt.Errorf("generate id: %w", err)
	}
	cred := &model.APIKey{
		ID:            id.String(),
		Name:          req.Name,
		Description:   req.Description,
		Key:           mat.Key,
		Hash:          CredentialHash(mat.Key, mat.Secret),
		EncryptionKey: mat.EncryptionKey,
		Passphrase:    mat.Passphrase,
		IsActive:      true,
	}
	if err := m.store.CreateAPIKey(ctx, cred); err != nil {
		return nil, model.APIKeySecret{}, fmt.Errorf("issue api key: %w", err)
	}
	m.invalidate(cred.Key)

	return cred, model.APIKeySecret{
		ID:            cred.ID,
		Key:           cred.Key,
		Secret:        mat.Secret,
		Passphrase:    mat.Passphrase,
		EncryptionKey: mat.EncryptionKey,
	}, nil
}

// Get returns a credential by ID.
func (m *Manager) Get(ctx context.Context, id string) (*model.APIKey, error) {
	cred, err := m.store.GetAPIKey(ctx, id)
	if err != nil {
		return nil, notFound("apikey.get", err)
	}
	return cred, nil
}

// List returns every credential.
func (m *Manager) List(ctx context.Context) ([]model.APIKey, error) {
	return m.store.ListAPIKeys(ctx)
}

// Update changes a credential's name and description.
func (m *Manager) Update(ctx context.Context, id, name, description string) (*model.APIKey, error) {
	cred, err := m.store.UpdateAPIKey(ctx, id, name, description)
	if err != nil {
		return nil, notFound("apikey.update", err)
	}
	m.invalidate(cred.Key)
	return cred, nil
}

// Activate marks a credential active.
func (m *Manager) Activate(ctx context.Context, id string) (*model.APIKey, error) {
	return m.setActive(ctx, id, true)
}

// Deactivate marks a credential inactive. Requests signed with it fail with
// InactiveCredential from then on.
func (m *Manager) Deactivate(ctx context.Context, id string) (*model.APIKey, error) {
	return m.setActive(ctx, id, false)
}

func (m *Manager) setActive(ctx context.Context, id string, active bool) (*model.APIKey, error) {
	cred, err := m.store.SetAPIKeyActive(ctx, id, active)
	if err != nil {
		return nil, notFound("apikey.set_active", err)
	}
	m.invalidate(cred.Key)
	return cred, nil
}

// Rotate replaces the secret, passphrase and encryption key of a credential.
// The public key is kept.
func (m *Manager) Rotate(ctx context.Context, id string) (*model.APIKey, model.APIKeySecret, error) {
	cur, err := m.store.GetAPIKey(ctx, id)
	if err != nil {
		return nil, model.APIKeySecret{}, notFound("apikey.rotate", err)
	}

	secret, passphrase, encKey, err := generateSecrets(m.env)
	if err != nil {
		return nil, model.APIKeySecret{}, err
	}
	cred, err := m.store.RotateAPIKeySecret(ctx, id, CredentialHash(cur.Key, secret), passphrase, encKey)
	if err != nil {
		return nil, model.APIKeySecret{}, notFound("apikey.rotate", err)
	}
	m.invalidate(cred.Key)

	return cred, model.APIKeySecret{
		ID:            cred.ID,
		Key:           cred.Key,
		Secret:        secret,
		Passphrase:    passphrase,
		EncryptionKey: encKey,
	}, nil
}

// Delete removes a credential and returns what was removed.
func (m *Manager) Delete(ctx context.Context, id string) (*model.APIKey, error) {
	cred, err := m.store.DeleteAPIKey(ctx, id)
	if err != nil {
		return nil, notFound("apikey.delete", err)
	}
	m.invalidate(cred.Key)
	return cred, nil
}

// DeleteAll removes every credential.
func (m *Manager) DeleteAll(ctx context.Context) (int64, error) {
	n, err := m.store.DeleteAllAPIKeys(ctx)
	if err != nil {
		return 0, err
	}
	if m.cache != nil {
		m.cache.Purge()
	}
	return n, nil
}

func (m *Manager) invalidate(key string) {
	if m.cache != nil {
		m.cache.Invalidate(key)
	}
}

func notFound(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return autherr.Wrap(autherr.KindCredentialNotFound, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
