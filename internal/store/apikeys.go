package store

import (
	"context"
	"fmt"
	"time"

	"github.com/faucetdb/turnstile/internal/model"
)

// ---------------------------------------------------------------------------
// API key CRUD
// ---------------------------------------------------------------------------

// CreateAPIKey inserts a new API key. An empty ID is generated; CreatedAt and
// UpdatedAt are populated.
func (s *Store) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	if key.ID == "" {
		id, err := newID()
		if err != nil {
			return err
		}
		key.ID = id
	}
	now := time.Now().UTC()
	key.CreatedAt = now
	key.UpdatedAt = now

	const q = `INSERT INTO api_keys
		(id, name, description, api_key, hash, encryption_key, passphrase, is_active, created_at, updated_at)
		VALUES
		(:id, :name, :description, :api_key, :hash, :encryption_key, :passphrase, :is_active, :created_at, :updated_at)`

	return s.insert(ctx, "insert api key", q, key)
}

// GetAPIKey returns an API key by ID.
func (s *Store) GetAPIKey(ctx context.Context, id string) (*model.APIKey, error) {
	var key model.APIKey
	if err := s.get(ctx, &key, "get api key", "SELECT * FROM api_keys WHERE id = ?", id); err != nil {
		return nil, err
	}
	return &key, nil
}

// GetAPIKeyByKey returns an API key by its public key.
func (s *Store) GetAPIKeyByKey(ctx context.Context, apiKey string) (*model.APIKey, error) {
	var key model.APIKey
	if err := s.get(ctx, &key, "get api key by key", "SELECT * FROM api_keys WHERE api_key = ?", apiKey); err != nil {
		return nil, err
	}
	return &key, nil
}

// ListAPIKeys returns all API keys, newest first.
func (s *Store) ListAPIKeys(ctx context.Context) ([]model.APIKey, error) {
	keys := []model.APIKey{}
	if err := s.db.SelectContext(ctx, &keys, "SELECT * FROM api_keys ORDER BY created_at DESC, id DESC"); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// UpdateAPIKey sets the name and description of an API key and returns the
// updated record.
func (s *Store) UpdateAPIKey(ctx context.Context, id, name, description string) (*model.APIKey, error) {
	if err := s.exec(ctx, "update api key",
		"UPDATE api_keys SET name = ?, description = ?, updated_at = ? WHERE id = ?",
		name, description, time.Now().UTC(), id); err != nil {
		return nil, err
	}
	return s.GetAPIKey(ctx, id)
}

// SetAPIKeyActive flips the active flag of an API key and returns the
// updated record.
func (s *Store) SetAPIKeyActive(ctx context.Context, id string, active bool) (*model.APIKey, error) {
	if err := s.exec(ctx, "set api key active",
		"UPDATE api_keys SET is_active = ?, updated_at = ? WHERE id = ?",
		active, time.Now().UTC(), id); err != nil {
		return nil, err
	}
	return s.GetAPIKey(ctx, id)
}

// RotateAPIKeySecret replaces the hash and cipher material of an API key and
// returns the updated record.
func (s *Store) RotateAPIKeySecret(ctx context.Context, id, hash, passphrase, encryptionKey string) (*model.APIKey, error) {
	if err := s.exec(ctx, "rotate api key",
		"UPDATE api_keys SET hash = ?, passphrase = ?, encryption_key = ?, updated_at = ? WHERE id = ?",
		hash, passphrase, encryptionKey, time.Now().UTC(), id); err != nil {
		return nil, err
	}
	return s.GetAPIKey(ctx, id)
}

// DeleteAPIKey removes an API key and returns the removed record.
func (s *Store) DeleteAPIKey(ctx context.Context, id string) (*model.APIKey, error) {
	key, err := s.GetAPIKey(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.exec(ctx, "delete api key", "DELETE FROM api_keys WHERE id = ?", id); err != nil {
		return nil, err
	}
	return key, nil
}

// DeleteAllAPIKeys removes every API key and returns how many were removed.
func (s *Store) DeleteAllAPIKeys(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM api_keys")
	if err != nil {
		return 0, fmt.Errorf("delete api keys: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete api keys rows affected: %w", err)
	}
	return n, nil
}
