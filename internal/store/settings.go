package store

import (
	"context"
	"fmt"
)

// GetSetting returns the value stored under key.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var v string
	if err := s.get(ctx, &v, "get setting", "SELECT setting_value FROM settings WHERE setting_key = ?", key); err != nil {
		return "", err
	}
	return v, nil
}

// SetSetting stores value under key, replacing any previous value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(s.dialect.upsert), key, value); err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}
