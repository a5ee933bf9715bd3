package store

import (
	"fmt"
	"strings"
)

// dialect holds the per-backend column types and the few statements that
// cannot be written portably.
type dialect struct {
	name      string
	sqlDriver string
	boolType  string
	timeType  string
	upsert    string // settings upsert
}

var dialects = map[string]dialect{
	DriverSQLite: {
		name:      DriverSQLite,
		sqlDriver: "sqlite",
		boolType:  "INTEGER",
		timeType:  "DATETIME",
		upsert: `INSERT INTO settings (setting_key, setting_value) VALUES (?, ?)
			ON CONFLICT(setting_key) DO UPDATE SET setting_value = excluded.setting_value`,
	},
	DriverPostgres: {
		name:      DriverPostgres,
		sqlDriver: "pgx",
		boolType:  "BOOLEAN",
		timeType:  "TIMESTAMPTZ",
		upsert: `INSERT INTO settings (setting_key, setting_value) VALUES (?, ?)
			ON CONFLICT (setting_key) DO UPDATE SET setting_value = EXCLUDED.setting_value`,
	},
	DriverMySQL: {
		name:      DriverMySQL,
		sqlDriver: "mysql",
		boolType:  "BOOLEAN",
		timeType:  "DATETIME(6)",
		upsert: `INSERT INTO settings (setting_key, setting_value) VALUES (?, ?)
			ON DUPLICATE KEY UPDATE setting_value = VALUES(setting_value)`,
	},
}

func (s *Store) migrate() error {
	r := strings.NewReplacer(
		"{{bool}}", s.dialect.boolType,
		"{{time}}", s.dialect.timeType,
	)

	migrations := []string{
		// Key-value settings (persisted JWT secret, instance data).
		`CREATE TABLE IF NOT EXISTS settings (
			setting_key VARCHAR(191) PRIMARY KEY,
			setting_value TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS api_keys (
			id VARCHAR(36) PRIMARY KEY,
			name VARCHAR(100) NOT NULL,
			description TEXT NOT NULL,
			api_key VARCHAR(100) NOT NULL UNIQUE,
			hash VARCHAR(64) NOT NULL,
			encryption_key VARCHAR(100) NOT NULL,
			passphrase VARCHAR(16) NOT NULL,
			is_active {{bool}} NOT NULL,
			created_at {{time}} NOT NULL,
			updated_at {{time}} NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS roles (
			id VARCHAR(36) PRIMARY KEY,
			name VARCHAR(100) NOT NULL UNIQUE,
			description TEXT NOT NULL,
			is_active {{bool}} NOT NULL,
			is_admin {{bool}} NOT NULL,
			created_at {{time}} NOT NULL,
			updated_at {{time}} NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS permissions (
			id VARCHAR(36) PRIMARY KEY,
			code VARCHAR(100) NOT NULL UNIQUE,
			description TEXT NOT NULL,
			is_active {{bool}} NOT NULL,
			created_at {{time}} NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS role_permissions (
			role_id VARCHAR(36) NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
			permission_id VARCHAR(36) NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
			PRIMARY KEY (role_id, permission_id)
		)`,

		`CREATE TABLE IF NOT EXISTS users (
			id VARCHAR(36) PRIMARY KEY,
			email VARCHAR(255) NOT NULL UNIQUE,
			first_name VARCHAR(100) NOT NULL,
			last_name VARCHAR(100) NOT NULL,
			mobile_number VARCHAR(20) NOT NULL,
			role_id VARCHAR(36) NOT NULL REFERENCES roles(id),
			password_hash VARCHAR(128) NOT NULL,
			salt VARCHAR(64) NOT NULL,
			password_expiration {{time}} NOT NULL,
			is_active {{bool}} NOT NULL,
			created_at {{time}} NOT NULL,
			updated_at {{time}} NOT NULL
		)`,
	}

	for _, m := range migrations {
		stmt := r.Replace(m)
		if _, err := s.db.Exec(stmt); err != nil {
			// Re-running an ALTER or CREATE against an existing schema is a
			// no-op for idempotent migrations.
			msg := err.Error()
			if strings.Contains(msg, "duplicate column") || strings.Contains(msg, "already exists") {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, stmt)
		}
	}
	return nil
}
