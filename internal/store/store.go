// Package store persists turnstile's accounts and credentials: API keys,
// users, roles, permissions and a small settings table. SQLite, PostgreSQL
// and MySQL are supported through one portable set of queries.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// Options selects and tunes the backing database.
type Options struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store is the sqlx-backed persistence layer.
type Store struct {
	db      *sqlx.DB
	dialect dialect
}

// NewStore opens a SQLite store under dataDir. Pass empty string for
// in-memory.
func NewStore(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == "" {
		dsn = ":memory:?_journal_mode=WAL"
	} else {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "turnstile.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	}
	return Open(Options{Driver: DriverSQLite, DSN: dsn})
}

// Open connects to the database described by opts and applies migrations.
func Open(opts Options) (*Store, error) {
	d, ok := dialects[opts.Driver]
	if !ok {
		return nil, fmt.Errorf("unsupported store driver %q", opts.Driver)
	}

	dsn := opts.DSN
	if opts.Driver == DriverMySQL {
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse mysql dsn: %w", err)
		}
		// Timestamps must scan into time.Time, and updates that change
		// nothing must still report the matched row.
		cfg.ParseTime = true
		cfg.Loc = time.UTC
		cfg.ClientFoundRows = true
		dsn = cfg.FormatDSN()
	}

	db, err := sqlx.Connect(d.sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", opts.Driver, err)
	}

	if opts.Driver == DriverSQLite {
		db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

		// Enable foreign keys (off by default in SQLite).
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	} else {
		if opts.MaxOpenConns > 0 {
			db.SetMaxOpenConns(opts.MaxOpenConns)
		}
		if opts.MaxIdleConns > 0 {
			db.SetMaxIdleConns(opts.MaxIdleConns)
		}
		if opts.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(opts.ConnMaxLifetime)
		}
	}

	s := &Store{db: db, dialect: d}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Driver returns the configured driver name.
func (s *Store) Driver() string {
	return s.dialect.name
}

func (s *Store) rebind(q string) string {
	return s.db.Rebind(q)
}

// get runs a single-row query, translating sql.ErrNoRows into ErrNotFound.
func (s *Store) get(ctx context.Context, dest interface{}, what, q string, args ...interface{}) error {
	if err := s.db.GetContext(ctx, dest, s.rebind(q), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%s: %w", what, ErrNotFound)
		}
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}

// exec runs a statement that must touch at least one row.
func (s *Store) exec(ctx context.Context, what, q string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, s.rebind(q), args...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", what, ErrConflict)
		}
		return fmt.Errorf("%s: %w", what, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

// insert runs a named insert, translating unique violations into ErrConflict.
func (s *Store) insert(ctx context.Context, what, q string, arg interface{}) error {
	if _, err := s.db.NamedExecContext(ctx, q, arg); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", what, ErrConflict)
		}
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}

func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return id.String(), nil
}
