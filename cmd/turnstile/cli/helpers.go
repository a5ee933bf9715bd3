package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/faucetdb/turnstile/internal/apikey"
	"github.com/faucetdb/turnstile/internal/config"
	"github.com/faucetdb/turnstile/internal/model"
	"github.com/faucetdb/turnstile/internal/store"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// resolveDataDir returns the data directory from --data-dir flag,
// TURNSTILE_DATA_DIR env var, or ~/.turnstile as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if envDir := os.Getenv("TURNSTILE_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".turnstile")
}

// loadSettings decodes the effective viper configuration and validates it.
func loadSettings() (config.Settings, error) {
	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return config.Settings{}, err
	}
	s, err := config.Parse(cfg)
	if err != nil {
		return config.Settings{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return s, nil
}

// openStore opens the configured store. SQLite without a DSN lives in the
// data directory.
func openStore(s config.Settings) (*store.Store, error) {
	if s.Store.Driver == store.DriverSQLite && s.Store.DSN == "" {
		return store.NewStore(resolveDataDir())
	}
	return store.Open(store.Options{
		Driver:          s.Store.Driver,
		DSN:             s.Store.DSN,
		MaxOpenConns:    s.Store.MaxOpenConns,
		MaxIdleConns:    s.Store.MaxIdleConns,
		ConnMaxLifetime: s.Store.ConnMaxLifetime,
	})
}

// openConfiguredStore loads settings and opens the store they describe.
func openConfiguredStore() (*store.Store, config.Settings, error) {
	s, err := loadSettings()
	if err != nil {
		return nil, s, err
	}
	st, err := openStore(s)
	if err != nil {
		return nil, s, fmt.Errorf("open store: %w", err)
	}
	return st, s, nil
}

// newKeyManager returns a credential manager without a lookup cache. A
// server running with api_key.cache_ttl set cannot see its changes until the
// ttl passes; see cacheNotice.
func newKeyManager(st *store.Store, s config.Settings) *apikey.Manager {
	return apikey.NewManager(st, s.APIKey.Env, nil)
}

// newLogger builds the process logger from the logging settings.
func newLogger(w io.Writer, s config.LoggingSettings) *slog.Logger {
	opts := &slog.HandlerOptions{Level: s.Level}
	if s.JSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// findRole resolves a role by name, falling back to its ID.
func findRole(ctx context.Context, st *store.Store, ref string) (*model.Role, error) {
	role, err := st.GetRoleByName(ctx, ref)
	if err == nil {
		return role, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	role, err = st.GetRole(ctx, ref)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("role %q not found", ref)
	}
	return role, err
}

// findUser resolves a user by email, falling back to its ID.
func findUser(ctx context.Context, st *store.Store, ref string) (*model.User, error) {
	if strings.Contains(ref, "@") {
		user, err := st.GetUserByEmail(ctx, ref)
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("user %q not found", ref)
		}
		return user, err
	}
	user, err := st.GetUser(ctx, ref)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("user %q not found", ref)
	}
	return user, err
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}

// cacheNotice warns that a running server may keep admitting the old
// credential record while its lookup cache holds it.
func cacheNotice(w io.Writer, s config.Settings) {
	if s.APIKey.CacheTTL > 0 && s.APIKey.CacheSize > 0 {
		fmt.Fprintf(w, "Note: servers with the credential cache enabled apply this change within %s.\n", s.APIKey.CacheTTL)
	}
}
