package config

import (
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Settings is the parsed, validated configuration. It is built once at
// startup and handed to constructors by value.
type Settings struct {
	Server    ServerSettings
	Auth      AuthSettings
	APIKey    APIKeySettings
	Store     StoreSettings
	RateLimit RateLimitSettings
	Logging   LoggingSettings
}

// ServerSettings are the parsed server options.
type ServerSettings struct {
	Addr            string
	MaxBodySize     int64
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	CORSMethods     []string
	TLS             TLSConfig
}

// AuthSettings are the parsed token and password options.
type AuthSettings struct {
	JWTSecret            string
	Issuer               string
	Audience             string
	AccessTTL            time.Duration
	RefreshTTL           time.Duration
	RefreshRememberMeTTL time.Duration
	RefreshNotBefore     time.Duration
	PasswordExpiry       time.Duration
}

// APIKeySettings are the parsed API key protocol options. A zero CacheTTL
// disables the credential cache.
type APIKeySettings struct {
	Env       string
	Window    time.Duration
	CacheSize int
	CacheTTL  time.Duration
}

// StoreSettings are the parsed database options.
type StoreSettings struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RateLimitSettings are the parsed throttling options.
type RateLimitSettings struct {
	Enabled         bool
	AuthPerMinute   int
	APIKeyPerMinute int
}

// LoggingSettings are the parsed log options.
type LoggingSettings struct {
	Level slog.Level
	JSON  bool
}

// Parse validates cfg and converts it into Settings.
func Parse(cfg *YAMLConfig) (Settings, error) {
	var (
		s   Settings
		err error
	)
	d := durations{}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return s, fmt.Errorf("server.port: %d out of range", cfg.Server.Port)
	}
	s.Server.Addr = net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	if cfg.Server.MaxBodySize != "" {
		n, err := humanize.ParseBytes(cfg.Server.MaxBodySize)
		if err != nil {
			return s, fmt.Errorf("server.max_body_size: %w", err)
		}
		s.Server.MaxBodySize = int64(n)
	}
	s.Server.ShutdownTimeout = d.parse("server.shutdown_timeout", cfg.Server.ShutdownTimeout)
	s.Server.CORSOrigins = slices.Clone(cfg.Server.CORS.Origins)
	s.Server.CORSMethods = slices.Clone(cfg.Server.CORS.Methods)
	s.Server.TLS = cfg.Server.TLS
	if s.Server.TLS.Enabled && (s.Server.TLS.CertFile == "" || s.Server.TLS.KeyFile == "") {
		return s, fmt.Errorf("server.tls: cert_file and key_file are required when enabled")
	}

	s.Auth = AuthSettings{
		JWTSecret:            cfg.Auth.JWTSecret,
		Issuer:               cfg.Auth.Issuer,
		Audience:             cfg.Auth.Audience,
		AccessTTL:            d.parse("auth.access_ttl", cfg.Auth.AccessTTL),
		RefreshTTL:           d.parse("auth.refresh_ttl", cfg.Auth.RefreshTTL),
		RefreshRememberMeTTL: d.parse("auth.refresh_remember_me_ttl", cfg.Auth.RefreshRememberMeTTL),
		RefreshNotBefore:     d.parse("auth.refresh_not_before", cfg.Auth.RefreshNotBefore),
		PasswordExpiry:       d.parse("auth.password_expiry", cfg.Auth.PasswordExpiry),
	}

	env := strings.ToLower(strings.TrimSpace(cfg.APIKey.Env))
	if env != "production" && env != "development" {
		return s, fmt.Errorf("api_key.env: %q must be production or development", cfg.APIKey.Env)
	}
	s.APIKey = APIKeySettings{
		Env:       env,
		Window:    d.parse("api_key.window", cfg.APIKey.Window),
		CacheSize: cfg.APIKey.CacheSize,
		CacheTTL:  d.parse("api_key.cache_ttl", cfg.APIKey.CacheTTL),
	}

	s.Store = StoreSettings{
		Driver:          strings.ToLower(cfg.Store.Driver),
		DSN:             cfg.Store.DSN,
		MaxOpenConns:    cfg.Store.MaxOpenConns,
		MaxIdleConns:    cfg.Store.MaxIdleConns,
		ConnMaxLifetime: d.parse("store.conn_max_lifetime", cfg.Store.ConnMaxLifetime),
	}
	if s.Store.Driver != "sqlite" && s.Store.DSN == "" {
		return s, fmt.Errorf("store.dsn is required for driver %q", s.Store.Driver)
	}

	s.RateLimit = RateLimitSettings{
		Enabled:         cfg.RateLimit.Enabled,
		AuthPerMinute:   cfg.RateLimit.AuthPerMinute,
		APIKeyPerMinute: cfg.RateLimit.APIKeyPerMinute,
	}

	if cfg.Logging.Level != "" {
		if err = s.Logging.Level.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
			return s, fmt.Errorf("logging.level: %w", err)
		}
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "", "text":
	case "json":
		s.Logging.JSON = true
	default:
		return s, fmt.Errorf("logging.format: %q must be text or json", cfg.Logging.Format)
	}

	if d.err != nil {
		return Settings{}, d.err
	}
	return s, nil
}

// durations parses a run of duration fields and keeps the first error.
type durations struct {
	err error
}

func (d *durations) parse(field, value string) time.Duration {
	if value == "" || d.err != nil {
		return 0
	}
	v, err := time.ParseDuration(value)
	if err != nil {
		d.err = fmt.Errorf("%s: %w", field, err)
		return 0
	}
	if v < 0 {
		d.err = fmt.Errorf("%s: must not be negative", field)
		return 0
	}
	return v
}
