package config

import (
	"fmt"
	"os"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// YAMLConfig represents the top-level turnstile configuration file.
type YAMLConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	APIKey    APIKeyConfig    `yaml:"api_key"`
	Store     StoreConfig     `yaml:"store"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string     `yaml:"host"`
	Port            int        `yaml:"port"`
	MaxBodySize     string     `yaml:"max_body_size"`
	ShutdownTimeout string     `yaml:"shutdown_timeout"`
	CORS            CORSConfig `yaml:"cors"`
	TLS             TLSConfig  `yaml:"tls"`
}

// CORSConfig controls cross-origin resource sharing settings.
type CORSConfig struct {
	Origins []string `yaml:"origins"`
	Methods []string `yaml:"methods"`
}

// TLSConfig controls TLS termination at the server level.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// AuthConfig controls bearer token issuance and password policy.
type AuthConfig struct {
	JWTSecret            string `yaml:"jwt_secret"`
	Issuer               string `yaml:"issuer"`
	Audience             string `yaml:"audience"`
	AccessTTL            string `yaml:"access_ttl"`
	RefreshTTL           string `yaml:"refresh_ttl"`
	RefreshRememberMeTTL string `yaml:"refresh_remember_me_ttl"`
	RefreshNotBefore     string `yaml:"refresh_not_before"`
	PasswordExpiry       string `yaml:"password_expiry"`
}

// APIKeyConfig controls the signed API key protocol. A non-zero CacheTTL
// turns on the credential cache; key changes made outside the serving
// process then take up to CacheTTL to be enforced.
type APIKeyConfig struct {
	Env       string `yaml:"env"`
	Window    string `yaml:"window"`
	CacheSize int    `yaml:"cache_size"`
	CacheTTL  string `yaml:"cache_ttl"`
}

// StoreConfig selects the account database.
type StoreConfig struct {
	Driver          string `yaml:"driver"`
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime string `yaml:"conn_max_lifetime"`
}

// RateLimitConfig controls request throttling. Zero limits disable the
// corresponding limiter.
type RateLimitConfig struct {
	Enabled         bool `yaml:"enabled"`
	AuthPerMinute   int  `yaml:"auth_per_minute"`
	APIKeyPerMinute int  `yaml:"api_key_per_minute"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadYAMLConfig reads and parses a YAML configuration file. Environment
// variables referenced as ${VAR_NAME} in the file are expanded before parsing.
// Fields absent from the file keep their defaults.
func LoadYAMLConfig(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables: ${VAR_NAME}
	content := os.ExpandEnv(string(data))

	cfg := DefaultYAMLConfig()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// FromViper decodes the effective viper configuration on top of the
// defaults. Keys follow the yaml tags, so "auth.jwt_secret" is also read from
// TURNSTILE_AUTH_JWT_SECRET when the env prefix is set.
func FromViper(v *viper.Viper) (*YAMLConfig, error) {
	cfg := DefaultYAMLConfig()
	SetDefaults(v, cfg)

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "yaml",
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToSliceHookFunc(","),
	})
	if err != nil {
		return nil, fmt.Errorf("config decoder: %w", err)
	}
	if err := dec.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// SetDefaults registers every key of cfg with v so that AutomaticEnv can
// resolve keys that appear in no config file.
func SetDefaults(v *viper.Viper, cfg *YAMLConfig) {
	setNested(v, "", toMap(cfg))
}

func toMap(cfg *YAMLConfig) map[string]interface{} {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil
	}
	var m map[string]interface{}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

func setNested(v *viper.Viper, prefix string, m map[string]interface{}) {
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]interface{}); ok {
			setNested(v, key, sub)
			continue
		}
		v.SetDefault(key, val)
	}
}

// DefaultYAMLConfig returns a YAMLConfig pre-filled with sensible defaults.
func DefaultYAMLConfig() *YAMLConfig {
	return &YAMLConfig{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			MaxBodySize:     "1MB",
			ShutdownTimeout: "30s",
			CORS: CORSConfig{
				Origins: []string{"*"},
				Methods: []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
			},
		},
		Auth: AuthConfig{
			Issuer:               "turnstile",
			AccessTTL:            "30m",
			RefreshTTL:           "24h",
			RefreshRememberMeTTL: "720h",
			RefreshNotBefore:     "0s",
			PasswordExpiry:       "4368h",
		},
		APIKey: APIKeyConfig{
			Env:       "development",
			Window:    "5m",
			CacheSize: 256,
			CacheTTL:  "0s",
		},
		Store: StoreConfig{
			Driver:          "sqlite",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: "5m",
		},
		RateLimit: RateLimitConfig{
			Enabled:         true,
			AuthPerMinute:   20,
			APIKeyPerMinute: 600,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// WriteDefaultConfig writes the default configuration to a YAML file.
func WriteDefaultConfig(path string) error {
	data, err := yaml.Marshal(DefaultYAMLConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
