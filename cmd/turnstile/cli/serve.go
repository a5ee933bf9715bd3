package cli

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/faucetdb/turnstile/internal/apikey"
	"github.com/faucetdb/turnstile/internal/config"
	"github.com/faucetdb/turnstile/internal/permission"
	"github.com/faucetdb/turnstile/internal/server"
	"github.com/faucetdb/turnstile/internal/store"
	"github.com/faucetdb/turnstile/internal/token"
)

// settingJWTSecret is the settings key holding the generated signing secret.
const settingJWTSecret = "auth.jwt_secret"

const banner = `
 _____ _   _ ___ _  _ ___ _____ ___ _    ___
|_   _| | | | _ \ \| / __|_   _|_ _| |  | __|
  | | | |_| |   / .' \__ \ | |  | || |__| _|
  |_|  \___/|_|_\_|\_|___/ |_| |___|____|___|
`

func newServeCmd() *cobra.Command {
	var dev bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Turnstile API server",
		Long:  "Start the HTTP server that exposes the account API behind the API key and JWT guard chain.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.OutOrStdout(), dev)
		},
	}

	cmd.Flags().IntP("port", "p", 8080, "HTTP listen port")
	cmd.Flags().String("host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (debug logging)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(out io.Writer, dev bool) error {
	fmt.Fprint(out, banner)
	fmt.Fprintln(out)

	settings, err := loadSettings()
	if err != nil {
		return err
	}
	if dev {
		settings.Logging.Level = slog.LevelDebug
	}
	logger := newLogger(os.Stderr, settings.Logging)
	slog.SetDefault(logger)

	ctx := context.Background()

	// 1. Open the store and make sure the permission catalog exists
	st, err := openStore(settings)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	logger.Info("store initialized", "driver", st.Driver())

	created, err := st.EnsurePermissions(ctx, permission.Defaults())
	if err != nil {
		return fmt.Errorf("seed permissions: %w", err)
	}
	if created > 0 {
		logger.Info("seeded permissions", "count", created)
	}

	// 2. Resolve the token signing secret
	secret, err := resolveJWTSecret(ctx, st, settings.Auth.JWTSecret)
	if err != nil {
		return err
	}
	if settings.Auth.JWTSecret == "" {
		logger.Warn("auth.jwt_secret not configured, using the secret persisted in the store")
	}

	// 3. Credential lookup, optionally cached
	finder, cache := newCredentialFinder(st, settings.APIKey)
	if cache != nil {
		logger.Warn("credential cache enabled; key changes made by other processes apply after the ttl",
			"size", settings.APIKey.CacheSize, "ttl", settings.APIKey.CacheTTL)
	}

	deps := server.Deps{
		Store:         st,
		Keys:          apikey.NewManager(st, settings.APIKey.Env, cache),
		Authenticator: apikey.NewAuthenticator(finder, settings.APIKey.Window),
		Issuer: token.NewIssuer(token.Config{
			Secret:               secret,
			Issuer:               settings.Auth.Issuer,
			Audience:             settings.Auth.Audience,
			AccessTTL:            settings.Auth.AccessTTL,
			RefreshTTL:           settings.Auth.RefreshTTL,
			RefreshRememberMeTTL: settings.Auth.RefreshRememberMeTTL,
			RefreshNotBefore:     settings.Auth.RefreshNotBefore,
		}),
		Passwords: token.NewPasswords(settings.Auth.PasswordExpiry),
		Evaluator: permission.NewEvaluator(),
	}

	// 4. Build and start HTTP server
	server.Version = versionString()
	srv, err := server.New(server.ConfigFrom(settings), deps, logger)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	scheme := "http"
	if settings.Server.TLS.Enabled {
		scheme = "https"
	}
	fmt.Fprintf(out, "→ Turnstile %s\n", versionString())
	fmt.Fprintf(out, "→ Listening on %s://%s\n", scheme, settings.Server.Addr)
	fmt.Fprintf(out, "→ API:        %s://%s%s\n", scheme, settings.Server.Addr, server.APIPrefix)
	fmt.Fprintf(out, "→ OpenAPI:    %s://%s/openapi.json\n", scheme, settings.Server.Addr)
	fmt.Fprintf(out, "→ Health:     %s://%s/healthz\n", scheme, settings.Server.Addr)
	fmt.Fprintf(out, "→ Key env:    %s\n", settings.APIKey.Env)
	fmt.Fprintln(out)

	return srv.ListenAndServe()
}

// newCredentialFinder returns the lookup used by the authenticator. The cache
// is nil unless both cache_size and cache_ttl are set.
func newCredentialFinder(st *store.Store, s config.APIKeySettings) (apikey.CredentialFinder, *apikey.CachedFinder) {
	if s.CacheTTL <= 0 || s.CacheSize <= 0 {
		return st, nil
	}
	cache := apikey.NewCachedFinder(st, s.CacheSize, s.CacheTTL)
	return cache, cache
}

// resolveJWTSecret returns the configured secret, or the one persisted in the
// store, generating and persisting it on first start.
func resolveJWTSecret(ctx context.Context, st *store.Store, configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	secret, err := st.GetSetting(ctx, settingJWTSecret)
	if err == nil && secret != "" {
		return secret, nil
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("load jwt secret: %w", err)
	}

	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate jwt secret: %w", err)
	}
	secret = hex.EncodeToString(b)
	if err := st.SetSetting(ctx, settingJWTSecret, secret); err != nil {
		return "", fmt.Errorf("persist jwt secret: %w", err)
	}
	return secret, nil
}
