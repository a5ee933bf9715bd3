package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/faucetdb/turnstile/internal/apikey"
	"github.com/faucetdb/turnstile/internal/config"
	"github.com/faucetdb/turnstile/internal/guard"
	"github.com/faucetdb/turnstile/internal/openapi"
	"github.com/faucetdb/turnstile/internal/permission"
	"github.com/faucetdb/turnstile/internal/server/middleware"
	"github.com/faucetdb/turnstile/internal/store"
	"github.com/faucetdb/turnstile/internal/token"
)

// Version is reported in the OpenAPI document. It is set by the CLI.
var Version = "dev"

// Config holds the HTTP server configuration.
type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	CORSMethods     []string
	MaxBodySize     int64 // bytes
	TLS             config.TLSConfig
	RateLimit       config.RateLimitSettings
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Addr:            "0.0.0.0:8080",
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		CORSMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		MaxBodySize:     1 << 20,
		RateLimit: config.RateLimitSettings{
			Enabled:         true,
			AuthPerMinute:   20,
			APIKeyPerMinute: 600,
		},
	}
}

// ConfigFrom derives the server configuration from parsed settings.
func ConfigFrom(s config.Settings) Config {
	return Config{
		Addr:            s.Server.Addr,
		ShutdownTimeout: s.Server.ShutdownTimeout,
		CORSOrigins:     s.Server.CORSOrigins,
		CORSMethods:     s.Server.CORSMethods,
		MaxBodySize:     s.Server.MaxBodySize,
		TLS:             s.Server.TLS,
		RateLimit:       s.RateLimit,
	}
}

// Deps are the collaborators the server routes to.
type Deps struct {
	Store         *store.Store
	Keys          *apikey.Manager
	Authenticator guard.KeyAuthenticator
	Issuer        *token.Issuer
	Passwords     *token.Passwords
	// Evaluator and Now may be nil.
	Evaluator *permission.Evaluator
	Now       func() time.Time
}

// Server is the top-level HTTP server. It owns the Chi router, the guard
// chain and the generated OpenAPI document.
type Server struct {
	cfg        Config
	deps       Deps
	router     chi.Router
	chain      *guard.Chain
	doc        []byte
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, deps Deps, logger *slog.Logger) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		chain:  guard.NewChain(deps.Authenticator, deps.Issuer, deps.Store, deps.Evaluator),
	}
	if err := s.setupRouter(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) setupRouter() error {
	routes := s.routes()

	doc, err := openapi.Generate(openapi.Info{
		Title:       "Turnstile API",
		Description: "Account API protected by signed API keys and JWT sessions.",
		Version:     Version,
	}, operations(routes))
	if err != nil {
		return fmt.Errorf("generate openapi document: %w", err)
	}
	s.doc, err = json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode openapi document: %w", err)
	}

	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: s.cfg.CORSMethods,
		AllowedHeaders: []string{
			"Accept", "Content-Type", "X-Requested-With", middleware.HeaderRequestID,
			middleware.HeaderAuthorization, middleware.HeaderAPIKey, middleware.HeaderTimestamp,
			"x-timezone",
		},
		ExposedHeaders:   []string{middleware.HeaderRequestID},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))
	if s.cfg.MaxBodySize > 0 {
		r.Use(chimw.RequestSize(s.cfg.MaxBodySize))
	}

	// --- Health checks and document (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/openapi.json", s.handleOpenAPI)

	// --- API routes ---
	r.Group(func(r chi.Router) {
		var authLimit, keyLimit func(http.Handler) http.Handler
		if s.cfg.RateLimit.Enabled {
			if n := s.cfg.RateLimit.AuthPerMinute; n > 0 {
				// One limiter shared by every auth route.
				authLimit = middleware.RateLimit(n)
			}
			if n := s.cfg.RateLimit.APIKeyPerMinute; n > 0 {
				// Shared too; it counts only what the guard admitted.
				keyLimit = middleware.RateLimitByAPIKey(n)
			}
		}

		for _, rt := range routes {
			var mws []func(http.Handler) http.Handler
			if rt.authLimited && authLimit != nil {
				mws = append(mws, authLimit)
			}
			mws = append(mws, middleware.Guard(s.chain, rt.Policy, s.logger))
			if keyLimit != nil {
				mws = append(mws, keyLimit)
			}
			r.With(mws...).Method(rt.Method, rt.Path, rt.handler)
		}
	})

	s.router = r
	return nil
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the store answers a
// ping, or 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	checks := map[string]string{"store": "ok"}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.deps.Store.Ping(ctx); err != nil {
		checks["store"] = "error: " + err.Error()
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(s.doc)
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests.
func (s *Server) ListenAndServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Serve(ctx)
}

// Serve runs the HTTP server until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Start server in background goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", s.cfg.Addr, "tls", s.cfg.TLS.Enabled)
		var err error
		if s.cfg.TLS.Enabled {
			err = s.httpServer.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
