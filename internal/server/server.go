// ABOUTME: Server wires the store, issuer, login service and HTTP routes together
// ABOUTME: Owns the HTTP listener, the expiry sweeper and graceful shutdown

package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/2389/cachet/internal/auth"
	"github.com/2389/cachet/internal/config"
	"github.com/2389/cachet/internal/lnurl"
	"github.com/2389/cachet/internal/login"
	"github.com/2389/cachet/internal/store"
)

// shutdownTimeout bounds graceful shutdown after the run context ends.
const shutdownTimeout = 5 * time.Second

// Server is the cachet HTTP service.
type Server struct {
	config     *config.Config
	store      store.Backend
	issuer     *auth.SessionIssuer
	login      *login.Service
	sweeper    *Sweeper
	handler    http.Handler
	httpServer *http.Server
	validate   *validator.Validate
	logger     *slog.Logger
}

// New opens the configured backend and builds a Server around it.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	backend, err := store.Open(ctx, cfg.Database, cfg.Challenges.MaxPending)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	s, err := NewWithStore(cfg, backend, logger)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return s, nil
}

// NewWithStore builds a Server on an already open backend. The Server takes
// ownership of backend and closes it on Shutdown.
func NewWithStore(cfg *config.Config, backend store.Backend, logger *slog.Logger) (*Server, error) {
	issuer, err := auth.NewSessionIssuer([]byte(cfg.Auth.JWTSecret), cfg.Auth.SessionTTL)
	if err != nil {
		return nil, fmt.Errorf("creating session issuer: %w", err)
	}

	callback := lnurl.CallbackURL(cfg.Server.BaseURL)
	svc, err := login.New(login.Config{
		Challenges:   backend,
		Users:        backend,
		Verifier:     auth.NewSecp256k1Verifier(),
		Issuer:       issuer,
		CallbackURL:  callback,
		ChallengeTTL: cfg.Challenges.TTL,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating login service: %w", err)
	}

	sweeper, err := NewSweeper(backend, cfg.Challenges.SweepInterval, logger)
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:   cfg,
		store:    backend,
		issuer:   issuer,
		login:    svc,
		sweeper:  sweeper,
		validate: validator.New(),
		logger:   logger.With("component", "server"),
	}

	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/ready", s.handleReady)

	// LNURL-auth flow
	mux.HandleFunc("GET /login", s.handleLogin)
	mux.HandleFunc("GET /login/{k1}", s.handlePoll)
	mux.HandleFunc("GET /auth", s.handleCallback)

	// Session-authenticated API
	mux.Handle("GET /api/me", auth.BearerMiddleware(issuer)(http.HandlerFunc(s.handleMe)))

	s.handler = withCORS(cfg.Server.AllowedOrigins, accessLog(s.logger, mux))
	s.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	s.logger.Info("server configured",
		"callback", callback,
		"driver", cfg.Database.Driver,
		"challenge_ttl", cfg.Challenges.TTL,
		"session_ttl", cfg.Auth.SessionTTL,
	)
	return s, nil
}

// Handler returns the root HTTP handler, middleware included.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Issuer returns the session issuer.
func (s *Server) Issuer() *auth.SessionIssuer {
	return s.issuer
}

// Run listens on the configured address and serves until ctx is canceled
// or the listener fails, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.config.Server.HTTPAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.sweeper.Start()

	errCh := s.startServer(ln)
	serverErr := s.waitForShutdownSignal(ctx, errCh)

	shutdownErr := s.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

func (s *Server) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

func (s *Server) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		s.logger.Error("server error", "error", err)
		return err
	}
}

func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(ctx)
}

func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops accepting requests, stops the sweeper and closes the store.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "sweeper stop", s.sweeper.Stop(ctx))
	errs = appendCloseError(errs, "store close", s.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}
