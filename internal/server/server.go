// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer: it connects handlers, middleware, and routes.
// It decides:
// - Which URL patterns map to which handler functions
// - What middleware runs on which routes
// - How the server and its background workers stop gracefully
//
// DEPENDENCY INJECTION FLOW:
// cmd/server builds every component (Mongo, Nylas, OpenAI, notifier,
// scheduler, services) and hands them over in a Deps bundle. This package
// only builds handlers from them; it never opens a connection itself.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/sync/errgroup"

	"github.com/sakif/code-inbox/internal/auth"
	"github.com/sakif/code-inbox/internal/handler"
	"github.com/sakif/code-inbox/internal/metrics"
	"github.com/sakif/code-inbox/internal/middleware"
)

// Config holds HTTP-level settings.
type Config struct {
	Port            int
	CORSOrigins     []string
	ShutdownTimeout time.Duration // default 30s
}

// UserService is what the user routes and onboarding need, plus Drain for shutdown.
type UserService interface {
	handler.Users
	handler.Onboarder
	Drain(ctx context.Context) error
}

// Stopper is a background worker stopped on shutdown.
type Stopper interface {
	Stop(ctx context.Context) error
}

// Store is the database owned by the server for the process lifetime.
type Store interface {
	handler.Pinger
	Close(ctx context.Context) error
}

// Deps is the dependency bundle built in cmd/server.
type Deps struct {
	Authenticator *auth.Authenticator
	Auth          handler.AuthFlow
	Users         UserService
	Mail          handler.Mail
	Scheduler     Stopper
	Store         Store
}

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the store connection and the scheduler from the moment
// New returns. Start stops and closes them on the way out.
type Server struct {
	router *chi.Mux
	config Config
	deps   Deps
	logger *slog.Logger
}

// New creates a Server and sets up its routes.
func New(cfg Config, deps Deps, logger *slog.Logger) (*Server, error) {
	if deps.Authenticator == nil || deps.Auth == nil || deps.Users == nil ||
		deps.Mail == nil || deps.Scheduler == nil || deps.Store == nil {
		return nil, errors.New("server: incomplete dependencies")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		deps:   deps,
		logger: logger,
	}
	s.setupRoutes()
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET    /api                                  → welcome
// GET    /healthz                              → Mongo ping
// GET    /metrics                              → Prometheus
// POST   /api/v1/nylas/generate-auth-url       → hosted-auth URL
// POST   /api/v1/nylas/exchange-mailbox-token  → code → session
// *      /api/v1/nylas/...                     → mail operations      [session]
// GET    /api/v1/user/{user_id}/profile.png    → profile image
// GET    /api/v1/user/unsubscribe              → signed opt-out link
// *      /api/v1/user/...                      → profile operations   [session]
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID, so the logger can print it
// 2. RealIP
// 3. Recoverer, turns panics into 500
// 4. CORS, answers preflights before auth runs
// 5. Logger and Metrics
func (s *Server) setupRoutes() {
	// === Global Middleware ===
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", auth.HeaderEmail},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(middleware.Metrics)

	health := handler.NewHealthHandler(s.deps.Store, s.logger)
	nylasHandler := handler.NewNylasHandler(s.deps.Auth, s.deps.Users, s.deps.Mail, s.logger)
	userHandler := handler.NewUserHandler(s.deps.Auth, s.deps.Users, s.logger)
	requireSession := auth.RequireSession(s.deps.Authenticator, s.logger)

	s.router.Get("/api", health.HandleWelcome)
	s.router.Get("/healthz", health.HandleHealthz)
	s.router.Handle("/metrics", metrics.Handler())

	s.router.Route("/api/v1/nylas", func(r chi.Router) {
		r.Post("/generate-auth-url", nylasHandler.HandleGenerateAuthURL)
		r.Post("/exchange-mailbox-token", nylasHandler.HandleExchangeToken)

		r.Group(func(r chi.Router) {
			r.Use(requireSession)
			r.Get("/read-emails", nylasHandler.HandleReadEmails)
			r.Get("/mail", nylasHandler.HandleMail)
			r.Post("/send-email", nylasHandler.HandleSendEmail)
			r.Post("/reply-email", nylasHandler.HandleReplyEmail)
			r.Get("/search-emails", nylasHandler.HandleSearchEmails)
			r.Get("/read-labels", nylasHandler.HandleReadLabels)
			r.Post("/labels", nylasHandler.HandleCreateLabel)
			r.Delete("/labels/{item_id}", nylasHandler.HandleDeleteLabel)
			r.Put("/folders", nylasHandler.HandleUpdateFolders)
			r.Get("/contacts", nylasHandler.HandleContacts)
		})
	})

	s.router.Route("/api/v1/user", func(r chi.Router) {
		r.Get("/{user_id}/profile.png", userHandler.HandleProfileImage)
		r.Get("/unsubscribe", userHandler.HandleUnsubscribe)

		r.Group(func(r chi.Router) {
			r.Use(requireSession)
			r.Get("/me", userHandler.HandleMe)
			r.Post("/logout", userHandler.HandleLogout)
			r.Put("/profile", userHandler.HandleUpdateProfile)
			r.Put("/profile-image", userHandler.HandleUploadProfileImage)
			r.Put("/language", userHandler.HandleUpdateLanguage)
		})
	})
}

// Start serves until ctx is cancelled or SIGINT/SIGTERM arrives, then shuts
// down gracefully.
//
// GRACEFUL SHUTDOWN (one deadline, ShutdownTimeout):
//  1. the HTTP server stops and waits for in-flight requests, which may
//     still start onboarding or install schedules
//  2. scheduler and background onboarding stop in parallel
//  3. the store is closed last, since all of the above may still use it
func (s *Server) Start(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Above the Nylas per-call timeout.
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d/api", s.config.Port)),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	var runErr error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("server: listening: %w", err)
		}
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	}

	if err := s.shutdown(srv); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

func (s *Server) shutdown(srv *http.Server) error {
	gracefulCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	var httpErr error
	if err := srv.Shutdown(gracefulCtx); err != nil {
		httpErr = fmt.Errorf("server: http shutdown: %w", err)
	}

	var g errgroup.Group
	g.Go(func() error {
		return s.deps.Scheduler.Stop(gracefulCtx)
	})
	g.Go(func() error {
		return s.deps.Users.Drain(gracefulCtx)
	})
	waitErr := errors.Join(httpErr, g.Wait())

	// Fresh deadline: closing must still happen when the graceful one ran out.
	closeCtx, cancelClose := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelClose()
	closeErr := s.deps.Store.Close(closeCtx)
	if closeErr != nil {
		closeErr = fmt.Errorf("server: closing store: %w", closeErr)
	}

	if err := errors.Join(waitErr, closeErr); err != nil {
		return err
	}
	s.logger.Info("server stopped gracefully")
	return nil
}
