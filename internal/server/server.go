package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/iotdash/iotdash/internal/config"
	"github.com/iotdash/iotdash/internal/handler"
	"github.com/iotdash/iotdash/internal/observability"
	"github.com/iotdash/iotdash/internal/policy"
	"github.com/iotdash/iotdash/internal/ratelimit"
	"github.com/iotdash/iotdash/internal/server/middleware"
	"github.com/iotdash/iotdash/internal/service"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	MaxBodySize     int64 // bytes
	// StaticDir, when set, is served at "/" and "/ui/".
	StaticDir string
	// NoAccountRole is the role of an authenticated caller whose request
	// names no account.
	NoAccountRole string
	// LoginPerMinute bounds login and signup attempts per client IP.
	LoginPerMinute int
	// TrustProxy takes the client IP from X-Forwarded-For or X-Real-IP.
	// Enable it only behind a proxy that overwrites those headers.
	TrustProxy bool
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		MaxBodySize:     1 << 20, // 1MB
		LoginPerMinute:  10,
	}
}

// CounterStore is the backing store of the rate limiter as seen by the
// readiness probe and shutdown.
type CounterStore interface {
	Ping(ctx context.Context) error
	Close() error
}

// Deps are the long-lived components the server routes requests to.
type Deps struct {
	Store     *config.Store
	Auth      *service.AuthService
	Tables    *policy.Tables
	Limiter   *ratelimit.Limiter
	Overrides *ratelimit.OverrideLookup
	Counters  CounterStore
}

// Server is the top-level HTTP server for the dashboard API. Every request
// passes through authorization and, once authenticated, rate limiting
// before it reaches a handler.
type Server struct {
	cfg        Config
	deps       Deps
	router     chi.Router
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	if s.cfg.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(observability.MetricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", middleware.HeaderRateLimit, middleware.HeaderRateRemaining, middleware.HeaderRateReset},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))
	if s.cfg.MaxBodySize > 0 {
		r.Use(chimw.RequestSize(s.cfg.MaxBodySize))
	}
	r.Use(middleware.Authorize(middleware.AuthzConfig{
		Routes:        s.deps.Tables.Routes,
		Roles:         s.deps.Tables.Roles,
		Tokens:        s.deps.Auth.Tokens(),
		NoAccountRole: s.cfg.NoAccountRole,
		MaxBodySize:   s.cfg.MaxBodySize,
		Logger:        s.logger,
	}))
	r.Use(middleware.RateLimit(s.deps.Limiter, s.logger))

	// --- Health checks and metrics ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/api/health", s.handleReadyz)
	r.Method(http.MethodGet, "/metrics", observability.Handler())

	authHandler := handler.NewAuthHandler(s.deps.Auth, s.logger)
	userHandler := handler.NewUserHandler(s.deps.Store, s.deps.Auth, s.logger)
	accountHandler := handler.NewAccountHandler(s.deps.Store, s.logger)
	limitHandler := handler.NewLimitHandler(s.deps.Store, s.deps.Overrides, s.deps.Tables.Routes,
		s.deps.Limiter.DefaultLimit(), s.logger)

	// --- API routes ---
	r.Route("/api", func(r chi.Router) {
		byIP := func(next http.Handler) http.Handler { return next }
		if s.cfg.LoginPerMinute > 0 {
			byIP = middleware.LimitByIP(s.cfg.LoginPerMinute)
		}

		r.With(byIP).Post("/auth/token", authHandler.Login)
		r.Get("/auth/tokenInfo", authHandler.TokenInfo)

		r.With(byIP).Post("/users", userHandler.Signup)
		r.Get("/users/me", userHandler.Me)

		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", accountHandler.List)
			r.Post("/", accountHandler.Create)

			r.Route("/{accountId}", func(r chi.Router) {
				r.Get("/", accountHandler.Get)
				r.Put("/", accountHandler.Rename)
				r.Delete("/", accountHandler.Delete)

				r.Get("/users", accountHandler.ListMembers)
				r.Put("/users/{userId}", accountHandler.SetMember)
				r.Delete("/users/{userId}", accountHandler.RemoveMember)

				r.Get("/limits", limitHandler.AccountLimits)
			})
		})

		r.Route("/admin/limits", func(r chi.Router) {
			r.Get("/", limitHandler.List)
			r.Put("/", limitHandler.Set)
			r.Delete("/", limitHandler.Delete)
		})
	})

	// --- Dashboard UI ---
	if s.cfg.StaticDir != "" {
		fileServer := http.FileServer(http.Dir(s.cfg.StaticDir))
		r.Handle("/ui/*", http.StripPrefix("/ui", fileServer))
		r.Get("/", fileServer.ServeHTTP)
	} else {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"name":"iotdash"}`))
		})
	}

	s.router = r
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the directory
// database and the counter store are reachable, or 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	checks := make(map[string]string)

	probe := func(name string, ping func(context.Context) error) {
		if err := ping(r.Context()); err != nil {
			checks[name] = "error: " + err.Error()
			status = "degraded"
			return
		}
		checks[name] = "ok"
	}
	probe("directory", s.deps.Store.Ping)
	if s.deps.Counters != nil {
		probe("counters", s.deps.Counters.Ping)
	}

	if status != "ok" {
		httpStatus = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests before closing the directory and counter stores.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Listen for shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

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

	if s.deps.Counters != nil {
		if err := s.deps.Counters.Close(); err != nil {
			s.logger.Warn("close counter store", "error", err)
		}
	}
	if err := s.deps.Store.Close(); err != nil {
		s.logger.Warn("close directory store", "error", err)
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
