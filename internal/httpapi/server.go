// Package httpapi is the JSON-over-HTTP edge in front of tripauth.Engine.
//
// It owns routing, request decoding and the mapping from the engine's error
// taxonomy to status codes. Internal error detail never reaches a response
// body; it is logged with the request id instead.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrEthical07/tripauth"
	"github.com/MrEthical07/tripauth/internal/logging"
	"github.com/MrEthical07/tripauth/middleware"
	"github.com/MrEthical07/tripauth/settings"
)

// Config holds the HTTP server configuration.
type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
	// CORSOrigins lists browser origins allowed to call the API. Empty
	// disables CORS; "*" allows any origin without credentials.
	CORSOrigins []string
	// TrustedProxies are the peers whose X-Forwarded-For and X-Real-IP
	// headers are believed. Requests from any other peer are keyed on the
	// TCP address.
	TrustedProxies    []netip.Prefix
	RequestsPerMinute int
	MaxBodySize       int64
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Addr:              ":8080",
		ShutdownTimeout:   15 * time.Second,
		RequestsPerMinute: 120,
		MaxBodySize:       64 * 1024,
	}
}

// Server routes HTTP requests to the engine.
type Server struct {
	cfg      Config
	router   chi.Router
	engine   *tripauth.Engine
	settings *settings.Store
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// New wires every route. settingsStore and gatherer are optional; their
// routes are omitted when nil.
func New(cfg Config, engine *tripauth.Engine, settingsStore *settings.Store, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	s := &Server{
		cfg:      cfg,
		engine:   engine,
		settings: settingsStore,
		gatherer: gatherer,
		logger:   logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(RequestID)
	r.Use(RealIP(s.cfg.TrustedProxies))
	r.Use(Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(ClientIP)
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
			AllowCredentials: !slices.Contains(s.cfg.CORSOrigins, "*"),
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", s.handleHealthz)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		if s.cfg.RequestsPerMinute > 0 {
			r.Use(httprate.Limit(
				s.cfg.RequestsPerMinute,
				time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					middleware.WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
				}),
			))
		}
		if s.cfg.MaxBodySize > 0 {
			r.Use(maxBody(s.cfg.MaxBodySize))
		}

		user := &authHandler{engine: s.engine, aud: tripauth.AudienceEndUser, srv: s}
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", user.Register)
			r.Post("/login", user.Login)
			r.Post("/refresh", user.Refresh)
			r.Post("/logout", user.Logout)
			r.Post("/verify-email", user.VerifyEmail)
			r.Post("/forgot-password", user.ForgotPassword)
			r.Post("/reset-password", user.ResetPassword)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Guard(s.engine, tripauth.AudienceEndUser))
				r.Get("/me", user.Me)
				r.Patch("/me", user.UpdateMe)
				r.Post("/change-password", user.ChangePassword)
				r.Post("/resend-verification", user.ResendVerification)
			})
		})

		admin := &authHandler{engine: s.engine, aud: tripauth.AudienceAdmin, srv: s}
		r.Route("/admin", func(r chi.Router) {
			r.Route("/auth", func(r chi.Router) {
				r.Post("/login", admin.Login)
				r.Post("/refresh", admin.Refresh)
				r.Post("/logout", admin.Logout)
				r.Post("/forgot-password", admin.ForgotPassword)
				r.Post("/reset-password", admin.ResetPassword)

				r.Group(func(r chi.Router) {
					r.Use(middleware.Guard(s.engine, tripauth.AudienceAdmin))
					r.Get("/me", admin.Me)
					r.Patch("/me", admin.UpdateMe)
					r.Post("/change-password", admin.ChangePassword)
				})
			})

			r.Group(func(r chi.Router) {
				r.Use(middleware.Guard(s.engine, tripauth.AudienceAdmin))
				r.Use(middleware.RequireRole(tripauth.RoleAdmin, tripauth.RoleSuperAdmin))

				r.Put("/users/{id}/status", s.handleSetStatus(tripauth.AudienceEndUser))

				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireRole(tripauth.RoleSuperAdmin))
					r.Post("/admins", s.handleCreateAdmin)
					r.Put("/admins/{id}/status", s.handleSetStatus(tripauth.AudienceAdmin))
					if s.settings != nil {
						r.Get("/settings", s.handleGetSettings)
						r.Put("/settings", s.handlePutSettings)
					}
				})
			})
		})
	})

	s.router = r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListenAndServe serves until ctx is cancelled, then drains in-flight
// requests within ShutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", s.cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
