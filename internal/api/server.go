package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/codergangganesh/eduspace-sub001/internal/api/middleware"
	"github.com/codergangganesh/eduspace-sub001/internal/bus"
	"github.com/codergangganesh/eduspace-sub001/internal/database"
	"github.com/codergangganesh/eduspace-sub001/internal/push"
	"github.com/codergangganesh/eduspace-sub001/internal/session"
)

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router *chi.Mux

	sessions   database.CallSessionRepository
	profiles   database.ProfileRepository
	pushTokens database.PushTokenRepository
	validator  *session.Validator

	// notifier is optional; when nil, callees are only reachable while
	// their signaling subscription is live.
	notifier *push.Notifier

	// bus is optional; when set, the service publishes the offer to the
	// receiver's topic itself, so a caller whose own publish is lost
	// still rings the callee.
	bus bus.Bus

	jwtSecret []byte
	limiter   *middleware.CallerRateLimiter
}

// ServerConfig assembles a Server's dependencies.
type ServerConfig struct {
	Sessions   database.CallSessionRepository
	Profiles   database.ProfileRepository
	PushTokens database.PushTokenRepository
	Validator  *session.Validator
	Notifier   *push.Notifier
	Bus        bus.Bus
	JWTSecret  []byte
}

// NewServer creates the HTTP handler with all routes mounted.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		sessions:   cfg.Sessions,
		profiles:   cfg.Profiles,
		pushTokens: cfg.PushTokens,
		validator:  cfg.Validator,
		notifier:   cfg.Notifier,
		bus:        cfg.Bus,
		jwtSecret:  cfg.JWTSecret,
		limiter:    middleware.NewCallerRateLimiter(middleware.DefaultRateLimitConfig()),
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops background goroutines owned by the server.
func (s *Server) Close() {
	s.limiter.Stop()
}

// routes configures all middleware and mounts all route groups.
func (s *Server) routes() {
	r := s.router

	// Global middleware stack.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		// Unauthenticated.
		r.Get("/health", s.handleHealth)

		// Everything else requires a portal JWT.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(s.jwtSecret))
			r.Use(middleware.RateLimit(s.limiter))

			r.Route("/calls", func(r chi.Router) {
				r.Post("/", s.handleCreateCall)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetCall)
					r.Put("/status", s.handleUpdateCallStatus)
				})
			})

			r.Route("/push-tokens", func(r chi.Router) {
				r.Post("/", s.handleUpsertPushToken)
				r.Delete("/", s.handleDeletePushToken)
			})

			r.Put("/profile", s.handleUpsertProfile)
		})
	})
}

// handleHealth returns basic health status. Unauthenticated.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
