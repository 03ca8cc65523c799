// Package server provides the HTTP server and routing for the studio.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/botstudio/internal/events"
	"github.com/aristath/botstudio/internal/modules/studio"
)

// HealthChecker is a dependency probed by /health
type HealthChecker interface {
	Name() string
	QuickCheck(ctx context.Context) error
}

// CredentialStore holds the token the remote clients send
type CredentialStore interface {
	SetToken(token string)
	Authenticated() bool
}

// Config holds server configuration
type Config struct {
	Log         zerolog.Logger
	Port        int
	DevMode     bool
	Studio      *studio.Studio
	EventBus    *events.Bus
	Credentials CredentialStore
	Health      []HealthChecker
}

// Server represents the HTTP server
type Server struct {
	router      *chi.Mux
	server      *http.Server
	log         zerolog.Logger
	port        int
	studio      *studio.Studio
	bus         *events.Bus
	credentials CredentialStore
	health      []HealthChecker
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		log:         cfg.Log.With().Str("component", "server").Logger(),
		port:        cfg.Port,
		studio:      cfg.Studio,
		bus:         cfg.EventBus,
		credentials: cfg.Credentials,
		health:      cfg.Health,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		// Streams are long-lived and stay outside the request timeout
		r.Get("/events/stream", NewEventsStreamHandler(s.bus, s.log).ServeHTTP)
		r.Get("/events/ws", NewEventsSocketHandler(s.bus, s.log).ServeHTTP)

		r.Group(func(r chi.Router) {
			// Refinement is synchronous on the remote side and can take a while
			r.Use(middleware.Timeout(5 * time.Minute))

			r.Route("/workflow", func(r chi.Router) {
				r.Get("/", s.handleWorkflowState)
				r.Get("/summary", s.handleWorkflowSummary)
				r.Post("/clarify", s.handleClarify)
				r.Post("/clarify/complete", s.handleClarifyComplete)
				r.Post("/clarify/cancel", s.handleClarifyCancel)
				r.Post("/start", s.handleWorkflowStart)
				r.Post("/reset", s.handleWorkflowReset)
				r.Post("/refine", s.handleRefine)
			})

			r.Post("/bots/save", s.handleSaveBot)

			if s.credentials != nil {
				r.Get("/auth", s.handleAuthStatus)
				r.Post("/auth/token", s.handleSetToken)
			}

			r.Route("/community", func(r chi.Router) {
				r.Get("/", s.handleCommunityList)
				r.Post("/{id}/like", s.handleToggleLike)
				r.Post("/{id}/download", s.handleRecordDownload)
			})
		})
	})
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
