// Package web provides the HTTP server and JSON handlers for the member
// generation API.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/membergen/internal/config"
	"github.com/JonMunkholm/membergen/internal/core"
	"github.com/JonMunkholm/membergen/internal/metrics"
	"github.com/JonMunkholm/membergen/internal/web/middleware"
)

// Pinger reports whether the database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP server for the member API.
type Server struct {
	service *core.Service
	db      Pinger
	metrics *metrics.Metrics
	cfg     *config.Config
	router  *chi.Mux
	server  *http.Server

	limiters        []*rateLimiter
	generateLimiter *rateLimiter
}

// NewServer creates a new Server instance. A nil metrics gets a fresh
// private registry.
func NewServer(service *core.Service, db Pinger, m *metrics.Metrics, cfg *config.Config) *Server {
	if m == nil {
		m = metrics.New()
	}
	s := &Server{
		service: service,
		db:      db,
		metrics: m,
		cfg:     cfg,
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Metrics(s.metrics))
	s.router.Use(chimw.Recoverer)

	// Security hardening
	s.router.Use(securityHeaders)
	s.router.Use(middleware.CORS(s.cfg.Server.CORSAllowedOrigins))
	s.router.Use(middleware.APIKeyAuth(
		s.cfg.Security.RequireAPIKey,
		s.cfg.Security.APIKeys,
		"/healthz", "/metrics",
	))

	if s.cfg.Rate.Enabled {
		s.router.Use(s.limit(s.newLimiter(s.cfg.Rate.RequestsPerMinute)))
		s.generateLimiter = s.newLimiter(s.cfg.Rate.GenerateLimit)
	}
}

func (s *Server) newLimiter(perMinute int) *rateLimiter {
	rl := newRateLimiter(perMinute, time.Minute)
	s.limiters = append(s.limiters, rl)
	return rl
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.fail(w, r, core.ErrNotFound)
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.fail(w, r, core.ErrMethodNotAllowed)
	})

	bounded := s.router.With(chimw.Timeout(s.cfg.Server.RequestTimeout))
	bounded.Get("/healthz", s.handleHealth)
	bounded.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	// The browser frontend reaches the API through an /api proxy prefix;
	// direct clients use the bare paths.
	s.router.Group(s.apiRoutes)
	s.router.Route("/api", s.apiRoutes)
}

// apiRoutes registers the member and custom field endpoints on r. Both
// mounts share one generate budget per client.
//
// Generation runs one model call per member and is not bounded by the
// request timeout; it ends when the batch does or the client disconnects.
func (s *Server) apiRoutes(r chi.Router) {
	generate := r
	if s.generateLimiter != nil {
		generate = r.With(s.limit(s.generateLimiter))
	}
	generate.Post("/generate", s.handleGenerate)

	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(s.cfg.Server.RequestTimeout))

		r.Get("/download/{format}", s.handleDownload)

		r.Route("/members", func(r chi.Router) {
			r.Get("/", s.handleListMembers)
			r.Get("/{id}", s.handleGetMember)
			r.Patch("/{id}", s.handleUpdateMember)
			r.Delete("/{id}", s.handleDeleteMember)
		})

		r.Route("/custom-fields", func(r chi.Router) {
			r.Post("/", s.handleCreateField)
			r.Get("/", s.handleListFields)
			r.Get("/{id}", s.handleGetField)
			r.Patch("/{id}", s.handleUpdateField)
			r.Delete("/{id}", s.handleDeleteField)
		})
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	sc := s.cfg.Server
	s.server = &http.Server{
		Addr:         sc.Addr(),
		Handler:      s.router,
		ReadTimeout:  sc.ReadTimeout,
		WriteTimeout: sc.WriteTimeout, // 0 by default: generation can outlive any fixed write deadline
		IdleTimeout:  sc.IdleTimeout,
	}

	slog.Info("starting server", "addr", sc.Addr())
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server and the rate limiter cleanup loops.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, rl := range s.limiters {
		rl.close()
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Prevent MIME type sniffing
		w.Header().Set("X-Content-Type-Options", "nosniff")

		// Prevent clickjacking
		w.Header().Set("X-Frame-Options", "DENY")

		// JSON API: nothing here should ever load subresources
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		// Control referrer information
		w.Header().Set("Referrer-Policy", "no-referrer")

		next.ServeHTTP(w, r)
	})
}
