// Package server provides the HTTP server and routing for mbbfolio.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/aristath/mbbfolio/internal/database"
	"github.com/aristath/mbbfolio/internal/events"
)

const (
	// requestTimeout bounds every route except the event stream.
	requestTimeout = 60 * time.Second
	// writeTimeout leaves room for the timeout middleware's own response.
	writeTimeout = requestTimeout + 5*time.Second
)

// RouteRegistrar mounts a module's routes under /api.
type RouteRegistrar interface {
	RegisterRoutes(r chi.Router)
}

// JobRunner triggers registered background jobs by name.
type JobRunner interface {
	RunByName(name string) error
	JobNames() []string
}

// Config holds server configuration
type Config struct {
	Log       zerolog.Logger
	Port      int
	DevMode   bool
	DataDir   string
	EventBus  *events.Bus
	Modules   []RouteRegistrar
	Databases []*database.DB
	Gatherer  prometheus.Gatherer // nil uses the default registry
	Jobs      JobRunner           // nil disables job triggers
}

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
	port   int

	system *SystemHandlers
	stream *EventsStreamHandler
	jobs   *JobHandlers
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	log := cfg.Log.With().Str("component", "server").Logger()

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		router: chi.NewRouter(),
		log:    log,
		port:   cfg.Port,
		system: NewSystemHandlers(cfg.DataDir, cfg.Databases, cfg.Jobs, log),
		stream: NewEventsStreamHandler(cfg.EventBus, log),
		jobs:   NewJobHandlers(cfg.Jobs, log),
	}

	s.setupMiddleware()
	s.setupRoutes(cfg.DevMode, gatherer, cfg.Modules)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware shared by every route
func (s *Server) setupMiddleware() {
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
}

// setupRoutes configures all routes. The event stream is a long-lived
// websocket and stays outside the timeout and compression middleware.
func (s *Server) setupRoutes(devMode bool, gatherer prometheus.Gatherer, modules []RouteRegistrar) {
	s.router.Get("/api/events/ws", s.stream.ServeHTTP)

	s.router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))
		if !devMode {
			r.Use(middleware.Compress(5))
		}

		r.Get("/health", s.system.HandleHealth)
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

		r.Route("/api", func(r chi.Router) {
			r.Route("/system", func(r chi.Router) {
				r.Get("/status", s.system.HandleSystemStatus)
				r.Get("/database/stats", s.system.HandleDatabaseStats)
			})

			r.Route("/jobs", func(r chi.Router) {
				r.Get("/", s.jobs.HandleListJobs)
				r.Post("/{name}", s.jobs.HandleTriggerJob)
			})

			for _, module := range modules {
				module.RegisterRoutes(r)
			}
		})
	})
}

// Handler returns the root HTTP handler
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

func writeJSON(w http.ResponseWriter, log zerolog.Logger, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
