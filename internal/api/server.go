// Package api provides the HTTP server and routing.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/reinferio/saltfish/internal/api/handlers"
	"github.com/reinferio/saltfish/internal/config"
	"github.com/reinferio/saltfish/internal/dataset"
	"github.com/reinferio/saltfish/internal/metrics"
	"github.com/reinferio/saltfish/internal/storage"
	"github.com/reinferio/saltfish/internal/summarizer"
)

// Server represents the HTTP server.
type Server struct {
	config  *config.Config
	router  chi.Router
	server  *http.Server
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewServer creates a new HTTP server. summaries may be nil when the
// summarizer listener is disabled.
func NewServer(cfg *config.Config, svc *dataset.Service, summaries *summarizer.Map, meta storage.MetadataStore, logger *slog.Logger) *Server {
	s := &Server{
		config:  cfg,
		logger:  logger,
		metrics: metrics.New(),
	}

	s.setupRouter(svc, summaries, meta)
	return s
}

// Metrics returns the metrics instance for recording custom metrics.
func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}

// setupRouter configures the HTTP router.
func (s *Server) setupRouter(svc *dataset.Service, summaries *summarizer.Map, meta storage.MetadataStore) {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(s.metrics.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	h := handlers.New(svc, summaries, meta, s.metrics)

	// Health
	r.Get("/", h.HealthCheck)
	r.Get("/health/live", h.Liveness)
	r.Get("/health/ready", h.Readiness)

	// Metrics endpoint
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Handler().ServeHTTP(w, r)
	})

	// Dataset RPC surface. Every call is a POST with a JSON body; the
	// operation outcome travels in the response status field.
	r.Post("/rpc/create-dataset", h.CreateDataset)
	r.Post("/rpc/delete-dataset", h.DeleteDataset)
	r.Post("/rpc/generate-id", h.GenerateID)
	r.Post("/rpc/get-datasets", h.GetDatasets)
	r.Post("/rpc/put-records", h.PutRecords)

	// Streaming statistics
	r.Get("/rpc/datasets/{id}/summary", h.GetSummary)

	s.router = r
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)),
				slog.String("remote", r.RemoteAddr),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := s.config.Address()
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.Server.WriteTimeout) * time.Second,
	}

	s.logger.Info("starting server", slog.String("address", addr))
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the HTTP router for testing.
func (s *Server) Router() http.Handler {
	return s.router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Address returns the server address.
func (s *Server) Address() string {
	return fmt.Sprintf("http://%s", s.config.Address())
}
