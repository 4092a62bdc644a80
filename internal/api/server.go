// Package api exposes the job engine over HTTP: submission, observation by
// poll and by push, artifact delivery, and operational surfaces.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"mediamill/internal/artifact"
	"mediamill/internal/engine"
	"mediamill/internal/media"
	"mediamill/internal/store"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 30 * time.Second
)

// Config carries the HTTP-facing knobs.
type Config struct {
	Addr string
	// MaxUploadBytes caps the request body for media uploads.
	MaxUploadBytes int64
	// FetchDomains is the allow-list for fetch job source URLs.
	FetchDomains []string
	// StreamSample is how often the event stream emits a changed snapshot.
	StreamSample time.Duration
	// StreamBudget bounds how long one event stream connection may live.
	StreamBudget time.Duration
}

// Server wraps the chi router and application dependencies.
type Server struct {
	router    *chi.Mux
	cfg       Config
	store     store.Store
	engine    *engine.Engine
	artifacts *artifact.Store
	tools     media.Toolchain
	logger    *slog.Logger
}

// NewServer creates and configures a new HTTP server.
func NewServer(cfg Config, s store.Store, eng *engine.Engine, arts *artifact.Store, tools media.Toolchain, logger *slog.Logger) *Server {
	srv := &Server{
		router:    chi.NewRouter(),
		cfg:       cfg,
		store:     s,
		engine:    eng,
		artifacts: arts,
		tools:     tools,
		logger:    logger,
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(srv.loggingMiddleware)
	srv.router.Use(metricsMiddleware)
	srv.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	srv.routes()

	return srv
}

// routes registers all HTTP routes on the router.
func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", metricsHandler())

	s.router.Get("/v1/stats", s.handleGetStats)

	s.router.Route("/v1/jobs", func(r chi.Router) {
		r.Post("/", s.handleSubmitJob)
		r.Get("/", s.handleListJobs)
		r.Get("/{id}", s.handleGetJob)
		r.Get("/{id}/events", s.handleStreamEvents)
		r.Get("/{id}/artifact", s.handleDeliverArtifact)
	})
}

// Router returns the chi router for tests and embedding.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run starts the HTTP server and blocks until a shutdown signal is received.
func (s *Server) Run() error {
	httpServer := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// loggingMiddleware logs each request using the structured logger.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
