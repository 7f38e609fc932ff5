// Package api provides the read-only HTTP API over job status and checkpoints.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"

	"github.com/stacklok/roster-sync/internal/checkpoint"
	"github.com/stacklok/roster-sync/internal/report"
	"github.com/stacklok/roster-sync/internal/status"
)

// ReportLister returns the most recent reports of a job, newest first
type ReportLister func(ctx context.Context, job string, limit int) ([]*report.Report, error)

// ServerOption configures the API server
type ServerOption func(*serverConfig)

type serverConfig struct {
	middlewares []func(http.Handler) http.Handler
	reports     ReportLister
	jobs        []string
}

// WithMiddlewares adds middleware to the server
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithReports serves /v1/jobs/{job}/reports from lister
func WithReports(lister ReportLister) ServerOption {
	return func(cfg *serverConfig) {
		cfg.reports = lister
	}
}

// NewServer creates the HTTP router. jobs is the list of known job names.
func NewServer(
	jobs []string,
	statuses status.StatusPersistence,
	checkpoints checkpoint.Store,
	opts ...ServerOption,
) *chi.Mux {
	cfg := &serverConfig{jobs: jobs}
	for _, opt := range opts {
		opt(cfg)
	}

	h := &handler{
		jobs:        cfg.jobs,
		statuses:    statuses,
		checkpoints: checkpoints,
		reports:     cfg.reports,
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	r.Get("/health", h.health)
	r.Get("/readiness", h.readiness)

	r.Route("/v1/jobs", func(r chi.Router) {
		r.Get("/", h.listJobs)
		r.Get("/{job}", h.getJob)
		r.Get("/{job}/reports", h.listReports)
	})

	return r
}

// LoggingMiddleware logs HTTP requests at debug level
func LoggingMiddleware(logger logr.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.V(1).Info("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start).String(),
				"requestId", middleware.GetReqID(r.Context()),
			)
		})
	}
}
