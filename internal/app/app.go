// Package app wires the configured components into a runnable roster-sync
// application: one job invocation per Run, and an optional status API.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-logr/logr"

	"github.com/stacklok/roster-sync/internal/app/storage"
	"github.com/stacklok/roster-sync/internal/config"
	"github.com/stacklok/roster-sync/internal/report"
	"github.com/stacklok/roster-sync/internal/sync/coordinator"
	"github.com/stacklok/roster-sync/internal/telemetry"
)

// App holds the wired components of one process
type App struct {
	config      *config.Config
	coordinator coordinator.Coordinator
	storage     storage.Factory
	telemetry   *telemetry.Telemetry
	httpServer  *http.Server

	// closers release notifier connections and the like, in order
	closers []func() error
}

// Run performs one invocation of job
func (app *App) Run(ctx context.Context, job string) (*report.Report, error) {
	return app.coordinator.Run(ctx, job)
}

// Serve runs the status API until ctx is cancelled, then shuts the server
// down within timeout
func (app *App) Serve(ctx context.Context, timeout time.Duration) error {
	ctxLogger := logr.FromContextOrDiscard(ctx)

	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	return app.serve(ctx, ln, timeout, ctxLogger)
}

func (app *App) serve(ctx context.Context, ln net.Listener, timeout time.Duration, ctxLogger logr.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		ctxLogger.Info("Server listening", "address", ln.Addr().String())
		if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server failed: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	ctxLogger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	ctxLogger.Info("Server shutdown complete")
	return <-errCh
}

// Close flushes telemetry and releases storage and notifier resources
func (app *App) Close(ctx context.Context) error {
	var errs []error
	for _, closeFn := range app.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	if app.telemetry != nil {
		if err := app.telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shut down telemetry: %w", err))
		}
	}
	if app.storage != nil {
		app.storage.Cleanup()
	}
	return errors.Join(errs...)
}

// GetConfig returns the application configuration
func (app *App) GetConfig() *config.Config {
	return app.config
}

// Storage returns the storage family the app was built with
func (app *App) Storage() storage.Factory {
	return app.storage
}

// GetHTTPServer returns the HTTP server
func (app *App) GetHTTPServer() *http.Server {
	return app.httpServer
}
