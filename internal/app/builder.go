package app

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"

	"github.com/stacklok/roster-sync/internal/api"
	"github.com/stacklok/roster-sync/internal/app/storage"
	"github.com/stacklok/roster-sync/internal/batch"
	"github.com/stacklok/roster-sync/internal/config"
	"github.com/stacklok/roster-sync/internal/directory"
	"github.com/stacklok/roster-sync/internal/directory/google"
	"github.com/stacklok/roster-sync/internal/directory/memory"
	"github.com/stacklok/roster-sync/internal/report"
	"github.com/stacklok/roster-sync/internal/retry"
	"github.com/stacklok/roster-sync/internal/roster"
	"github.com/stacklok/roster-sync/internal/roster/changes"
	"github.com/stacklok/roster-sync/internal/roster/csvsource"
	pkgsync "github.com/stacklok/roster-sync/internal/sync"
	"github.com/stacklok/roster-sync/internal/sync/coordinator"
	"github.com/stacklok/roster-sync/internal/telemetry"
)

const (
	defaultHTTPAddress    = ":8080"
	defaultRequestTimeout = 10 * time.Second
	defaultReadTimeout    = 10 * time.Second
	defaultWriteTimeout   = 15 * time.Second
	defaultIdleTimeout    = 60 * time.Second

	tracerName = "github.com/stacklok/roster-sync"
)

// Option configures the app builder
type Option func(*appConfig) error

type appConfig struct {
	config *config.Config

	dryRun        bool
	confirmDelete bool
	now           func() time.Time

	// Optional component overrides, primarily for tests
	storageFactory storage.Factory
	directory      directory.Directory
	source         roster.Source
	notifiers      []report.Notifier

	address        string
	middlewares    []func(http.Handler) http.Handler
	requestTimeout time.Duration
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) Option {
	return func(cfg *appConfig) error {
		cfg.config = c
		return nil
	}
}

// WithDryRun computes and reports without mutating the directory
func WithDryRun(dryRun bool) Option {
	return func(cfg *appConfig) error {
		cfg.dryRun = dryRun
		return nil
	}
}

// WithConfirmDelete passes the operator's confirmation that ARCHIVED accounts
// past the deletion threshold may be deleted
func WithConfirmDelete(confirmed bool) Option {
	return func(cfg *appConfig) error {
		cfg.confirmDelete = confirmed
		return nil
	}
}

// WithClock replaces time.Now in every component
func WithClock(now func() time.Time) Option {
	return func(cfg *appConfig) error {
		cfg.now = now
		return nil
	}
}

// WithAddress sets the HTTP server address
func WithAddress(addr string) Option {
	return func(cfg *appConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		host, port, found := strings.Cut(addr, ":")
		if !found || port == "" {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		if host == "localhost" {
			host = "127.0.0.1"
		}
		if host == "" {
			host = "0.0.0.0"
		}
		if _, err := netip.ParseAddrPort(host + ":" + port); err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}

		cfg.address = addr
		return nil
	}
}

// WithMiddlewares replaces the default HTTP middlewares
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *appConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithStorageFactory injects a storage factory instead of building one from the config
func WithStorageFactory(f storage.Factory) Option {
	return func(cfg *appConfig) error {
		cfg.storageFactory = f
		return nil
	}
}

// WithDirectory injects the target directory instead of building one from the config
func WithDirectory(d directory.Directory) Option {
	return func(cfg *appConfig) error {
		cfg.directory = d
		return nil
	}
}

// WithSource injects the roster source instead of reading the configured CSV export
func WithSource(s roster.Source) Option {
	return func(cfg *appConfig) error {
		cfg.source = s
		return nil
	}
}

// WithNotifiers adds report notifiers next to the configured ones
func WithNotifiers(n ...report.Notifier) Option {
	return func(cfg *appConfig) error {
		cfg.notifiers = append(cfg.notifiers, n...)
		return nil
	}
}

// New builds the application from the configuration and options
func New(ctx context.Context, opts ...Option) (*App, error) {
	cfg := &appConfig{
		address:        defaultHTTPAddress,
		requestTimeout: defaultRequestTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	ctxLogger := logr.FromContextOrDiscard(ctx)
	app := &App{config: cfg.config}

	// Release whatever was built so far when a later step fails
	built := false
	defer func() {
		if !built {
			_ = app.Close(ctx)
		}
	}()

	tel, err := telemetry.New(ctx, cfg.config.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	app.telemetry = tel

	if cfg.storageFactory == nil {
		cfg.storageFactory, err = storage.NewStorageFactory(ctx, cfg.config)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage factory: %w", err)
		}
	}
	app.storage = cfg.storageFactory

	notifier, err := buildNotifier(ctx, cfg, app)
	if err != nil {
		return nil, err
	}

	app.coordinator, err = buildCoordinator(ctx, cfg, tel, notifier)
	if err != nil {
		return nil, fmt.Errorf("failed to build sync components: %w", err)
	}

	app.httpServer, err = buildHTTPServer(cfg, tel)
	if err != nil {
		return nil, fmt.Errorf("failed to build HTTP server: %w", err)
	}

	ctxLogger.Info("Application initialized",
		"directory", cfg.config.Directory.Type,
		"storage", cfg.config.GetStorageType(),
		"dryRun", cfg.dryRun)
	built = true
	return app, nil
}

// buildNotifier combines the log notifier with report history and the
// configured broker
func buildNotifier(ctx context.Context, cfg *appConfig, app *App) (report.Notifier, error) {
	notifiers := []report.Notifier{report.NewLogNotifier()}
	if n := cfg.storageFactory.ReportNotifier(); n != nil {
		notifiers = append(notifiers, n)
	}

	if cfg.config.Notification != nil && cfg.config.Notification.AMQP != nil {
		n, closeFn, err := report.DialAMQP(cfg.config.Notification.AMQP)
		if err != nil {
			return nil, fmt.Errorf("failed to create AMQP notifier: %w", err)
		}
		app.closers = append(app.closers, closeFn)
		notifiers = append(notifiers, n)
		logr.FromContextOrDiscard(ctx).Info("AMQP report delivery enabled", "exchange", cfg.config.Notification.AMQP.Exchange)
	}

	notifiers = append(notifiers, cfg.notifiers...)
	return report.Multi(notifiers...), nil
}

func buildDirectory(ctx context.Context, cfg *appConfig) (directory.Directory, error) {
	if cfg.directory != nil {
		return cfg.directory, nil
	}
	switch cfg.config.Directory.Type {
	case config.DirectoryTypeGoogle:
		return google.New(ctx, cfg.config.Directory.Google)
	case config.DirectoryTypeMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported directory type %q", cfg.config.Directory.Type)
	}
}

func retryPolicy(rc config.RetryConfig) retry.Policy {
	return retry.Policy{
		MaxAttempts: rc.GetMaxAttempts(),
		BaseDelay:   rc.GetBaseDelay(),
		MaxDelay:    rc.GetMaxDelay(),
	}
}

// buildCoordinator wires roster, directory, change detection and storage
// into a job coordinator
func buildCoordinator(
	ctx context.Context,
	cfg *appConfig,
	tel *telemetry.Telemetry,
	notifier report.Notifier,
) (coordinator.Coordinator, error) {
	c := cfg.config

	dir, err := buildDirectory(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	tracer := tel.Tracer(tracerName)
	client := directory.NewClient(dir,
		directory.WithPolicy(retryPolicy(c.Retry)),
		directory.WithDryRun(cfg.dryRun),
		directory.WithTracer(tracer),
	)

	source := cfg.source
	if source == nil {
		source = csvsource.New(c.Roster.Directory)
	}
	loader := roster.NewLoader(source,
		roster.WithOrgPaths(c.Roster.OrgPaths),
		roster.WithClock(cfg.now),
	)
	detector := changes.NewDetector(cfg.storageFactory.ChangeStore(), changes.WithClock(cfg.now))

	manager := pkgsync.NewManager(c, loader, detector, client,
		pkgsync.WithConfirmDelete(cfg.confirmDelete),
		pkgsync.WithClock(cfg.now),
	)

	syncMetrics, err := telemetry.NewSyncMetrics(tel.MeterProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to create sync metrics: %w", err)
	}

	checkpoints := cfg.storageFactory.CheckpointStore()
	executor := batch.NewExecutor(checkpoints, batch.LimitsFromConfig(c.Batch))

	return coordinator.New(manager, executor, checkpoints, cfg.storageFactory.StatusPersistence(),
		coordinator.WithNotifier(notifier),
		coordinator.WithLeaseTTL(c.Batch.GetLeaseTTL()),
		coordinator.WithDryRun(cfg.dryRun),
		coordinator.WithClock(cfg.now),
		coordinator.WithSyncMetrics(syncMetrics),
		coordinator.WithTracer(tracer),
	), nil
}

// buildHTTPServer builds the status API server with router and middleware
func buildHTTPServer(cfg *appConfig, tel *telemetry.Telemetry) (*http.Server, error) {
	middlewares := cfg.middlewares
	if middlewares == nil {
		middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(cfg.requestTimeout),
		}
	}

	// Metrics and tracing wrap everything so rejected requests are counted too
	httpMetrics, err := telemetry.NewHTTPMetrics(tel.MeterProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP metrics: %w", err)
	}
	middlewares = append([]func(http.Handler) http.Handler{
		telemetry.TracingMiddleware(tel.TracerProvider()),
		httpMetrics.Middleware,
	}, middlewares...)

	serverOpts := []api.ServerOption{api.WithMiddlewares(middlewares...)}
	if lister := cfg.storageFactory.ReportLister(); lister != nil {
		serverOpts = append(serverOpts, api.WithReports(lister))
	}

	router := api.NewServer(pkgsync.Jobs(),
		cfg.storageFactory.StatusPersistence(),
		cfg.storageFactory.CheckpointStore(),
		serverOpts...)

	return &http.Server{
		Addr:         cfg.address,
		Handler:      router,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}, nil
}
