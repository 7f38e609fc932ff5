package storage

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stacklok/roster-sync/internal/api"
	"github.com/stacklok/roster-sync/internal/checkpoint"
	"github.com/stacklok/roster-sync/internal/config"
	"github.com/stacklok/roster-sync/internal/db"
	"github.com/stacklok/roster-sync/internal/report"
	"github.com/stacklok/roster-sync/internal/roster/changes"
	"github.com/stacklok/roster-sync/internal/status"
)

// DatabaseFactory creates PostgreSQL-backed storage components sharing one pool
type DatabaseFactory struct {
	pool *pgxpool.Pool
}

var _ Factory = (*DatabaseFactory)(nil)

// NewDatabaseFactory connects to the configured database
func NewDatabaseFactory(ctx context.Context, cfg *config.Config) (*DatabaseFactory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Database == nil {
		return nil, fmt.Errorf("database configuration is required for database storage type")
	}

	logr.FromContextOrDiscard(ctx).Info("Creating database-backed storage factory")

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection pool: %w", err)
	}
	return NewDatabaseFactoryWithPool(pool), nil
}

// NewDatabaseFactoryWithPool wraps an existing pool; Cleanup closes it
func NewDatabaseFactoryWithPool(pool *pgxpool.Pool) *DatabaseFactory {
	return &DatabaseFactory{pool: pool}
}

// CheckpointStore returns the database checkpoint store
func (d *DatabaseFactory) CheckpointStore() checkpoint.Store {
	return checkpoint.NewDBStore(d.pool)
}

// ChangeStore returns the database fingerprint store
func (d *DatabaseFactory) ChangeStore() changes.Store {
	return changes.NewDBStore(d.pool)
}

// StatusPersistence returns the database status persistence
func (d *DatabaseFactory) StatusPersistence() status.StatusPersistence {
	return status.NewDBStatusPersistence(d.pool)
}

// ReportNotifier stores reports in the run_reports table
func (d *DatabaseFactory) ReportNotifier() report.Notifier {
	return report.NewDBNotifier(d.pool)
}

// ReportLister reads the run_reports table
func (d *DatabaseFactory) ReportLister() api.ReportLister {
	return func(ctx context.Context, job string, limit int) ([]*report.Report, error) {
		return report.Recent(ctx, d.pool, job, limit)
	}
}

// Cleanup closes the connection pool
func (d *DatabaseFactory) Cleanup() {
	if d.pool != nil {
		d.pool.Close()
	}
}
