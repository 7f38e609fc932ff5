// Package storage creates the storage-dependent components as a family, so
// checkpoints, fingerprints, run status and report history always live in the
// same backend.
package storage

import (
	"context"
	"fmt"

	"github.com/stacklok/roster-sync/internal/api"
	"github.com/stacklok/roster-sync/internal/checkpoint"
	"github.com/stacklok/roster-sync/internal/config"
	"github.com/stacklok/roster-sync/internal/report"
	"github.com/stacklok/roster-sync/internal/roster/changes"
	"github.com/stacklok/roster-sync/internal/status"
)

// Factory creates storage-dependent components.
// Implementations return components backed by the same storage type.
type Factory interface {
	// CheckpointStore holds batch cursors and job leases
	CheckpointStore() checkpoint.Store

	// ChangeStore holds member fingerprints
	ChangeStore() changes.Store

	// StatusPersistence holds per-job run status
	StatusPersistence() status.StatusPersistence

	// ReportNotifier stores finished reports, or returns nil when the
	// backend keeps no report history
	ReportNotifier() report.Notifier

	// ReportLister reads stored reports, or returns nil when the backend
	// keeps no report history
	ReportLister() api.ReportLister

	// Cleanup releases any resources held by this factory
	Cleanup()
}

// NewStorageFactory creates a storage factory based on the configured storage type
func NewStorageFactory(ctx context.Context, cfg *config.Config) (Factory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	switch cfg.GetStorageType() {
	case config.StorageTypeDatabase:
		return NewDatabaseFactory(ctx, cfg)
	case config.StorageTypeFile:
		return NewFileFactory(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.GetStorageType())
	}
}
