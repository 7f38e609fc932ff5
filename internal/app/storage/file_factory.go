package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"

	"github.com/stacklok/roster-sync/internal/api"
	"github.com/stacklok/roster-sync/internal/checkpoint"
	"github.com/stacklok/roster-sync/internal/config"
	"github.com/stacklok/roster-sync/internal/report"
	"github.com/stacklok/roster-sync/internal/roster/changes"
	"github.com/stacklok/roster-sync/internal/status"
)

// Subdirectories of the data directory
const (
	CheckpointsDir  = "checkpoints"
	FingerprintsDir = "fingerprints"
	StatusDir       = "status"
)

// FileFactory creates file-based storage components under one data directory
type FileFactory struct {
	dataDir     string
	checkpoints checkpoint.Store
	changes     changes.Store
	statuses    status.StatusPersistence
}

var _ Factory = (*FileFactory)(nil)

// NewFileFactory creates a file-based storage factory, creating the data
// directory when it does not exist
func NewFileFactory(ctx context.Context, cfg *config.Config) (*FileFactory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	dataDir := cfg.GetDataDir()
	for _, dir := range []string{CheckpointsDir, FingerprintsDir, StatusDir} {
		if err := os.MkdirAll(filepath.Join(dataDir, dir), 0750); err != nil {
			return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
		}
	}

	logr.FromContextOrDiscard(ctx).Info("Creating file-based storage factory", "dataDir", dataDir)

	return &FileFactory{
		dataDir:     dataDir,
		checkpoints: checkpoint.NewFileStore(filepath.Join(dataDir, CheckpointsDir)),
		changes:     changes.NewFileStore(filepath.Join(dataDir, FingerprintsDir)),
		statuses:    status.NewFileStatusPersistence(filepath.Join(dataDir, StatusDir)),
	}, nil
}

// CheckpointStore returns the file checkpoint store
func (f *FileFactory) CheckpointStore() checkpoint.Store { return f.checkpoints }

// ChangeStore returns the file fingerprint store
func (f *FileFactory) ChangeStore() changes.Store { return f.changes }

// StatusPersistence returns the file status persistence
func (f *FileFactory) StatusPersistence() status.StatusPersistence { return f.statuses }

// ReportNotifier returns nil; reports are only logged in file mode
func (*FileFactory) ReportNotifier() report.Notifier { return nil }

// ReportLister returns nil
func (*FileFactory) ReportLister() api.ReportLister { return nil }

// Cleanup is a no-op for file storage
func (*FileFactory) Cleanup() {}
