// Package status tracks and persists the run status of each job.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:generate mockgen -destination=mocks/mock_status_persistence.go -package=mocks -source=persistence.go StatusPersistence

const (
	// StatusFileName is the name of the status file
	StatusFileName = "status.json"
)

// StatusPersistence defines the interface for job status persistence
//
//nolint:revive // This name is fine
type StatusPersistence interface {
	// SaveStatus saves the run status of a job
	SaveStatus(ctx context.Context, job string, status *RunStatus) error

	// LoadStatus loads the run status of a job
	// Returns an empty RunStatus if the job never ran
	LoadStatus(ctx context.Context, job string) (*RunStatus, error)

	// LoadAllStatus loads the run status of every job
	LoadAllStatus(ctx context.Context) (map[string]*RunStatus, error)
}

// fileStatusPersistence implements StatusPersistence using local filesystem
type fileStatusPersistence struct {
	basePath string
}

// NewFileStatusPersistence creates a new file-based status persistence
// basePath is the base directory where per-job status files will be stored
func NewFileStatusPersistence(basePath string) StatusPersistence {
	return &fileStatusPersistence{
		basePath: basePath,
	}
}

// SaveStatus saves the run status to a JSON file in a job-specific directory
func (f *fileStatusPersistence) SaveStatus(_ context.Context, job string, status *RunStatus) error {
	jobDir := filepath.Join(f.basePath, job)
	if err := os.MkdirAll(jobDir, 0750); err != nil {
		return fmt.Errorf("failed to create status directory for job '%s': %w", job, err)
	}

	filePath := filepath.Join(jobDir, StatusFileName)

	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal status data for job '%s': %w", job, err)
	}

	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary status file for job '%s': %w", job, err)
	}

	if err := os.Rename(tempPath, filePath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename status file for job '%s': %w", job, err)
	}

	return nil
}

// LoadStatus loads the run status of a job from its JSON file
func (f *fileStatusPersistence) LoadStatus(_ context.Context, job string) (*RunStatus, error) {
	filePath := filepath.Join(f.basePath, job, StatusFileName)

	// #nosec G304 -- filePath is built from the base path and a validated job name
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &RunStatus{}, nil
		}
		return nil, fmt.Errorf("failed to read status file for job '%s': %w", job, err)
	}

	var status RunStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status data for job '%s': %w", job, err)
	}

	return &status, nil
}

// LoadAllStatus loads the run status of every job directory
func (f *fileStatusPersistence) LoadAllStatus(ctx context.Context) (map[string]*RunStatus, error) {
	result := make(map[string]*RunStatus)

	entries, err := os.ReadDir(f.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return nil, fmt.Errorf("failed to read status directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(f.basePath, entry.Name(), StatusFileName)); err != nil {
			continue
		}

		status, err := f.LoadStatus(ctx, entry.Name())
		if err != nil {
			// A corrupt status file must not hide the others
			continue
		}

		result[entry.Name()] = status
	}

	return result, nil
}

// dbStatusPersistence implements StatusPersistence on the job_status table
type dbStatusPersistence struct {
	pool *pgxpool.Pool
}

// NewDBStatusPersistence creates a PostgreSQL-backed status persistence
func NewDBStatusPersistence(pool *pgxpool.Pool) StatusPersistence {
	return &dbStatusPersistence{pool: pool}
}

func (d *dbStatusPersistence) SaveStatus(ctx context.Context, job string, status *RunStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal status data for job '%s': %w", job, err)
	}
	_, err = d.pool.Exec(ctx, `
		INSERT INTO job_status (job, status, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (job) DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`,
		job, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save status for job '%s': %w", job, err)
	}
	return nil
}

func (d *dbStatusPersistence) LoadStatus(ctx context.Context, job string) (*RunStatus, error) {
	var data []byte
	err := d.pool.QueryRow(ctx, `SELECT status FROM job_status WHERE job = $1`, job).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return &RunStatus{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load status for job '%s': %w", job, err)
	}

	var status RunStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status data for job '%s': %w", job, err)
	}
	return &status, nil
}

func (d *dbStatusPersistence) LoadAllStatus(ctx context.Context) (map[string]*RunStatus, error) {
	rows, err := d.pool.Query(ctx, `SELECT job, status FROM job_status`)
	if err != nil {
		return nil, fmt.Errorf("failed to query job status: %w", err)
	}
	defer rows.Close()

	result := make(map[string]*RunStatus)
	for rows.Next() {
		var (
			job  string
			data []byte
		)
		if err := rows.Scan(&job, &data); err != nil {
			return nil, fmt.Errorf("failed to scan job status: %w", err)
		}
		var status RunStatus
		if err := json.Unmarshal(data, &status); err != nil {
			continue
		}
		result[job] = &status
	}
	return result, rows.Err()
}
