package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const (
	// CheckpointFileName is the checkpoint file inside a job directory
	CheckpointFileName = "checkpoint.json"

	// LeaseFileName is the lock file inside a job directory
	LeaseFileName = "lease.lock"

	// LeaseInfoFileName records who holds the lease, for operators
	LeaseInfoFileName = "lease.json"
)

type fileStore struct {
	basePath string
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*flock.Flock
}

// NewFileStore creates a store keeping one directory per job under basePath.
// Leases are advisory file locks and are released by the OS if the process dies.
func NewFileStore(basePath string) Store {
	return &fileStore{
		basePath: basePath,
		now:      time.Now,
		locks:    make(map[string]*flock.Flock),
	}
}

func (f *fileStore) jobDir(job string) (string, error) {
	if err := ValidateJob(job); err != nil {
		return "", err
	}
	dir := filepath.Join(f.basePath, job)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("failed to create directory for job '%s': %w", job, err)
	}
	return dir, nil
}

func (f *fileStore) Load(_ context.Context, job string) (Checkpoint, error) {
	if err := ValidateJob(job); err != nil {
		return Checkpoint{}, err
	}

	// #nosec G304 -- path is basePath plus a validated job name
	data, err := os.ReadFile(filepath.Join(f.basePath, job, CheckpointFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Checkpoint{}, ErrNotFound
		}
		return Checkpoint{}, fmt.Errorf("failed to read checkpoint for job '%s': %w", job, err)
	}

	return Unmarshal(data)
}

func (f *fileStore) Save(_ context.Context, cp Checkpoint) error {
	data, err := cp.Marshal()
	if err != nil {
		return err
	}

	dir, err := f.jobDir(cp.Job)
	if err != nil {
		return err
	}
	return writeAtomically(filepath.Join(dir, CheckpointFileName), data)
}

func (f *fileStore) Clear(_ context.Context, job string) error {
	if err := ValidateJob(job); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(f.basePath, job, CheckpointFileName))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear checkpoint for job '%s': %w", job, err)
	}
	return nil
}

func (f *fileStore) AcquireLease(_ context.Context, job, owner string, ttl time.Duration) (*Lease, error) {
	dir, err := f.jobDir(job)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, held := f.locks[job]; held {
		return nil, ErrLeaseHeld
	}

	lock := flock.New(filepath.Join(dir, LeaseFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock job '%s': %w", job, err)
	}
	if !locked {
		return nil, ErrLeaseHeld
	}
	f.locks[job] = lock

	now := f.now()
	lease := &Lease{Job: job, Owner: owner, AcquiredAt: now, ExpiresAt: now.Add(ttl)}
	if data, err := json.MarshalIndent(lease, "", "  "); err == nil {
		_ = writeAtomically(filepath.Join(dir, LeaseInfoFileName), data)
	}
	return lease, nil
}

func (f *fileStore) ReleaseLease(_ context.Context, lease *Lease) error {
	if lease == nil {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	lock, held := f.locks[lease.Job]
	if !held {
		return nil
	}
	delete(f.locks, lease.Job)

	_ = os.Remove(filepath.Join(f.basePath, lease.Job, LeaseInfoFileName))
	if err := lock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock job '%s': %w", lease.Job, err)
	}
	return nil
}

// writeAtomically writes to a temporary file and renames it over path
func writeAtomically(path string, data []byte) error {
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary file %s: %w", tempPath, err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename %s: %w", tempPath, err)
	}
	return nil
}
