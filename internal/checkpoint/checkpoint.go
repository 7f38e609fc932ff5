// Package checkpoint persists the resume position of batch jobs across
// invocations, together with a lease that keeps two invocations of the same
// job from running at once.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"
)

var (
	// ErrNotFound is returned by Load when a job has no checkpoint
	ErrNotFound = errors.New("checkpoint not found")

	// ErrLeaseHeld is returned by AcquireLease when another invocation holds the job
	ErrLeaseHeld = errors.New("job lease is held by another invocation")
)

// Checkpoint is the resume position of one job within its ordered work list
type Checkpoint struct {
	Job string `json:"job"`
	// Cursor is the index of the next unprocessed item
	Cursor int `json:"cursor"`
	// Total is the work list length when the checkpoint was taken
	Total     int       `json:"total"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// New returns a checkpoint at the start of a list of total items
func New(job string, total int, now time.Time) Checkpoint {
	return Checkpoint{Job: job, Total: total, UpdatedAt: now}
}

// Validate checks the invariants 0 <= Cursor <= Total
func (c Checkpoint) Validate() error {
	if err := ValidateJob(c.Job); err != nil {
		return err
	}
	if c.Total < 0 {
		return fmt.Errorf("checkpoint %s: negative total %d", c.Job, c.Total)
	}
	if c.Cursor < 0 || c.Cursor > c.Total {
		return fmt.Errorf("checkpoint %s: cursor %d outside [0, %d]", c.Job, c.Cursor, c.Total)
	}
	return nil
}

// Remaining returns the number of unprocessed items
func (c Checkpoint) Remaining() int {
	return c.Total - c.Cursor
}

// Marshal encodes a valid checkpoint as JSON
func (c Checkpoint) Marshal() ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(c)
}

// Unmarshal decodes and validates a JSON checkpoint
func Unmarshal(data []byte) (Checkpoint, error) {
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return Checkpoint{}, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Checkpoint{}, err
	}
	return c, nil
}

var jobNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,62}$`)

// ValidateJob checks that a job name is safe to use as a key and a directory name
func ValidateJob(job string) error {
	if !jobNamePattern.MatchString(job) {
		return fmt.Errorf("invalid job name %q", job)
	}
	return nil
}

// Lease is an exclusive claim on a job
type Lease struct {
	Job        string    `json:"job"`
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquiredAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Store persists checkpoints and leases
//
//go:generate mockgen -destination=mocks/mock_store.go -package=mocks github.com/stacklok/roster-sync/internal/checkpoint Store
type Store interface {
	// Load returns the job's checkpoint, or ErrNotFound
	Load(ctx context.Context, job string) (Checkpoint, error)

	// Save replaces the job's checkpoint
	Save(ctx context.Context, cp Checkpoint) error

	// Clear removes the job's checkpoint; clearing a missing checkpoint is not an error
	Clear(ctx context.Context, job string) error

	// AcquireLease claims the job for owner, or returns ErrLeaseHeld
	AcquireLease(ctx context.Context, job, owner string, ttl time.Duration) (*Lease, error)

	// ReleaseLease gives up a lease obtained from AcquireLease
	ReleaseLease(ctx context.Context, lease *Lease) error
}
