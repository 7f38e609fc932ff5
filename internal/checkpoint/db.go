package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type dbStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewDBStore creates a store backed by the job_checkpoints and job_leases tables
func NewDBStore(pool *pgxpool.Pool) Store {
	return &dbStore{pool: pool, now: time.Now}
}

func (d *dbStore) Load(ctx context.Context, job string) (Checkpoint, error) {
	if err := ValidateJob(job); err != nil {
		return Checkpoint{}, err
	}

	cp := Checkpoint{Job: job}
	err := d.pool.QueryRow(ctx,
		`SELECT cursor_pos, total, updated_at FROM job_checkpoints WHERE job = $1`, job,
	).Scan(&cp.Cursor, &cp.Total, &cp.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Checkpoint{}, ErrNotFound
		}
		return Checkpoint{}, fmt.Errorf("failed to load checkpoint for job '%s': %w", job, err)
	}

	if err := cp.Validate(); err != nil {
		return Checkpoint{}, err
	}
	return cp, nil
}

func (d *dbStore) Save(ctx context.Context, cp Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}

	_, err := d.pool.Exec(ctx, `
		INSERT INTO job_checkpoints (job, cursor_pos, total, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (job) DO UPDATE
		SET cursor_pos = EXCLUDED.cursor_pos, total = EXCLUDED.total, updated_at = EXCLUDED.updated_at`,
		cp.Job, cp.Cursor, cp.Total, cp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint for job '%s': %w", cp.Job, err)
	}
	return nil
}

func (d *dbStore) Clear(ctx context.Context, job string) error {
	if err := ValidateJob(job); err != nil {
		return err
	}
	if _, err := d.pool.Exec(ctx, `DELETE FROM job_checkpoints WHERE job = $1`, job); err != nil {
		return fmt.Errorf("failed to clear checkpoint for job '%s': %w", job, err)
	}
	return nil
}

// AcquireLease takes the lease when it is free, expired, or already held by owner
func (d *dbStore) AcquireLease(ctx context.Context, job, owner string, ttl time.Duration) (*Lease, error) {
	if err := ValidateJob(job); err != nil {
		return nil, err
	}

	now := d.now()
	lease := &Lease{Job: job, Owner: owner, AcquiredAt: now, ExpiresAt: now.Add(ttl)}

	tag, err := d.pool.Exec(ctx, `
		INSERT INTO job_leases (job, owner, acquired_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (job) DO UPDATE
		SET owner = EXCLUDED.owner, acquired_at = EXCLUDED.acquired_at, expires_at = EXCLUDED.expires_at
		WHERE job_leases.expires_at <= $3 OR job_leases.owner = EXCLUDED.owner`,
		lease.Job, lease.Owner, lease.AcquiredAt, lease.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lease for job '%s': %w", job, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrLeaseHeld
	}
	return lease, nil
}

func (d *dbStore) ReleaseLease(ctx context.Context, lease *Lease) error {
	if lease == nil {
		return nil
	}
	_, err := d.pool.Exec(ctx, `DELETE FROM job_leases WHERE job = $1 AND owner = $2`, lease.Job, lease.Owner)
	if err != nil {
		return fmt.Errorf("failed to release lease for job '%s': %w", lease.Job, err)
	}
	return nil
}
