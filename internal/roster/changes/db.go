package changes

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type dbStore struct {
	pool *pgxpool.Pool
}

// NewDBStore creates a store backed by the roster_fingerprints table
func NewDBStore(pool *pgxpool.Pool) Store {
	return &dbStore{pool: pool}
}

func (d *dbStore) Load(ctx context.Context) (map[int64]Entry, error) {
	rows, err := d.pool.Query(ctx, `SELECT member_id, fingerprint, last_seen_active FROM roster_fingerprints`)
	if err != nil {
		return nil, fmt.Errorf("failed to query fingerprints: %w", err)
	}
	defer rows.Close()

	entries := make(map[int64]Entry)
	for rows.Next() {
		var (
			id             int64
			fingerprint    string
			lastSeenActive *time.Time
		)
		if err := rows.Scan(&id, &fingerprint, &lastSeenActive); err != nil {
			return nil, fmt.Errorf("failed to scan fingerprint: %w", err)
		}
		entries[id] = Entry{Fingerprint: fingerprint, LastSeenActive: lastSeenActive}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read fingerprints: %w", err)
	}
	return entries, nil
}

// Save replaces the table contents in one transaction
func (d *dbStore) Save(ctx context.Context, entries map[int64]Entry) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM roster_fingerprints`); err != nil {
		return fmt.Errorf("failed to clear fingerprints: %w", err)
	}

	rows := make([][]any, 0, len(entries))
	for id, entry := range entries {
		rows = append(rows, []any{id, entry.Fingerprint, entry.LastSeenActive})
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"roster_fingerprints"},
		[]string{"member_id", "fingerprint", "last_seen_active"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to copy fingerprints: %w", err)
	}

	return tx.Commit(ctx)
}
