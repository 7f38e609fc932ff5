package report

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type dbNotifier struct {
	pool *pgxpool.Pool
}

// NewDBNotifier stores reports in the run_reports table
func NewDBNotifier(pool *pgxpool.Pool) Notifier {
	return &dbNotifier{pool: pool}
}

func (d *dbNotifier) Notify(ctx context.Context, r *Report) error {
	id, err := uuid.Parse(r.RunID)
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", r.RunID, err)
	}
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode report %s: %w", r.RunID, err)
	}

	_, err = d.pool.Exec(ctx, `
		INSERT INTO run_reports (run_id, job, started_at, finished_at, timed_out, report)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (run_id) DO UPDATE SET
			finished_at = EXCLUDED.finished_at,
			timed_out = EXCLUDED.timed_out,
			report = EXCLUDED.report`,
		id.String(), r.Job, r.StartedAt, r.FinishedAt, r.TimedOut, body)
	if err != nil {
		return fmt.Errorf("failed to store report %s: %w", r.RunID, err)
	}
	return nil
}

// Recent returns the latest stored reports of job, newest first
func Recent(ctx context.Context, pool *pgxpool.Pool, job string, limit int) ([]*Report, error) {
	rows, err := pool.Query(ctx, `
		SELECT report FROM run_reports
		WHERE job = $1
		ORDER BY started_at DESC
		LIMIT $2`, job, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports of job %s: %w", job, err)
	}
	defer rows.Close()

	var out []*Report
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		var r Report
		if err := json.Unmarshal(body, &r); err != nil {
			return nil, fmt.Errorf("failed to decode report: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
