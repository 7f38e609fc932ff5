// Package batch drives an ordered work list item by item within a time quota,
// persisting a cursor so the next invocation resumes where this one stopped.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/stacklok/roster-sync/internal/checkpoint"
	"github.com/stacklok/roster-sync/internal/config"
	"github.com/stacklok/roster-sync/internal/retry"
)

// maxRecordedErrors bounds Summary.Errors; Failed still counts every failure
const maxRecordedErrors = 100

// Limits bound a single invocation
type Limits struct {
	// Quota is the wall-clock budget of the invocation
	Quota time.Duration
	// Reserve is kept free at the end of the quota; no item starts inside it
	Reserve time.Duration
	// ItemDelay is waited between items
	ItemDelay time.Duration
	// BatchSize caps the items processed per invocation; 0 means no cap
	BatchSize int
}

// LimitsFromConfig reads limits from the batch configuration
func LimitsFromConfig(cfg config.BatchConfig) Limits {
	return Limits{
		Quota:     cfg.GetQuota(),
		Reserve:   cfg.GetReserve(),
		ItemDelay: cfg.GetItemDelay(),
		BatchSize: cfg.GetBatchSize(),
	}
}

// Executor runs work lists under Limits
type Executor struct {
	store  checkpoint.Store
	limits Limits
	clock  Clock
}

// Option configures an Executor
type Option func(*Executor)

// WithClock replaces the wall clock
func WithClock(c Clock) Option {
	return func(e *Executor) {
		e.clock = c
	}
}

// NewExecutor creates an Executor persisting cursors in store
func NewExecutor(store checkpoint.Store, limits Limits, opts ...Option) *Executor {
	e := &Executor{store: store, limits: limits, clock: realClock{}}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ItemError is the failure of one item
type ItemError struct {
	Index int
	Err   error
}

// Summary describes one invocation
type Summary struct {
	Job   string
	Total int
	// Start is the cursor the invocation resumed from
	Start int
	// Cursor is the index of the next unprocessed item
	Cursor    int
	Processed int
	Failed    int
	Errors    []ItemError
	// Completed is set when the whole list was processed and the checkpoint cleared
	Completed bool
	// TimedOut is set when the quota stopped the invocation
	TimedOut bool
	// Limited is set when the batch size stopped the invocation
	Limited bool
	// Aborted is set when a fatal failure stopped the invocation
	Aborted bool
	Elapsed time.Duration
}

// Run processes items from the stored cursor on. After each item the cursor
// is saved; on completion it is cleared. Failed items are counted and skipped
// unless the failure is fatal, which stops the run with the cursor left on the
// failed item. Cancellation is checked before each item.
func Run[T any](
	ctx context.Context, e *Executor, job string, items []T, process func(context.Context, T) error,
) (*Summary, error) {
	ctxLogger := logr.FromContextOrDiscard(ctx).WithValues("job", job)
	start := e.clock.Now()

	cp, err := e.resume(ctx, job, len(items), start)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Job: job, Total: len(items), Start: cp.Cursor, Cursor: cp.Cursor}
	defer func() {
		summary.Cursor = cp.Cursor
		summary.Elapsed = e.clock.Now().Sub(start)
	}()

	ctxLogger.Info("Starting batch", "total", len(items), "cursor", cp.Cursor)

	for cp.Cursor < len(items) {
		if err := ctx.Err(); err != nil {
			return summary, fmt.Errorf("job %s cancelled at item %d: %w", job, cp.Cursor, err)
		}
		if e.limits.BatchSize > 0 && summary.Processed >= e.limits.BatchSize {
			summary.Limited = true
			break
		}
		if summary.Processed > 0 && e.limits.ItemDelay > 0 {
			if err := e.clock.Sleep(ctx, e.limits.ItemDelay); err != nil {
				return summary, fmt.Errorf("job %s cancelled at item %d: %w", job, cp.Cursor, err)
			}
		}
		if e.clock.Now().Sub(start)+e.limits.Reserve >= e.limits.Quota {
			summary.TimedOut = true
			break
		}

		if err := process(ctx, items[cp.Cursor]); err != nil {
			if retry.IsFatal(err) {
				summary.Aborted = true
				ctxLogger.Error(err, "Fatal failure, aborting batch", "cursor", cp.Cursor)
				return summary, fmt.Errorf("job %s aborted at item %d: %w", job, cp.Cursor, err)
			}
			summary.Failed++
			if len(summary.Errors) < maxRecordedErrors {
				summary.Errors = append(summary.Errors, ItemError{Index: cp.Cursor, Err: err})
			}
		}

		cp.Cursor++
		cp.UpdatedAt = e.clock.Now()
		summary.Processed++
		if err := e.store.Save(ctx, cp); err != nil {
			return summary, fmt.Errorf("failed to save checkpoint for job %s: %w", job, err)
		}
	}

	if cp.Cursor >= len(items) {
		if err := e.store.Clear(ctx, job); err != nil {
			return summary, fmt.Errorf("failed to clear checkpoint for job %s: %w", job, err)
		}
		summary.Completed = true
	}

	ctxLogger.Info("Batch stopped",
		"processed", summary.Processed,
		"failed", summary.Failed,
		"cursor", cp.Cursor,
		"completed", summary.Completed,
		"timedOut", summary.TimedOut,
		"limited", summary.Limited)
	return summary, nil
}

// resume loads the job's checkpoint, starting over when none exists or the
// list length changed since it was taken
func (e *Executor) resume(ctx context.Context, job string, total int, now time.Time) (checkpoint.Checkpoint, error) {
	ctxLogger := logr.FromContextOrDiscard(ctx)

	cp, err := e.store.Load(ctx, job)
	switch {
	case errors.Is(err, checkpoint.ErrNotFound):
		cp = checkpoint.New(job, total, now)
	case err != nil:
		return checkpoint.Checkpoint{}, fmt.Errorf("failed to load checkpoint for job %s: %w", job, err)
	case cp.Total != total:
		ctxLogger.Info("Work list changed since last checkpoint, starting over",
			"job", job, "previousTotal", cp.Total, "total", total, "previousCursor", cp.Cursor)
		cp = checkpoint.New(job, total, now)
	default:
		return cp, nil
	}

	if err := e.store.Save(ctx, cp); err != nil {
		return checkpoint.Checkpoint{}, fmt.Errorf("failed to save checkpoint for job %s: %w", job, err)
	}
	return cp, nil
}
