package report

import (
	"context"
	"errors"
	"slices"

	"github.com/go-logr/logr"
)

//go:generate mockgen -destination=mocks/mock_notifier.go -package=mocks github.com/stacklok/roster-sync/internal/report Notifier

// Notifier delivers a finished report
type Notifier interface {
	Notify(ctx context.Context, r *Report) error
}

type logNotifier struct{}

// NewLogNotifier writes reports to the context logger
func NewLogNotifier() Notifier {
	return logNotifier{}
}

func (logNotifier) Notify(ctx context.Context, r *Report) error {
	ctxLogger := logr.FromContextOrDiscard(ctx)

	counts := make([]any, 0, 2*len(r.Counts))
	actions := make([]string, 0, len(r.Counts))
	for a := range r.Counts {
		actions = append(actions, string(a))
	}
	slices.Sort(actions)
	for _, a := range actions {
		counts = append(counts, a, r.Counts[Action(a)])
	}

	ctxLogger.Info("Run report",
		append([]any{
			"runId", r.RunID,
			"job", r.Job,
			"dryRun", r.DryRun,
			"processed", r.Processed,
			"completed", r.Completed,
			"timedOut", r.TimedOut,
			"aborted", r.Aborted,
			"duration", r.FinishedAt.Sub(r.StartedAt).String(),
		}, counts...)...)

	for reason, addresses := range r.FailureBreakdown() {
		ctxLogger.Info("Run failures", "job", r.Job, "reason", reason, "count", len(addresses), "addresses", addresses)
	}
	return nil
}

type multiNotifier []Notifier

// Multi delivers to every notifier and joins their errors
func Multi(notifiers ...Notifier) Notifier {
	return multiNotifier(notifiers)
}

func (m multiNotifier) Notify(ctx context.Context, r *Report) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
