package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/roster-sync/internal/batch"
	"github.com/stacklok/roster-sync/internal/checkpoint"
	"github.com/stacklok/roster-sync/internal/otel"
	"github.com/stacklok/roster-sync/internal/report"
	"github.com/stacklok/roster-sync/internal/status"
	pkgsync "github.com/stacklok/roster-sync/internal/sync"
	"github.com/stacklok/roster-sync/internal/telemetry"
)

// DefaultLeaseTTL bounds how long a crashed invocation can block the job
const DefaultLeaseTTL = 15 * time.Minute

// DryRunSuffix is appended to the job name to key the state of dry runs
const DryRunSuffix = "-dry-run"

// Coordinator runs job invocations
type Coordinator interface {
	// Run performs one invocation of job. The report is returned whenever the
	// invocation got as far as planning, even when it failed.
	Run(ctx context.Context, job string) (*report.Report, error)
}

type defaultCoordinator struct {
	manager  pkgsync.Manager
	executor *batch.Executor
	leases   checkpoint.Store
	statuses status.StatusPersistence

	notifier report.Notifier
	leaseTTL time.Duration
	dryRun   bool
	now      func() time.Time
	newRunID func() string

	syncMetrics *telemetry.SyncMetrics
	tracer      trace.Tracer
}

// Option is a function that configures the coordinator
type Option func(*defaultCoordinator)

// WithNotifier sets where reports are delivered; defaults to the log
func WithNotifier(n report.Notifier) Option {
	return func(c *defaultCoordinator) {
		c.notifier = n
	}
}

// WithLeaseTTL overrides DefaultLeaseTTL
func WithLeaseTTL(ttl time.Duration) Option {
	return func(c *defaultCoordinator) {
		if ttl > 0 {
			c.leaseTTL = ttl
		}
	}
}

// WithDryRun marks reports and statuses as dry runs
func WithDryRun(dryRun bool) Option {
	return func(c *defaultCoordinator) {
		c.dryRun = dryRun
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(c *defaultCoordinator) {
		c.now = now
	}
}

// WithRunIDs replaces the run ID generator
func WithRunIDs(next func() string) Option {
	return func(c *defaultCoordinator) {
		c.newRunID = next
	}
}

// WithSyncMetrics sets the sync metrics for the coordinator
func WithSyncMetrics(metrics *telemetry.SyncMetrics) Option {
	return func(c *defaultCoordinator) {
		c.syncMetrics = metrics
	}
}

// WithTracer traces every invocation
func WithTracer(tracer trace.Tracer) Option {
	return func(c *defaultCoordinator) {
		c.tracer = tracer
	}
}

// New creates a coordinator. leases holds the job leases, usually the same
// store the executor keeps its checkpoints in.
func New(
	manager pkgsync.Manager,
	executor *batch.Executor,
	leases checkpoint.Store,
	statuses status.StatusPersistence,
	opts ...Option,
) Coordinator {
	c := &defaultCoordinator{
		manager:  manager,
		executor: executor,
		leases:   leases,
		statuses: statuses,
		notifier: report.NewLogNotifier(),
		leaseTTL: DefaultLeaseTTL,
		now:      time.Now,
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run performs one invocation of job
func (c *defaultCoordinator) Run(ctx context.Context, job string) (*report.Report, error) {
	if !pkgsync.IsJob(job) {
		return nil, fmt.Errorf("unknown job %q (known: %v)", job, pkgsync.Jobs())
	}

	runID := c.newRunID()
	ctxLogger := logr.FromContextOrDiscard(ctx).WithValues("job", job, "runId", runID)
	ctx = logr.NewContext(ctx, ctxLogger)

	ctx, span := otel.StartSpan(ctx, c.tracer, "job."+job, trace.WithAttributes(
		otel.AttrJob.String(job),
		otel.AttrRunID.String(runID),
		otel.AttrDryRun.Bool(c.dryRun),
	))
	defer span.End()

	lease, err := c.leases.AcquireLease(ctx, job, runID, c.leaseTTL)
	if err != nil {
		if errors.Is(err, checkpoint.ErrLeaseHeld) {
			ctxLogger.Info("Job is already running elsewhere, skipping invocation")
		}
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to acquire lease for job %s: %w", job, err)
	}
	defer func() {
		if err := c.leases.ReleaseLease(ctx, lease); err != nil {
			ctxLogger.Error(err, "Failed to release job lease")
		}
	}()

	// Dry runs resume from their own checkpoint and status so they never
	// advance the cursor of a real run. The lease stays shared.
	key := StateKey(job, c.dryRun)

	start := c.now()
	runStatus := c.startStatus(ctx, key, runID, start)
	rec := report.NewRecorder(runID, job, c.dryRun, report.WithClock(c.now))

	ctxLogger.Info("Starting job invocation", "attempt", runStatus.AttemptCount, "dryRun", c.dryRun)

	plan, perr := c.manager.Plan(ctx, job, rec)
	if perr != nil {
		otel.RecordError(span, perr, otel.AttrErrClass.String(perr.Reason))
		ctxLogger.Error(perr, "Failed to plan job", "reason", perr.Reason, "fatal", perr.Fatal())
		runStatus.Phase = status.RunPhaseFailed
		runStatus.Message = perr.Message
		c.saveStatus(ctx, key, runStatus)

		rep := rec.Finish(report.Outcome{Aborted: perr.Fatal()})
		c.deliver(ctx, rep)
		c.syncMetrics.RecordRun(ctx, job, telemetry.OutcomeFailed, c.now().Sub(start))
		return rep, perr
	}

	span.SetAttributes(otel.AttrItemCount.Int(len(plan.Items)))
	c.syncMetrics.RecordWorkItems(ctx, job, len(plan.Items))

	summary, err := batch.Run(ctx, c.executor, key, plan.Items, plan.Process)
	if err == nil && summary.Completed && plan.Finalize != nil {
		if ferr := plan.Finalize(ctx); ferr != nil {
			err = fmt.Errorf("failed to finalize job %s: %w", job, ferr)
		}
	}

	outcome := c.finishStatus(runStatus, summary, err)
	c.saveStatus(ctx, key, runStatus)

	rep := rec.Finish(report.Outcome{
		Processed: runStatus.Processed,
		Completed: outcome == telemetry.OutcomeComplete,
		TimedOut:  summary != nil && summary.TimedOut,
		Aborted:   summary != nil && summary.Aborted,
	})
	c.deliver(ctx, rep)

	c.syncMetrics.RecordRun(ctx, job, outcome, c.now().Sub(start))
	c.syncMetrics.RecordItems(ctx, job, runStatus.Processed, runStatus.Failed)
	c.syncMetrics.RecordActions(ctx, job, actionCounts(rep))
	span.SetAttributes(otel.AttrCursor.Int(runStatus.Cursor))

	if err != nil {
		otel.RecordError(span, err)
		ctxLogger.Error(err, "Job invocation failed", "cursor", runStatus.Cursor, "total", runStatus.Total)
		return rep, err
	}
	ctxLogger.Info("Job invocation finished",
		"phase", string(runStatus.Phase),
		"processed", runStatus.Processed,
		"failed", runStatus.Failed,
		"cursor", runStatus.Cursor,
		"total", runStatus.Total,
		"changes", rep.Changes())
	return rep, nil
}

// StateKey is the key a job's checkpoint and status are stored under
func StateKey(job string, dryRun bool) string {
	if dryRun {
		return job + DryRunSuffix
	}
	return job
}

// startStatus loads the job's previous status and persists it as running
func (c *defaultCoordinator) startStatus(ctx context.Context, job, runID string, start time.Time) *status.RunStatus {
	runStatus, err := c.statuses.LoadStatus(ctx, job)
	if err != nil {
		logr.FromContextOrDiscard(ctx).Error(err, "Failed to load previous status, starting fresh")
	}
	if runStatus == nil {
		runStatus = &status.RunStatus{}
	}

	runStatus.Phase = status.RunPhaseRunning
	runStatus.Message = "Invocation in progress"
	runStatus.RunID = runID
	runStatus.DryRun = c.dryRun
	runStatus.LastAttempt = &start
	runStatus.AttemptCount++
	runStatus.Processed = 0
	runStatus.Failed = 0
	c.saveStatus(ctx, job, runStatus)
	return runStatus
}

// finishStatus folds the batch summary into runStatus and returns the outcome
func (c *defaultCoordinator) finishStatus(runStatus *status.RunStatus, summary *batch.Summary, err error) string {
	if summary != nil {
		runStatus.Cursor = summary.Cursor
		runStatus.Total = summary.Total
		runStatus.Processed = summary.Processed
		runStatus.Failed = summary.Failed
	}

	switch {
	case err != nil:
		runStatus.Phase = status.RunPhaseFailed
		runStatus.Message = err.Error()
		return telemetry.OutcomeFailed
	case summary.Completed:
		now := c.now()
		runStatus.Phase = status.RunPhaseComplete
		runStatus.Message = fmt.Sprintf("Processed all %d item(s)", summary.Total)
		runStatus.LastCompleted = &now
		runStatus.AttemptCount = 0
		runStatus.Cursor = 0
		return telemetry.OutcomeComplete
	default:
		stop := "batch size reached"
		if summary.TimedOut {
			stop = "quota exhausted"
		}
		runStatus.Phase = status.RunPhasePartial
		runStatus.Message = fmt.Sprintf("Stopped at item %d of %d (%s)", summary.Cursor, summary.Total, stop)
		return telemetry.OutcomePartial
	}
}

func (c *defaultCoordinator) saveStatus(ctx context.Context, job string, runStatus *status.RunStatus) {
	if err := c.statuses.SaveStatus(ctx, job, runStatus); err != nil {
		logr.FromContextOrDiscard(ctx).Error(err, "Failed to persist job status", "phase", string(runStatus.Phase))
	}
}

// deliver hands the report to the notifier. Delivery failures do not fail the invocation.
func (c *defaultCoordinator) deliver(ctx context.Context, rep *report.Report) {
	if err := c.notifier.Notify(ctx, rep); err != nil {
		logr.FromContextOrDiscard(ctx).Error(err, "Failed to deliver run report")
	}
}

func actionCounts(rep *report.Report) map[string]int {
	out := make(map[string]int, len(rep.Counts))
	for action, n := range rep.Counts {
		out[string(action)] = n
	}
	return out
}
