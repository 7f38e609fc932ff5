package sync

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/go-logr/logr"

	"github.com/stacklok/roster-sync/internal/config"
	"github.com/stacklok/roster-sync/internal/directory"
	"github.com/stacklok/roster-sync/internal/lifecycle"
	"github.com/stacklok/roster-sync/internal/membership"
	"github.com/stacklok/roster-sync/internal/report"
	"github.com/stacklok/roster-sync/internal/retry"
	"github.com/stacklok/roster-sync/internal/roster"
	"github.com/stacklok/roster-sync/internal/roster/changes"
)

// Job names
const (
	JobMembers   = "members"
	JobGroups    = "groups"
	JobLifecycle = "lifecycle"
)

// Jobs returns every job name in the order they are usually scheduled
func Jobs() []string {
	return []string{JobMembers, JobGroups, JobLifecycle}
}

// IsJob reports whether name is a known job
func IsJob(name string) bool {
	return slices.Contains(Jobs(), name)
}

// Reasons a plan could not be built
const (
	ReasonUnknownJob            = "UnknownJob"
	ReasonRosterUnavailable     = "RosterUnavailable"
	ReasonChangeDetectionFailed = "ChangeDetectionFailed"
	ReasonDirectoryUnavailable  = "DirectoryUnavailable"
	ReasonInvalidGroups         = "InvalidGroupDefinitions"
)

// Error is a failure to plan a job
type Error struct {
	Err     error
	Message string
	Job     string
	Reason  string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Fatal reports whether the failure was a credential or authorization error
func (e *Error) Fatal() bool {
	return retry.IsFatal(e.Err)
}

func planError(job, reason string, err error, format string, args ...any) *Error {
	return &Error{
		Err:     err,
		Message: fmt.Sprintf(format, args...) + ": " + err.Error(),
		Job:     job,
		Reason:  reason,
	}
}

// Item is one unit of work of a plan
type Item struct {
	// Key identifies the item in logs, usually an address
	Key   string
	apply func(ctx context.Context) error
}

// NewItem returns an item that runs apply
func NewItem(key string, apply func(ctx context.Context) error) Item {
	return Item{Key: key, apply: apply}
}

// Plan is the ordered work list of one job invocation
type Plan struct {
	Job   string
	Items []Item
	// Finalize is run once after the last item of the list; nil means nothing to do
	Finalize func(ctx context.Context) error
}

// Process applies one item
func (p *Plan) Process(ctx context.Context, item Item) error {
	if item.apply == nil {
		return nil
	}
	ctx = logr.NewContext(ctx, logr.FromContextOrDiscard(ctx).WithValues("item", item.Key))
	return item.apply(ctx)
}

// Manager builds job plans
//
//go:generate mockgen -destination=mocks/mock_manager.go -package=mocks github.com/stacklok/roster-sync/internal/sync Manager
type Manager interface {
	// Plan loads the roster, reads the directory and returns the work list of
	// job. Item outcomes are recorded on rec as the items are processed.
	Plan(ctx context.Context, job string, rec *report.Recorder) (*Plan, *Error)
}

type defaultManager struct {
	cfg           *config.Config
	loader        *roster.Loader
	detector      *changes.Detector
	client        *directory.Client
	registry      *membership.Registry
	naming        membership.Naming
	thresholds    lifecycle.Thresholds
	confirmDelete bool
	now           func() time.Time
}

// Option configures the manager
type Option func(*defaultManager)

// WithRegistry replaces the default predicate registry
func WithRegistry(reg *membership.Registry) Option {
	return func(m *defaultManager) {
		m.registry = reg
	}
}

// WithConfirmDelete passes the operator's deletion confirmation for this invocation
func WithConfirmDelete(confirmed bool) Option {
	return func(m *defaultManager) {
		m.confirmDelete = confirmed
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(m *defaultManager) {
		m.now = now
	}
}

// NewManager creates a Manager. The client is the only path to the directory.
func NewManager(
	cfg *config.Config,
	loader *roster.Loader,
	detector *changes.Detector,
	client *directory.Client,
	opts ...Option,
) Manager {
	m := &defaultManager{
		cfg:        cfg,
		loader:     loader,
		detector:   detector,
		client:     client,
		registry:   membership.DefaultRegistry(),
		naming:     membership.Naming{Domain: cfg.Domain},
		thresholds: lifecycle.ThresholdsFromConfig(cfg.Lifecycle),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Plan dispatches to the job's planner
func (m *defaultManager) Plan(ctx context.Context, job string, rec *report.Recorder) (*Plan, *Error) {
	switch job {
	case JobMembers:
		return m.planMembers(ctx, rec)
	case JobGroups:
		return m.planGroups(ctx, rec)
	case JobLifecycle:
		return m.planLifecycle(ctx, rec)
	default:
		return nil, &Error{
			Err:     fmt.Errorf("unknown job %q", job),
			Message: fmt.Sprintf("unknown job %q (known: %v)", job, Jobs()),
			Job:     job,
			Reason:  ReasonUnknownJob,
		}
	}
}

// loadSnapshot reads the roster once for this invocation. Rejected rows and
// units without a directory path are reported as skipped.
func (m *defaultManager) loadSnapshot(ctx context.Context, job string, rec *report.Recorder) (*roster.Snapshot, *Error) {
	snap, load, err := m.loader.LoadSnapshot(ctx)
	if err != nil {
		return nil, planError(job, ReasonRosterUnavailable, err, "failed to load roster")
	}
	for _, malformed := range load.Malformed {
		address := fmt.Sprintf("%s %s", malformed.Table, malformed.ID)
		if malformed.ID == "" {
			address = fmt.Sprintf("%s row %d", malformed.Table, malformed.Row)
		}
		rec.Record(report.ActionSkipped, address, "", ReasonMalformedRecord)
	}
	for _, gap := range load.ConfigGaps {
		rec.Record(report.ActionSkipped, fmt.Sprintf("org %d", gap.ID), gap.Code, ReasonOrgPathMissing)
	}
	return snap, nil
}
