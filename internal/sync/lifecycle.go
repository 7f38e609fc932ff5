package sync

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-logr/logr"

	"github.com/stacklok/roster-sync/internal/directory"
	"github.com/stacklok/roster-sync/internal/lifecycle"
	"github.com/stacklok/roster-sync/internal/report"
	"github.com/stacklok/roster-sync/internal/roster/changes"
)

// planLifecycle lists one item per managed account, ordered by address.
// Accounts without an external ID were not created by this tool and are left alone.
func (m *defaultManager) planLifecycle(ctx context.Context, rec *report.Recorder) (*Plan, *Error) {
	snap, perr := m.loadSnapshot(ctx, JobLifecycle, rec)
	if perr != nil {
		return nil, perr
	}
	classes, err := m.detector.Classify(ctx, snap)
	if err != nil {
		return nil, planError(JobLifecycle, ReasonChangeDetectionFailed, err, "failed to load activity markers")
	}
	users, err := m.client.ListAllUsers(ctx)
	if err != nil {
		return nil, planError(JobLifecycle, ReasonDirectoryUnavailable, err, "failed to list directory accounts")
	}

	managed := make([]directory.User, 0, len(users))
	for _, u := range users {
		if u.ExternalID != "" {
			managed = append(managed, u)
		}
	}
	sort.Slice(managed, func(i, j int) bool { return managed[i].Address < managed[j].Address })

	machine := lifecycle.NewMachine(m.thresholds,
		lifecycle.WithDeletion(m.cfg.Lifecycle.DeleteEnabled, m.confirmDelete))
	active := snap.ActiveIDs()
	now := m.now()

	plan := &Plan{Job: JobLifecycle, Items: make([]Item, 0, len(managed))}
	for _, u := range managed {
		acct := lifecycle.Account{
			Address:        u.Address,
			ExternalID:     u.ExternalID,
			State:          lifecycle.StateOf(u.Suspended, u.Archived),
			ActivityMarker: lifecycle.ActivityMarker(u.LastLoginTime, u.CreationTime, lastSeenActive(classes, u.ExternalID)),
		}
		plan.Items = append(plan.Items, NewItem(u.Address, func(ctx context.Context) error {
			return m.retire(ctx, rec, machine, acct, active, now)
		}))
	}

	logr.FromContextOrDiscard(ctx).Info("Planned lifecycle evaluation",
		"items", len(plan.Items),
		"unmanaged", len(users)-len(managed),
		"deletionAllowed", machine.DeletionAllowed())
	return plan, nil
}

// retire applies every transition the machine resolves for acct. The first
// failed step stops the account; the next invocation evaluates it again.
func (m *defaultManager) retire(
	ctx context.Context,
	rec *report.Recorder,
	machine *lifecycle.Machine,
	acct lifecycle.Account,
	active lifecycle.ActiveSet,
	now time.Time,
) error {
	for _, step := range machine.Resolve(ctx, acct, active, now) {
		var err error
		var action report.Action
		switch step.To {
		case lifecycle.StateSuspended:
			action, err = report.ActionSuspended, m.client.Suspend(ctx, acct.Address)
		case lifecycle.StateArchived:
			action, err = report.ActionArchived, m.client.Archive(ctx, acct.Address)
		case lifecycle.StateDeleted:
			action, err = report.ActionDeleted, m.client.Delete(ctx, acct.Address)
		case lifecycle.StateActive:
			action, err = report.ActionReactivated, m.client.Reactivate(ctx, acct.Address)
		default:
			return fmt.Errorf("unexpected transition of '%s' to %s", acct.Address, step.To)
		}
		if failed := record(rec, action, acct.Address, "", err); failed != nil {
			return fmt.Errorf("failed to move '%s' from %s to %s: %w", acct.Address, step.From, step.To, failed)
		}
		acct.State = step.To
	}

	if machine.DeletionPending(acct, active, now) {
		rec.Record(report.ActionSkipped, acct.Address, "", ReasonDeletionPending)
	}
	return nil
}

// lastSeenActive returns the marker recorded for a roster member by earlier
// runs, or nil when the external ID is not a member ID or was never seen active
func lastSeenActive(classes *changes.Classification, externalID string) *time.Time {
	id, err := strconv.ParseInt(externalID, 10, 64)
	if err != nil {
		return nil
	}
	seen, ok := classes.LastSeenActive(id)
	if !ok {
		return nil
	}
	return &seen
}
