package sync

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-logr/logr"

	"github.com/stacklok/roster-sync/internal/directory"
	"github.com/stacklok/roster-sync/internal/membership"
	"github.com/stacklok/roster-sync/internal/report"
	"github.com/stacklok/roster-sync/internal/retry"
)

// planGroups lists one item per desired group, ordered by address
func (m *defaultManager) planGroups(ctx context.Context, rec *report.Recorder) (*Plan, *Error) {
	snap, perr := m.loadSnapshot(ctx, JobGroups, rec)
	if perr != nil {
		return nil, perr
	}
	desired, err := membership.DesiredGroups(snap, m.cfg.Groups, m.registry, m.naming)
	if err != nil {
		return nil, planError(JobGroups, ReasonInvalidGroups, err, "failed to evaluate group definitions")
	}
	// Items make no directory call before they run, so rejected credentials
	// would otherwise surface one group at a time.
	if err := m.client.Ping(ctx); err != nil {
		return nil, planError(JobGroups, ReasonDirectoryUnavailable, err, "failed to list directory accounts")
	}

	plan := &Plan{Job: JobGroups, Items: make([]Item, 0, len(desired))}
	for _, group := range desired {
		plan.Items = append(plan.Items, NewItem(group.Address, func(ctx context.Context) error {
			return m.syncGroup(ctx, rec, group)
		}))
	}

	logr.FromContextOrDiscard(ctx).Info("Planned groups", "items", len(plan.Items))
	return plan, nil
}

// syncGroup ensures the group exists and applies its membership delta. A
// failed member change does not stop the others unless it is fatal.
func (m *defaultManager) syncGroup(ctx context.Context, rec *report.Recorder, group membership.DesiredGroup) error {
	ctxLogger := logr.FromContextOrDiscard(ctx)

	actual, err := m.ensureGroup(ctx, rec, group)
	if err != nil {
		return err
	}

	delta := membership.ComputeDelta(group.Members, actual)
	counts := delta.Counts()
	ctxLogger.V(1).Info("Computed membership delta",
		"add", counts[membership.ActionAdd],
		"remove", counts[membership.ActionRemove],
		"noop", counts[membership.ActionNoop])
	rec.Count(report.ActionNoop, counts[membership.ActionNoop])

	var errs []error
	for _, address := range delta.Addresses(membership.ActionAdd) {
		err := record(rec, report.ActionAdded, address, group.Address, m.client.AddMember(ctx, group.Address, address))
		if retry.IsFatal(err) {
			return err
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	for _, address := range delta.Addresses(membership.ActionRemove) {
		err := record(rec, report.ActionRemoved, address, group.Address, m.client.RemoveMember(ctx, group.Address, address))
		if retry.IsFatal(err) {
			return err
		}
		if err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%d membership change(s) of '%s' failed: %w", len(errs), group.Address, errors.Join(errs...))
	}
	return nil
}

// ensureGroup creates the group when missing and returns its current member
// addresses. A dry run looks the group up instead, so the report names the
// groups a real run would create.
func (m *defaultManager) ensureGroup(ctx context.Context, rec *report.Recorder, group membership.DesiredGroup) ([]string, error) {
	if m.client.DryRun() {
		actual, err := m.client.ListAllMembers(ctx, group.Address)
		var rerr *retry.Error
		switch {
		case err == nil:
			return actual, nil
		case errors.As(err, &rerr) && rerr.Code() == http.StatusNotFound:
			rec.Record(report.ActionCreated, group.Address, "", "")
			return nil, nil
		default:
			rec.Record(report.ActionErrored, group.Address, "", failureReason(err))
			return nil, err
		}
	}

	err := m.client.CreateGroup(ctx, directory.Group{
		Address:     group.Address,
		Name:        group.Name,
		Description: group.Description,
	})
	switch {
	case err == nil:
		rec.Record(report.ActionCreated, group.Address, "", "")
	case !retry.IsExpected(err):
		rec.Record(report.ActionErrored, group.Address, "", failureReason(err))
		return nil, fmt.Errorf("failed to ensure group '%s': %w", group.Address, err)
	}

	actual, err := m.client.ListAllMembers(ctx, group.Address)
	if err != nil {
		rec.Record(report.ActionErrored, group.Address, "", failureReason(err))
		return nil, err
	}
	return actual, nil
}
