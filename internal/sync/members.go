package sync

import (
	"context"

	"github.com/go-logr/logr"

	"github.com/stacklok/roster-sync/internal/directory"
	"github.com/stacklok/roster-sync/internal/report"
	"github.com/stacklok/roster-sync/internal/roster"
	"github.com/stacklok/roster-sync/internal/roster/changes"
)

// planMembers lists a create for every active member with an email and no
// account, and an update for every changed member whose account differs.
// Unchanged members are not looked at. Members with an item keep their old
// fingerprint so a failed change is looked at again by the next run.
func (m *defaultManager) planMembers(ctx context.Context, rec *report.Recorder) (*Plan, *Error) {
	ctxLogger := logr.FromContextOrDiscard(ctx)

	snap, perr := m.loadSnapshot(ctx, JobMembers, rec)
	if perr != nil {
		return nil, perr
	}
	classes, err := m.detector.Classify(ctx, snap)
	if err != nil {
		return nil, planError(JobMembers, ReasonChangeDetectionFailed, err, "failed to classify roster changes")
	}
	users, err := m.client.ListAllUsers(ctx)
	if err != nil {
		return nil, planError(JobMembers, ReasonDirectoryUnavailable, err, "failed to list directory accounts")
	}

	byExternalID := make(map[string]directory.User, len(users))
	taken := make(map[string]bool, len(users))
	for _, u := range users {
		taken[roster.NormalizeAddress(u.Address)] = true
		if u.ExternalID != "" {
			byExternalID[u.ExternalID] = u
		}
	}
	isTaken := func(address string) bool { return taken[address] }

	plan := &Plan{Job: JobMembers}
	for _, member := range snap.Members() {
		if !member.IsActive() || member.Email == "" {
			continue
		}
		path, ok := snap.UnitPath(member.OrgID)
		if !ok {
			ctxLogger.Info("Skipping member without an org unit path", "member", member.ID, "org", member.OrgID)
			rec.Record(report.ActionSkipped, member.Email, "", ReasonOrgPathUnresolved)
			continue
		}

		want := directory.User{
			GivenName:   member.GivenName,
			FamilyName:  member.FamilyName,
			OrgUnitPath: path,
			ExternalID:  member.ExternalID(),
		}
		existing, found := byExternalID[want.ExternalID]
		switch {
		case !found:
			want.Address = m.naming.AccountAddress(member, isTaken)
			taken[want.Address] = true
			classes.Hold(member.ID)
			plan.Items = append(plan.Items, NewItem(want.Address, func(ctx context.Context) error {
				return record(rec, report.ActionCreated, want.Address, "", m.client.CreateUser(ctx, want))
			}))
		case classes.Kind(member.ID) == changes.KindUnchanged:
			// The account was brought in line when the record last changed.
		case profileDiffers(existing, want):
			want.Address = existing.Address
			classes.Hold(member.ID)
			plan.Items = append(plan.Items, NewItem(want.Address, func(ctx context.Context) error {
				return record(rec, report.ActionUpdated, want.Address, "", m.client.UpdateUser(ctx, want))
			}))
		}
	}

	dryRun := m.client.DryRun()
	plan.Finalize = func(ctx context.Context) error {
		if dryRun {
			return nil
		}
		return m.detector.Commit(ctx, snap, classes)
	}

	ctxLogger.Info("Planned member accounts", "items", len(plan.Items))
	return plan, nil
}

func profileDiffers(have, want directory.User) bool {
	return have.GivenName != want.GivenName ||
		have.FamilyName != want.FamilyName ||
		have.OrgUnitPath != want.OrgUnitPath
}
