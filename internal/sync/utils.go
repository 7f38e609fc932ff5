package sync

import (
	"errors"
	"fmt"

	"github.com/stacklok/roster-sync/internal/report"
	"github.com/stacklok/roster-sync/internal/retry"
)

// Report reasons of skipped and no-op entries
const (
	ReasonOrgPathUnresolved = "org-path-unresolved"
	ReasonOrgPathMissing    = "org-path-missing"
	ReasonMalformedRecord   = "malformed-record"
	ReasonDeletionPending   = "deletion-pending"
	ReasonAlreadyApplied    = "already-applied"
)

// record adds the outcome of one mutation to rec. Expected failures mean the
// directory already holds the desired state; they are counted as no-ops and
// swallowed. Other failures are recorded with their reason and returned.
func record(rec *report.Recorder, action report.Action, address, target string, err error) error {
	switch {
	case err == nil:
		rec.Record(action, address, target, "")
		return nil
	case retry.IsExpected(err):
		rec.Record(report.ActionNoop, address, target, ReasonAlreadyApplied)
		return nil
	default:
		rec.Record(report.ActionErrored, address, target, failureReason(err))
		return err
	}
}

// failureReason condenses err into a short code for the report breakdown,
// such as "permanent-unexpected-400"
func failureReason(err error) string {
	var rerr *retry.Error
	if !errors.As(err, &rerr) {
		return "error"
	}
	if code := rerr.Code(); code != 0 {
		return fmt.Sprintf("%s-%d", rerr.Class, code)
	}
	return rerr.Class.String()
}
