// Package lifecycle decides how directory accounts of departed members are
// retired: ACTIVE, then SUSPENDED, then ARCHIVED and finally DELETED.
//
// Dwell time is measured from an activity marker, the most recent of the
// account's last login, its creation time and the last time the roster listed
// the member as active. The directory does not record when an account entered
// its current state, so the marker is an approximation of it.
package lifecycle

import (
	"context"
	"time"

	"github.com/go-logr/logr"

	"github.com/stacklok/roster-sync/internal/config"
)

// State is the lifecycle state of a directory account
type State string

const (
	// StateActive accounts can sign in
	StateActive State = "ACTIVE"
	// StateSuspended accounts are blocked but intact
	StateSuspended State = "SUSPENDED"
	// StateArchived accounts are suspended and moved to archive storage
	StateArchived State = "ARCHIVED"
	// StateDeleted accounts are gone; no transition leaves this state
	StateDeleted State = "DELETED"
)

// StateOf derives the state of an existing directory account from its flags
func StateOf(suspended, archived bool) State {
	switch {
	case archived:
		return StateArchived
	case suspended:
		return StateSuspended
	default:
		return StateActive
	}
}

// Account is the lifecycle view of one directory account
type Account struct {
	Address string
	// ExternalID links the account to a roster member; empty means unmanaged
	ExternalID     string
	State          State
	ActivityMarker time.Time
}

// Transition is one step of an account's lifecycle
type Transition struct {
	From    State
	To      State
	Address string
	// Dwell is the elapsed time since the activity marker
	Dwell time.Duration
}

// ActiveSet reports whether an external ID belongs to a roster-active member
type ActiveSet interface {
	Contains(externalID string) bool
}

// Thresholds are the minimum dwell times before each retirement step
type Thresholds struct {
	Grace   time.Duration
	Archive time.Duration
	Delete  time.Duration
}

const day = 24 * time.Hour

// ThresholdsFromConfig converts the configured day counts
func ThresholdsFromConfig(cfg config.LifecycleConfig) Thresholds {
	return Thresholds{
		Grace:   time.Duration(cfg.GetGraceDays()) * day,
		Archive: time.Duration(cfg.GetArchiveDays()) * day,
		Delete:  time.Duration(cfg.GetDeleteDays()) * day,
	}
}

// Machine evaluates lifecycle transitions
type Machine struct {
	thresholds    Thresholds
	deleteEnabled bool
	confirmDelete bool
}

// Option configures a Machine
type Option func(*Machine)

// WithDeletion allows ARCHIVED accounts to be deleted. Both the configured
// opt-in and an operator confirmation for the current invocation are needed.
func WithDeletion(enabled, confirmed bool) Option {
	return func(m *Machine) {
		m.deleteEnabled = enabled
		m.confirmDelete = confirmed
	}
}

// NewMachine creates a Machine. Deletion is disabled unless WithDeletion enables it.
func NewMachine(thresholds Thresholds, opts ...Option) *Machine {
	m := &Machine{thresholds: thresholds}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DeletionAllowed reports whether ARCHIVED accounts may be deleted
func (m *Machine) DeletionAllowed() bool {
	return m.deleteEnabled && m.confirmDelete
}

// Evaluate returns the next transition of acct, or nil when it stays put.
// Thresholds are inclusive: a dwell equal to the threshold is eligible.
func (m *Machine) Evaluate(ctx context.Context, acct Account, active ActiveSet, now time.Time) *Transition {
	if acct.ExternalID == "" || acct.State == StateDeleted {
		return nil
	}

	dwell := Dwell(acct.ActivityMarker, now)
	step := func(to State) *Transition {
		return &Transition{From: acct.State, To: to, Address: acct.Address, Dwell: dwell}
	}

	if active.Contains(acct.ExternalID) {
		if acct.State == StateSuspended || acct.State == StateArchived {
			return step(StateActive)
		}
		return nil
	}

	switch acct.State {
	case StateActive:
		if dwell >= m.thresholds.Grace {
			return step(StateSuspended)
		}
	case StateSuspended:
		if dwell >= m.thresholds.Archive {
			return step(StateArchived)
		}
	case StateArchived:
		if dwell < m.thresholds.Delete {
			return nil
		}
		if !m.DeletionAllowed() {
			logr.FromContextOrDiscard(ctx).Info("Deletion pending",
				"address", acct.Address,
				"dwell", dwell.String(),
				"deleteEnabled", m.deleteEnabled,
				"confirmed", m.confirmDelete)
			return nil
		}
		return step(StateDeleted)
	}
	return nil
}

// Resolve follows Evaluate until the account settles and returns every step.
// An account inactive for longer than the archive threshold goes from ACTIVE
// to ARCHIVED in one invocation. Each step is logged.
func (m *Machine) Resolve(ctx context.Context, acct Account, active ActiveSet, now time.Time) []Transition {
	ctxLogger := logr.FromContextOrDiscard(ctx)

	var steps []Transition
	// At most three steps lead from ACTIVE to DELETED.
	for range 3 {
		t := m.Evaluate(ctx, acct, active, now)
		if t == nil {
			break
		}
		ctxLogger.Info("Lifecycle transition",
			"address", t.Address,
			"from", string(t.From),
			"to", string(t.To),
			"dwell", t.Dwell.String())
		steps = append(steps, *t)
		if t.To == StateActive {
			break
		}
		acct.State = t.To
	}
	return steps
}

// DeletionPending reports whether acct is due for deletion but deletion is
// not allowed for this invocation
func (m *Machine) DeletionPending(acct Account, active ActiveSet, now time.Time) bool {
	return acct.State == StateArchived &&
		acct.ExternalID != "" &&
		!active.Contains(acct.ExternalID) &&
		!m.DeletionAllowed() &&
		Dwell(acct.ActivityMarker, now) >= m.thresholds.Delete
}

// Dwell returns the time elapsed since marker. A zero marker means no
// activity is known, which counts as no dwell.
func Dwell(marker, now time.Time) time.Duration {
	if marker.IsZero() || now.Before(marker) {
		return 0
	}
	return now.Sub(marker)
}

// ActivityMarker returns the most recent of the given activity timestamps
func ActivityMarker(lastLogin, created time.Time, lastSeenActive *time.Time) time.Time {
	marker := lastLogin
	if created.After(marker) {
		marker = created
	}
	if lastSeenActive != nil && lastSeenActive.After(marker) {
		marker = *lastSeenActive
	}
	return marker
}
