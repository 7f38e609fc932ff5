package lifecycle

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/roster-sync/internal/roster"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func defaultThresholds() Thresholds {
	return Thresholds{Grace: 7 * day, Archive: 365 * day, Delete: 1825 * day}
}

func account(state State, inactiveFor time.Duration) Account {
	return Account{
		Address:        "alice@example.org",
		ExternalID:     "42",
		State:          state,
		ActivityMarker: now.Add(-inactiveFor),
	}
}

func TestMachine_Evaluate(t *testing.T) {
	t.Parallel()

	none := roster.NewIDSet()
	listed := roster.NewIDSet("42")

	tests := []struct {
		name   string
		acct   Account
		active ActiveSet
		opts   []Option
		want   State
	}{
		{name: "active_listed_stays", acct: account(StateActive, 900*day), active: listed},
		{name: "active_within_grace", acct: account(StateActive, 6*day), active: none},
		{name: "active_at_grace_boundary", acct: account(StateActive, 7*day), active: none, want: StateSuspended},
		{name: "suspended_before_archive", acct: account(StateSuspended, 364*day), active: none},
		{name: "suspended_at_archive", acct: account(StateSuspended, 365*day), active: none, want: StateArchived},
		{name: "suspended_renewed", acct: account(StateSuspended, 30*day), active: listed, want: StateActive},
		{name: "archived_reactivated", acct: account(StateArchived, 1000*day), active: listed, want: StateActive},
		{name: "archived_delete_disabled", acct: account(StateArchived, 2000*day), active: none},
		{
			name:   "archived_delete_unconfirmed",
			acct:   account(StateArchived, 2000*day),
			active: none,
			opts:   []Option{WithDeletion(true, false)},
		},
		{
			name:   "archived_delete_before_threshold",
			acct:   account(StateArchived, 1824*day),
			active: none,
			opts:   []Option{WithDeletion(true, true)},
		},
		{
			name:   "archived_deleted",
			acct:   account(StateArchived, 1825*day),
			active: none,
			opts:   []Option{WithDeletion(true, true)},
			want:   StateDeleted,
		},
		{name: "deleted_is_terminal", acct: account(StateDeleted, 5000*day), active: listed},
		{
			name:   "unmanaged_account",
			acct:   Account{Address: "admin@example.org", State: StateActive, ActivityMarker: now.Add(-900 * day)},
			active: none,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m := NewMachine(defaultThresholds(), tt.opts...)
			got := m.Evaluate(context.Background(), tt.acct, tt.active, now)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.acct.State, got.From)
			assert.Equal(t, tt.want, got.To)
			assert.Equal(t, tt.acct.Address, got.Address)
			assert.Equal(t, Dwell(tt.acct.ActivityMarker, now), got.Dwell)
		})
	}
}

func TestMachine_GraceZeroSuspendsImmediately(t *testing.T) {
	t.Parallel()

	m := NewMachine(Thresholds{Grace: 0, Archive: 365 * day, Delete: 1825 * day})
	got := m.Evaluate(context.Background(), account(StateActive, 0), roster.NewIDSet(), now)
	require.NotNil(t, got)
	assert.Equal(t, StateSuspended, got.To)
	assert.Zero(t, got.Dwell)
}

func TestMachine_Resolve_ArchivesButDoesNotDelete(t *testing.T) {
	t.Parallel()

	m := NewMachine(defaultThresholds(), WithDeletion(true, true))
	steps := m.Resolve(context.Background(), account(StateActive, 400*day), roster.NewIDSet(), now)

	require.Len(t, steps, 2)
	assert.Equal(t, StateActive, steps[0].From)
	assert.Equal(t, StateSuspended, steps[0].To)
	assert.Equal(t, StateSuspended, steps[1].From)
	assert.Equal(t, StateArchived, steps[1].To)
}

func TestMachine_Resolve_Monotonic(t *testing.T) {
	t.Parallel()

	order := map[State]int{StateActive: 0, StateSuspended: 1, StateArchived: 2, StateDeleted: 3}
	m := NewMachine(defaultThresholds(), WithDeletion(true, true))

	for _, inactive := range []time.Duration{0, 7 * day, 100 * day, 365 * day, 1000 * day, 1825 * day, 4000 * day} {
		for _, state := range []State{StateActive, StateSuspended, StateArchived} {
			steps := m.Resolve(context.Background(), account(state, inactive), roster.NewIDSet(), now)
			prev := state
			for _, s := range steps {
				assert.Equal(t, prev, s.From)
				assert.Equal(t, order[prev]+1, order[s.To], "without renewal the state only moves forward one step at a time")
				prev = s.To
			}
		}
	}
}

func TestMachine_Resolve_ReactivationIsOneStep(t *testing.T) {
	t.Parallel()

	m := NewMachine(defaultThresholds())
	steps := m.Resolve(context.Background(), account(StateArchived, 800*day), roster.NewIDSet("42"), now)
	require.Len(t, steps, 1)
	assert.Equal(t, StateArchived, steps[0].From)
	assert.Equal(t, StateActive, steps[0].To)
}

func TestMachine_LogsTransitionsAndPendingDeletes(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var lines []string
	logger := funcr.New(func(prefix, args string) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, args)
	}, funcr.Options{})
	ctx := logr.NewContext(context.Background(), logger)

	m := NewMachine(defaultThresholds())
	steps := m.Resolve(ctx, account(StateArchived, 3000*day), roster.NewIDSet(), now)
	assert.Empty(t, steps)
	steps = m.Resolve(ctx, account(StateActive, 10*day), roster.NewIDSet(), now)
	require.Len(t, steps, 1)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, lines, 2)
	assert.True(t, strings.Contains(lines[0], `"msg"="Deletion pending"`), lines[0])
	assert.Contains(t, lines[1], `"msg"="Lifecycle transition"`)
	assert.Contains(t, lines[1], `"from"="ACTIVE"`)
	assert.Contains(t, lines[1], `"to"="SUSPENDED"`)
	assert.Contains(t, lines[1], `"address"="alice@example.org"`)
	assert.Contains(t, lines[1], `"dwell"="240h0m0s"`)
}

func TestActivityMarker(t *testing.T) {
	t.Parallel()

	login := now.Add(-10 * day)
	created := now.Add(-100 * day)
	seen := now.Add(-2 * day)

	assert.Equal(t, login, ActivityMarker(login, created, nil))
	assert.Equal(t, seen, ActivityMarker(login, created, &seen))
	assert.Equal(t, created, ActivityMarker(time.Time{}, created, nil))
	assert.True(t, ActivityMarker(time.Time{}, time.Time{}, nil).IsZero())
	assert.Zero(t, Dwell(time.Time{}, now))
	assert.Zero(t, Dwell(now.Add(time.Hour), now))
}

func TestStateOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, StateActive, StateOf(false, false))
	assert.Equal(t, StateSuspended, StateOf(true, false))
	assert.Equal(t, StateArchived, StateOf(true, true))
	assert.Equal(t, StateArchived, StateOf(false, true))
}

func TestMachine_DeletionPending(t *testing.T) {
	t.Parallel()

	archived := account(StateArchived, 1825*day)
	assert.True(t, NewMachine(defaultThresholds()).DeletionPending(archived, roster.NewIDSet(), now))
	assert.True(t, NewMachine(defaultThresholds(), WithDeletion(true, false)).DeletionPending(archived, roster.NewIDSet(), now))
	assert.False(t, NewMachine(defaultThresholds(), WithDeletion(true, true)).DeletionPending(archived, roster.NewIDSet(), now))
	assert.False(t, NewMachine(defaultThresholds()).DeletionPending(account(StateArchived, 1000*day), roster.NewIDSet(), now))
	assert.False(t, NewMachine(defaultThresholds()).DeletionPending(archived, roster.NewIDSet(archived.ExternalID), now))
}
