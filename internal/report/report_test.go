package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() func() time.Time {
	t := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func TestRecorder(t *testing.T) {
	t.Parallel()

	rec := NewRecorder("run-1", "groups", true, WithClock(fixedClock()))
	rec.Record(ActionAdded, "a@x.org", "g@x.org", "")
	rec.Record(ActionAdded, "b@x.org", "g@x.org", "")
	rec.Record(ActionNoop, "c@x.org", "g@x.org", "already a member")
	rec.Record(ActionErrored, "d@x.org", "g@x.org", "invalid-member")

	r := rec.Finish(Outcome{Processed: 1, Completed: true})
	assert.Equal(t, "run-1", r.RunID)
	assert.Equal(t, "groups", r.Job)
	assert.True(t, r.DryRun)
	assert.True(t, r.Completed)
	assert.Equal(t, 1, r.Processed)
	assert.Equal(t, map[Action]int{ActionAdded: 2, ActionNoop: 1, ActionErrored: 1}, r.Counts)
	assert.Equal(t, 2, r.Changes())
	require.Len(t, r.Entries, 4)
	assert.True(t, r.FinishedAt.After(r.StartedAt))
	assert.True(t, r.Entries[1].Timestamp.After(r.Entries[0].Timestamp))

	rec.Record(ActionRemoved, "e@x.org", "g@x.org", "")
	assert.Len(t, r.Entries, 4, "a finished report does not change")
	assert.Zero(t, r.Counts[ActionRemoved])
}

func TestReport_FailureBreakdown(t *testing.T) {
	t.Parallel()

	r := &Report{Entries: []Entry{
		{Action: ActionErrored, Address: "b@x.org", Reason: "user-not-found"},
		{Action: ActionErrored, Address: "a@x.org", Reason: "user-not-found"},
		{Action: ActionErrored, Address: "a@x.org", Reason: "user-not-found"},
		{Action: ActionSkipped, Address: "c@x.org", Reason: "missing-org-path"},
		{Action: ActionAdded, Address: "d@x.org"},
	}}

	assert.Equal(t, map[string][]string{
		"user-not-found":   {"a@x.org", "b@x.org"},
		"missing-org-path": {"c@x.org"},
	}, r.FailureBreakdown())
}

func TestRecorder_Count(t *testing.T) {
	t.Parallel()

	rec := NewRecorder("run-2", "groups", false)
	rec.Count(ActionNoop, 40)
	rec.Count(ActionNoop, 2)
	rec.Count(ActionAdded, 0)

	r := rec.Finish(Outcome{})
	assert.Equal(t, map[Action]int{ActionNoop: 42}, r.Counts)
	assert.Empty(t, r.Entries)
	assert.Zero(t, r.Changes())
}
