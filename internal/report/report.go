// Package report collects what a job invocation did and hands the result to
// notifiers.
package report

import (
	"slices"
	"sync"
	"time"
)

// Action is the outcome recorded for one address
type Action string

// Recorded outcomes
const (
	ActionCreated     Action = "created"
	ActionUpdated     Action = "updated"
	ActionSuspended   Action = "suspended"
	ActionArchived    Action = "archived"
	ActionDeleted     Action = "deleted"
	ActionReactivated Action = "reactivated"
	ActionAdded       Action = "added"
	ActionRemoved     Action = "removed"
	ActionNoop        Action = "noop"
	ActionSkipped     Action = "skipped"
	ActionErrored     Action = "errored"
)

// Entry is one recorded outcome
type Entry struct {
	Action  Action `json:"action"`
	Address string `json:"address"`
	// Target is the group of a membership change, empty for account changes
	Target    string    `json:"target,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Report is the outcome of one job invocation
type Report struct {
	RunID      string         `json:"runId"`
	Job        string         `json:"job"`
	DryRun     bool           `json:"dryRun"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
	Processed  int            `json:"processed"`
	Completed  bool           `json:"completed"`
	TimedOut   bool           `json:"timedOut"`
	Aborted    bool           `json:"aborted"`
	Counts     map[Action]int `json:"counts"`
	Entries    []Entry        `json:"entries"`
}

// FailureBreakdown groups the addresses of errored and skipped entries by reason
func (r *Report) FailureBreakdown() map[string][]string {
	out := make(map[string][]string)
	for _, e := range r.Entries {
		if e.Action != ActionErrored && e.Action != ActionSkipped {
			continue
		}
		out[e.Reason] = append(out[e.Reason], e.Address)
	}
	for reason := range out {
		slices.Sort(out[reason])
		out[reason] = slices.Compact(out[reason])
	}
	return out
}

// Changes returns the number of entries that changed the directory
func (r *Report) Changes() int {
	n := 0
	for action, count := range r.Counts {
		switch action {
		case ActionNoop, ActionSkipped, ActionErrored:
		default:
			n += count
		}
	}
	return n
}

// Recorder accumulates entries during an invocation. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	now    func() time.Time
	report Report
}

// RecorderOption configures a Recorder
type RecorderOption func(*Recorder)

// WithClock replaces time.Now
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) {
		r.now = now
	}
}

// NewRecorder starts the report of one invocation
func NewRecorder(runID, job string, dryRun bool, opts ...RecorderOption) *Recorder {
	r := &Recorder{now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	r.report = Report{
		RunID:     runID,
		Job:       job,
		DryRun:    dryRun,
		StartedAt: r.now(),
		Counts:    make(map[Action]int),
	}
	return r
}

// Record adds an entry
func (r *Recorder) Record(action Action, address, target, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.Counts[action]++
	r.report.Entries = append(r.report.Entries, Entry{
		Action:    action,
		Address:   address,
		Target:    target,
		Reason:    reason,
		Timestamp: r.now(),
	})
}

// Count adds n to an action's count without recording entries
func (r *Recorder) Count(action Action, n int) {
	if n <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.Counts[action] += n
}

// Outcome is how the invocation ended
type Outcome struct {
	Processed int
	Completed bool
	TimedOut  bool
	Aborted   bool
}

// Finish closes the report. The recorder may keep recording; later entries
// do not appear in the returned report.
func (r *Recorder) Finish(outcome Outcome) *Report {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.report
	out.FinishedAt = r.now()
	out.Processed = outcome.Processed
	out.Completed = outcome.Completed
	out.TimedOut = outcome.TimedOut
	out.Aborted = outcome.Aborted
	out.Entries = slices.Clone(r.report.Entries)
	out.Counts = make(map[Action]int, len(r.report.Counts))
	for k, v := range r.report.Counts {
		out.Counts[k] = v
	}
	return &out
}
