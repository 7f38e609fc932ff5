package status

import "time"

// RunPhase is the outcome of the latest invocation of a job
type RunPhase string

const (
	// RunPhaseRunning means an invocation is in progress
	RunPhaseRunning RunPhase = "Running"

	// RunPhaseComplete means the last invocation finished the work list
	RunPhaseComplete RunPhase = "Complete"

	// RunPhasePartial means the last invocation stopped at its quota or batch
	// size; the next one resumes from the checkpoint
	RunPhasePartial RunPhase = "Partial"

	// RunPhaseFailed means the last invocation failed or was aborted
	RunPhaseFailed RunPhase = "Failed"
)

// RunStatus is the persisted state of one job
type RunStatus struct {
	// Phase is the outcome of the latest invocation
	Phase RunPhase `json:"phase"`

	// Message provides additional information about the phase
	Message string `json:"message,omitempty"`

	// RunID identifies the latest invocation
	RunID string `json:"runId,omitempty"`

	// DryRun is set when the latest invocation did not mutate the directory
	DryRun bool `json:"dryRun,omitempty"`

	// LastAttempt is when the latest invocation started
	LastAttempt *time.Time `json:"lastAttempt,omitempty"`

	// AttemptCount is the number of invocations since the work list was last completed
	AttemptCount int `json:"attemptCount,omitempty"`

	// LastCompleted is when a work list was last processed to the end
	LastCompleted *time.Time `json:"lastCompleted,omitempty"`

	// Cursor and Total locate the latest invocation within the work list
	Cursor int `json:"cursor"`
	Total  int `json:"total"`

	// Processed and Failed count the items of the latest invocation
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}
