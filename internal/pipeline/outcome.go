package pipeline

import "time"

// Kind classifies a failed Outcome.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindDirty      Kind = "dirty"
	KindStep       Kind = "step"
	KindInternal   Kind = "internal"
)

// Operator-facing messages.
const (
	MsgInvalidVersion = "Invalid version value."
	MsgNotFound       = "Selected version tag was not found."
	MsgInProgress     = "Another update is currently in progress."
	MsgLockFailed     = "Could not acquire update lock."
	MsgStateUnknown   = "Could not verify repository state."
	MsgDirty          = "Repository has local tracked changes. Update aborted."
	MsgInternal       = "Update aborted by an internal error."
	MsgLeaseLost      = "Update lock was lost. Update aborted."

	msgStepFailed = "Update failed while executing: %s"
	msgSucceeded  = "Repository updated successfully to %s."
)

// Outcome is the terminal result of one pipeline run. Log holds the command
// transcript, or the output of the check that stopped the run.
type Outcome struct {
	OK         bool      `json:"ok"`
	Message    string    `json:"message"`
	Log        string    `json:"log"`
	Version    string    `json:"version"`
	Kind       Kind      `json:"kind,omitempty"`
	Step       string    `json:"step,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Duration returns how long the run took.
func (o Outcome) Duration() time.Duration {
	return o.FinishedAt.Sub(o.StartedAt)
}
