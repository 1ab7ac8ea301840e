package engine

import (
	"errors"
	"time"

	"github.com/rotaworks/schedsync/internal/merge"
)

// State is the engine's position in its cycle.
type State int

const (
	StateIdle State = iota
	StateScanning
	StateMerging
	StateAwaitingResolution
	StateError
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateMerging:
		return "merging"
	case StateAwaitingResolution:
		return "awaiting-resolution"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Status is the coarse sync status shown to users.
type Status string

const (
	StatusSynced          Status = "synced"
	StatusSyncing         Status = "syncing"
	StatusError           Status = "error"
	StatusConflictPending Status = "conflict-pending"
)

// Event is published to subscribers on every state transition.
type Event struct {
	Time      time.Time `json:"time"`
	State     State     `json:"-"`
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Conflicts int       `json:"conflicts,omitempty"`
	Err       error     `json:"-"`
}

// Outcome summarizes what a cycle did.
type Outcome int

const (
	// OutcomeNoChanges means nobody had unsaved change files.
	OutcomeNoChanges Outcome = iota
	// OutcomeDeferred means only this author had changes and the
	// checkpoint interval has not elapsed.
	OutcomeDeferred
	// OutcomeLockHeld means another merge was in progress.
	OutcomeLockHeld
	// OutcomeMerged means a new base was committed.
	OutcomeMerged
	// OutcomeConflicts means the engine is awaiting resolutions.
	OutcomeConflicts
)

// String returns a human-readable representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeNoChanges:
		return "no-changes"
	case OutcomeDeferred:
		return "deferred"
	case OutcomeLockHeld:
		return "lock-held"
	case OutcomeMerged:
		return "merged"
	case OutcomeConflicts:
		return "conflicts"
	default:
		return "unknown"
	}
}

// CycleResult reports one scan/merge cycle.
type CycleResult struct {
	Outcome Outcome

	// Participants are the authors whose change files were merged.
	Participants []string

	// Conflicts awaiting resolution, for OutcomeConflicts.
	Conflicts []merge.Conflict

	AutoMerged int

	// Archived lists backups written when the merge was committed.
	Archived []string

	// Skipped lists change files that could not be parsed.
	Skipped []string
}

// Sentinel errors returned by the engine.
var (
	// ErrBusy is returned when a cycle is already running or conflicts
	// await resolution.
	ErrBusy = errors.New("sync already in progress")

	// ErrNotAwaitingResolution is returned by ApplyResolutions and
	// CancelResolution when no merge is pending.
	ErrNotAwaitingResolution = errors.New("no merge awaiting resolution")

	// ErrBaseChanged is returned when the base was replaced by another
	// process while a merge was in progress. The merge is abandoned and
	// retried on the next cycle.
	ErrBaseChanged = errors.New("base changed during merge")
)
