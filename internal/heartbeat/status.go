package heartbeat

import (
	"time"

	"omx/internal/errors"
	"omx/internal/store"
)

// State is a worker's self-reported condition.
type State string

const (
	// StateIdle means the worker is waiting for work.
	StateIdle State = "idle"

	// StateWorking means the worker holds a task claim.
	StateWorking State = "working"

	// StateBlocked means the worker is stuck and waiting on outside input.
	StateBlocked State = "blocked"

	// StateDone means the worker finished and will take no more work.
	StateDone State = "done"

	// StateFailed means the worker crashed or exited unexpectedly.
	StateFailed State = "failed"

	// StateDraining means the worker was asked to finish its current task
	// and exit; it refuses new claims.
	StateDraining State = "draining"

	// StateUnknown is reported when no readable status exists.
	StateUnknown State = "unknown"
)

// Valid returns true for a known state.
func (s State) Valid() bool {
	switch s {
	case StateIdle, StateWorking, StateBlocked, StateDone, StateFailed, StateDraining, StateUnknown:
		return true
	}
	return false
}

// ValidTransition reports whether a worker moving from one self-reported
// state to another follows the expected lifecycle. Failure is reachable from
// anywhere; the store does not enforce this, callers warn on violations.
func ValidTransition(from, to State) bool {
	if to == StateFailed || from == StateUnknown {
		return true
	}
	switch from {
	case StateIdle:
		return to == StateWorking || to == StateDraining || to == StateBlocked || to == StateIdle
	case StateWorking:
		return to == StateIdle || to == StateDraining || to == StateBlocked || to == StateWorking
	case StateBlocked:
		return to == StateIdle || to == StateWorking || to == StateDraining
	case StateDraining:
		return to == StateDone || to == StateDraining
	}
	return false
}

// Status is the worker's self-reported state file.
type Status struct {
	State         State     `json:"state"`
	CurrentTaskID string    `json:"current_task_id,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ReadStatus returns the worker's status. A missing or unreadable status
// file reads as state=unknown rather than an error.
func (s *Store) ReadStatus(worker string) (Status, error) {
	var st Status
	found, err := store.ReadJSON(s.layout.StatusPath(worker), &st)
	if err != nil {
		return Status{State: StateUnknown}, errors.E(errors.KindIOError, "status.read", err).WithWorker(worker)
	}
	if !found || !st.State.Valid() {
		return Status{State: StateUnknown}, nil
	}
	return st, nil
}

// WriteStatus replaces the worker's status file.
func (s *Store) WriteStatus(worker string, state State, currentTaskID, reason string) (Status, error) {
	if !state.Valid() {
		return Status{}, errors.Ef(errors.KindMalformed, "status.write", "unknown state %q", state).WithWorker(worker)
	}

	st := Status{
		State:         state,
		CurrentTaskID: currentTaskID,
		Reason:        reason,
		UpdatedAt:     time.Now().UTC(),
	}
	if err := store.WriteJSON(s.layout.StatusPath(worker), st); err != nil {
		return Status{}, errors.E(errors.KindIOError, "status.write", err).WithWorker(worker)
	}
	return st, nil
}
