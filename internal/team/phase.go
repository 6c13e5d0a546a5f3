package team

import (
	"fmt"

	"omx/internal/taskstore"
)

// Phase is the coarse team lifecycle label. It moves forward only, through
// start → team-prd → team-exec → team-verify → complete, with team-fix as a
// branch out of exec or verify when every task settled but some failed.
type Phase string

const (
	// PhaseStart means the team was materialized but no tick has run.
	PhaseStart Phase = "start"

	// PhasePRD means workers are up and the task set exists, but no task
	// has left pending yet.
	PhasePRD Phase = "team-prd"

	// PhaseExec means at least one task has been claimed or settled.
	PhaseExec Phase = "team-exec"

	// PhaseVerify means execution finished and the leader moved the team
	// into verification. Only an explicit advance reaches it.
	PhaseVerify Phase = "team-verify"

	// PhaseFix means every task settled but at least one failed.
	PhaseFix Phase = "team-fix"

	// PhaseComplete means every task settled and none failed. Terminal.
	PhaseComplete Phase = "complete"
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	return string(p)
}

// Valid reports whether p is a recognized phase value.
func (p Phase) Valid() bool {
	switch p {
	case PhaseStart, PhasePRD, PhaseExec, PhaseVerify, PhaseFix, PhaseComplete:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the phase ends the team. Fix is not terminal:
// a fix cycle can still settle the failures and complete.
func (p Phase) IsTerminal() bool {
	return p == PhaseComplete
}

// ordinal orders phases along the forward-only chain. Fix sits between
// verify and complete so a team can branch into it from exec or verify and
// still finish, but never step back out of it.
func (p Phase) ordinal() int {
	switch p {
	case PhaseStart, "":
		return 0
	case PhasePRD:
		return 1
	case PhaseExec:
		return 2
	case PhaseVerify:
		return 3
	case PhaseFix:
		return 4
	case PhaseComplete:
		return 5
	default:
		return -1
	}
}

// forward returns next when it is ahead of current on the chain, otherwise
// current. This is what keeps every derivation forward-only.
func forward(current, next Phase) Phase {
	if next.ordinal() > current.ordinal() {
		return next
	}
	return current
}

// DerivePhase folds the task counts into the recorded phase. The counts can
// finish the team (complete), branch it into fix, or pull it forward to prd
// or exec as work appears; they never move it backward. Verify is reached
// only through an explicit advance.
func DerivePhase(current Phase, counts taskstore.Counts) Phase {
	if current == PhaseComplete {
		return PhaseComplete
	}
	if current == "" {
		current = PhaseStart
	}

	if counts.AllTerminal() {
		if counts.Failed > 0 {
			return forward(current, PhaseFix)
		}
		return PhaseComplete
	}

	// Work observed in flight (or already settled) means execution started.
	if counts.InProgress > 0 || counts.Completed > 0 || counts.Failed > 0 {
		return forward(current, PhaseExec)
	}
	if counts.Total() > 0 {
		return forward(current, PhasePRD)
	}
	return current
}

// ParsePhase validates a phase supplied on the command line.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown phase %q", s)
	}
	return p, nil
}
