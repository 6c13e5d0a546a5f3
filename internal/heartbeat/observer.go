package heartbeat

import (
	"time"

	"omx/internal/store"
)

// Dead-worker reasons reported by Observer.Dead.
const (
	ReasonNoHeartbeat = "no_heartbeat"
	ReasonSlotMissing = "slot_missing"
	ReasonInactive    = "inactive"
	ReasonPidDead     = "pid_dead"
)

// Observer classifies workers as observed dead. Observed death gates lease
// expiry, scale-in safety, and failure reporting; it never mutates task
// state itself.
type Observer struct {
	// Alive probes a pid for liveness. Tests substitute a fake.
	Alive func(pid int) bool

	// InactivityCeiling is how stale last_turn_at may get before a worker
	// with a failing pid probe is reported as inactive rather than merely
	// dead. Zero disables the distinction.
	InactivityCeiling time.Duration
}

// NewObserver returns an Observer backed by the real pid probe.
func NewObserver(inactivityCeiling time.Duration) *Observer {
	return &Observer{Alive: store.ProcessAlive, InactivityCeiling: inactivityCeiling}
}

// Dead reports whether a worker counts as observed dead, with a short
// reason. inSlots is whether the worker's slot address appears in the
// transport's live slot list; a worker whose slot vanished is dead even if
// its pid lingers.
func (o *Observer) Dead(hb *Heartbeat, inSlots bool, now time.Time) (bool, string) {
	if hb == nil {
		return true, ReasonNoHeartbeat
	}
	if !inSlots {
		return true, ReasonSlotMissing
	}
	// An unknown pid is never positive evidence of death.
	if hb.PID > 0 && !o.Alive(hb.PID) {
		if o.InactivityCeiling > 0 && now.Sub(hb.LastTurnAt) > o.InactivityCeiling {
			return true, ReasonInactive
		}
		return true, ReasonPidDead
	}
	return false, ""
}
