// Package heartbeat tracks per-worker liveness for one team.
//
// Each worker owns two files under workers/<name>/: heartbeat.json records
// the observable pulse of the underlying process (pid, last turn, turn
// count), and status.json records what the worker says it is doing. The
// heartbeat is written by the runtime's watchers; the status is written by
// the worker itself through the worker-facing commands.
//
// A heartbeat outlives its process: when the process dies the file is kept
// with alive=false until team cleanup, so post-mortem tooling can see the
// final pulse.
package heartbeat

import (
	"time"

	"omx/internal/errors"
	"omx/internal/store"
)

// Heartbeat is the per-worker liveness file.
type Heartbeat struct {
	PID        int       `json:"pid"`
	LastTurnAt time.Time `json:"last_turn_at"`
	TurnCount  int       `json:"turn_count"`
	Alive      bool      `json:"alive"`
}

// Store reads and writes heartbeat and status files for one team.
type Store struct {
	layout store.Layout
}

// NewStore returns the heartbeat store for a team.
func NewStore(layout store.Layout) *Store {
	return &Store{layout: layout}
}

// WriteInitial creates the heartbeat at worker bootstrap: alive, zero turns.
func (s *Store) WriteInitial(worker string, pid int) (Heartbeat, error) {
	hb := Heartbeat{PID: pid, LastTurnAt: time.Now().UTC(), Alive: true}
	if err := store.WriteJSON(s.layout.HeartbeatPath(worker), hb); err != nil {
		return Heartbeat{}, errors.E(errors.KindIOError, "heartbeat.write", err).WithWorker(worker)
	}
	return hb, nil
}

// Read returns the worker's heartbeat, or nil when none is readable.
func (s *Store) Read(worker string) (*Heartbeat, error) {
	var hb Heartbeat
	found, err := store.ReadJSON(s.layout.HeartbeatPath(worker), &hb)
	if err != nil {
		return nil, errors.E(errors.KindIOError, "heartbeat.read", err).WithWorker(worker)
	}
	if !found {
		return nil, nil
	}
	return &hb, nil
}

// Beat records one observed turn: bumps turn_count and refreshes
// last_turn_at. The heartbeat must already exist; bootstrap writes it.
func (s *Store) Beat(worker string) (Heartbeat, error) {
	hb, err := s.Read(worker)
	if err != nil {
		return Heartbeat{}, err
	}
	if hb == nil {
		return Heartbeat{}, errors.E(errors.KindNotFound, "heartbeat.beat", errors.ErrNotFound).WithWorker(worker)
	}

	hb.TurnCount++
	hb.LastTurnAt = time.Now().UTC()
	hb.Alive = true
	if err := store.WriteJSON(s.layout.HeartbeatPath(worker), hb); err != nil {
		return Heartbeat{}, errors.E(errors.KindIOError, "heartbeat.beat", err).WithWorker(worker)
	}
	return *hb, nil
}

// MarkDead flips alive to false, preserving the final pulse. A worker with
// no heartbeat is left as-is.
func (s *Store) MarkDead(worker string) error {
	hb, err := s.Read(worker)
	if err != nil {
		return err
	}
	if hb == nil || !hb.Alive {
		return nil
	}

	hb.Alive = false
	if err := store.WriteJSON(s.layout.HeartbeatPath(worker), hb); err != nil {
		return errors.E(errors.KindIOError, "heartbeat.mark_dead", err).WithWorker(worker)
	}
	return nil
}
