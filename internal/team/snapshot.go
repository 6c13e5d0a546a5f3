package team

import (
	"time"

	"omx/internal/heartbeat"
	"omx/internal/scaling"
	"omx/internal/store"
	"omx/internal/taskstore"
)

// maxSnapshotRecommendations bounds the recommendation history kept on the
// snapshot. One entry per episode, not per tick: a new entry lands only when
// the recommendation changes or first reaches high confidence.
const maxSnapshotRecommendations = 10

// Snapshot is the monitor's most recent reconciled view of the team,
// persisted as monitor.snapshot.json after every tick.
type Snapshot struct {
	Team  string `json:"team"`
	Tick  int    `json:"tick"`
	Phase Phase  `json:"phase"`

	Tasks   taskstore.Counts      `json:"tasks"`
	Workers map[string]WorkerView `json:"workers"`

	// DeadWorkers lists workers observed dead this tick, by name.
	DeadWorkers []string `json:"dead_workers,omitempty"`

	// Transitions is the phase transition log, oldest first.
	Transitions []PhaseTransition `json:"transitions,omitempty"`

	// Recommendations is the recent scaling recommendation history,
	// newest last.
	Recommendations []TrackedRecommendation `json:"recommendations,omitempty"`

	Warnings []string `json:"warnings,omitempty"`

	Perf      Perf      `json:"perf"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WorkerView is one worker's reconciled state inside a snapshot.
type WorkerView struct {
	State         heartbeat.State `json:"state"`
	CurrentTaskID string          `json:"current_task_id,omitempty"`
	Role          string          `json:"role,omitempty"`
	Address       string          `json:"address,omitempty"`
	Draining      bool            `json:"draining,omitempty"`
	Alive         bool            `json:"alive"`
	TurnCount     int             `json:"turn_count"`
	LastTurnAt    time.Time       `json:"last_turn_at"`
}

// PhaseTransition is one step of the phase transition log.
type PhaseTransition struct {
	From Phase     `json:"from"`
	To   Phase     `json:"to"`
	At   time.Time `json:"at"`
}

// TrackedRecommendation is a scaling recommendation with its confidence
// tracking at the time it was recorded.
type TrackedRecommendation struct {
	scaling.Recommendation
	Streak         int       `json:"streak"`
	HighConfidence bool      `json:"high_confidence"`
	At             time.Time `json:"at"`
}

// Perf carries tick timings for the snapshot.
type Perf struct {
	TickMs  int64            `json:"tick_ms"`
	StepsMs map[string]int64 `json:"steps_ms,omitempty"`
}

// ReadSnapshot loads the last written snapshot. Returns nil when no tick has
// run yet (or the file is unreadable, which reads as missing).
func ReadSnapshot(layout store.Layout) (*Snapshot, error) {
	var s Snapshot
	found, err := store.ReadJSON(layout.Snapshot(), &s)
	if err != nil || !found {
		return nil, err
	}
	return &s, nil
}

// WriteSnapshot persists the snapshot atomically.
func WriteSnapshot(layout store.Layout, s *Snapshot) error {
	return store.WriteJSON(layout.Snapshot(), s)
}

// appendRecommendation folds one observation into the snapshot history. Every
// tick produces an observation, but only episode boundaries are kept: a
// change of action or delta starts a new entry, and the first tick at high
// confidence replaces the entry so the streak is visible.
func appendRecommendation(hist []TrackedRecommendation, rec TrackedRecommendation) []TrackedRecommendation {
	if n := len(hist); n > 0 {
		last := hist[n-1]
		if last.Action == rec.Action && last.Delta == rec.Delta {
			if rec.HighConfidence && !last.HighConfidence {
				hist[n-1] = rec
			}
			return hist
		}
	}
	hist = append(hist, rec)
	if len(hist) > maxSnapshotRecommendations {
		hist = hist[len(hist)-maxSnapshotRecommendations:]
	}
	return hist
}
