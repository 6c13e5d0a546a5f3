package scaling

import (
	"fmt"
	"math"
	"sync"
	"time"

	"omx/internal/heartbeat"
	"omx/internal/manifest"
	"omx/internal/taskstore"
)

// HighConfidenceStreak is how many consecutive identical recommendations are
// required before auto-apply may act on one.
const HighConfidenceStreak = 3

// Inputs is the reconciled team state a recommendation is computed from.
type Inputs struct {
	// Pending is the number of claimable tasks.
	Pending int

	// Active is the number of workers not marked draining.
	Active int

	// Idle is how many active workers report an idle status.
	Idle int

	// SettledIdle is how many of the idle workers have been idle for at
	// least the idle timeout. Scale-down requires every idle worker to
	// qualify, so pauses between claims do not shed capacity.
	SettledIdle int

	// UpThreshold is the pending/active ratio above which capacity is added.
	UpThreshold float64

	// DownThreshold is the idle/active ratio above which capacity is shed.
	DownThreshold float64
}

// BuildInputs assembles evaluation inputs from the manifest, the task counts,
// and the per-worker statuses the caller has already read. Draining workers
// are excluded from every count.
func BuildInputs(m *manifest.Manifest, counts taskstore.Counts, statuses map[string]heartbeat.Status, idleTimeout time.Duration, now time.Time) Inputs {
	in := Inputs{
		Pending:       counts.Pending,
		UpThreshold:   m.Scaling.UpThreshold,
		DownThreshold: m.Scaling.DownThreshold,
	}
	for _, w := range m.Workers {
		if m.IsDraining(w.Name) {
			continue
		}
		in.Active++
		st, ok := statuses[w.Name]
		if !ok || st.State != heartbeat.StateIdle {
			continue
		}
		in.Idle++
		if idleTimeout <= 0 || now.Sub(st.UpdatedAt) >= idleTimeout {
			in.SettledIdle++
		}
	}
	return in
}

// Recommend evaluates the scaling ratios for one observation. This is a pure
// function; confidence tracking and every side effect live elsewhere.
//
// With pending work and no active workers the backlog ratio is taken as
// infinite and enough workers for the whole backlog are recommended.
func Recommend(in Inputs) Recommendation {
	if in.UpThreshold <= 0 || in.DownThreshold <= 0 {
		return Recommendation{Action: ActionNone, Reason: "scaling thresholds unset"}
	}

	if in.Active == 0 {
		if in.Pending == 0 {
			return Recommendation{Action: ActionNone, Reason: "no workers and no pending tasks"}
		}
		want := int(math.Ceil(float64(in.Pending) / in.UpThreshold))
		if want < 1 {
			want = 1
		}
		return Recommendation{
			Action: ActionScaleUp,
			Delta:  want,
			Reason: fmt.Sprintf("%d pending tasks and no active workers", in.Pending),
		}
	}

	pendingRatio := float64(in.Pending) / float64(in.Active)
	if pendingRatio > in.UpThreshold {
		want := int(math.Ceil(float64(in.Pending) / in.UpThreshold))
		if delta := want - in.Active; delta > 0 {
			return Recommendation{
				Action: ActionScaleUp,
				Delta:  delta,
				Reason: fmt.Sprintf("pending/active ratio %.2f exceeds %.2f (%d pending, %d active)",
					pendingRatio, in.UpThreshold, in.Pending, in.Active),
			}
		}
	}

	idleRatio := float64(in.Idle) / float64(in.Active)
	if idleRatio > in.DownThreshold && in.Idle > 0 {
		if in.SettledIdle < in.Idle {
			return Recommendation{
				Action: ActionNone,
				Reason: fmt.Sprintf("%d of %d idle workers below the idle timeout", in.Idle-in.SettledIdle, in.Idle),
			}
		}
		keep := int(math.Ceil(float64(in.Active) * in.DownThreshold))
		if delta := in.Idle - keep; delta > 0 {
			return Recommendation{
				Action: ActionScaleDown,
				Delta:  -delta,
				Reason: fmt.Sprintf("idle/active ratio %.2f exceeds %.2f (%d idle past timeout, %d active)",
					idleRatio, in.DownThreshold, in.Idle, in.Active),
			}
		}
	}

	return Recommendation{Action: ActionNone, Reason: "within thresholds"}
}

// Tracker smooths the per-tick recommendation stream. A single observation
// can be a blip; a recommendation becomes high-confidence only after the same
// action and delta repeat for HighConfidenceStreak consecutive observations.
// Safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	last   Recommendation
	streak int
}

// Observe folds one recommendation into the streak and reports the streak
// length and whether the recommendation is now high-confidence. ActionNone
// never reaches high confidence.
func (t *Tracker) Observe(rec Recommendation) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rec.Action == t.last.Action && rec.Delta == t.last.Delta {
		t.streak++
	} else {
		t.streak = 1
	}
	t.last = rec

	return t.streak, rec.Action != ActionNone && t.streak >= HighConfidenceStreak
}

// Reset clears the streak. Called after an action is applied so the next
// recommendation builds confidence against the new worker set.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = Recommendation{}
	t.streak = 0
}
