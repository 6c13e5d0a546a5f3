package scaling

import (
	"time"

	"omx/internal/errors"
	"omx/internal/store"
)

// HistoryLimit caps scaling-history.json. The oldest records are dropped
// first.
const HistoryLimit = 100

// Record is one scaling-history entry: an applied action, or a
// high-confidence recommendation that was not applied.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	Action    Action    `json:"action"`
	Trigger   Trigger   `json:"trigger"`

	// WorkersAdded and WorkersRemoved name the workers the action touched.
	// For scale_down these are the workers entering drain; actual removal
	// is visible later as worker_stopped events.
	WorkersAdded   []string `json:"workers_added,omitempty"`
	WorkersRemoved []string `json:"workers_removed,omitempty"`

	Reason    string           `json:"reason"`
	Resources ResourceSnapshot `json:"resource_snapshot"`
}

// History is the bounded scaling record for one team.
type History struct {
	layout store.Layout
}

// NewHistory returns the history store for a team.
func NewHistory(layout store.Layout) *History {
	return &History{layout: layout}
}

// All returns the records oldest-first. A missing or malformed file reads as
// empty.
func (h *History) All() ([]Record, error) {
	var recs []Record
	if _, err := store.ReadJSON(h.layout.ScalingHistory(), &recs); err != nil {
		return nil, errors.E(errors.KindIOError, "scaling.history", err)
	}
	return recs, nil
}

// Append adds a record, stamping the timestamp when unset, and trims the file
// to HistoryLimit.
func (h *History) Append(rec Record) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	recs, err := h.All()
	if err != nil {
		return err
	}
	recs = append(recs, rec)
	if len(recs) > HistoryLimit {
		recs = recs[len(recs)-HistoryLimit:]
	}
	if err := store.WriteJSON(h.layout.ScalingHistory(), recs); err != nil {
		return errors.E(errors.KindIOError, "scaling.history", err)
	}
	return nil
}

// LastAction returns the newest applied scale_up or scale_down record, or nil
// when none exists. Recommendation records do not count toward cooldown.
func (h *History) LastAction() (*Record, error) {
	recs, err := h.All()
	if err != nil {
		return nil, err
	}
	for i := len(recs) - 1; i >= 0; i-- {
		if recs[i].Action == ActionScaleUp || recs[i].Action == ActionScaleDown {
			rec := recs[i]
			return &rec, nil
		}
	}
	return nil, nil
}
