package scaling

import (
	"testing"
	"time"

	"omx/internal/testutil"
)

func TestHistory_AppendAndRead(t *testing.T) {
	layout := testutil.TempLayout(t, "t1")
	h := NewHistory(layout)

	recs, err := h.All()
	if err != nil {
		t.Fatalf("All() on empty history: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("All() = %d records, want 0", len(recs))
	}

	if err := h.Append(Record{Action: ActionScaleUp, Trigger: TriggerManual, WorkersAdded: []string{"worker-2"}, Reason: "test"}); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	recs, err = h.All()
	if err != nil {
		t.Fatalf("All() error: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("All() = %d records, want 1", len(recs))
	}
	if recs[0].Action != ActionScaleUp || recs[0].Trigger != TriggerManual {
		t.Errorf("record = %+v, want scale_up/manual", recs[0])
	}
	if recs[0].Timestamp.IsZero() {
		t.Error("Append() did not stamp the timestamp")
	}
}

func TestHistory_TrimsToLimit(t *testing.T) {
	layout := testutil.TempLayout(t, "t1")
	h := NewHistory(layout)

	for i := 0; i < HistoryLimit+10; i++ {
		rec := Record{Action: ActionRecommendation, Trigger: TriggerAuto, Reason: "tick"}
		if i == HistoryLimit+9 {
			rec.Reason = "newest"
		}
		if err := h.Append(rec); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}

	recs, err := h.All()
	if err != nil {
		t.Fatalf("All() error: %v", err)
	}
	if len(recs) != HistoryLimit {
		t.Fatalf("All() = %d records, want %d", len(recs), HistoryLimit)
	}
	if recs[len(recs)-1].Reason != "newest" {
		t.Error("trim dropped the newest record instead of the oldest")
	}
}

func TestHistory_LastAction(t *testing.T) {
	layout := testutil.TempLayout(t, "t1")
	h := NewHistory(layout)

	last, err := h.LastAction()
	if err != nil {
		t.Fatalf("LastAction() error: %v", err)
	}
	if last != nil {
		t.Fatalf("LastAction() = %+v on empty history, want nil", last)
	}

	old := time.Now().UTC().Add(-time.Hour)
	for _, rec := range []Record{
		{Timestamp: old, Action: ActionScaleUp, Trigger: TriggerManual},
		{Timestamp: old.Add(time.Minute), Action: ActionScaleDown, Trigger: TriggerAuto},
		{Timestamp: old.Add(2 * time.Minute), Action: ActionRecommendation, Trigger: TriggerAuto},
	} {
		if err := h.Append(rec); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}

	last, err = h.LastAction()
	if err != nil {
		t.Fatalf("LastAction() error: %v", err)
	}
	if last == nil || last.Action != ActionScaleDown {
		t.Errorf("LastAction() = %+v, want the scale_down record; recommendations must not count", last)
	}
}
