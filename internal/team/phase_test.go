package team

import (
	"testing"

	"omx/internal/scaling"
	"omx/internal/taskstore"
)

func TestDerivePhase(t *testing.T) {
	tests := []struct {
		name    string
		current Phase
		counts  taskstore.Counts
		want    Phase
	}{
		{
			name:    "no tasks stays at start",
			current: PhaseStart,
			want:    PhaseStart,
		},
		{
			name:    "empty phase reads as start",
			current: "",
			counts:  taskstore.Counts{Pending: 3},
			want:    PhasePRD,
		},
		{
			name:    "pending tasks pull start to prd",
			current: PhaseStart,
			counts:  taskstore.Counts{Pending: 2},
			want:    PhasePRD,
		},
		{
			name:    "claimed work pulls prd to exec",
			current: PhasePRD,
			counts:  taskstore.Counts{Pending: 1, InProgress: 1},
			want:    PhaseExec,
		},
		{
			name:    "settled work pulls start straight to exec",
			current: PhaseStart,
			counts:  taskstore.Counts{Pending: 1, Completed: 1},
			want:    PhaseExec,
		},
		{
			name:    "all terminal and clean completes",
			current: PhaseExec,
			counts:  taskstore.Counts{Completed: 3},
			want:    PhaseComplete,
		},
		{
			name:    "all terminal with failures branches to fix",
			current: PhaseExec,
			counts:  taskstore.Counts{Completed: 2, Failed: 1},
			want:    PhaseFix,
		},
		{
			name:    "verify branches to fix on failures",
			current: PhaseVerify,
			counts:  taskstore.Counts{Completed: 1, Failed: 1},
			want:    PhaseFix,
		},
		{
			name:    "fix holds while failures remain",
			current: PhaseFix,
			counts:  taskstore.Counts{Completed: 2, Failed: 1},
			want:    PhaseFix,
		},
		{
			name:    "fix completes once failures are cleared",
			current: PhaseFix,
			counts:  taskstore.Counts{Completed: 3},
			want:    PhaseComplete,
		},
		{
			name:    "fix does not step back to exec for new work",
			current: PhaseFix,
			counts:  taskstore.Counts{Pending: 1, InProgress: 1},
			want:    PhaseFix,
		},
		{
			name:    "verify does not step back to exec",
			current: PhaseVerify,
			counts:  taskstore.Counts{InProgress: 2},
			want:    PhaseVerify,
		},
		{
			name:    "complete is sticky",
			current: PhaseComplete,
			counts:  taskstore.Counts{Pending: 5},
			want:    PhaseComplete,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DerivePhase(tt.current, tt.counts); got != tt.want {
				t.Errorf("DerivePhase(%q, %+v) = %q, want %q", tt.current, tt.counts, got, tt.want)
			}
		})
	}
}

func TestPhaseValid(t *testing.T) {
	for _, p := range []Phase{PhaseStart, PhasePRD, PhaseExec, PhaseVerify, PhaseFix, PhaseComplete} {
		if !p.Valid() {
			t.Errorf("Valid(%q) = false", p)
		}
	}
	if Phase("team-done").Valid() {
		t.Error("Valid(team-done) = true")
	}
	if Phase("").Valid() {
		t.Error("Valid(empty) = true")
	}
}

func TestPhaseIsTerminal(t *testing.T) {
	if !PhaseComplete.IsTerminal() {
		t.Error("complete should be terminal")
	}
	for _, p := range []Phase{PhaseStart, PhasePRD, PhaseExec, PhaseVerify, PhaseFix} {
		if p.IsTerminal() {
			t.Errorf("%q should not be terminal", p)
		}
	}
}

func TestParsePhase(t *testing.T) {
	p, err := ParsePhase("team-verify")
	if err != nil || p != PhaseVerify {
		t.Errorf("ParsePhase(team-verify) = %q, %v", p, err)
	}
	if _, err := ParsePhase("verify"); err == nil {
		t.Error("ParsePhase(verify) should fail, phases use their full names")
	}
}

func TestAppendRecommendation(t *testing.T) {
	up := func(streak int, high bool) TrackedRecommendation {
		return TrackedRecommendation{
			Recommendation: scaling.Recommendation{Action: scaling.ActionScaleUp, Delta: 2},
			Streak:         streak,
			HighConfidence: high,
		}
	}
	down := TrackedRecommendation{
		Recommendation: scaling.Recommendation{Action: scaling.ActionScaleDown, Delta: -1},
		Streak:         1,
	}

	var hist []TrackedRecommendation
	hist = appendRecommendation(hist, up(1, false))
	if len(hist) != 1 {
		t.Fatalf("len = %d after first observation, want 1", len(hist))
	}

	// Repeats of the same episode fold into the existing entry.
	hist = appendRecommendation(hist, up(2, false))
	if len(hist) != 1 || hist[0].Streak != 1 {
		t.Fatalf("repeat observation changed history: %+v", hist)
	}

	// The first high-confidence tick replaces the entry so the streak shows.
	hist = appendRecommendation(hist, up(3, true))
	if len(hist) != 1 || hist[0].Streak != 3 || !hist[0].HighConfidence {
		t.Fatalf("high-confidence fold = %+v", hist)
	}
	hist = appendRecommendation(hist, up(4, true))
	if hist[0].Streak != 3 {
		t.Fatalf("later ticks should not touch the folded entry: %+v", hist)
	}

	// A different action starts a new episode.
	hist = appendRecommendation(hist, down)
	if len(hist) != 2 || hist[1].Action != scaling.ActionScaleDown {
		t.Fatalf("new episode not appended: %+v", hist)
	}

	// Bounded history.
	for i := 0; i < 3*maxSnapshotRecommendations; i++ {
		entry := up(1, false)
		entry.Delta = i + 10 // every entry is a fresh episode
		hist = appendRecommendation(hist, entry)
	}
	if len(hist) != maxSnapshotRecommendations {
		t.Fatalf("len = %d, want cap %d", len(hist), maxSnapshotRecommendations)
	}
}
