package taskstore

import (
	"reflect"
	"testing"
	"time"
)

func TestStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusPending, false},
		{StatusInProgress, false},
		{StatusBlocked, false},
		{StatusCompleted, true},
		{StatusFailed, true},
	}
	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.want {
			t.Errorf("%s.IsTerminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestStatus_Valid(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusInProgress, StatusCompleted, StatusFailed, StatusBlocked} {
		if !s.Valid() {
			t.Errorf("%s.Valid() = false, want true", s)
		}
	}
	for _, s := range []Status{"", "done", "PENDING", "cancelled"} {
		if s.Valid() {
			t.Errorf("%q.Valid() = true, want false", s)
		}
	}
}

func TestTask_HasClaim(t *testing.T) {
	task := &Task{ID: "1", Status: StatusPending}
	if task.HasClaim() {
		t.Error("pending task reports a claim")
	}

	task.Status = StatusInProgress
	task.Claim = &Claim{Token: "tok", Worker: "worker-1", AcquiredAt: time.Now(), LeaseExpiresAt: time.Now().Add(time.Minute)}
	if !task.HasClaim() {
		t.Error("claimed task reports no claim")
	}
}

func TestReadiness(t *testing.T) {
	byID := map[string]*Task{
		"1": {ID: "1", Status: StatusCompleted},
		"2": {ID: "2", Status: StatusPending},
		"3": {ID: "3", Status: StatusFailed},
	}

	tests := []struct {
		name      string
		task      *Task
		wantReady bool
		wantUnmet []string
	}{
		{"no dependencies", &Task{ID: "4"}, true, nil},
		{"completed dependency", &Task{ID: "4", DependsOn: []string{"1"}}, true, nil},
		{"pending dependency", &Task{ID: "4", DependsOn: []string{"2"}}, false, []string{"2"}},
		{"failed dependency", &Task{ID: "4", DependsOn: []string{"3"}}, false, []string{"3"}},
		{"missing dependency", &Task{ID: "4", DependsOn: []string{"9"}}, false, []string{"9"}},
		{"mixed dependencies", &Task{ID: "4", DependsOn: []string{"1", "2", "9"}}, false, []string{"2", "9"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ready, unmet := Readiness(tt.task, byID)
			if ready != tt.wantReady {
				t.Errorf("Readiness() ready = %v, want %v", ready, tt.wantReady)
			}
			if !reflect.DeepEqual(unmet, tt.wantUnmet) {
				t.Errorf("Readiness() unmet = %v, want %v", unmet, tt.wantUnmet)
			}
		})
	}
}

func TestClaimResult_OK(t *testing.T) {
	if !(&ClaimResult{Outcome: ClaimOK}).OK() {
		t.Error("ClaimOK result reports not OK")
	}
	for _, o := range []ClaimOutcome{ClaimNotFound, ClaimWrongStatus, ClaimConflict, ClaimBlockedDependency, ClaimDrainingWorker} {
		if (&ClaimResult{Outcome: o}).OK() {
			t.Errorf("%s result reports OK", o)
		}
	}
}

func TestCounts(t *testing.T) {
	c := Counts{Pending: 2, Blocked: 1, InProgress: 3, Completed: 4, Failed: 1}

	if got := c.Total(); got != 11 {
		t.Errorf("Total() = %d, want 11", got)
	}
	if c.AllTerminal() {
		t.Error("AllTerminal() = true with live tasks")
	}

	want := "tasks: pending=2 blocked=1 in_progress=3 completed=4 failed=1"
	if got := c.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestCounts_AllTerminal(t *testing.T) {
	if (Counts{}).AllTerminal() {
		t.Error("empty counts report all-terminal")
	}
	if !(Counts{Completed: 2, Failed: 1}).AllTerminal() {
		t.Error("terminal-only counts report not all-terminal")
	}
	if (Counts{Completed: 2, Pending: 1}).AllTerminal() {
		t.Error("pending task counted as terminal")
	}
}
