package cmd

import (
	"reflect"
	"testing"

	"omx/internal/events"
	"omx/internal/taskstore"
	"omx/internal/team"
)

func TestCommandTree(t *testing.T) {
	if rootCmd.Use != "omx" {
		t.Errorf("rootCmd.Use = %q, want omx", rootCmd.Use)
	}

	teamVerbs := make(map[string]bool)
	for _, c := range teamCmd.Commands() {
		teamVerbs[c.Name()] = true
	}
	for _, want := range []string{
		"start", "status", "monitor", "shutdown", "cleanup",
		"scale-up", "scale-down", "scale-auto",
		"run", "approve", "phase", "list",
	} {
		if !teamVerbs[want] {
			t.Errorf("team subcommand %q not registered", want)
		}
	}

	workerVerbs := make(map[string]bool)
	for _, c := range workerCmd.Commands() {
		workerVerbs[c.Name()] = true
	}
	for _, want := range []string{
		"claim", "complete", "fail", "release",
		"send", "inbox", "ack-shutdown", "checkin",
	} {
		if !workerVerbs[want] {
			t.Errorf("worker subcommand %q not registered", want)
		}
	}
}

func TestParseRoleDescriptors(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		roles    []string
		subjects []string
		wantErr  bool
	}{
		{
			name:     "single descriptor",
			args:     []string{"2:claude", "fix the flaky test"},
			roles:    []string{"claude", "claude"},
			subjects: []string{"fix the flaky test"},
		},
		{
			name:     "mixed roles",
			args:     []string{"1:claude", "2:codex", "a", "b"},
			roles:    []string{"claude", "codex", "codex"},
			subjects: []string{"a", "b"},
		},
		{
			name:     "descriptor after the first subject stays a subject",
			args:     []string{"1:claude", "do it", "2:codex"},
			roles:    []string{"claude"},
			subjects: []string{"do it", "2:codex"},
		},
		{name: "no descriptor", args: []string{"fix tests"}, wantErr: true},
		{name: "no subjects", args: []string{"2:claude"}, wantErr: true},
		{name: "zero count", args: []string{"0:claude", "x"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			roles, subjects, err := parseRoleDescriptors(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseRoleDescriptors(%v) = %v/%v, want error", tt.args, roles, subjects)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseRoleDescriptors(%v) error: %v", tt.args, err)
			}
			if !reflect.DeepEqual(roles, tt.roles) {
				t.Errorf("roles = %v, want %v", roles, tt.roles)
			}
			if !reflect.DeepEqual(subjects, tt.subjects) {
				t.Errorf("subjects = %v, want %v", subjects, tt.subjects)
			}
		})
	}
}

func TestParseScaleUpArg(t *testing.T) {
	tests := []struct {
		arg     string
		count   int
		role    string
		wantErr bool
	}{
		{arg: "3", count: 3},
		{arg: "2:reviewer", count: 2, role: "reviewer"},
		{arg: "1:claude", count: 1, role: "claude"},
		{arg: "x", wantErr: true},
		{arg: "3:", wantErr: true},
		{arg: ":claude", wantErr: true},
		{arg: "0", wantErr: true},
		{arg: "-1", wantErr: true},
	}

	for _, tt := range tests {
		count, role, err := parseScaleUpArg(tt.arg)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseScaleUpArg(%q) = %d/%q, want error", tt.arg, count, role)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseScaleUpArg(%q) error: %v", tt.arg, err)
			continue
		}
		if count != tt.count || role != tt.role {
			t.Errorf("parseScaleUpArg(%q) = %d/%q, want %d/%q", tt.arg, count, role, tt.count, tt.role)
		}
	}
}

func TestRunInputRoles(t *testing.T) {
	tests := []struct {
		name string
		in   runInput
		want []string
	}{
		{
			name: "defaults to one claude",
			in:   runInput{},
			want: []string{"claude"},
		},
		{
			name: "count cycles the types",
			in:   runInput{WorkerCount: 3, AgentTypes: []string{"a", "b"}},
			want: []string{"a", "b", "a"},
		},
		{
			name: "types alone set the count",
			in:   runInput{AgentTypes: []string{"a", "b"}},
			want: []string{"a", "b"},
		},
		{
			name: "count alone uses claude",
			in:   runInput{WorkerCount: 2},
			want: []string{"claude", "claude"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.roles(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("roles() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseWorkerIdentity(t *testing.T) {
	teamName, name, err := parseWorkerIdentity("t1/worker-2")
	if err != nil || teamName != "t1" || name != "worker-2" {
		t.Errorf("parseWorkerIdentity(t1/worker-2) = %q/%q/%v", teamName, name, err)
	}

	for _, bad := range []string{"", "t1", "t1/", "/worker-2", "T1/worker-2", "t1/worker 2"} {
		if _, _, err := parseWorkerIdentity(bad); err == nil {
			t.Errorf("parseWorkerIdentity(%q) accepted a malformed value", bad)
		}
	}
}

func TestTickLine(t *testing.T) {
	s := &team.Snapshot{
		Tick:  4,
		Phase: team.PhaseExec,
		Tasks: taskstore.Counts{Pending: 2, InProgress: 1, Completed: 3},
		Workers: map[string]team.WorkerView{
			"worker-1": {}, "worker-2": {},
		},
		DeadWorkers: []string{"worker-3"},
		Warnings:    []string{"one"},
	}
	want := "tick=4 phase=team-exec pending=2 blocked=0 in_progress=1 completed=3 failed=0 workers=2 dead=1 warnings=1"
	if got := tickLine(s); got != want {
		t.Errorf("tickLine() = %q, want %q", got, want)
	}
}

func TestEventLine(t *testing.T) {
	tests := []struct {
		event events.Event
		want  string
	}{
		{
			events.Event{Type: events.TypeWorkerStopped, Worker: "worker-2", Reason: "heartbeat stale"},
			`event=worker_stopped worker=worker-2 reason="heartbeat stale"`,
		},
		{
			events.Event{Type: events.TypeTaskCompleted, Worker: "worker-1", TaskID: "3"},
			"event=task_completed worker=worker-1 task=3",
		},
		{
			events.Event{Type: events.TypeTeamLeaderNudge, Reason: "no worker activity for 2m0s"},
			`event=team_leader_nudge reason="no worker activity for 2m0s"`,
		},
	}
	for _, tt := range tests {
		if got := eventLine(tt.event); got != tt.want {
			t.Errorf("eventLine(%s) = %q, want %q", tt.event.Type, got, tt.want)
		}
	}
}
