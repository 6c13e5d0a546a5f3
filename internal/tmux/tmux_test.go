package tmux

import (
	"strings"
	"testing"
)

func TestTeamSocketName(t *testing.T) {
	if got := TeamSocketName("t1"); got != "omx-t1" {
		t.Errorf("TeamSocketName(t1) = %q, want omx-t1", got)
	}
}

func TestIsTeamSocket(t *testing.T) {
	tests := []struct {
		socket string
		want   bool
	}{
		{"omx-t1", true},
		{"omx-my-team", true},
		{"omx", false},
		{"tmux-default", false},
		{"other-abc", false},
	}
	for _, tt := range tests {
		if got := IsTeamSocket(tt.socket); got != tt.want {
			t.Errorf("IsTeamSocket(%q) = %v, want %v", tt.socket, got, tt.want)
		}
	}
}

func TestExtractTeamName(t *testing.T) {
	tests := []struct {
		socket string
		want   string
	}{
		{"omx-t1", "t1"},
		{"omx-my-team", "my-team"},
		{"omx", ""},
		{"other", ""},
	}
	for _, tt := range tests {
		if got := ExtractTeamName(tt.socket); got != tt.want {
			t.Errorf("ExtractTeamName(%q) = %q, want %q", tt.socket, got, tt.want)
		}
	}
}

func TestCommandArgsWithSocket(t *testing.T) {
	args := CommandArgsWithSocket("omx-t1", "send-keys", "-t", "%3", "Enter")
	joined := strings.Join(args, " ")
	want := "-L omx-t1 send-keys -t %3 Enter"
	if joined != want {
		t.Errorf("CommandArgsWithSocket = %q, want %q", joined, want)
	}
}

func TestCommandWithSocket_BuildsArgs(t *testing.T) {
	cmd := CommandWithSocket("omx-t1", "list-panes")
	if len(cmd.Args) < 4 || cmd.Args[1] != "-L" || cmd.Args[2] != "omx-t1" || cmd.Args[3] != "list-panes" {
		t.Errorf("cmd.Args = %v, want tmux -L omx-t1 list-panes", cmd.Args)
	}
}

func TestBaseArgsWithSocket(t *testing.T) {
	args := BaseArgsWithSocket("omx-t1")
	if len(args) != 2 || args[0] != "-L" || args[1] != "omx-t1" {
		t.Errorf("BaseArgsWithSocket = %v, want [-L omx-t1]", args)
	}
}
