// Package tmux provides centralized helpers for tmux operations.
//
// omx runs each team on its own tmux socket named "omx-{team}". A crash of
// one team's tmux server cannot affect another team's panes, and killing a
// team's server is guaranteed to only take that team's slots with it.
//
// The default "omx" socket is used for global operations like listing team
// sockets during cleanup sweeps.
package tmux

import (
	"context"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strings"
)

// SocketName is the base tmux socket name for omx global operations.
// Individual teams use sockets named "omx-{team}" for isolation.
const SocketName = "omx"

// SocketPrefix is the prefix used for all omx tmux sockets. Team sockets are
// named "{SocketPrefix}-{team}".
const SocketPrefix = "omx"

// Available reports whether a tmux binary is on PATH.
func Available() bool {
	_, err := exec.LookPath("tmux")
	return err == nil
}

// Command creates an exec.Cmd for tmux on the default omx socket. Use this
// for global operations; for team operations use CommandWithSocket.
func Command(args ...string) *exec.Cmd {
	return CommandWithSocket(SocketName, args...)
}

// CommandContext creates a context-aware exec.Cmd on the default socket.
func CommandContext(ctx context.Context, args ...string) *exec.Cmd {
	return CommandContextWithSocket(ctx, SocketName, args...)
}

// CommandWithSocket creates an exec.Cmd for tmux with a custom socket name.
func CommandWithSocket(socket string, args ...string) *exec.Cmd {
	fullArgs := append([]string{"-L", socket}, args...)
	return exec.Command("tmux", fullArgs...)
}

// CommandContextWithSocket creates a context-aware exec.Cmd with a custom socket.
func CommandContextWithSocket(ctx context.Context, socket string, args ...string) *exec.Cmd {
	fullArgs := append([]string{"-L", socket}, args...)
	return exec.CommandContext(ctx, "tmux", fullArgs...)
}

// CommandArgsWithSocket returns tmux arguments with a custom socket name.
// Use this when the command string is built elsewhere (e.g. for logging).
func CommandArgsWithSocket(socket string, args ...string) []string {
	return append([]string{"-L", socket}, args...)
}

// BaseArgsWithSocket returns just the socket arguments [-L, socket].
func BaseArgsWithSocket(socket string) []string {
	return []string{"-L", socket}
}

// TeamSocketName returns the socket name for a team's tmux server.
func TeamSocketName(team string) string {
	return SocketPrefix + "-" + team
}

// ListTeamSockets returns all tmux sockets that belong to omx teams. It
// searches the tmux socket directory for sockets matching "omx-*".
func ListTeamSockets() ([]string, error) {
	socketDir, err := getSocketDir()
	if err != nil {
		return nil, err
	}

	pattern := filepath.Join(socketDir, SocketPrefix+"-*")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}

	defaultSocket := filepath.Join(socketDir, SocketName)
	if _, err := os.Stat(defaultSocket); err == nil {
		matches = append(matches, defaultSocket)
	}

	sockets := make([]string, 0, len(matches))
	for _, match := range matches {
		sockets = append(sockets, filepath.Base(match))
	}
	return sockets, nil
}

// getSocketDir returns the tmux socket directory for the current user.
func getSocketDir() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", err
	}
	// tmux uses /tmp/tmux-{uid}/ for sockets
	return filepath.Join("/tmp", "tmux-"+u.Uid), nil
}

// IsTeamSocket returns true if the socket name is a team-specific socket.
func IsTeamSocket(socket string) bool {
	return strings.HasPrefix(socket, SocketPrefix+"-") && socket != SocketName
}

// ExtractTeamName extracts the team name from a team socket name. Returns
// empty string for the default socket and foreign sockets.
func ExtractTeamName(socket string) string {
	prefix := SocketPrefix + "-"
	if team, found := strings.CutPrefix(socket, prefix); found {
		return team
	}
	return ""
}
