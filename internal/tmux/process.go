package tmux

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// DefaultGraceTimeout is the fallback wait between the interrupt and the
// force-kill when no grace period is configured.
const DefaultGraceTimeout = 500 * time.Millisecond

// GetPanePID returns the PID of the process running in a pane. target is any
// tmux target specifier; omx uses pane ids like "%3". Returns 0 if the PID
// cannot be determined (e.g. the pane is gone).
func GetPanePID(socketName, target string) int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cmd := CommandContextWithSocket(ctx, socketName, "display-message", "-t", target, "-p", "#{pane_pid}")
	output, err := cmd.Output()
	if err != nil {
		return 0
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(output)))
	if err != nil {
		return 0
	}
	return pid
}

// GetDescendantPIDs returns all descendant PIDs of the given PID (recursive).
// Uses pgrep -P to find child processes.
func GetDescendantPIDs(pid int) []int {
	if pid <= 0 {
		return nil
	}
	return getDescendantPIDs(pid)
}

func getDescendantPIDs(pid int) []int {
	cmd := exec.Command("pgrep", "-P", strconv.Itoa(pid))
	output, err := cmd.Output()
	if err != nil {
		return nil
	}

	var descendants []int
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		childPID, err := strconv.Atoi(line)
		if err != nil {
			continue
		}
		descendants = append(descendants, childPID)
		// Recursively get grandchildren
		descendants = append(descendants, getDescendantPIDs(childPID)...)
	}
	return descendants
}

// IsProcessAlive checks if a process with the given PID exists.
// Uses kill(pid, 0) which checks for process existence without sending a signal.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil
}

// KillProcessTree sends SIGKILL to a process and all its descendants.
// Descendants are killed first (bottom-up) to prevent orphaning.
func KillProcessTree(pid int) {
	if pid <= 0 {
		return
	}

	// Get all descendants first (before killing, so we can traverse the tree)
	descendants := GetDescendantPIDs(pid)

	for i := len(descendants) - 1; i >= 0; i-- {
		if IsProcessAlive(descendants[i]) {
			_ = syscall.Kill(descendants[i], syscall.SIGKILL)
		}
	}

	if IsProcessAlive(pid) {
		_ = syscall.Kill(pid, syscall.SIGKILL)
	}
}

// KillServer kills the tmux server for the given socket name. This is more
// thorough than kill-session: it terminates the server itself and every
// session/window/pane within it.
func KillServer(socketName string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return CommandContextWithSocket(ctx, socketName, "kill-server").Run()
}

// CollectProcessTree returns a pane's PID and all its descendants. Call this
// before initiating a kill so the full tree is captured while it is alive.
func CollectProcessTree(socketName, target string) []int {
	panePID := GetPanePID(socketName, target)
	if panePID <= 0 {
		return nil
	}

	pids := []int{panePID}
	pids = append(pids, GetDescendantPIDs(panePID)...)
	return pids
}

// EnsureProcessesKilled checks if any of the given PIDs are still alive and
// force-kills them along with any new descendants they may have spawned.
func EnsureProcessesKilled(pids []int) {
	for _, pid := range pids {
		if IsProcessAlive(pid) {
			KillProcessTree(pid)
		}
	}
}

// KillSlot shuts down one pane: capture the process tree, send Ctrl+C for a
// graceful stop, poll for exit up to grace, kill the pane, then force-kill
// any survivors. The tmux server is left running for the team's other slots.
func KillSlot(socketName, target string, grace time.Duration) {
	if grace <= 0 {
		grace = DefaultGraceTimeout
	}

	processPIDs := CollectProcessTree(socketName, target)
	panePID := 0
	if len(processPIDs) > 0 {
		panePID = processPIDs[0]
	}

	_ = CommandWithSocket(socketName, "send-keys", "-t", target, "C-c").Run()

	WaitForProcessExit(panePID, grace)

	_ = CommandWithSocket(socketName, "kill-pane", "-t", target).Run()

	EnsureProcessesKilled(processPIDs)
}

// DestroySession tears down a team's whole tmux server: session kill, server
// kill, then a force-kill sweep over every process tree that was attached to
// the session's panes.
func DestroySession(socketName, sessionName string, paneTargets []string, grace time.Duration) {
	if grace <= 0 {
		grace = DefaultGraceTimeout
	}

	var processPIDs []int
	for _, target := range paneTargets {
		processPIDs = append(processPIDs, CollectProcessTree(socketName, target)...)
	}

	_ = CommandWithSocket(socketName, "kill-session", "-t", sessionName).Run()
	_ = KillServer(socketName)

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !anyAlive(processPIDs) {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	EnsureProcessesKilled(processPIDs)
}

// WaitForProcessExit polls until the given PID exits or the timeout is
// reached. Returns true if the process exited within the timeout.
func WaitForProcessExit(pid int, timeout time.Duration) bool {
	if pid <= 0 || !IsProcessAlive(pid) {
		return true
	}

	deadline := time.After(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			return !IsProcessAlive(pid)
		case <-ticker.C:
			if !IsProcessAlive(pid) {
				return true
			}
		}
	}
}

func anyAlive(pids []int) bool {
	for _, pid := range pids {
		if IsProcessAlive(pid) {
			return true
		}
	}
	return false
}
