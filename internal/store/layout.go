package store

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
)

// File and directory names under a team state root.
const (
	StateDirName  = ".omx"
	ManifestFile  = "manifest.v2.json"
	TasksDir      = "tasks"
	WorkersDir    = "workers"
	MailboxDir    = "mailbox"
	ApprovalsDir  = "approvals"
	EventLogFile  = "events.ndjson"
	SnapshotFile  = "monitor.snapshot.json"
	HistoryFile   = "scaling-history.json"
	ScalingLock   = "scaling.lock"
	TeamLock      = "team.lock"
	PanesFile     = "panes.json"
	IdentityFile  = "identity.json"
	HeartbeatFile = "heartbeat.json"
	StatusFile    = "status.json"
	InboxFile     = "inbox.md"
	RequestFile   = "shutdown-request.json"
	AckFile       = "shutdown-ack.json"
)

// nameRegex restricts team and worker names to filesystem-safe slugs.
var nameRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// ValidName reports whether s is a safe team or worker slug.
func ValidName(s string) bool {
	return nameRegex.MatchString(s)
}

// TeamsRoot returns the directory holding every team's state root.
func TeamsRoot(projectDir string) string {
	return filepath.Join(projectDir, StateDirName, "state", "team")
}

// Layout resolves canonical paths under one team's state root.
type Layout struct {
	root string
}

// NewLayout returns the layout for a team under projectDir.
func NewLayout(projectDir, team string) Layout {
	return Layout{root: filepath.Join(TeamsRoot(projectDir), team)}
}

// LayoutAt returns a layout rooted at an explicit state root. Used by tests
// and by code that already resolved the root.
func LayoutAt(root string) Layout {
	return Layout{root: root}
}

// Root returns the team state root.
func (l Layout) Root() string { return l.root }

// Team returns the team name (the last path element of the root).
func (l Layout) Team() string { return filepath.Base(l.root) }

// Manifest returns the manifest path.
func (l Layout) Manifest() string { return filepath.Join(l.root, ManifestFile) }

// TasksDirPath returns the tasks directory.
func (l Layout) TasksDirPath() string { return filepath.Join(l.root, TasksDir) }

// TaskPath returns the path for one task file.
func (l Layout) TaskPath(id string) string {
	return filepath.Join(l.root, TasksDir, id+".json")
}

// WorkersDirPath returns the workers directory.
func (l Layout) WorkersDirPath() string { return filepath.Join(l.root, WorkersDir) }

// WorkerDir returns one worker's directory.
func (l Layout) WorkerDir(worker string) string {
	return filepath.Join(l.root, WorkersDir, worker)
}

// IdentityPath returns a worker's identity file.
func (l Layout) IdentityPath(worker string) string {
	return filepath.Join(l.WorkerDir(worker), IdentityFile)
}

// HeartbeatPath returns a worker's heartbeat file.
func (l Layout) HeartbeatPath(worker string) string {
	return filepath.Join(l.WorkerDir(worker), HeartbeatFile)
}

// StatusPath returns a worker's status file.
func (l Layout) StatusPath(worker string) string {
	return filepath.Join(l.WorkerDir(worker), StatusFile)
}

// InboxPath returns a worker's inbox overlay file.
func (l Layout) InboxPath(worker string) string {
	return filepath.Join(l.WorkerDir(worker), InboxFile)
}

// ShutdownRequestPath returns a worker's shutdown request file.
func (l Layout) ShutdownRequestPath(worker string) string {
	return filepath.Join(l.WorkerDir(worker), RequestFile)
}

// ShutdownAckPath returns a worker's shutdown ack file.
func (l Layout) ShutdownAckPath(worker string) string {
	return filepath.Join(l.WorkerDir(worker), AckFile)
}

// MailboxPath returns one worker's mailbox file.
func (l Layout) MailboxPath(worker string) string {
	return filepath.Join(l.root, MailboxDir, worker+".json")
}

// MailboxDirPath returns the mailbox directory.
func (l Layout) MailboxDirPath() string { return filepath.Join(l.root, MailboxDir) }

// EventLog returns the append-only event log path.
func (l Layout) EventLog() string { return filepath.Join(l.root, EventLogFile) }

// ApprovalPath returns the approval record for a task.
func (l Layout) ApprovalPath(taskID string) string {
	return filepath.Join(l.root, ApprovalsDir, taskID+".json")
}

// ApprovalsDirPath returns the approvals directory.
func (l Layout) ApprovalsDirPath() string { return filepath.Join(l.root, ApprovalsDir) }

// Snapshot returns the monitor snapshot path.
func (l Layout) Snapshot() string { return filepath.Join(l.root, SnapshotFile) }

// ScalingHistory returns the scaling event log path.
func (l Layout) ScalingHistory() string { return filepath.Join(l.root, HistoryFile) }

// ScalingLockPath returns the scaling advisory lock path.
func (l Layout) ScalingLockPath() string { return filepath.Join(l.root, ScalingLock) }

// TeamLockPath returns the team runtime lock path.
func (l Layout) TeamLockPath() string { return filepath.Join(l.root, TeamLock) }

// Panes returns the pane/slot address side-file path.
func (l Layout) Panes() string { return filepath.Join(l.root, PanesFile) }

// Init creates the state root and its fixed subdirectories.
func (l Layout) Init() error {
	for _, dir := range []string{
		l.root,
		l.TasksDirPath(),
		l.WorkersDirPath(),
		l.MailboxDirPath(),
		l.ApprovalsDirPath(),
	} {
		if err := EnsureDir(dir); err != nil {
			return err
		}
	}
	return nil
}

// ListWorkers returns the names of workers that have a state directory,
// sorted for stable iteration.
func (l Layout) ListWorkers() ([]string, error) {
	entries, err := os.ReadDir(l.WorkersDirPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read workers directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// ListTeams returns the names of teams that have a manifest under projectDir,
// sorted for stable iteration.
func ListTeams(projectDir string) ([]string, error) {
	entries, err := os.ReadDir(TeamsRoot(projectDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read teams directory: %w", err)
	}

	var teams []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		manifest := filepath.Join(TeamsRoot(projectDir), e.Name(), ManifestFile)
		if Exists(manifest) {
			teams = append(teams, e.Name())
		}
	}
	sort.Strings(teams)
	return teams, nil
}
