// Package taskstore manages the per-team task files: creation with manifest-
// allocated ids, single-claim leasing with optimistic concurrency on the task
// version, terminal transitions, and dependency readiness.
package taskstore

import (
	"fmt"
	"time"
)

// Status represents the persisted state of a task.
type Status string

const (
	// StatusPending indicates the task is waiting to be claimed.
	StatusPending Status = "pending"

	// StatusInProgress indicates a worker holds the task's claim.
	StatusInProgress Status = "in_progress"

	// StatusCompleted indicates the task finished successfully.
	StatusCompleted Status = "completed"

	// StatusFailed indicates the task failed.
	StatusFailed Status = "failed"

	// StatusBlocked indicates the task was explicitly blocked by an operator
	// or the leader. Dependency blocking is derived and never persisted.
	StatusBlocked Status = "blocked"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsTerminal returns true if this status represents a final state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed, StatusBlocked:
		return true
	}
	return false
}

// Claim records the single active lease on an in_progress task.
type Claim struct {
	// Token must be presented to release or transition the task.
	Token string `json:"token"`

	// Worker is the claim holder.
	Worker string `json:"worker"`

	// AcquiredAt is when the claim was taken.
	AcquiredAt time.Time `json:"acquired_at"`

	// LeaseExpiresAt is when the monitor may reclaim the task if the
	// holder is observed dead.
	LeaseExpiresAt time.Time `json:"lease_expires_at"`
}

// Task is one persisted unit of work. A task has a claim iff its status is
// in_progress; version increments on every persisted mutation.
type Task struct {
	ID          string `json:"id"`
	Subject     string `json:"subject"`
	Description string `json:"description,omitempty"`

	Status Status `json:"status"`

	// RequiresCodeChange is a scheduling hint, not an enforced property.
	RequiresCodeChange bool `json:"requires_code_change"`

	Owner     string   `json:"owner,omitempty"`
	Result    string   `json:"result,omitempty"`
	Error     string   `json:"error,omitempty"`
	DependsOn []string `json:"depends_on,omitempty"`

	// Version is the optimistic-concurrency token.
	Version int `json:"version"`

	Claim *Claim `json:"claim,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// HasClaim reports whether the task currently carries a claim.
func (t *Task) HasClaim() bool {
	return t.Claim != nil
}

// ClaimOutcome classifies the result of a claim attempt. Failures here are
// expected coordination results, not errors.
type ClaimOutcome string

const (
	ClaimOK                ClaimOutcome = "ok"
	ClaimNotFound          ClaimOutcome = "not_found"
	ClaimWrongStatus       ClaimOutcome = "wrong_status"
	ClaimConflict          ClaimOutcome = "claim_conflict"
	ClaimBlockedDependency ClaimOutcome = "blocked_dependency"
	ClaimDrainingWorker    ClaimOutcome = "draining_worker"

	// ClaimAwaitingApproval and ClaimApprovalRejected are produced by the
	// approval gate, not by the store itself.
	ClaimAwaitingApproval ClaimOutcome = "awaiting_approval"
	ClaimApprovalRejected ClaimOutcome = "approval_rejected"
)

// ClaimResult is the structured result of a claim attempt.
type ClaimResult struct {
	Outcome ClaimOutcome `json:"outcome"`

	// Task is the post-claim task on success, the observed task otherwise
	// (nil for not_found).
	Task *Task `json:"task,omitempty"`

	// Token is the claim token on success.
	Token string `json:"token,omitempty"`

	// UnmetDependencies lists the blocking ids for blocked_dependency.
	UnmetDependencies []string `json:"unmet_dependencies,omitempty"`
}

// OK reports whether the claim succeeded.
func (r *ClaimResult) OK() bool {
	return r.Outcome == ClaimOK
}

// CreateInput is the caller-supplied portion of a new task.
type CreateInput struct {
	Subject            string
	Description        string
	DependsOn          []string
	RequiresCodeChange bool
}

// UpdatePatch is a general-purpose field patch for administrative correction.
// Nil fields are left unchanged.
type UpdatePatch struct {
	Subject     *string
	Description *string
	Status      *Status
	Owner       *string
	Result      *string
	Error       *string
	DependsOn   *[]string
}

// Readiness reports whether every dependency of t resolves to a completed
// task, and the ids of unmet dependencies otherwise. Missing tasks count as
// unmet. Pure function; does not mutate.
func Readiness(t *Task, byID map[string]*Task) (bool, []string) {
	var unmet []string
	for _, depID := range t.DependsOn {
		dep, ok := byID[depID]
		if !ok || dep.Status != StatusCompleted {
			unmet = append(unmet, depID)
		}
	}
	return len(unmet) == 0, unmet
}

// Counts is a snapshot of task counts by persisted status.
type Counts struct {
	Pending    int `json:"pending"`
	Blocked    int `json:"blocked"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Total returns the number of counted tasks.
func (c Counts) Total() int {
	return c.Pending + c.Blocked + c.InProgress + c.Completed + c.Failed
}

// AllTerminal reports whether every task is completed or failed. An empty
// store is not terminal.
func (c Counts) AllTerminal() bool {
	return c.Total() > 0 && c.Pending == 0 && c.Blocked == 0 && c.InProgress == 0
}

// String renders the canonical status line.
func (c Counts) String() string {
	return fmt.Sprintf("tasks: pending=%d blocked=%d in_progress=%d completed=%d failed=%d",
		c.Pending, c.Blocked, c.InProgress, c.Completed, c.Failed)
}
