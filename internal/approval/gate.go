package approval

import (
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"omx/internal/errors"
	"omx/internal/events"
	"omx/internal/manifest"
	"omx/internal/store"
	"omx/internal/taskstore"
)

// Decision is a leader's answer to a plan approval request.
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
)

// Valid reports whether d is a known decision.
func (d Decision) Valid() bool {
	return d == DecisionAccept || d == DecisionReject
}

// Record is one persisted approval decision, stored as approvals/<task_id>.json.
type Record struct {
	TaskID    string    `json:"task_id"`
	Decision  Decision  `json:"decision"`
	Reason    string    `json:"reason,omitempty"`
	DecidedBy string    `json:"decided_by"`
	DecidedAt time.Time `json:"decided_at"`
}

// Accepted reports whether the record clears the gate.
func (r Record) Accepted() bool {
	return r.Decision == DecisionAccept
}

// Store reads and writes approval records for one team.
type Store struct {
	layout store.Layout
	log    *events.Log
}

// NewStore returns an approval store over the team's state root. The event
// log may be nil; decisions are then recorded without an event.
func NewStore(layout store.Layout, log *events.Log) *Store {
	return &Store{layout: layout, log: log}
}

// Decide persists a decision for the task and appends an approval_decision
// event. A repeat decision overwrites the earlier one; the latest answer is
// the one the gate sees.
func (s *Store) Decide(taskID string, d Decision, decidedBy, reason string) (*Record, error) {
	const op = "approval.decide"
	if taskID == "" {
		return nil, errors.Ef(errors.KindMalformed, op, "task id must not be empty")
	}
	if !d.Valid() {
		return nil, errors.Ef(errors.KindMalformed, op, "unknown decision %q", d).WithTask(taskID)
	}

	rec := &Record{
		TaskID:    taskID,
		Decision:  d,
		Reason:    reason,
		DecidedBy: decidedBy,
		DecidedAt: time.Now().UTC(),
	}
	if err := store.WriteJSON(s.layout.ApprovalPath(taskID), rec); err != nil {
		return nil, errors.E(errors.KindIOError, op, err).WithTask(taskID)
	}

	if s.log != nil {
		note := string(d)
		if reason != "" {
			note += ": " + reason
		}
		_, _ = s.log.Append(events.Event{
			Type:   events.TypeApprovalDecision,
			Worker: decidedBy,
			TaskID: taskID,
			Reason: note,
		})
	}
	return rec, nil
}

// Read returns the recorded decision for a task, or nil when undecided.
func (s *Store) Read(taskID string) (*Record, error) {
	var rec Record
	found, err := store.ReadJSON(s.layout.ApprovalPath(taskID), &rec)
	if err != nil {
		return nil, errors.E(errors.KindIOError, "approval.read", err).WithTask(taskID)
	}
	if !found {
		return nil, nil
	}
	return &rec, nil
}

// List returns every recorded decision, ordered by numeric task id.
func (s *Store) List() ([]*Record, error) {
	entries, err := os.ReadDir(s.layout.ApprovalsDirPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.E(errors.KindIOError, "approval.list", err)
	}

	var recs []*Record
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		rec, err := s.Read(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil || rec == nil {
			continue
		}
		recs = append(recs, rec)
	}

	sort.Slice(recs, func(i, j int) bool {
		a, errA := strconv.Atoi(recs[i].TaskID)
		b, errB := strconv.Atoi(recs[j].TaskID)
		if errA != nil || errB != nil {
			return recs[i].TaskID < recs[j].TaskID
		}
		return a < b
	})
	return recs, nil
}

// Gate wraps a task store so claims honor the team's plan approval policy.
// Code-change tasks are held until an accepting decision is on record; every
// other claim passes through to the underlying store unchanged.
type Gate struct {
	tasks     *taskstore.Store
	approvals *Store
	manifests *manifest.Store
}

// NewGate returns a claim gate over the team's stores.
func NewGate(tasks *taskstore.Store, approvals *Store, manifests *manifest.Store) *Gate {
	return &Gate{tasks: tasks, approvals: approvals, manifests: manifests}
}

// Claim claims a task through the approval gate. When the team's policy does
// not require plan approval, or the task does not require a code change, the
// claim is delegated untouched. Otherwise an undecided task comes back as
// awaiting_approval and a rejected one as approval_rejected; only an accepted
// task reaches the store's claim path.
func (g *Gate) Claim(id, worker string) (*taskstore.ClaimResult, error) {
	m, err := g.manifests.Load()
	if err != nil {
		return nil, err
	}
	if !m.Policy.PlanApprovalRequired {
		return g.tasks.Claim(id, worker)
	}

	t, err := g.tasks.Get(id)
	if err != nil {
		if errors.KindOf(err) == errors.KindNotFound {
			return &taskstore.ClaimResult{Outcome: taskstore.ClaimNotFound}, nil
		}
		return nil, err
	}
	if !t.RequiresCodeChange {
		return g.tasks.Claim(id, worker)
	}

	rec, err := g.approvals.Read(id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return &taskstore.ClaimResult{Outcome: taskstore.ClaimAwaitingApproval, Task: t}, nil
	}
	if !rec.Accepted() {
		return &taskstore.ClaimResult{Outcome: taskstore.ClaimApprovalRejected, Task: t}, nil
	}
	return g.tasks.Claim(id, worker)
}

// Pending returns the ids of pending code-change tasks that have no decision
// yet. Empty when the policy does not gate claims.
func (g *Gate) Pending() ([]string, error) {
	m, err := g.manifests.Load()
	if err != nil {
		return nil, err
	}
	if !m.Policy.PlanApprovalRequired {
		return nil, nil
	}

	tasks, err := g.tasks.List()
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, t := range tasks {
		if !t.RequiresCodeChange || t.Status != taskstore.StatusPending {
			continue
		}
		rec, err := g.approvals.Read(t.ID)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			ids = append(ids, t.ID)
		}
	}
	return ids, nil
}
