package taskstore

import (
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"omx/internal/errors"
	"omx/internal/events"
	"omx/internal/manifest"
	"omx/internal/store"
)

// DefaultLease is the claim lease duration when none is configured.
const DefaultLease = 15 * time.Minute

// Store persists tasks under tasks/<id>.json for one team. Task mutations use
// optimistic concurrency on the version field: read, mutate in memory, write
// if the on-disk version is unchanged, retry once on conflict.
type Store struct {
	layout   store.Layout
	manifest *manifest.Store
	log      *events.Log
	lease    time.Duration

	// mu serializes version-checked writes within this process; cross-process
	// writers are covered by the version check itself.
	mu sync.Mutex
}

// NewStore returns the task store for a team. log may be nil when no event
// log is wanted (tests, read-only tooling).
func NewStore(layout store.Layout, ms *manifest.Store, log *events.Log, lease time.Duration) *Store {
	if lease <= 0 {
		lease = DefaultLease
	}
	return &Store{layout: layout, manifest: ms, log: log, lease: lease}
}

// Create allocates an id from the manifest's next_task_id and persists a new
// pending task with version 1. Dependency ids are not validated: a task may
// reference a sibling created later in the same batch.
func (s *Store) Create(in CreateInput) (*Task, error) {
	if strings.TrimSpace(in.Subject) == "" {
		return nil, errors.Ef(errors.KindMalformed, "task.create", "subject must not be empty")
	}

	var id string
	_, err := s.manifest.Mutate(func(m *manifest.Manifest) error {
		id = m.AllocTaskID()
		return nil
	})
	if err != nil {
		return nil, err
	}

	t := &Task{
		ID:                 id,
		Subject:            in.Subject,
		Description:        in.Description,
		Status:             StatusPending,
		RequiresCodeChange: in.RequiresCodeChange,
		DependsOn:          in.DependsOn,
		Version:            1,
		CreatedAt:          time.Now().UTC(),
	}
	if err := store.WriteJSON(s.layout.TaskPath(id), t); err != nil {
		return nil, errors.E(errors.KindIOError, "task.create", err).WithTask(id)
	}
	return t, nil
}

// Get returns a task by id.
func (s *Store) Get(id string) (*Task, error) {
	var t Task
	found, err := store.ReadJSON(s.layout.TaskPath(id), &t)
	if err != nil {
		return nil, errors.E(errors.KindIOError, "task.get", err).WithTask(id)
	}
	if !found {
		return nil, errors.E(errors.KindNotFound, "task.get", errors.ErrNotFound).WithTask(id)
	}
	return &t, nil
}

// List returns every readable task, ordered by numeric id.
func (s *Store) List() ([]*Task, error) {
	entries, err := os.ReadDir(s.layout.TasksDirPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.E(errors.KindIOError, "task.list", err)
	}

	var tasks []*Task
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		var t Task
		found, err := store.ReadJSON(s.layout.TaskPath(strings.TrimSuffix(e.Name(), ".json")), &t)
		if err != nil || !found {
			continue
		}
		tasks = append(tasks, &t)
	}

	sort.Slice(tasks, func(i, j int) bool {
		a, errA := strconv.Atoi(tasks[i].ID)
		b, errB := strconv.Atoi(tasks[j].ID)
		if errA != nil || errB != nil {
			return tasks[i].ID < tasks[j].ID
		}
		return a < b
	})
	return tasks, nil
}

// Map returns every readable task keyed by id.
func (s *Store) Map() (map[string]*Task, error) {
	tasks, err := s.List()
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	return byID, nil
}

// Claim attempts to take the single claim on a pending task for a worker.
// Coordination failures come back as a structured outcome, not an error;
// the error return is reserved for storage failures.
func (s *Store) Claim(id, worker string) (*ClaimResult, error) {
	m, err := s.manifest.Load()
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < 2; attempt++ {
		t, err := s.Get(id)
		if err != nil {
			if errors.KindOf(err) == errors.KindNotFound {
				return &ClaimResult{Outcome: ClaimNotFound}, nil
			}
			return nil, err
		}

		if m.IsDraining(worker) {
			return &ClaimResult{Outcome: ClaimDrainingWorker, Task: t}, nil
		}

		switch t.Status {
		case StatusPending:
			// claimable
		case StatusInProgress:
			return &ClaimResult{Outcome: ClaimConflict, Task: t}, nil
		default:
			return &ClaimResult{Outcome: ClaimWrongStatus, Task: t}, nil
		}

		byID, err := s.Map()
		if err != nil {
			return nil, err
		}
		if ready, unmet := Readiness(t, byID); !ready {
			return &ClaimResult{Outcome: ClaimBlockedDependency, Task: t, UnmetDependencies: unmet}, nil
		}

		now := time.Now().UTC()
		expected := t.Version
		t.Status = StatusInProgress
		t.Owner = worker
		t.Claim = &Claim{
			Token:          uuid.NewString(),
			Worker:         worker,
			AcquiredAt:     now,
			LeaseExpiresAt: now.Add(s.lease),
		}

		err = s.writeVersioned(t, expected)
		if err == nil {
			return &ClaimResult{Outcome: ClaimOK, Task: t, Token: t.Claim.Token}, nil
		}
		if !errors.Is(err, errors.ErrVersionConflict) {
			return nil, err
		}
		// Someone else moved the task; re-read once and re-evaluate.
	}
	return &ClaimResult{Outcome: ClaimConflict}, nil
}

// Release clears the claim identified by token and returns the task to
// pending. Used when a worker voluntarily yields or its shell died mid-claim.
func (s *Store) Release(id, token string) (*Task, error) {
	return s.mutate(id, "task.release", func(t *Task) error {
		if err := checkToken(t, token); err != nil {
			return err
		}
		t.Status = StatusPending
		t.Owner = ""
		t.Claim = nil
		return nil
	})
}

// Transition moves an in_progress task to completed or failed. Requires the
// claim token. A completed transition appends a task_completed event.
func (s *Store) Transition(id, token string, target Status, result, errMsg string) (*Task, error) {
	if target != StatusCompleted && target != StatusFailed {
		return nil, errors.Ef(errors.KindMalformed, "task.transition", "target must be completed or failed, got %q", target).WithTask(id)
	}

	t, err := s.mutate(id, "task.transition", func(t *Task) error {
		if err := checkToken(t, token); err != nil {
			return err
		}
		now := time.Now().UTC()
		worker := t.Claim.Worker
		t.Status = target
		t.Owner = worker
		t.Claim = nil
		t.CompletedAt = &now
		if result != "" {
			t.Result = result
		}
		if errMsg != "" {
			t.Error = errMsg
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if target == StatusCompleted && s.log != nil {
		_, _ = s.log.Append(events.Event{
			Type:   events.TypeTaskCompleted,
			Worker: t.Owner,
			TaskID: t.ID,
		})
	}
	return t, nil
}

// Update applies an administrative field patch under optimistic concurrency.
// Status changes here are unrestricted; a status forced away from in_progress
// drops the claim to preserve the claim-iff-in_progress invariant.
func (s *Store) Update(id string, patch UpdatePatch) (*Task, error) {
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, errors.Ef(errors.KindMalformed, "task.update", "unknown status %q", *patch.Status).WithTask(id)
	}

	return s.mutate(id, "task.update", func(t *Task) error {
		if patch.Subject != nil {
			t.Subject = *patch.Subject
		}
		if patch.Description != nil {
			t.Description = *patch.Description
		}
		if patch.Owner != nil {
			t.Owner = *patch.Owner
		}
		if patch.Result != nil {
			t.Result = *patch.Result
		}
		if patch.Error != nil {
			t.Error = *patch.Error
		}
		if patch.DependsOn != nil {
			t.DependsOn = *patch.DependsOn
		}
		if patch.Status != nil {
			t.Status = *patch.Status
			if t.Status != StatusInProgress {
				t.Claim = nil
			}
			if t.Status.IsTerminal() && t.CompletedAt == nil {
				now := time.Now().UTC()
				t.CompletedAt = &now
			}
		}
		return nil
	})
}

// ExpireLeases rewrites expired in_progress tasks back to pending when the
// claim holder is observed dead. Returns the reclaimed tasks.
func (s *Store) ExpireLeases(deadWorkers map[string]bool, now time.Time) ([]*Task, error) {
	tasks, err := s.List()
	if err != nil {
		return nil, err
	}

	var reclaimed []*Task
	for _, t := range tasks {
		if t.Status != StatusInProgress || t.Claim == nil {
			continue
		}
		if !t.Claim.LeaseExpiresAt.Before(now) {
			continue
		}
		if !deadWorkers[t.Claim.Worker] {
			continue
		}

		fresh, err := s.mutate(t.ID, "task.expire", func(t *Task) error {
			if t.Status != StatusInProgress || t.Claim == nil {
				return errors.ErrWrongStatus
			}
			t.Status = StatusPending
			t.Owner = ""
			t.Claim = nil
			return nil
		})
		if err != nil {
			// The task moved under us; skip it this sweep.
			continue
		}
		reclaimed = append(reclaimed, fresh)
	}
	return reclaimed, nil
}

// Counts tallies tasks by persisted status.
func (s *Store) Counts() (Counts, error) {
	tasks, err := s.List()
	if err != nil {
		return Counts{}, err
	}

	var c Counts
	for _, t := range tasks {
		switch t.Status {
		case StatusPending:
			c.Pending++
		case StatusBlocked:
			c.Blocked++
		case StatusInProgress:
			c.InProgress++
		case StatusCompleted:
			c.Completed++
		case StatusFailed:
			c.Failed++
		}
	}
	return c, nil
}

// mutate runs one read-mutate-write cycle with a single retry on version
// conflict. fn sees the freshly read task and may return an error to abort.
func (s *Store) mutate(id, op string, fn func(*Task) error) (*Task, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		t, err := s.Get(id)
		if err != nil {
			return nil, err
		}
		expected := t.Version
		if err := fn(t); err != nil {
			return nil, wrapMutateErr(err, op, id)
		}
		err = s.writeVersioned(t, expected)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, errors.ErrVersionConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, errors.E(errors.KindVersionConflict, op, lastErr).WithTask(id)
}

// writeVersioned persists t if the on-disk version still matches expected,
// bumping the version by one.
func (s *Store) writeVersioned(t *Task, expected int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cur Task
	found, err := store.ReadJSON(s.layout.TaskPath(t.ID), &cur)
	if err != nil {
		return err
	}
	if !found {
		return errors.E(errors.KindNotFound, "task.write", errors.ErrNotFound).WithTask(t.ID)
	}
	if cur.Version != expected {
		return errors.ErrVersionConflict
	}

	t.Version = expected + 1
	return store.WriteJSON(s.layout.TaskPath(t.ID), t)
}

func checkToken(t *Task, token string) error {
	if t.Status != StatusInProgress || t.Claim == nil {
		return errors.ErrWrongStatus
	}
	if token == "" || t.Claim.Token != token {
		return errors.ErrTokenMismatch
	}
	return nil
}

func wrapMutateErr(err error, op, id string) error {
	if errors.Is(err, errors.ErrWrongStatus) {
		return errors.E(errors.KindClaimConflict, op, err).WithTask(id)
	}
	if errors.Is(err, errors.ErrTokenMismatch) {
		return errors.E(errors.KindClaimConflict, op, err).WithTask(id)
	}
	return errors.E(errors.KindIOError, op, err).WithTask(id)
}
