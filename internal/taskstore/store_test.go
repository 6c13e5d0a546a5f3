package taskstore

import (
	"fmt"
	"testing"
	"time"

	"omx/internal/errors"
	"omx/internal/events"
	"omx/internal/manifest"
	"omx/internal/store"
)

func newTestStore(t *testing.T) (*Store, *manifest.Store, *events.Log) {
	t.Helper()
	layout := store.NewLayout(t.TempDir(), "t1")
	if err := layout.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	ms := manifest.NewStore(layout)
	if err := ms.Save(manifest.New("t1", "test team")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	log := events.NewLog(layout)
	return NewStore(layout, ms, log, time.Minute), ms, log
}

func mustCreate(t *testing.T, s *Store, subject string, deps ...string) *Task {
	t.Helper()
	task, err := s.Create(CreateInput{Subject: subject, DependsOn: deps})
	if err != nil {
		t.Fatalf("Create(%q) error = %v", subject, err)
	}
	return task
}

func mustClaim(t *testing.T, s *Store, id, worker string) *ClaimResult {
	t.Helper()
	res, err := s.Claim(id, worker)
	if err != nil {
		t.Fatalf("Claim(%s, %s) error = %v", id, worker, err)
	}
	if !res.OK() {
		t.Fatalf("Claim(%s, %s) outcome = %s, want ok", id, worker, res.Outcome)
	}
	return res
}

func TestCreate_AssignsSequentialIDs(t *testing.T) {
	s, ms, _ := newTestStore(t)

	t1 := mustCreate(t, s, "do A")
	t2 := mustCreate(t, s, "do B")

	if t1.ID != "1" || t2.ID != "2" {
		t.Errorf("ids = %s, %s, want 1, 2", t1.ID, t2.ID)
	}
	if t1.Status != StatusPending {
		t.Errorf("status = %s, want pending", t1.Status)
	}
	if t1.Version != 1 {
		t.Errorf("version = %d, want 1", t1.Version)
	}
	if t1.CreatedAt.IsZero() {
		t.Error("created_at not set")
	}

	m, err := ms.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if m.NextTaskID != 3 {
		t.Errorf("next_task_id = %d, want 3", m.NextTaskID)
	}
}

func TestCreate_RequiresSubject(t *testing.T) {
	s, _, _ := newTestStore(t)

	if _, err := s.Create(CreateInput{Subject: "  "}); err == nil {
		t.Fatal("Create with blank subject succeeded")
	}
}

func TestGet_NotFound(t *testing.T) {
	s, _, _ := newTestStore(t)

	_, err := s.Get("42")
	if !errors.Is(err, errors.ErrNotFound) {
		t.Fatalf("Get(42) error = %v, want ErrNotFound", err)
	}
	if errors.KindOf(err) != errors.KindNotFound {
		t.Errorf("KindOf = %s, want not_found", errors.KindOf(err))
	}
}

func TestList_NumericOrder(t *testing.T) {
	s, _, _ := newTestStore(t)

	for i := 0; i < 12; i++ {
		mustCreate(t, s, fmt.Sprintf("task %d", i+1))
	}

	tasks, err := s.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(tasks) != 12 {
		t.Fatalf("List() returned %d tasks, want 12", len(tasks))
	}
	for i, task := range tasks {
		want := fmt.Sprintf("%d", i+1)
		if task.ID != want {
			t.Errorf("tasks[%d].ID = %s, want %s", i, task.ID, want)
		}
	}
}

func TestClaim_OK(t *testing.T) {
	s, _, _ := newTestStore(t)
	created := mustCreate(t, s, "do A")

	res := mustClaim(t, s, created.ID, "worker-1")

	if res.Token == "" {
		t.Error("claim token is empty")
	}
	got := res.Task
	if got.Status != StatusInProgress {
		t.Errorf("status = %s, want in_progress", got.Status)
	}
	if got.Owner != "worker-1" {
		t.Errorf("owner = %s, want worker-1", got.Owner)
	}
	if got.Version != 2 {
		t.Errorf("version = %d, want 2", got.Version)
	}
	if got.Claim == nil {
		t.Fatal("claim not set")
	}
	if got.Claim.Worker != "worker-1" {
		t.Errorf("claim.worker = %s, want worker-1", got.Claim.Worker)
	}
	if lease := got.Claim.LeaseExpiresAt.Sub(got.Claim.AcquiredAt); lease != time.Minute {
		t.Errorf("lease = %v, want 1m", lease)
	}

	// Persisted, not just in memory.
	fresh, err := s.Get(created.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !fresh.HasClaim() || fresh.Claim.Token != res.Token {
		t.Error("claim not persisted")
	}
}

func TestClaim_NotFound(t *testing.T) {
	s, _, _ := newTestStore(t)

	res, err := s.Claim("42", "worker-1")
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if res.Outcome != ClaimNotFound {
		t.Errorf("outcome = %s, want not_found", res.Outcome)
	}
}

func TestClaim_SecondClaimConflicts(t *testing.T) {
	s, _, _ := newTestStore(t)
	created := mustCreate(t, s, "do A")
	mustClaim(t, s, created.ID, "worker-1")

	res, err := s.Claim(created.ID, "worker-2")
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if res.Outcome != ClaimConflict {
		t.Errorf("outcome = %s, want claim_conflict", res.Outcome)
	}
	if res.Task == nil || res.Task.Claim.Worker != "worker-1" {
		t.Error("conflict result does not carry the claimed task")
	}
}

func TestClaim_WrongStatus(t *testing.T) {
	s, _, _ := newTestStore(t)
	created := mustCreate(t, s, "do A")
	res := mustClaim(t, s, created.ID, "worker-1")
	if _, err := s.Transition(created.ID, res.Token, StatusCompleted, "done", ""); err != nil {
		t.Fatalf("Transition() error = %v", err)
	}

	again, err := s.Claim(created.ID, "worker-2")
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if again.Outcome != ClaimWrongStatus {
		t.Errorf("outcome = %s, want wrong_status", again.Outcome)
	}
}

func TestClaim_BlockedDependency(t *testing.T) {
	s, _, _ := newTestStore(t)
	dep := mustCreate(t, s, "do A")
	blocked := mustCreate(t, s, "do B", dep.ID)

	res, err := s.Claim(blocked.ID, "worker-1")
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if res.Outcome != ClaimBlockedDependency {
		t.Fatalf("outcome = %s, want blocked_dependency", res.Outcome)
	}
	if len(res.UnmetDependencies) != 1 || res.UnmetDependencies[0] != dep.ID {
		t.Errorf("unmet = %v, want [%s]", res.UnmetDependencies, dep.ID)
	}

	// Completing the dependency makes the task claimable.
	depClaim := mustClaim(t, s, dep.ID, "worker-1")
	if _, err := s.Transition(dep.ID, depClaim.Token, StatusCompleted, "", ""); err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	mustClaim(t, s, blocked.ID, "worker-1")
}

func TestClaim_DrainingWorker(t *testing.T) {
	s, ms, _ := newTestStore(t)
	created := mustCreate(t, s, "do A")

	_, err := ms.Mutate(func(m *manifest.Manifest) error {
		m.MarkDraining("worker-2")
		return nil
	})
	if err != nil {
		t.Fatalf("Mutate() error = %v", err)
	}

	res, err := s.Claim(created.ID, "worker-2")
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if res.Outcome != ClaimDrainingWorker {
		t.Errorf("outcome = %s, want draining_worker", res.Outcome)
	}

	// Other workers are unaffected.
	mustClaim(t, s, created.ID, "worker-1")
}

func TestRelease(t *testing.T) {
	s, _, _ := newTestStore(t)
	created := mustCreate(t, s, "do A")
	res := mustClaim(t, s, created.ID, "worker-1")

	released, err := s.Release(created.ID, res.Token)
	if err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if released.Status != StatusPending {
		t.Errorf("status = %s, want pending", released.Status)
	}
	if released.Claim != nil || released.Owner != "" {
		t.Error("release did not clear claim and owner")
	}
	if released.Version != 3 {
		t.Errorf("version = %d, want 3", released.Version)
	}

	// The task is claimable again.
	mustClaim(t, s, created.ID, "worker-2")
}

func TestRelease_TokenMismatch(t *testing.T) {
	s, _, _ := newTestStore(t)
	created := mustCreate(t, s, "do A")
	mustClaim(t, s, created.ID, "worker-1")

	if _, err := s.Release(created.ID, "bogus"); !errors.Is(err, errors.ErrTokenMismatch) {
		t.Fatalf("Release() error = %v, want ErrTokenMismatch", err)
	}
}

func TestRelease_NotClaimed(t *testing.T) {
	s, _, _ := newTestStore(t)
	created := mustCreate(t, s, "do A")

	if _, err := s.Release(created.ID, "any"); !errors.Is(err, errors.ErrWrongStatus) {
		t.Fatalf("Release() error = %v, want ErrWrongStatus", err)
	}
}

func TestTransition_Completed(t *testing.T) {
	s, _, log := newTestStore(t)
	created := mustCreate(t, s, "do A")
	res := mustClaim(t, s, created.ID, "worker-1")

	done, err := s.Transition(created.ID, res.Token, StatusCompleted, "all green", "")
	if err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	if done.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", done.Status)
	}
	if done.Result != "all green" {
		t.Errorf("result = %q, want %q", done.Result, "all green")
	}
	if done.CompletedAt == nil {
		t.Error("completed_at not set")
	}
	if done.Claim != nil {
		t.Error("claim survived the transition")
	}
	if done.Owner != "worker-1" {
		t.Errorf("owner = %s, want worker-1", done.Owner)
	}

	evs, err := log.All()
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(evs) != 1 {
		t.Fatalf("event log has %d events, want 1", len(evs))
	}
	if evs[0].Type != events.TypeTaskCompleted || evs[0].TaskID != created.ID || evs[0].Worker != "worker-1" {
		t.Errorf("event = %+v, want task_completed for task %s by worker-1", evs[0], created.ID)
	}
}

func TestTransition_Failed(t *testing.T) {
	s, _, log := newTestStore(t)
	created := mustCreate(t, s, "do A")
	res := mustClaim(t, s, created.ID, "worker-1")

	failed, err := s.Transition(created.ID, res.Token, StatusFailed, "", "exit 1")
	if err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	if failed.Status != StatusFailed {
		t.Errorf("status = %s, want failed", failed.Status)
	}
	if failed.Error != "exit 1" {
		t.Errorf("error = %q, want %q", failed.Error, "exit 1")
	}

	evs, err := log.All()
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(evs) != 0 {
		t.Errorf("failed transition appended %d events, want 0", len(evs))
	}
}

func TestTransition_Validation(t *testing.T) {
	s, _, _ := newTestStore(t)
	created := mustCreate(t, s, "do A")
	res := mustClaim(t, s, created.ID, "worker-1")

	if _, err := s.Transition(created.ID, res.Token, StatusPending, "", ""); err == nil {
		t.Error("transition to pending succeeded, want error")
	}
	if _, err := s.Transition(created.ID, "bogus", StatusCompleted, "", ""); !errors.Is(err, errors.ErrTokenMismatch) {
		t.Errorf("transition with bad token error = %v, want ErrTokenMismatch", err)
	}
}

func TestUpdate(t *testing.T) {
	s, _, _ := newTestStore(t)
	created := mustCreate(t, s, "do A")

	subject := "do A better"
	deps := []string{"7"}
	updated, err := s.Update(created.ID, UpdatePatch{Subject: &subject, DependsOn: &deps})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Subject != subject {
		t.Errorf("subject = %q, want %q", updated.Subject, subject)
	}
	if len(updated.DependsOn) != 1 || updated.DependsOn[0] != "7" {
		t.Errorf("depends_on = %v, want [7]", updated.DependsOn)
	}
	if updated.Version != 2 {
		t.Errorf("version = %d, want 2", updated.Version)
	}
}

func TestUpdate_StatusDropsClaim(t *testing.T) {
	s, _, _ := newTestStore(t)
	created := mustCreate(t, s, "do A")
	mustClaim(t, s, created.ID, "worker-1")

	blocked := StatusBlocked
	updated, err := s.Update(created.ID, UpdatePatch{Status: &blocked})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Status != StatusBlocked {
		t.Errorf("status = %s, want blocked", updated.Status)
	}
	if updated.Claim != nil {
		t.Error("claim survived a forced status change")
	}
}

func TestUpdate_UnknownStatus(t *testing.T) {
	s, _, _ := newTestStore(t)
	created := mustCreate(t, s, "do A")

	bad := Status("done")
	if _, err := s.Update(created.ID, UpdatePatch{Status: &bad}); err == nil {
		t.Fatal("Update with unknown status succeeded")
	}
}

func TestExpireLeases(t *testing.T) {
	s, _, _ := newTestStore(t)
	deadClaim := mustCreate(t, s, "claim held by dead worker")
	liveClaim := mustCreate(t, s, "claim held by live worker")

	mustClaim(t, s, deadClaim.ID, "worker-1")
	mustClaim(t, s, liveClaim.ID, "worker-2")

	// Leases run for a minute; a sweep at the current time reclaims nothing
	// even when every holder is dead.
	reclaimed, err := s.ExpireLeases(map[string]bool{"worker-1": true, "worker-2": true}, time.Now())
	if err != nil {
		t.Fatalf("ExpireLeases() error = %v", err)
	}
	if len(reclaimed) != 0 {
		t.Fatalf("reclaimed unexpired leases: %v", ids(reclaimed))
	}

	// Past expiry, only the dead holder's task is reclaimed.
	now := time.Now().Add(2 * time.Minute)
	reclaimed, err = s.ExpireLeases(map[string]bool{"worker-1": true}, now)
	if err != nil {
		t.Fatalf("ExpireLeases() error = %v", err)
	}
	if len(reclaimed) != 1 || reclaimed[0].ID != deadClaim.ID {
		t.Fatalf("reclaimed = %v, want [%s]", ids(reclaimed), deadClaim.ID)
	}

	got, err := s.Get(deadClaim.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusPending || got.Claim != nil || got.Owner != "" {
		t.Errorf("reclaimed task = %+v, want pending with no claim", got)
	}
	if got.Version != 3 {
		t.Errorf("version = %d, want 3", got.Version)
	}

	still, err := s.Get(liveClaim.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if still.Status != StatusInProgress {
		t.Errorf("live worker's task = %s, want in_progress", still.Status)
	}

	// The reclaimed task is claimable again.
	mustClaim(t, s, deadClaim.ID, "worker-2")
}

func TestCounts_Store(t *testing.T) {
	s, _, _ := newTestStore(t)
	a := mustCreate(t, s, "a")
	b := mustCreate(t, s, "b")
	mustCreate(t, s, "c")

	resA := mustClaim(t, s, a.ID, "worker-1")
	if _, err := s.Transition(a.ID, resA.Token, StatusCompleted, "", ""); err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	mustClaim(t, s, b.ID, "worker-2")

	c, err := s.Counts()
	if err != nil {
		t.Fatalf("Counts() error = %v", err)
	}
	want := Counts{Pending: 1, InProgress: 1, Completed: 1}
	if c != want {
		t.Errorf("Counts() = %+v, want %+v", c, want)
	}
}

func TestVersion_IncrementsOnEveryMutation(t *testing.T) {
	s, _, _ := newTestStore(t)
	created := mustCreate(t, s, "do A")

	first := mustClaim(t, s, created.ID, "worker-1")
	released, err := s.Release(created.ID, first.Token)
	if err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	second := mustClaim(t, s, created.ID, "worker-1")
	done, err := s.Transition(created.ID, second.Token, StatusCompleted, "", "")
	if err != nil {
		t.Fatalf("Transition() error = %v", err)
	}

	got := []int{created.Version, first.Task.Version, released.Version, second.Task.Version, done.Version}
	for i, want := range []int{1, 2, 3, 4, 5} {
		if got[i] != want {
			t.Errorf("version after mutation %d = %d, want %d", i, got[i], want)
		}
	}
}

func ids(tasks []*Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}
