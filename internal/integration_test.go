// Package internal contains integration tests that exercise the packages the
// way the CLI composes them: stores sharing one team layout and one event
// log, with coordination flows crossing package boundaries.
package internal

import (
	"context"
	"fmt"
	"testing"
	"time"

	"omx/internal/approval"
	"omx/internal/events"
	"omx/internal/mailbox"
	"omx/internal/manifest"
	"omx/internal/signals"
	"omx/internal/taskstore"
	"omx/internal/testutil"
)

// TestTaskFlowAcrossStores walks a two-task dependency chain through the
// manifest, task store, event log, and bus: the dependent task stays blocked,
// the claim is exclusive, and completion unblocks the dependent and surfaces
// on both the durable log and the in-process bus.
func TestTaskFlowAcrossStores(t *testing.T) {
	layout := testutil.TempLayout(t, "t1")
	ms := testutil.SeedManifest(t, layout, "t1", 2)
	elog := events.NewLog(layout)

	bus := events.NewBus()
	var completions []events.Event
	bus.Subscribe(events.TypeTaskCompleted, func(e events.Event) {
		completions = append(completions, e)
	})
	elog.AttachBus(bus)

	tasks := taskstore.NewStore(layout, ms, elog, 0)

	parser, err := tasks.Create(taskstore.CreateInput{Subject: "write the parser"})
	if err != nil {
		t.Fatalf("Create(parser) error = %v", err)
	}
	emitter, err := tasks.Create(taskstore.CreateInput{
		Subject:   "write the emitter",
		DependsOn: []string{parser.ID},
	})
	if err != nil {
		t.Fatalf("Create(emitter) error = %v", err)
	}

	res, err := tasks.Claim(emitter.ID, "worker-2")
	if err != nil {
		t.Fatalf("Claim(emitter) error = %v", err)
	}
	if res.Outcome != taskstore.ClaimBlockedDependency {
		t.Fatalf("Claim(emitter) outcome = %s, want blocked_dependency", res.Outcome)
	}
	if len(res.UnmetDependencies) != 1 || res.UnmetDependencies[0] != parser.ID {
		t.Errorf("UnmetDependencies = %v, want [%s]", res.UnmetDependencies, parser.ID)
	}

	claim, err := tasks.Claim(parser.ID, "worker-1")
	if err != nil {
		t.Fatalf("Claim(parser) error = %v", err)
	}
	if !claim.OK() {
		t.Fatalf("Claim(parser) outcome = %s, want ok", claim.Outcome)
	}

	second, err := tasks.Claim(parser.ID, "worker-2")
	if err != nil {
		t.Fatalf("second Claim(parser) error = %v", err)
	}
	if second.Outcome != taskstore.ClaimConflict {
		t.Errorf("second Claim(parser) outcome = %s, want claim_conflict", second.Outcome)
	}

	if _, err := tasks.Transition(parser.ID, claim.Token, taskstore.StatusCompleted, "parser done", ""); err != nil {
		t.Fatalf("Transition(parser) error = %v", err)
	}

	res, err = tasks.Claim(emitter.ID, "worker-2")
	if err != nil {
		t.Fatalf("Claim(emitter) after completion error = %v", err)
	}
	if !res.OK() {
		t.Fatalf("Claim(emitter) after completion outcome = %s, want ok", res.Outcome)
	}

	if len(completions) != 1 || completions[0].TaskID != parser.ID || completions[0].Worker != "worker-1" {
		t.Errorf("bus saw %+v, want one task_completed for task %s by worker-1", completions, parser.ID)
	}
	all, err := elog.All()
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(all) != 1 || all[0].Type != events.TypeTaskCompleted {
		t.Errorf("event log holds %+v, want one task_completed", all)
	}

	counts, err := tasks.Counts()
	if err != nil {
		t.Fatalf("Counts() error = %v", err)
	}
	if counts.Completed != 1 || counts.InProgress != 1 {
		t.Errorf("Counts() = %+v, want 1 completed and 1 in_progress", counts)
	}
}

// TestApprovalGateAcrossStores verifies the claim gate over the real manifest,
// task, and approval stores: code-change tasks wait for a decision, a
// rejection is remembered, a later accept overrides it, and every decision
// lands in the event log.
func TestApprovalGateAcrossStores(t *testing.T) {
	layout := testutil.TempLayout(t, "t1")
	ms := testutil.SeedManifest(t, layout, "t1", 1)
	if _, err := ms.Mutate(func(m *manifest.Manifest) error {
		m.Policy.PlanApprovalRequired = true
		return nil
	}); err != nil {
		t.Fatalf("Mutate() error = %v", err)
	}

	elog := events.NewLog(layout)
	tasks := taskstore.NewStore(layout, ms, elog, 0)
	approvals := approval.NewStore(layout, elog)
	gate := approval.NewGate(tasks, approvals, ms)

	gated, err := tasks.Create(taskstore.CreateInput{Subject: "refactor the store", RequiresCodeChange: true})
	if err != nil {
		t.Fatalf("Create(gated) error = %v", err)
	}
	plain, err := tasks.Create(taskstore.CreateInput{Subject: "summarize findings"})
	if err != nil {
		t.Fatalf("Create(plain) error = %v", err)
	}

	res, err := gate.Claim(gated.ID, "worker-1")
	if err != nil {
		t.Fatalf("Claim(gated) error = %v", err)
	}
	if res.Outcome != taskstore.ClaimAwaitingApproval {
		t.Fatalf("Claim(gated) outcome = %s, want awaiting_approval", res.Outcome)
	}
	res, err = gate.Claim(plain.ID, "worker-1")
	if err != nil {
		t.Fatalf("Claim(plain) error = %v", err)
	}
	if !res.OK() {
		t.Fatalf("Claim(plain) outcome = %s, want ok", res.Outcome)
	}

	pending, err := gate.Pending()
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(pending) != 1 || pending[0] != gated.ID {
		t.Errorf("Pending() = %v, want [%s]", pending, gated.ID)
	}

	if _, err := approvals.Decide(gated.ID, approval.DecisionReject, "leader", "plan too broad"); err != nil {
		t.Fatalf("Decide(reject) error = %v", err)
	}
	res, err = gate.Claim(gated.ID, "worker-1")
	if err != nil {
		t.Fatalf("Claim after reject error = %v", err)
	}
	if res.Outcome != taskstore.ClaimApprovalRejected {
		t.Errorf("Claim after reject outcome = %s, want approval_rejected", res.Outcome)
	}

	if _, err := approvals.Decide(gated.ID, approval.DecisionAccept, "leader", ""); err != nil {
		t.Fatalf("Decide(accept) error = %v", err)
	}
	res, err = gate.Claim(gated.ID, "worker-1")
	if err != nil {
		t.Fatalf("Claim after accept error = %v", err)
	}
	if !res.OK() {
		t.Fatalf("Claim after accept outcome = %s, want ok", res.Outcome)
	}

	all, err := elog.All()
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	var decisions int
	for _, e := range all {
		if e.Type == events.TypeApprovalDecision {
			decisions++
		}
	}
	if decisions != 2 {
		t.Errorf("event log holds %d approval_decision events, want 2", decisions)
	}
}

// TestLeaseReclaimRoundTrip drives the reclaim path the monitor runs: a dead
// worker's expired claim goes back to pending and another worker picks the
// task up.
func TestLeaseReclaimRoundTrip(t *testing.T) {
	layout := testutil.TempLayout(t, "t1")
	ms := testutil.SeedManifest(t, layout, "t1", 2)
	tasks := taskstore.NewStore(layout, ms, nil, time.Millisecond)

	created, err := tasks.Create(taskstore.CreateInput{Subject: "port the scanner"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	claim, err := tasks.Claim(created.ID, "worker-1")
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if !claim.OK() {
		t.Fatalf("Claim() outcome = %s, want ok", claim.Outcome)
	}

	// A live holder keeps the lease even past expiry.
	kept, err := tasks.ExpireLeases(map[string]bool{}, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("ExpireLeases() error = %v", err)
	}
	if len(kept) != 0 {
		t.Fatalf("ExpireLeases() reclaimed %d tasks from a live worker, want 0", len(kept))
	}

	reclaimed, err := tasks.ExpireLeases(map[string]bool{"worker-1": true}, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("ExpireLeases() error = %v", err)
	}
	if len(reclaimed) != 1 || reclaimed[0].ID != created.ID {
		t.Fatalf("ExpireLeases() = %v, want [%s]", reclaimed, created.ID)
	}
	if reclaimed[0].Status != taskstore.StatusPending || reclaimed[0].Claim != nil {
		t.Errorf("reclaimed task = %+v, want pending with no claim", reclaimed[0])
	}

	// The stale token is dead after the reclaim.
	if _, err := tasks.Transition(created.ID, claim.Token, taskstore.StatusCompleted, "", ""); err == nil {
		t.Error("Transition() accepted a token from a reclaimed lease")
	}

	retaken, err := tasks.Claim(created.ID, "worker-2")
	if err != nil {
		t.Fatalf("Claim() after reclaim error = %v", err)
	}
	if !retaken.OK() {
		t.Fatalf("Claim() after reclaim outcome = %s, want ok", retaken.Outcome)
	}
	if retaken.Task.Owner != "worker-2" {
		t.Errorf("Owner = %q, want worker-2", retaken.Task.Owner)
	}
}

// TestShutdownHandshake runs both halves of the shutdown rendezvous: the
// coordinator requests and waits, the worker (a goroutine here) picks the
// request up and acknowledges.
func TestShutdownHandshake(t *testing.T) {
	layout := testutil.TempLayout(t, "t1")
	sigs := signals.NewStore(layout)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		req, err := sigs.WaitForRequest(ctx, "worker-1")
		if err != nil {
			done <- err
			return
		}
		if req.RequestedBy != "leader" {
			done <- fmt.Errorf("RequestedBy = %q, want leader", req.RequestedBy)
			return
		}
		_, err = sigs.Acknowledge("worker-1", signals.AckAccept, "")
		done <- err
	}()

	req, err := sigs.RequestShutdown("worker-1", "leader")
	if err != nil {
		t.Fatalf("RequestShutdown() error = %v", err)
	}

	ack, err := sigs.WaitForAck(ctx, "worker-1", req.RequestedAt)
	if err != nil {
		t.Fatalf("WaitForAck() error = %v", err)
	}
	if !ack.Accepted() {
		t.Errorf("ack = %+v, want accept", ack)
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	// Clear resets the rendezvous for the next round.
	if err := sigs.Clear("worker-1"); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	left, err := sigs.ReadRequest("worker-1")
	if err != nil {
		t.Fatalf("ReadRequest() error = %v", err)
	}
	if left != nil {
		t.Errorf("ReadRequest() after Clear = %+v, want nil", left)
	}
}

// TestMailboxNotificationsAcrossStores sends direct and broadcast mail across
// the manifest's workers and checks the event log and delivery marks.
func TestMailboxNotificationsAcrossStores(t *testing.T) {
	layout := testutil.TempLayout(t, "t1")
	ms := testutil.SeedManifest(t, layout, "t1", 2)
	elog := events.NewLog(layout)
	mail := mailbox.NewStore(layout, elog)

	if _, err := mail.Send("worker-1", "worker-2", "parser is done, emitter unblocked"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	m, err := ms.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	recipients := append([]string{mailbox.LeaderRecipient}, m.WorkerNames()...)
	sent, err := mail.Broadcast("worker-1", "wrapping up for the day", recipients)
	if err != nil {
		t.Fatalf("Broadcast() error = %v", err)
	}
	// The sender is skipped: leader and worker-2 remain.
	if len(sent) != 2 {
		t.Fatalf("Broadcast() delivered %d messages, want 2", len(sent))
	}

	undelivered, err := mail.Undelivered("worker-2")
	if err != nil {
		t.Fatalf("Undelivered() error = %v", err)
	}
	if len(undelivered) != 2 {
		t.Fatalf("Undelivered(worker-2) = %d messages, want 2", len(undelivered))
	}

	changed, err := mail.MarkAllDelivered("worker-2")
	if err != nil {
		t.Fatalf("MarkAllDelivered() error = %v", err)
	}
	if len(changed) != 2 {
		t.Errorf("MarkAllDelivered() changed %d messages, want 2", len(changed))
	}
	undelivered, err = mail.Undelivered("worker-2")
	if err != nil {
		t.Fatalf("Undelivered() error = %v", err)
	}
	if len(undelivered) != 0 {
		t.Errorf("Undelivered(worker-2) after MarkAllDelivered = %d messages, want 0", len(undelivered))
	}

	all, err := elog.All()
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	var received int
	for _, e := range all {
		if e.Type == events.TypeMessageReceived {
			received++
		}
	}
	// One direct send plus two broadcast deliveries.
	if received != 3 {
		t.Errorf("event log holds %d message_received events, want 3", received)
	}
}
