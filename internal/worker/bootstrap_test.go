package worker_test

import (
	"context"
	"strings"
	"testing"

	"omx/internal/config"
	"omx/internal/errors"
	"omx/internal/events"
	"omx/internal/heartbeat"
	"omx/internal/spawner"
	"omx/internal/taskstore"
	"omx/internal/testutil"
	"omx/internal/transport"
	"omx/internal/worker"
)

func TestBootstrap(t *testing.T) {
	ft := testutil.NewFakeTransport()
	layout := testutil.TempLayout(t, "t1")
	ms := testutil.SeedManifest(t, layout, "t1", 0)
	log := events.NewLog(layout)

	cfg := *config.Default()
	cfg.Worker.ReadyTimeoutMs = 200
	cfg.Worker.CaptureIntervalMs = 10

	b := worker.NewBootstrapper(worker.Deps{
		Layout:    layout,
		Manifests: ms,
		Events:    log,
		Transport: ft,
		Spawners:  func(string) (spawner.Spawner, error) { return &testutil.FakeSpawner{}, nil },
		Config:    cfg,
	})

	res, err := b.Bootstrap(context.Background(), worker.Spec{
		Role:    "claude",
		Session: "t1",
		InboxTasks: []*taskstore.Task{
			{ID: "1", Subject: "Fix the parser"},
		},
	})
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if !res.Ready {
		t.Fatalf("Ready = false, reason %q", res.Reason)
	}
	if res.Identity.Name != "worker-1" || res.Identity.Index != 1 {
		t.Errorf("Identity = %+v, want worker-1/index 1", res.Identity)
	}
	if res.Identity.Address != "%1" {
		t.Errorf("Address = %q, want %%1", res.Identity.Address)
	}

	// Identity persisted with the slot address.
	id, err := worker.ReadIdentity(layout, "worker-1")
	if err != nil {
		t.Fatalf("ReadIdentity: %v", err)
	}
	if id.Address != "%1" || id.Role != "claude" || id.Team != "t1" {
		t.Errorf("persisted identity = %+v", id)
	}

	// Manifest registered the worker and its address.
	m, err := ms.Load()
	if err != nil {
		t.Fatalf("manifest Load: %v", err)
	}
	w, ok := m.Worker("worker-1")
	if !ok || w.Address != "%1" || w.Role != "claude" {
		t.Errorf("manifest worker = %+v, ok=%v", w, ok)
	}
	if m.NextWorkerIndex != 2 {
		t.Errorf("NextWorkerIndex = %d, want 2", m.NextWorkerIndex)
	}

	// Heartbeat alive, status idle.
	hs := heartbeat.NewStore(layout)
	hb, err := hs.Read("worker-1")
	if err != nil || hb == nil || !hb.Alive {
		t.Errorf("heartbeat = %+v, err=%v, want alive", hb, err)
	}
	st, err := hs.ReadStatus("worker-1")
	if err != nil || st.State != heartbeat.StateIdle {
		t.Errorf("status = %+v, err=%v, want idle", st, err)
	}

	// Launch command sent and submitted, then the kickoff nudge.
	sent := ft.SentTo("%1")
	if len(sent) != 2 {
		t.Fatalf("sent = %v, want command then kickoff", sent)
	}
	if sent[0] != "fake-agent t1/worker-1" {
		t.Errorf("command = %q", sent[0])
	}
	if !strings.Contains(sent[1], "inbox.md") {
		t.Errorf("kickoff = %q, want inbox reference", sent[1])
	}
	if got := ft.TriggerCount("%1"); got != 2 {
		t.Errorf("triggers = %d, want 2", got)
	}

	// Panes side-file records the slot.
	p, err := transport.ReadPanes(layout)
	if err != nil || !p.Has("%1") {
		t.Errorf("panes = %+v, err=%v, want %%1 recorded", p, err)
	}
}

func TestBootstrap_ReadyTimeout(t *testing.T) {
	ft := testutil.NewFakeTransport()
	ft.CaptureDefault = "still booting"

	layout := testutil.TempLayout(t, "t1")
	ms := testutil.SeedManifest(t, layout, "t1", 0)
	log := events.NewLog(layout)

	cfg := *config.Default()
	cfg.Worker.ReadyTimeoutMs = 40
	cfg.Worker.CaptureIntervalMs = 10

	b := worker.NewBootstrapper(worker.Deps{
		Layout:    layout,
		Manifests: ms,
		Events:    log,
		Transport: ft,
		Spawners:  func(string) (spawner.Spawner, error) { return &testutil.FakeSpawner{}, nil },
		Config:    cfg,
	})

	res, err := b.Bootstrap(context.Background(), worker.Spec{Role: "claude", Session: "t1"})
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if res.Ready {
		t.Fatal("Ready = true, want readiness timeout")
	}
	if res.Reason != worker.ReasonReadyTimeout {
		t.Errorf("Reason = %q, want %q", res.Reason, worker.ReasonReadyTimeout)
	}

	st, err := heartbeat.NewStore(layout).ReadStatus("worker-1")
	if err != nil || st.State != heartbeat.StateFailed || st.Reason != worker.ReasonReadyTimeout {
		t.Errorf("status = %+v, err=%v, want failed/ready_timeout", st, err)
	}

	evs, err := log.All()
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	found := false
	for _, e := range evs {
		if e.Type == events.TypeWorkerStopped && e.Worker == "worker-1" && e.Reason == worker.ReasonReadyTimeout {
			found = true
		}
	}
	if !found {
		t.Errorf("events = %+v, want worker_stopped ready_timeout", evs)
	}

	// No kickoff after a timeout: one send (the command), one trigger.
	if sent := ft.SentTo("%1"); len(sent) != 1 {
		t.Errorf("sent = %v, want launch command only", sent)
	}
	if got := ft.TriggerCount("%1"); got != 1 {
		t.Errorf("triggers = %d, want 1", got)
	}
}

func TestBootstrap_IndexesNeverReused(t *testing.T) {
	ft := testutil.NewFakeTransport()
	layout := testutil.TempLayout(t, "t1")
	ms := testutil.SeedManifest(t, layout, "t1", 0)

	cfg := *config.Default()
	cfg.Worker.ReadyTimeoutMs = 200
	cfg.Worker.CaptureIntervalMs = 10

	b := worker.NewBootstrapper(worker.Deps{
		Layout:    layout,
		Manifests: ms,
		Events:    events.NewLog(layout),
		Transport: ft,
		Spawners:  func(string) (spawner.Spawner, error) { return &testutil.FakeSpawner{}, nil },
		Config:    cfg,
	})

	for _, want := range []string{"worker-1", "worker-2"} {
		res, err := b.Bootstrap(context.Background(), worker.Spec{Role: "codex", Session: "t1"})
		if err != nil {
			t.Fatalf("Bootstrap: %v", err)
		}
		if res.Identity.Name != want {
			t.Errorf("name = %q, want %q", res.Identity.Name, want)
		}
	}

	m, err := ms.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.NextWorkerIndex != 3 {
		t.Errorf("NextWorkerIndex = %d, want 3", m.NextWorkerIndex)
	}
}

func TestBootstrap_SlotFailureIsFatal(t *testing.T) {
	ft := testutil.NewFakeTransport()
	ft.AddSlotErr = errors.Ef(errors.KindTransportUnavailable, "test", "no slots")

	layout := testutil.TempLayout(t, "t1")
	ms := testutil.SeedManifest(t, layout, "t1", 0)

	b := worker.NewBootstrapper(worker.Deps{
		Layout:    layout,
		Manifests: ms,
		Events:    events.NewLog(layout),
		Transport: ft,
		Spawners:  func(string) (spawner.Spawner, error) { return &testutil.FakeSpawner{}, nil },
		Config:    *config.Default(),
	})

	if _, err := b.Bootstrap(context.Background(), worker.Spec{Role: "claude", Session: "t1"}); err == nil {
		t.Fatal("Bootstrap with failing AddSlot succeeded")
	}
}
