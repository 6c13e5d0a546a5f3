package worker

import (
	"strings"
	"testing"

	"omx/internal/errors"
	"omx/internal/store"
	"omx/internal/taskstore"
)

func TestBuildInbox(t *testing.T) {
	tasks := []*taskstore.Task{
		{ID: "1", Subject: "Fix the parser"},
		{ID: "4", Subject: "Add integration tests"},
	}
	got := BuildInbox("alpha", "worker-2", tasks)

	for _, want := range []string{
		"worker-2",
		`team "alpha"`,
		"omx worker claim",
		"omx worker complete",
		"omx worker send",
		"omx worker ack-shutdown",
		"TEAM_WORKER",
		"- [1] Fix the parser",
		"- [4] Add integration tests",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("inbox missing %q:\n%s", want, got)
		}
	}
}

func TestBuildInbox_NoTasks(t *testing.T) {
	got := BuildInbox("alpha", "worker-1", nil)
	if !strings.Contains(got, "none assigned yet") {
		t.Errorf("inbox = %q, want empty-queue note", got)
	}
}

func TestIdentityRoundTrip(t *testing.T) {
	layout := store.NewLayout(t.TempDir(), "t1")
	if err := layout.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := store.EnsureDir(layout.WorkerDir("worker-1")); err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}

	in := Identity{Team: "t1", Name: "worker-1", Index: 1, Role: "codex", Address: "%5"}
	if err := WriteIdentity(layout, in); err != nil {
		t.Fatalf("WriteIdentity: %v", err)
	}
	out, err := ReadIdentity(layout, "worker-1")
	if err != nil {
		t.Fatalf("ReadIdentity: %v", err)
	}
	if out.Name != in.Name || out.Index != in.Index || out.Role != in.Role || out.Address != in.Address {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
}

func TestReadIdentity_Missing(t *testing.T) {
	layout := store.NewLayout(t.TempDir(), "t1")
	if err := layout.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}

	_, err := ReadIdentity(layout, "worker-9")
	if errors.KindOf(err) != errors.KindNotFound {
		t.Errorf("err = %v, want not_found", err)
	}
}
