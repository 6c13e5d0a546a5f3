// Package testutil provides testing utilities for omx tests.
package testutil

import (
	"os/exec"
	"testing"

	"omx/internal/manifest"
	"omx/internal/store"
)

// TempLayout returns an initialized team layout rooted in a fresh temp dir.
func TempLayout(t *testing.T, team string) store.Layout {
	t.Helper()

	layout := store.NewLayout(t.TempDir(), team)
	if err := layout.Init(); err != nil {
		t.Fatalf("failed to init team layout: %v", err)
	}
	return layout
}

// SeedManifest writes a manifest with n pre-registered workers and returns
// its store. Workers are named worker-1..worker-n with empty addresses.
func SeedManifest(t *testing.T, layout store.Layout, team string, workers int) *manifest.Store {
	t.Helper()

	m := manifest.New(team, "test team")
	m.Leader = manifest.Leader{SessionID: "leader-session", WorkerID: "leader", Role: "leader"}
	for i := 0; i < workers; i++ {
		idx := m.AllocWorkerIndex()
		m.AddWorker(manifest.Worker{
			Name:  manifest.WorkerName(idx),
			Index: idx,
			Role:  "claude",
		})
	}
	m.InitialWorkerCount = workers

	ms := manifest.NewStore(layout)
	if err := ms.Save(m); err != nil {
		t.Fatalf("failed to seed manifest: %v", err)
	}
	return ms
}

// SkipIfNoTmux skips the test if tmux is not installed.
func SkipIfNoTmux(t *testing.T) {
	t.Helper()

	if _, err := exec.LookPath("tmux"); err != nil {
		t.Skip("tmux not found in PATH, skipping test")
	}
}

// SkipIfNoGolangciLint skips the test if golangci-lint is not installed.
func SkipIfNoGolangciLint(t *testing.T) {
	t.Helper()

	if _, err := exec.LookPath("golangci-lint"); err != nil {
		t.Skip("golangci-lint not found in PATH, skipping test")
	}
}
