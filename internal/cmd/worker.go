package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"omx/internal/approval"
	"omx/internal/config"
	"omx/internal/errors"
	"omx/internal/events"
	"omx/internal/heartbeat"
	"omx/internal/mailbox"
	"omx/internal/manifest"
	"omx/internal/signals"
	"omx/internal/store"
	"omx/internal/taskstore"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Worker-side verbs, run inside a worker shell",
	Long: `Worker commands resolve their identity from the TEAM_WORKER variable the
bootstrap exports (<team>/worker-<i>) and act on that team's state files.
Agents call them as their inbox briefing instructs.`,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

// workerContext bundles the stores a worker verb touches, resolved from
// TEAM_WORKER and the project directory.
type workerContext struct {
	team string
	name string

	cfg    *config.Config
	layout store.Layout
	elog   *events.Log
	ms     *manifest.Store
	tasks  *taskstore.Store
	mail   *mailbox.Store
	hearts *heartbeat.Store
	sigs   *signals.Store
	gate   *approval.Gate
}

// parseWorkerIdentity splits a TEAM_WORKER value into team and worker name.
func parseWorkerIdentity(v string) (string, string, error) {
	if v == "" {
		return "", "", fmt.Errorf("TEAM_WORKER is not set; worker commands only run inside a worker shell")
	}
	teamName, name, ok := strings.Cut(v, "/")
	if !ok || !store.ValidName(teamName) || !store.ValidName(name) {
		return "", "", fmt.Errorf("malformed TEAM_WORKER %q, want <team>/worker-<i>", v)
	}
	return teamName, name, nil
}

func newWorkerContext() (*workerContext, error) {
	teamName, name, err := parseWorkerIdentity(os.Getenv("TEAM_WORKER"))
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	dir, err := projectDir()
	if err != nil {
		return nil, err
	}

	wc := &workerContext{
		team:   teamName,
		name:   name,
		cfg:    cfg,
		layout: store.NewLayout(dir, teamName),
	}
	wc.elog = events.NewLog(wc.layout)
	wc.ms = manifest.NewStore(wc.layout)
	wc.tasks = taskstore.NewStore(wc.layout, wc.ms, wc.elog, cfg.Tasks.ClaimLease())
	wc.mail = mailbox.NewStore(wc.layout, wc.elog)
	wc.hearts = heartbeat.NewStore(wc.layout)
	wc.sigs = signals.NewStore(wc.layout)
	wc.gate = approval.NewGate(wc.tasks, approval.NewStore(wc.layout, wc.elog), wc.ms)
	return wc, nil
}

// claimToken recovers the claim token from the task file, so agents never
// carry tokens across shell calls.
func (wc *workerContext) claimToken(id string) (string, error) {
	t, err := wc.tasks.Get(id)
	if err != nil {
		return "", err
	}
	if t.Claim == nil || t.Claim.Worker != wc.name {
		return "", errors.Ef(errors.KindClaimConflict, "worker.token",
			"task %s is not held by %s", id, wc.name).WithTask(id).WithWorker(wc.name)
	}
	return t.Claim.Token, nil
}

// setIdle records the worker back at idle after a terminal task action. A
// draining worker fails the transition check and stays draining, which is
// what the drain protocol needs.
func (wc *workerContext) setIdle() {
	_, _ = wc.hearts.WriteStatus(wc.name, heartbeat.StateIdle, "", "")
}
