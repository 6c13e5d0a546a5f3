package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"omx/internal/config"
	"omx/internal/errors"
	"omx/internal/events"
	"omx/internal/manifest"
	"omx/internal/taskstore"
	"omx/internal/team"
)

// runInput is the JSON blob a driving process pipes to team run.
type runInput struct {
	TeamName       string    `json:"teamName"`
	WorkerCount    int       `json:"workerCount"`
	AgentTypes     []string  `json:"agentTypes"`
	Tasks          []runTask `json:"tasks"`
	Cwd            string    `json:"cwd"`
	PollIntervalMs int       `json:"pollIntervalMs"`
}

type runTask struct {
	Subject     string `json:"subject"`
	Description string `json:"description"`
}

// runResult is the completion report written to stdout. Stdout carries
// nothing else; progress goes to stderr.
type runResult struct {
	Status      string          `json:"status"`
	TeamName    string          `json:"teamName"`
	TaskResults []runTaskResult `json:"taskResults"`
	Duration    string          `json:"duration"`
	WorkerCount int             `json:"workerCount"`
}

type runTaskResult struct {
	TaskID  string `json:"taskId"`
	Status  string `json:"status"`
	Summary string `json:"summary"`
}

var teamRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a whole team lifecycle from a JSON description on stdin",
	Long: `Run reads one JSON object from stdin, starts the team it describes, ticks
the monitor until every task settles, tears the team down, and writes a
result object to stdout. Progress lines go to stderr so stdout stays
parseable. Intended for driving omx from another process.`,
	Args: cobra.NoArgs,
	RunE: runTeamRun,
}

func init() {
	teamCmd.AddCommand(teamRunCmd)
}

// roles expands workerCount and agentTypes into one role per worker, cycling
// the types when the count is larger.
func (in *runInput) roles() []string {
	types := in.AgentTypes
	if len(types) == 0 {
		types = []string{"claude"}
	}
	count := in.WorkerCount
	if count <= 0 {
		count = len(types)
	}
	roles := make([]string, count)
	for i := range roles {
		roles[i] = types[i%len(types)]
	}
	return roles
}

func runTeamRun(cmd *cobra.Command, args []string) error {
	began := time.Now()
	stderr := cmd.ErrOrStderr()

	var in runInput
	if err := json.NewDecoder(cmd.InOrStdin()).Decode(&in); err != nil {
		return fmt.Errorf("failed to decode run input: %w", err)
	}
	if in.TeamName == "" {
		return fmt.Errorf("run input needs a teamName")
	}
	if len(in.Tasks) == 0 {
		return fmt.Errorf("run input needs at least one task")
	}
	if in.Cwd != "" {
		// viper.Set outranks the --dir flag, so the blob's cwd steers
		// every later projectDir call.
		viper.Set("dir", in.Cwd)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if in.PollIntervalMs > 0 {
		cfg.Monitor.PollIntervalMs = in.PollIntervalMs
	}

	ctx := cmd.Context()
	onTick := func(s *team.Snapshot) { fmt.Fprintln(stderr, tickLine(s)) }
	mgr, err := newManagerWith(ctx, in.TeamName, true, cfg, onTick)
	if err != nil {
		return err
	}
	defer func() { _ = mgr.Close() }()

	bus := events.NewBus()
	bus.SubscribeAll(func(e events.Event) {
		fmt.Fprintln(stderr, eventLine(e))
	})
	mgr.Events().AttachBus(bus)

	tasks := make([]taskstore.CreateInput, 0, len(in.Tasks))
	for _, t := range in.Tasks {
		tasks = append(tasks, taskstore.CreateInput{Subject: t.Subject, Description: t.Description})
	}
	roles := in.roles()

	res, err := mgr.Start(ctx, team.StartSpec{
		Team:  in.TeamName,
		Roles: roles,
		Tasks: tasks,
		Leader: manifest.Leader{
			SessionID: os.Getenv("TMUX_PANE"),
			WorkerID:  "leader",
			Role:      "leader",
		},
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(stderr, "team %s started: %d workers, %d tasks\n", in.TeamName, len(res.Workers), len(res.TaskIDs))

	final, runErr := mgr.Run(ctx)
	status := "failed"
	if runErr == nil && final != nil && final.Phase == team.PhaseComplete {
		status = "completed"
	}

	// Read the results before teardown can remove the state files.
	all, err := mgr.Tasks().List()
	if err != nil {
		return err
	}
	results := make([]runTaskResult, 0, len(all))
	for _, t := range all {
		summary := t.Result
		if t.Error != "" {
			summary = t.Error
		}
		results = append(results, runTaskResult{TaskID: t.ID, Status: string(t.Status), Summary: summary})
	}

	// Teardown runs on its own context so a canceled run still cleans up.
	// State is kept when the run did not complete, for post-mortems.
	sdCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	preserve := status != "completed"
	if _, sdErr := mgr.Shutdown(sdCtx, team.ShutdownOptions{Force: true, Preserve: preserve}); sdErr != nil {
		fmt.Fprintf(stderr, "teardown: %v\n", sdErr)
	} else if preserve {
		fmt.Fprintf(stderr, "team %s shut down, state preserved at %s\n", in.TeamName, mgr.Layout().Root())
	} else {
		fmt.Fprintf(stderr, "team %s shut down\n", in.TeamName)
	}

	out := runResult{
		Status:      status,
		TeamName:    in.TeamName,
		TaskResults: results,
		Duration:    time.Since(began).Round(time.Millisecond).String(),
		WorkerCount: len(roles),
	}
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to encode run result: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}
