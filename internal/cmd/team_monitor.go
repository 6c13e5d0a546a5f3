package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"omx/internal/config"
	"omx/internal/errors"
	"omx/internal/events"
	"omx/internal/team"
)

var teamMonitorCmd = &cobra.Command{
	Use:   "monitor <team>",
	Short: "Run the reconciliation loop until the team settles",
	Long: `Monitor takes the coordinator lock and ticks the reconciliation loop:
liveness, lease expiry, phase derivation, message notification, leader
nudges, and scaling recommendations. One structured line is printed per
tick. The loop ends when every task settles or the context is canceled.`,
	Args: cobra.ExactArgs(1),
	RunE: runTeamMonitor,
}

var monitorPollMs int

func init() {
	teamCmd.AddCommand(teamMonitorCmd)
	teamMonitorCmd.Flags().IntVar(&monitorPollMs, "poll", 0, "tick interval in milliseconds (default from config)")
}

func runTeamMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if monitorPollMs > 0 {
		cfg.Monitor.PollIntervalMs = monitorPollMs
	}

	ctx := cmd.Context()
	mgr, err := newManagerWith(ctx, args[0], false, cfg, printTickLine)
	if err != nil {
		return err
	}
	defer func() { _ = mgr.Close() }()

	// Events this process appends (worker stops, nudges, reclaims) surface
	// as they happen instead of waiting for the next tick line.
	bus := events.NewBus()
	bus.SubscribeAll(func(e events.Event) {
		fmt.Println(eventLine(e))
	})
	mgr.Events().AttachBus(bus)

	final, err := mgr.Run(ctx)
	if errors.Is(err, context.Canceled) {
		fmt.Println("monitor stopped")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("team %s settled in phase %s after %d ticks\n", final.Team, final.Phase, final.Tick)
	return nil
}

func printTickLine(s *team.Snapshot) {
	fmt.Println(tickLine(s))
}

// tickLine renders one snapshot as the monitor's per-tick line.
func tickLine(s *team.Snapshot) string {
	return fmt.Sprintf("tick=%d phase=%s pending=%d blocked=%d in_progress=%d completed=%d failed=%d workers=%d dead=%d warnings=%d",
		s.Tick, s.Phase, s.Tasks.Pending, s.Tasks.Blocked, s.Tasks.InProgress,
		s.Tasks.Completed, s.Tasks.Failed, len(s.Workers), len(s.DeadWorkers), len(s.Warnings))
}

// eventLine renders one appended event in the same key=value shape.
func eventLine(e events.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "event=%s", e.Type)
	if e.Worker != "" {
		fmt.Fprintf(&b, " worker=%s", e.Worker)
	}
	if e.TaskID != "" {
		fmt.Fprintf(&b, " task=%s", e.TaskID)
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, " reason=%q", e.Reason)
	}
	return b.String()
}
