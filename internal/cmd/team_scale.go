package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"omx/internal/manifest"
	"omx/internal/scaling"
)

var teamScaleUpCmd = &cobra.Command{
	Use:   "scale-up <team> [<k>[:<agent-type>]]",
	Short: "Add workers to a running team",
	Long: `Scale-up adds k workers (default 1) to the team's live session, bootstrapping
each one the same way team start does. The agent type defaults to the role of
the team's first worker. The ceiling, cooldown, and host resource checks all
apply; a denial reports which check refused.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runTeamScaleUp,
}

var teamScaleDownCmd = &cobra.Command{
	Use:   "scale-down <team> [<k> | <worker-name>]",
	Short: "Drain workers out of a running team",
	Long: `Scale-down marks k workers (default 1) draining, preferring idle workers
without a claim and the newest indexes. Passing a worker name instead drains
exactly that worker. Draining workers finish their current task, then receive
a shutdown request and leave the team once they ack; the min_workers floor is
never crossed.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runTeamScaleDown,
}

var teamScaleAutoCmd = &cobra.Command{
	Use:   "scale-auto <team> on|off",
	Short: "Toggle automatic application of scaling recommendations",
	Long: `With auto-scaling on, the monitor applies a recommendation once it has been
stable for three consecutive ticks and the cooldown allows it. Off keeps
recommendations advisory; they still appear in status output.`,
	Args: cobra.ExactArgs(2),
	RunE: runTeamScaleAuto,
}

func init() {
	teamCmd.AddCommand(teamScaleUpCmd)
	teamCmd.AddCommand(teamScaleDownCmd)
	teamCmd.AddCommand(teamScaleAutoCmd)
}

// parseScaleUpArg splits the optional "<k>[:<agent-type>]" argument.
func parseScaleUpArg(arg string) (int, string, error) {
	spec, role := arg, ""
	if i := strings.IndexByte(arg, ':'); i >= 0 {
		spec, role = arg[:i], arg[i+1:]
		if role == "" {
			return 0, "", fmt.Errorf("missing agent type after the colon in %q", arg)
		}
	}
	k, err := strconv.Atoi(spec)
	if err != nil || k < 1 {
		return 0, "", fmt.Errorf("invalid worker count in %q", arg)
	}
	return k, role, nil
}

func runTeamScaleUp(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	count, role := 1, ""
	if len(args) == 2 {
		var err error
		count, role, err = parseScaleUpArg(args[1])
		if err != nil {
			return err
		}
	}

	mgr, _, err := newManager(ctx, args[0], false)
	if err != nil {
		return err
	}
	defer func() { _ = mgr.Close() }()

	// A mid-batch bootstrap failure keeps the workers already added, so
	// report them before surfacing the error.
	added, err := mgr.Engine().ScaleUp(ctx, count, role, scaling.TriggerManual)
	if len(added) > 0 {
		fmt.Printf("team %s scaled up: added %s\n", args[0], strings.Join(added, ", "))
	}
	return err
}

func runTeamScaleDown(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	mgr, _, err := newManager(ctx, args[0], false)
	if err != nil {
		return err
	}
	defer func() { _ = mgr.Close() }()

	eng := mgr.Engine()
	var drained []string
	switch {
	case len(args) < 2:
		drained, err = eng.ScaleDown(ctx, 1, scaling.TriggerManual)
	default:
		if k, convErr := strconv.Atoi(args[1]); convErr == nil {
			if k < 1 {
				return fmt.Errorf("invalid worker count %q", args[1])
			}
			drained, err = eng.ScaleDown(ctx, k, scaling.TriggerManual)
		} else if err = eng.ScaleDownWorker(ctx, args[1], scaling.TriggerManual); err == nil {
			drained = []string{args[1]}
		}
	}
	if err != nil {
		return err
	}
	fmt.Printf("team %s draining: %s\n", args[0], strings.Join(drained, ", "))

	// One drain pass now, so an idle worker starts its shutdown handshake
	// without waiting for the next monitor tick.
	report, err := eng.AdvanceDrains(ctx)
	if err != nil {
		return err
	}
	for _, w := range report.Warnings {
		fmt.Println("warning:", w)
	}
	if len(report.Removed) > 0 {
		fmt.Printf("team %s removed: %s\n", args[0], strings.Join(report.Removed, ", "))
	}
	return nil
}

func runTeamScaleAuto(cmd *cobra.Command, args []string) error {
	mode := args[1]
	if mode != "on" && mode != "off" {
		return fmt.Errorf("scale-auto takes on or off, got %q", mode)
	}

	mgr, _, err := newManager(cmd.Context(), args[0], false)
	if err != nil {
		return err
	}
	defer func() { _ = mgr.Close() }()

	if _, err := mgr.Manifests().Mutate(func(m *manifest.Manifest) error {
		m.Scaling.Auto = mode == "on"
		return nil
	}); err != nil {
		return err
	}
	fmt.Printf("team %s auto-scaling %s\n", args[0], mode)
	return nil
}
