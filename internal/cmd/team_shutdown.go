package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"omx/internal/team"
)

var teamShutdownCmd = &cobra.Command{
	Use:   "shutdown <team>",
	Short: "Gracefully shut the team down, or force it",
	Long: `Shutdown asks every live worker to stop and waits out the grace budget for
acknowledgements. Workers that reject are spared and the command fails;
--force skips the termination gate and kills them too. The state root is
removed unless --preserve is set.`,
	Args: cobra.ExactArgs(1),
	RunE: runTeamShutdown,
}

var (
	shutdownForce    bool
	shutdownPreserve bool
)

func init() {
	teamCmd.AddCommand(teamShutdownCmd)
	teamShutdownCmd.Flags().BoolVar(&shutdownForce, "force", false, "skip the termination gate and kill rejecting workers")
	teamShutdownCmd.Flags().BoolVar(&shutdownPreserve, "preserve", false, "keep the state root on disk")
}

func runTeamShutdown(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	mgr, _, err := newManager(ctx, args[0], false)
	if err != nil {
		return err
	}
	defer func() { _ = mgr.Close() }()

	sum, err := mgr.Shutdown(ctx, team.ShutdownOptions{Force: shutdownForce, Preserve: shutdownPreserve})
	if sum != nil {
		// A rejected shutdown still produced a partial teardown worth showing.
		fmt.Println(teardownLine("shut down", sum))
		if jerr := printJSON(sum); jerr != nil && err == nil {
			err = jerr
		}
	}
	return err
}

// teardownLine renders the human outcome line for shutdown and cleanup.
func teardownLine(verb string, sum *team.CleanupSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "team %s %s: killed %d slots", sum.Team, verb, sum.Targets.DedupedTotal)
	if n := len(sum.Acks.Rejected); n > 0 {
		fmt.Fprintf(&b, ", spared %d rejecting", n)
	}
	if sum.SessionDestroyed {
		b.WriteString(", session destroyed")
	}
	if sum.StateRemoved {
		b.WriteString(", state removed")
	} else {
		b.WriteString(", state preserved")
	}
	if len(sum.Warnings) > 0 {
		fmt.Fprintf(&b, ", %d warnings", len(sum.Warnings))
	}
	return b.String()
}
