package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var teamCleanupCmd = &cobra.Command{
	Use:   "cleanup <team>",
	Short: "Forcibly tear down whatever is left of a team",
	Long: `Cleanup is the crash-safe teardown: no termination gate, no shutdown
rendezvous. It kills every slot the team provably owns (manifest plus panes
side-file, intersected with the transport's live slots, leader and HUD
always excluded), destroys the session, and removes the state root unless
--preserve is set. Safe after a crash, and safe to run twice.`,
	Args: cobra.ExactArgs(1),
	RunE: runTeamCleanup,
}

var cleanupPreserve bool

func init() {
	teamCmd.AddCommand(teamCleanupCmd)
	teamCleanupCmd.Flags().BoolVar(&cleanupPreserve, "preserve", false, "keep the state root on disk")
}

func runTeamCleanup(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	mgr, _, err := newManager(ctx, args[0], false)
	if err != nil {
		return err
	}
	defer func() { _ = mgr.Close() }()

	sum, err := mgr.Cleanup(ctx, cleanupPreserve)
	if err != nil {
		return err
	}
	fmt.Println(teardownLine("cleaned up", sum))
	return printJSON(sum)
}
