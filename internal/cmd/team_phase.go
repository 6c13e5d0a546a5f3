package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"omx/internal/team"
)

var teamPhaseCmd = &cobra.Command{
	Use:   "phase <team> <phase>",
	Short: "Advance the team to a later phase",
	Long: `Phase moves the team forward along start, team-prd, team-exec, team-verify.
Phases never move backward, and complete is derived by the monitor once every
task settles. The leader typically advances to team-verify after reviewing
finished work.`,
	Args: cobra.ExactArgs(2),
	RunE: runTeamPhase,
}

func init() {
	teamCmd.AddCommand(teamPhaseCmd)
}

func runTeamPhase(cmd *cobra.Command, args []string) error {
	target, err := team.ParsePhase(args[1])
	if err != nil {
		return err
	}

	mgr, _, err := newManager(cmd.Context(), args[0], false)
	if err != nil {
		return err
	}
	defer func() { _ = mgr.Close() }()

	snap, err := mgr.AdvancePhase(target)
	if err != nil {
		return err
	}
	fmt.Printf("team %s phase %s\n", args[0], snap.Phase)
	return nil
}
