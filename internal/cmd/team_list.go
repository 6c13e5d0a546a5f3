package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"omx/internal/manifest"
	"omx/internal/store"
	"omx/internal/team"
)

var teamListCmd = &cobra.Command{
	Use:   "list",
	Short: "List teams with state under the project directory",
	Args:  cobra.NoArgs,
	RunE:  runTeamList,
}

func init() {
	teamCmd.AddCommand(teamListCmd)
}

func runTeamList(cmd *cobra.Command, args []string) error {
	dir, err := projectDir()
	if err != nil {
		return err
	}
	teams, err := store.ListTeams(dir)
	if err != nil {
		return err
	}
	if len(teams) == 0 {
		fmt.Println("no teams")
		return nil
	}

	for _, name := range teams {
		layout := store.NewLayout(dir, name)
		m, err := manifest.NewStore(layout).Load()
		if err != nil {
			fmt.Printf("%s (manifest unreadable: %v)\n", name, err)
			continue
		}
		phase := team.PhaseStart
		if snap, err := team.ReadSnapshot(layout); err == nil && snap != nil && snap.Phase != "" {
			phase = snap.Phase
		}
		line := fmt.Sprintf("%s phase=%s workers=%d", name, phase, m.ActiveWorkerCount)
		if len(m.DrainingWorkers) > 0 {
			line += fmt.Sprintf(" draining=%d", len(m.DrainingWorkers))
		}
		if m.SessionHandle != "" {
			line += " session=" + m.SessionHandle
		}
		fmt.Println(line)
	}
	return nil
}
