package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var teamStatusCmd = &cobra.Command{
	Use:   "status <team>",
	Short: "Print task counts, worker states, phase, and scaling recommendations",
	Args:  cobra.ExactArgs(1),
	RunE:  runTeamStatus,
}

func init() {
	teamCmd.AddCommand(teamStatusCmd)
}

func runTeamStatus(cmd *cobra.Command, args []string) error {
	mgr, _, err := newManager(cmd.Context(), args[0], false)
	if err != nil {
		return err
	}
	defer func() { _ = mgr.Close() }()

	st, err := mgr.Status()
	if err != nil {
		return err
	}

	fmt.Println(st.Summary())
	// Automation greps for this exact line; keep it bare.
	fmt.Println(st.Tasks.String())
	for _, w := range st.Workers {
		line := fmt.Sprintf("worker %s state=%s role=%s", w.Name, w.State, w.Role)
		if w.Address != "" {
			line += " addr=" + w.Address
		}
		if w.CurrentTaskID != "" {
			line += " task=" + w.CurrentTaskID
		}
		if w.Draining {
			line += " draining"
		}
		fmt.Println(line)
	}
	for _, name := range st.DeadWorkers {
		fmt.Printf("worker %s observed dead\n", name)
	}
	if n := len(st.Recommendations); n > 0 {
		last := st.Recommendations[n-1]
		fmt.Printf("recommendation: %s delta=%+d streak=%d high_confidence=%t (%s)\n",
			last.Action, last.Delta, last.Streak, last.HighConfidence, last.Reason)
	}
	return printJSON(st)
}
