package cmd

import (
	"fmt"
	"os"
	"regexp"
	"strconv"

	"github.com/spf13/cobra"

	"omx/internal/manifest"
	"omx/internal/taskstore"
	"omx/internal/team"
)

var teamStartCmd = &cobra.Command{
	Use:   "start <team> <n>:<agent-type> [<n>:<agent-type>...] <task> [<task>...]",
	Short: "Create a team and bootstrap its workers",
	Long: `Start materializes a team: state root, transport session, one slot per
worker, and the initial tasks dealt round-robin across worker inboxes.
Worker descriptors come first (2:claude 1:codex); every remaining argument
is one task subject.`,
	Args: cobra.MinimumNArgs(3),
	RunE: runTeamStart,
}

var (
	startDescription  string
	startPlanApproval bool
	startDelegation   bool
	startLeaderPane   string
	startHUDPane      string
	startCommand      string
)

func init() {
	teamCmd.AddCommand(teamStartCmd)
	teamStartCmd.Flags().StringVar(&startDescription, "description", "", "short description recorded on the manifest")
	teamStartCmd.Flags().BoolVar(&startPlanApproval, "plan-approval", false, "hold code-change tasks until the leader records an accepting approval")
	teamStartCmd.Flags().BoolVar(&startDelegation, "delegation-only", false, "leader delegates only and never claims tasks itself")
	teamStartCmd.Flags().StringVar(&startLeaderPane, "leader-pane", "", "slot address of the leader pane, never killed")
	teamStartCmd.Flags().StringVar(&startHUDPane, "hud-pane", "", "slot address of the HUD pane, never killed")
	teamStartCmd.Flags().StringVar(&startCommand, "command", "", "override the worker CLI binary")
}

var roleDescriptorRe = regexp.MustCompile(`^(\d+):([a-z0-9][a-z0-9._-]*)$`)

// parseRoleDescriptors splits the leading n:agent-type descriptors from the
// task subjects that follow them.
func parseRoleDescriptors(args []string) (roles, subjects []string, err error) {
	i := 0
	for ; i < len(args); i++ {
		m := roleDescriptorRe.FindStringSubmatch(args[i])
		if m == nil {
			break
		}
		n, convErr := strconv.Atoi(m[1])
		if convErr != nil || n < 1 {
			return nil, nil, fmt.Errorf("invalid worker count in %q", args[i])
		}
		for j := 0; j < n; j++ {
			roles = append(roles, m[2])
		}
	}
	if len(roles) == 0 {
		return nil, nil, fmt.Errorf("the team name must be followed by at least one <n>:<agent-type> descriptor")
	}
	subjects = args[i:]
	if len(subjects) == 0 {
		return nil, nil, fmt.Errorf("at least one task subject is required")
	}
	return roles, subjects, nil
}

func runTeamStart(cmd *cobra.Command, args []string) error {
	teamName := args[0]
	roles, subjects, err := parseRoleDescriptors(args[1:])
	if err != nil {
		return err
	}

	tasks := make([]taskstore.CreateInput, 0, len(subjects))
	for _, s := range subjects {
		tasks = append(tasks, taskstore.CreateInput{Subject: s})
	}

	var policy *manifest.Policy
	if startPlanApproval || startDelegation {
		p := manifest.New(teamName, "").Policy
		p.PlanApprovalRequired = startPlanApproval
		p.DelegationOnly = startDelegation
		policy = &p
	}

	ctx := cmd.Context()
	mgr, _, err := newManager(ctx, teamName, true)
	if err != nil {
		return err
	}
	defer func() { _ = mgr.Close() }()

	res, err := mgr.Start(ctx, team.StartSpec{
		Team:        teamName,
		Description: startDescription,
		Roles:       roles,
		Tasks:       tasks,
		Leader: manifest.Leader{
			SessionID: os.Getenv("TMUX_PANE"),
			WorkerID:  "leader",
			Role:      "leader",
		},
		Policy:     policy,
		LeaderPane: startLeaderPane,
		HUDPane:    startHUDPane,
		Command:    startCommand,
	})
	if err != nil {
		return err
	}

	ready := 0
	for _, w := range res.Workers {
		if w.Ready {
			ready++
		}
	}
	fmt.Printf("team %s started: %d workers (%d ready), %d tasks, session %s\n",
		teamName, len(res.Workers), ready, len(res.TaskIDs), res.Manifest.SessionHandle)
	for _, w := range res.Workers {
		if !w.Ready {
			fmt.Printf("  %s (%s) never reached its prompt: %s\n", w.Identity.Name, w.Identity.Role, w.Reason)
		}
	}
	return nil
}
