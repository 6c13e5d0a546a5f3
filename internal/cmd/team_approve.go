package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"omx/internal/approval"
	"omx/internal/config"
	"omx/internal/events"
	"omx/internal/manifest"
	"omx/internal/store"
	"omx/internal/taskstore"
)

var approveReason string

var teamApproveCmd = &cobra.Command{
	Use:   "approve <team> <task> accept|reject",
	Short: "Record the leader's plan decision for a task",
	Long: `Approve records an accept or reject decision for a task's plan. When the
team's plan_approval_required policy is set, code-change tasks stay
unclaimable until a decision accepts them; a reject keeps the task visible
but blocked. Deciding again overwrites the earlier decision.`,
	Args: cobra.ExactArgs(3),
	RunE: runTeamApprove,
}

func init() {
	teamCmd.AddCommand(teamApproveCmd)
	teamApproveCmd.Flags().StringVar(&approveReason, "reason", "", "note recorded with the decision")
}

func runTeamApprove(cmd *cobra.Command, args []string) error {
	teamName, taskID := args[0], args[1]
	d := approval.Decision(args[2])
	if !d.Valid() {
		return fmt.Errorf("approve takes accept or reject, got %q", args[2])
	}
	if !store.ValidName(teamName) {
		return fmt.Errorf("invalid team name %q", teamName)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	dir, err := projectDir()
	if err != nil {
		return err
	}

	layout := store.NewLayout(dir, teamName)
	elog := events.NewLog(layout)
	ms := manifest.NewStore(layout)
	tasks := taskstore.NewStore(layout, ms, elog, cfg.Tasks.ClaimLease())
	approvals := approval.NewStore(layout, elog)

	// Refuse to decide a task that does not exist, so a typoed id does not
	// leave a stray approval file behind.
	if _, err := tasks.Get(taskID); err != nil {
		return err
	}

	rec, err := approvals.Decide(taskID, d, "leader", approveReason)
	if err != nil {
		return err
	}
	fmt.Printf("task %s plan %sed\n", taskID, rec.Decision)

	// List what still waits, so the leader can clear the queue in one pass.
	pending, err := approval.NewGate(tasks, approvals, ms).Pending()
	if err == nil && len(pending) > 0 {
		fmt.Printf("still awaiting approval: %s\n", strings.Join(pending, ", "))
	}
	return nil
}
