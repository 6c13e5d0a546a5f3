package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"omx/internal/errors"
	"omx/internal/heartbeat"
	"omx/internal/taskstore"
)

var workerClaimCmd = &cobra.Command{
	Use:   "claim <task-id>",
	Short: "Claim a pending task",
	Long: `Claim takes the task's lease for this worker and prints the task body. A
refused claim names why (already claimed, wrong status, blocked dependency,
draining, or awaiting plan approval); claim a different task rather than
retrying the same one.`,
	Args: cobra.ExactArgs(1),
	RunE: runWorkerClaim,
}

var (
	completeResult string
	failError      string
)

var workerCompleteCmd = &cobra.Command{
	Use:   "complete <task-id>",
	Short: "Mark a claimed task completed",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkerComplete,
}

var workerFailCmd = &cobra.Command{
	Use:   "fail <task-id>",
	Short: "Mark a claimed task failed",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkerFail,
}

var workerReleaseCmd = &cobra.Command{
	Use:   "release <task-id>",
	Short: "Put a claimed task back in the pool",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkerRelease,
}

func init() {
	workerCmd.AddCommand(workerClaimCmd)
	workerCmd.AddCommand(workerCompleteCmd)
	workerCmd.AddCommand(workerFailCmd)
	workerCmd.AddCommand(workerReleaseCmd)
	workerCompleteCmd.Flags().StringVar(&completeResult, "result", "", "one-line result recorded on the task")
	workerFailCmd.Flags().StringVar(&failError, "error", "", "reason recorded on the task")
}

func runWorkerClaim(cmd *cobra.Command, args []string) error {
	wc, err := newWorkerContext()
	if err != nil {
		return err
	}
	res, err := wc.gate.Claim(args[0], wc.name)
	if err != nil {
		return err
	}
	if !res.OK() {
		return claimRefused(args[0], res)
	}

	_, _ = wc.hearts.WriteStatus(wc.name, heartbeat.StateWorking, args[0], "")
	fmt.Printf("task %s claimed: %s\n", res.Task.ID, res.Task.Subject)
	if res.Task.Description != "" {
		fmt.Println(res.Task.Description)
	}
	return nil
}

// claimRefused converts a refusal outcome into the kinded error the exit-code
// policy expects.
func claimRefused(id string, res *taskstore.ClaimResult) error {
	const op = "worker.claim"
	switch res.Outcome {
	case taskstore.ClaimNotFound:
		return errors.E(errors.KindNotFound, op, errors.ErrNotFound).WithTask(id)
	case taskstore.ClaimBlockedDependency:
		return errors.Ef(errors.KindBlockedDependency, op,
			"waiting on %s", strings.Join(res.UnmetDependencies, ", ")).WithTask(id)
	case taskstore.ClaimDrainingWorker:
		return errors.E(errors.KindDrainingWorker, op, errors.ErrDrainingWorker).WithTask(id)
	case taskstore.ClaimAwaitingApproval:
		return errors.Ef(errors.KindBlockedDependency, op, "plan approval pending").WithTask(id)
	case taskstore.ClaimApprovalRejected:
		return errors.Ef(errors.KindBlockedDependency, op, "plan was rejected").WithTask(id)
	case taskstore.ClaimWrongStatus:
		status := taskstore.Status("")
		if res.Task != nil {
			status = res.Task.Status
		}
		return errors.Ef(errors.KindClaimConflict, op, "task is %s", status).WithTask(id)
	default:
		return errors.E(errors.KindClaimConflict, op, errors.ErrClaimConflict).WithTask(id)
	}
}

func runWorkerComplete(cmd *cobra.Command, args []string) error {
	wc, err := newWorkerContext()
	if err != nil {
		return err
	}
	token, err := wc.claimToken(args[0])
	if err != nil {
		return err
	}
	if _, err := wc.tasks.Transition(args[0], token, taskstore.StatusCompleted, completeResult, ""); err != nil {
		return err
	}
	wc.setIdle()
	fmt.Printf("task %s completed\n", args[0])
	return nil
}

func runWorkerFail(cmd *cobra.Command, args []string) error {
	wc, err := newWorkerContext()
	if err != nil {
		return err
	}
	token, err := wc.claimToken(args[0])
	if err != nil {
		return err
	}
	if _, err := wc.tasks.Transition(args[0], token, taskstore.StatusFailed, "", failError); err != nil {
		return err
	}
	wc.setIdle()
	fmt.Printf("task %s failed\n", args[0])
	return nil
}

func runWorkerRelease(cmd *cobra.Command, args []string) error {
	wc, err := newWorkerContext()
	if err != nil {
		return err
	}
	token, err := wc.claimToken(args[0])
	if err != nil {
		return err
	}
	if _, err := wc.tasks.Release(args[0], token); err != nil {
		return err
	}
	wc.setIdle()
	fmt.Printf("task %s released back to pending\n", args[0])
	return nil
}
