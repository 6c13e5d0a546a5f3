package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"omx/internal/errors"
	"omx/internal/heartbeat"
	"omx/internal/signals"
)

var (
	checkinState  string
	checkinTask   string
	checkinReason string
	ackReason     string
)

var workerCheckinCmd = &cobra.Command{
	Use:   "checkin",
	Short: "Pulse the heartbeat and optionally update the worker status",
	Long: `Checkin stamps the worker's heartbeat so the monitor keeps treating it as
alive. With --state it also records what the worker is doing; the status
store rejects transitions that would step a draining worker backward.`,
	Args: cobra.NoArgs,
	RunE: runWorkerCheckin,
}

var workerAckShutdownCmd = &cobra.Command{
	Use:   "ack-shutdown [accept|reject]",
	Short: "Answer a pending shutdown request",
	Long: `Ack-shutdown answers the coordinator's shutdown request, accept by default.
A reject should carry --reason; the coordinator reports it and may fall back
to a forced shutdown. Without a pending request the command fails.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWorkerAckShutdown,
}

func init() {
	workerCmd.AddCommand(workerCheckinCmd)
	workerCmd.AddCommand(workerAckShutdownCmd)
	workerCheckinCmd.Flags().StringVar(&checkinState, "state", "", "status to record (idle, working, blocked, draining, done)")
	workerCheckinCmd.Flags().StringVar(&checkinTask, "task", "", "task id the status refers to")
	workerCheckinCmd.Flags().StringVar(&checkinReason, "reason", "", "free-form note recorded with the status")
	workerAckShutdownCmd.Flags().StringVar(&ackReason, "reason", "", "why the shutdown is rejected")
}

func runWorkerCheckin(cmd *cobra.Command, args []string) error {
	wc, err := newWorkerContext()
	if err != nil {
		return err
	}
	if _, err := wc.hearts.Beat(wc.name); err != nil {
		return err
	}
	if checkinState == "" {
		fmt.Printf("heartbeat recorded for %s\n", wc.name)
		return nil
	}

	state := heartbeat.State(checkinState)
	if !state.Valid() {
		return fmt.Errorf("unknown state %q", checkinState)
	}
	st, err := wc.hearts.WriteStatus(wc.name, state, checkinTask, checkinReason)
	if err != nil {
		return err
	}
	fmt.Printf("%s checked in: %s\n", wc.name, st.State)
	return nil
}

func runWorkerAckShutdown(cmd *cobra.Command, args []string) error {
	wc, err := newWorkerContext()
	if err != nil {
		return err
	}

	req, err := wc.sigs.ReadRequest(wc.name)
	if err != nil {
		return err
	}
	if req == nil {
		return errors.Ef(errors.KindNotFound, "worker.ack",
			"no shutdown request pending for %s", wc.name).WithWorker(wc.name)
	}

	status := signals.AckAccept
	if len(args) == 1 {
		switch args[0] {
		case "accept":
		case "reject":
			status = signals.AckReject
		default:
			return fmt.Errorf("ack-shutdown takes accept or reject, got %q", args[0])
		}
	}

	ack, err := wc.sigs.Acknowledge(wc.name, status, ackReason)
	if err != nil {
		return err
	}
	fmt.Printf("shutdown %sed (requested by %s)\n", ack.Status, req.RequestedBy)
	return nil
}
