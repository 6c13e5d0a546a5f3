package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"omx/internal/errors"
	"omx/internal/mailbox"
)

var workerSendCmd = &cobra.Command{
	Use:   "send <worker>|leader|broadcast <body>",
	Short: "Send a message to a teammate, the leader, or everyone",
	Args:  cobra.ExactArgs(2),
	RunE:  runWorkerSend,
}

var inboxAll bool

var workerInboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "Print the briefing and read new messages",
	Long: `Inbox prints the worker's briefing file followed by its unread messages,
marking them delivered. --all reprints the full message history instead.`,
	Args: cobra.NoArgs,
	RunE: runWorkerInbox,
}

func init() {
	workerCmd.AddCommand(workerSendCmd)
	workerCmd.AddCommand(workerInboxCmd)
	workerInboxCmd.Flags().BoolVar(&inboxAll, "all", false, "show the full message history, read or not")
}

func runWorkerSend(cmd *cobra.Command, args []string) error {
	wc, err := newWorkerContext()
	if err != nil {
		return err
	}
	to, body := args[0], args[1]

	if to == mailbox.BroadcastRecipient {
		m, err := wc.ms.Load()
		if err != nil {
			return err
		}
		recipients := append([]string{mailbox.LeaderRecipient}, m.WorkerNames()...)
		sent, err := wc.mail.Broadcast(wc.name, body, recipients)
		if err != nil {
			return err
		}
		fmt.Printf("broadcast to %d recipients\n", len(sent))
		return nil
	}

	// Refuse unknown worker names, so a typo does not write a mailbox
	// nobody reads.
	if to != mailbox.LeaderRecipient {
		m, err := wc.ms.Load()
		if err != nil {
			return err
		}
		if !m.HasWorker(to) {
			return errors.Ef(errors.KindNotFound, "worker.send", "no worker named %q", to).WithTeam(wc.team)
		}
	}
	msg, err := wc.mail.Send(wc.name, to, body)
	if err != nil {
		return err
	}
	fmt.Printf("sent %s to %s\n", msg.ID, to)
	return nil
}

func runWorkerInbox(cmd *cobra.Command, args []string) error {
	wc, err := newWorkerContext()
	if err != nil {
		return err
	}

	if brief, err := os.ReadFile(wc.layout.InboxPath(wc.name)); err == nil {
		os.Stdout.Write(brief)
		fmt.Println()
	}

	var msgs []mailbox.Message
	if inboxAll {
		msgs, err = wc.mail.List(wc.name)
	} else {
		msgs, err = wc.mail.MarkAllDelivered(wc.name)
	}
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		fmt.Println("(no new messages)")
		return nil
	}
	for _, m := range msgs {
		from := m.From
		if m.IsBroadcast() {
			from += " (broadcast)"
		}
		fmt.Printf("--- %s from %s at %s\n%s\n", m.ID, from, m.CreatedAt.Format("15:04:05"), m.Body)
	}
	return nil
}
