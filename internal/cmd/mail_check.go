package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cellexec/overstory/internal/style"
)

var (
	mailCheckAgent  string
	mailCheckInject bool
)

var mailCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check pending mail; with --inject, emit the prompt injection text",
	Long: `Without --inject, prints a summary of the agent's pending nudge and
unread count. With --inject (run by the runtime's pre-prompt hook), emits
the text prepended to the agent's next prompt: the nudge banner (and the
marker is cleared), then the unread messages not injected before, oldest
first. Messages are not marked read; only 'mail read' does that.`,
	Args: cobra.NoArgs,
	RunE: runMailCheck,
}

func init() {
	mailCheckCmd.Flags().StringVar(&mailCheckAgent, "agent", "", "recipient agent (required)")
	mailCheckCmd.Flags().BoolVar(&mailCheckInject, "inject", false, "emit injection text and drain the nudge marker")
	_ = mailCheckCmd.MarkFlagRequired("agent")
	mailCmd.AddCommand(mailCheckCmd)
}

func runMailCheck(cmd *cobra.Command, args []string) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	if mailCheckInject {
		text, err := p.Client.CheckInject(mailCheckAgent)
		if err != nil {
			return err
		}
		// Raw emission: the hook prepends stdout to the agent's prompt.
		fmt.Print(text)
		return nil
	}

	pending, unread, err := p.Client.Check(mailCheckAgent)
	if err != nil {
		return err
	}
	if pending != nil {
		fmt.Printf("%s pending nudge: %s from %s (%s)\n",
			style.WarningPrefix, pending.Reason, pending.Sender, pending.MessageID)
	}
	fmt.Printf("unread: %d\n", unread)
	return nil
}
