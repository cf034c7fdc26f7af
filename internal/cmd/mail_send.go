package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cellexec/overstory/internal/constants"
	"github.com/cellexec/overstory/internal/events"
	"github.com/cellexec/overstory/internal/mail"
	"github.com/cellexec/overstory/internal/style"
)

var (
	mailSendTo       string
	mailSendFrom     string
	mailSendSubject  string
	mailSendBody     string
	mailSendType     string
	mailSendPriority string
	mailSendJSON     bool
)

var mailSendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a message",
	Args:  cobra.NoArgs,
	RunE:  runMailSend,
}

func init() {
	mailSendCmd.Flags().StringVar(&mailSendTo, "to", "", "recipient agent (required)")
	mailSendCmd.Flags().StringVar(&mailSendFrom, "from", "", "sender (defaults to detected identity)")
	mailSendCmd.Flags().StringVar(&mailSendSubject, "subject", "", "subject (required)")
	mailSendCmd.Flags().StringVar(&mailSendBody, "body", "", "body")
	mailSendCmd.Flags().StringVar(&mailSendType, "type", "status", "message type")
	mailSendCmd.Flags().StringVar(&mailSendPriority, "priority", "normal", "normal, high, or urgent")
	mailSendCmd.Flags().BoolVar(&mailSendJSON, "json", false, "JSON output")
	_ = mailSendCmd.MarkFlagRequired("to")
	_ = mailSendCmd.MarkFlagRequired("subject")
	mailCmd.AddCommand(mailSendCmd)
}

// detectSender resolves the caller's mail identity. Agent sessions carry
// OVERSTORY_AGENT in their environment; everything else is the
// orchestrator (the human-driven top session).
func detectSender() string {
	if name := os.Getenv("OVERSTORY_AGENT"); name != "" {
		return name
	}
	return constants.OrchestratorName
}

func runMailSend(cmd *cobra.Command, args []string) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	from := mailSendFrom
	if from == "" {
		from = detectSender()
	}

	msg := &mail.Message{
		From:     from,
		To:       mailSendTo,
		Subject:  mailSendSubject,
		Body:     mailSendBody,
		Type:     mail.ParseMessageType(mailSendType),
		Priority: mail.ParsePriority(mailSendPriority),
	}

	id, err := p.Client.Send(msg)
	if err != nil {
		return err
	}

	_ = events.LogAt(p.Root, events.TypeMail, from, map[string]any{
		"to":      mailSendTo,
		"subject": mailSendSubject,
	})

	if mailSendJSON {
		return json.NewEncoder(os.Stdout).Encode(map[string]string{"id": id})
	}
	fmt.Printf("%s Message sent to %s (id %s)\n", style.CheckPrefix, mailSendTo, id)
	return nil
}
