package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cellexec/overstory/internal/mail"
	"github.com/cellexec/overstory/internal/style"
)

var mailCmd = &cobra.Command{
	Use:     "mail",
	Short:   "Inter-agent mailbox",
	GroupID: GroupComm,
}

var (
	mailListTo     string
	mailListAgent  string
	mailListFrom   string
	mailListUnread bool
	mailListJSON   bool
	mailListLimit  int
)

var mailListCmd = &cobra.Command{
	Use:   "list",
	Short: "List messages, newest first",
	Args:  cobra.NoArgs,
	RunE:  runMailList,
}

var mailReadCmd = &cobra.Command{
	Use:   "read <id>",
	Short: "Show a message and mark it read",
	Args:  cobra.ExactArgs(1),
	RunE:  runMailRead,
}

var (
	mailReplyBody  string
	mailReplyAgent string
)

var mailReplyCmd = &cobra.Command{
	Use:   "reply <id>",
	Short: "Reply to a message",
	Args:  cobra.ExactArgs(1),
	RunE:  runMailReply,
}

func init() {
	mailListCmd.Flags().StringVar(&mailListTo, "to", "", "filter by recipient")
	mailListCmd.Flags().StringVar(&mailListAgent, "agent", "", "alias for --to (--to wins if both given)")
	mailListCmd.Flags().StringVar(&mailListFrom, "from", "", "filter by sender")
	mailListCmd.Flags().BoolVar(&mailListUnread, "unread", false, "unread only")
	mailListCmd.Flags().BoolVar(&mailListJSON, "json", false, "JSON output")
	mailListCmd.Flags().IntVar(&mailListLimit, "limit", 0, "max messages")

	mailReplyCmd.Flags().StringVar(&mailReplyBody, "body", "", "reply body (required)")
	mailReplyCmd.Flags().StringVar(&mailReplyAgent, "agent", "", "replying agent (defaults to detected identity)")
	_ = mailReplyCmd.MarkFlagRequired("body")

	mailCmd.AddCommand(mailListCmd, mailReadCmd, mailReplyCmd)
	rootCmd.AddCommand(mailCmd)
}

func runMailList(cmd *cobra.Command, args []string) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	to := mailListTo
	if to == "" {
		to = mailListAgent
	}

	msgs, err := p.Client.List(mail.ListFilter{
		From:       mailListFrom,
		To:         to,
		UnreadOnly: mailListUnread,
		Limit:      mailListLimit,
	})
	if err != nil {
		return err
	}

	if mailListJSON {
		return json.NewEncoder(os.Stdout).Encode(msgs)
	}

	if len(msgs) == 0 {
		fmt.Println(style.Dim.Render("no messages"))
		return nil
	}
	for _, m := range msgs {
		fmt.Println(m.Header())
		fmt.Printf("    id: %s\n", style.Dim.Render(m.ID))
	}
	return nil
}

func runMailRead(cmd *cobra.Command, args []string) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	id := args[0]
	msg, err := p.Client.Get(id)
	if err != nil {
		return err
	}

	err = p.Client.MarkRead(id)
	alreadyRead := errors.Is(err, mail.ErrAlreadyRead)
	if err != nil && !alreadyRead {
		return err
	}

	fmt.Printf("From:     %s\n", msg.From)
	fmt.Printf("To:       %s\n", msg.To)
	fmt.Printf("Subject:  %s\n", msg.Subject)
	fmt.Printf("Type:     %s\n", msg.Type)
	fmt.Printf("Priority: %s\n", msg.Priority)
	fmt.Printf("Sent:     %s\n", msg.CreatedAt.Format("2006-01-02 15:04:05"))
	if msg.InReplyTo != "" {
		fmt.Printf("Reply-To: %s\n", msg.InReplyTo)
	}
	fmt.Printf("\n%s\n", msg.Body)

	if alreadyRead {
		fmt.Println(style.Dim.Render("(already read)"))
	}
	return nil
}

func runMailReply(cmd *cobra.Command, args []string) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	from := mailReplyAgent
	if from == "" {
		from = detectSender()
	}

	id, err := p.Client.Reply(args[0], from, mailReplyBody)
	if err != nil {
		return err
	}

	fmt.Printf("%s Reply sent (id %s)\n", style.CheckPrefix, id)
	return nil
}
