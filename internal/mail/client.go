package mail

import (
	"fmt"
	"strings"
)

// Client is the facade the CLI and runtime hooks use: it composes the
// store and the nudge registry so senders and the injection path agree
// on what "urgent" means.
type Client struct {
	store  *Store
	nudges *Nudges
}

// NewClient builds a client over explicit component handles. Tests
// instantiate isolated instances against a temp directory.
func NewClient(store *Store, nudges *Nudges) *Client {
	return &Client{store: store, nudges: nudges}
}

// Store exposes the underlying store for read-path callers (status, the
// orchestrator's protocol scan).
func (c *Client) Store() *Store {
	return c.store
}

// Send persists the message, then queues a pending nudge when the send
// qualifies (high/urgent priority, or a worker_done protocol message).
// The nudge is a marker only: delivery waits for the recipient's next
// prompt boundary, never a direct keystroke injection at send time.
func (c *Client) Send(msg *Message) (string, error) {
	id, err := c.store.Send(msg)
	if err != nil {
		return "", err
	}

	reason, qualifies := nudgeReason(msg)
	if qualifies {
		nudge := &Nudge{
			Recipient: msg.To,
			Sender:    msg.From,
			Subject:   msg.Subject,
			MessageID: id,
			Reason:    reason,
			CreatedAt: msg.CreatedAt,
		}
		if err := c.nudges.Set(nudge); err != nil {
			return id, fmt.Errorf("message %s sent but nudge not queued: %w", id, err)
		}
	}
	return id, nil
}

// nudgeReason decides whether a message queues a nudge. worker_done wins
// over priority so the merge pipeline's banner names the real reason.
func nudgeReason(msg *Message) (NudgeReason, bool) {
	if msg.Type == TypeWorkerDone {
		return ReasonWorkerDone, true
	}
	switch msg.Priority {
	case PriorityUrgent:
		return ReasonUrgent, true
	case PriorityHigh:
		return ReasonHigh, true
	}
	return "", false
}

// List delegates to the store.
func (c *Client) List(f ListFilter) ([]*Message, error) {
	return c.store.List(f)
}

// Get delegates to the store.
func (c *Client) Get(id string) (*Message, error) {
	return c.store.Get(id)
}

// MarkRead delegates to the store.
func (c *Client) MarkRead(id string) error {
	return c.store.MarkRead(id)
}

// Reply delegates to the store's recipient computation.
func (c *Client) Reply(originalID, from, body string) (string, error) {
	return c.store.Reply(originalID, from, body)
}

// CheckInject builds the text the runtime's pre-prompt hook prepends to
// the recipient's next prompt:
//
//  1. if a pending-nudge marker exists, a banner naming the reason,
//     sender, subject and message id — and the marker is cleared;
//  2. unread messages not yet injected, oldest first, with headers
//     and body.
//
// Messages are NOT marked read here; only an explicit `mail read` does
// that. An injection cursor keeps each message from being prepended to
// more than one prompt: ids are time-ordered, so everything at or below
// the cursor has already been shown. Zero new unread and no marker
// yields an empty string.
func (c *Client) CheckInject(recipient string) (string, error) {
	var sb strings.Builder

	nudge, err := c.nudges.Get(recipient)
	if err != nil {
		return "", err
	}
	if nudge != nil {
		sb.WriteString(renderBanner(nudge))
		if err := c.nudges.Clear(recipient); err != nil {
			return "", err
		}
	}

	unread, err := c.store.List(ListFilter{To: recipient, UnreadOnly: true})
	if err != nil {
		return "", err
	}

	cursor, err := c.nudges.injectCursor(recipient)
	if err != nil {
		return "", err
	}

	// List returns newest-first; injection reads oldest-first.
	maxID := cursor
	for i := len(unread) - 1; i >= 0; i-- {
		msg := unread[i]
		if msg.ID <= cursor {
			continue
		}
		if msg.ID > maxID {
			maxID = msg.ID
		}
		fmt.Fprintf(&sb, "--- mail %s ---\n", msg.ID)
		fmt.Fprintf(&sb, "From: %s\nSubject: %s\nType: %s\nPriority: %s\nSent: %s\n\n",
			msg.From, msg.Subject, msg.Type, msg.Priority, msg.CreatedAt.Format("2006-01-02 15:04:05"))
		sb.WriteString(msg.Body)
		if !strings.HasSuffix(msg.Body, "\n") {
			sb.WriteString("\n")
		}
	}

	if maxID != cursor {
		if err := c.nudges.setInjectCursor(recipient, maxID); err != nil {
			return "", err
		}
	}

	return sb.String(), nil
}

// Check is CheckInject without draining the marker; used by `mail check`
// without --inject to preview pending state.
func (c *Client) Check(recipient string) (pending *Nudge, unread int, err error) {
	pending, err = c.nudges.Get(recipient)
	if err != nil {
		return nil, 0, err
	}
	unread, err = c.store.CountUnread(recipient)
	if err != nil {
		return nil, 0, err
	}
	return pending, unread, nil
}

// renderBanner formats the nudge banner. The reason is upcased so an
// urgent send reads "URGENT PRIORITY" at the top of the prompt.
func renderBanner(n *Nudge) string {
	return fmt.Sprintf("=== %s === new mail from %s: %q (id %s)\n\n",
		strings.ToUpper(string(n.Reason)), n.Sender, n.Subject, n.MessageID)
}
