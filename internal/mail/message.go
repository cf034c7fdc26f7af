// Package mail implements the persistent inter-agent mailbox: the
// sqlite-backed store, the pending-nudge registry, and the client facade
// the CLI and hooks use.
package mail

import (
	"fmt"
	"time"
)

// MessageType classifies a message. Plain conversation uses status /
// question / result / error; the remaining types are protocol messages
// whose payloads the client parses.
type MessageType string

const (
	TypeStatus     MessageType = "status"
	TypeQuestion   MessageType = "question"
	TypeResult     MessageType = "result"
	TypeError      MessageType = "error"
	TypeWorkerDone MessageType = "worker_done"
	TypeMergeReady MessageType = "merge_ready"
	TypeMerged     MessageType = "merged"
	TypeEscalation MessageType = "escalation"
)

// ParseMessageType normalizes a user-supplied type string. Unknown or
// empty strings become TypeStatus.
func ParseMessageType(s string) MessageType {
	switch MessageType(s) {
	case TypeStatus, TypeQuestion, TypeResult, TypeError,
		TypeWorkerDone, TypeMergeReady, TypeMerged, TypeEscalation:
		return MessageType(s)
	}
	return TypeStatus
}

// Priority orders delivery urgency. High and urgent sends additionally
// queue a pending nudge for the recipient.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ParsePriority normalizes a user-supplied priority string.
func ParsePriority(s string) Priority {
	switch Priority(s) {
	case PriorityHigh, PriorityUrgent:
		return Priority(s)
	}
	return PriorityNormal
}

// Message is one mailbox row. ReadAt is nil while unread. Payload is
// opaque to the store; the client gives it shape for protocol types.
type Message struct {
	ID        string      `json:"id"`
	From      string      `json:"from"`
	To        string      `json:"to"`
	Subject   string      `json:"subject"`
	Body      string      `json:"body"`
	Type      MessageType `json:"type"`
	Priority  Priority    `json:"priority"`
	Payload   []byte      `json:"payload,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	ReadAt    *time.Time  `json:"read_at,omitempty"`
	InReplyTo string      `json:"in_reply_to,omitempty"`
}

// Unread reports whether the message has not been read yet.
func (m *Message) Unread() bool {
	return m.ReadAt == nil
}

// Header renders the one-line summary used by list output.
func (m *Message) Header() string {
	marker := " "
	if m.Unread() {
		marker = "*"
	}
	return fmt.Sprintf("%s %s  %-8s %-6s %s → %s: %s",
		marker, m.CreatedAt.Format("2006-01-02 15:04"), m.Type, m.Priority, m.From, m.To, m.Subject)
}
