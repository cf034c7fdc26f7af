package mail

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Protocol payloads ride in the message payload blob. The store persists
// them opaquely; the client serializes on send and parses on receipt.

// WorkerDonePayload announces a finished branch ready for merging.
type WorkerDonePayload struct {
	Agent         string    `json:"agent"`
	TaskID        string    `json:"task_id"`
	Branch        string    `json:"branch"`
	FilesModified []string  `json:"files_modified"`
	FinishedAt    time.Time `json:"finished_at"`
}

// MergeReadyPayload hands a verified branch to the merge pipeline.
type MergeReadyPayload struct {
	Agent  string `json:"agent"`
	TaskID string `json:"task_id"`
	Branch string `json:"branch"`
}

// MergedPayload reports a branch landing on the canonical branch.
type MergedPayload struct {
	Agent        string    `json:"agent"`
	TaskID       string    `json:"task_id"`
	Branch       string    `json:"branch"`
	Tier         string    `json:"tier"`
	TargetBranch string    `json:"target_branch"`
	MergedAt     time.Time `json:"merged_at"`
}

// EscalationPayload reports a failure needing upstream attention.
type EscalationPayload struct {
	Agent  string `json:"agent"`
	TaskID string `json:"task_id"`
	Branch string `json:"branch"`
	Reason string `json:"reason"`
	Detail string `json:"detail"`
}

// NewWorkerDone builds a worker_done message from an agent to the
// orchestrator.
func NewWorkerDone(from, to string, p WorkerDonePayload) (*Message, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding worker_done payload: %w", err)
	}
	return &Message{
		From:     from,
		To:       to,
		Subject:  fmt.Sprintf("WORKER_DONE %s", p.Agent),
		Body:     formatKV("Agent", p.Agent, "Task", p.TaskID, "Branch", p.Branch, "Files", strings.Join(p.FilesModified, ", ")),
		Type:     TypeWorkerDone,
		Priority: PriorityHigh,
		Payload:  payload,
	}, nil
}

// NewMerged builds a merged message for an agent's parent.
func NewMerged(from, to string, p MergedPayload) (*Message, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding merged payload: %w", err)
	}
	return &Message{
		From:     from,
		To:       to,
		Subject:  fmt.Sprintf("MERGED %s", p.Agent),
		Body:     formatKV("Agent", p.Agent, "Task", p.TaskID, "Branch", p.Branch, "Tier", p.Tier, "Target", p.TargetBranch),
		Type:     TypeMerged,
		Priority: PriorityHigh,
		Payload:  payload,
	}, nil
}

// NewEscalation builds an escalation message.
func NewEscalation(from, to string, p EscalationPayload) (*Message, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding escalation payload: %w", err)
	}
	return &Message{
		From:     from,
		To:       to,
		Subject:  fmt.Sprintf("ESCALATION %s", p.Agent),
		Body:     formatKV("Agent", p.Agent, "Task", p.TaskID, "Branch", p.Branch, "Reason", p.Reason, "Detail", p.Detail),
		Type:     TypeEscalation,
		Priority: PriorityUrgent,
		Payload:  payload,
	}, nil
}

// ParseWorkerDone extracts the payload from a worker_done message. A
// missing payload falls back to zero values so hand-sent protocol mail
// (operators testing with the CLI) still routes.
func ParseWorkerDone(msg *Message) (WorkerDonePayload, error) {
	var p WorkerDonePayload
	if msg.Type != TypeWorkerDone {
		return p, fmt.Errorf("message %s is %s, not worker_done", msg.ID, msg.Type)
	}
	if len(msg.Payload) == 0 {
		p.Agent = msg.From
		return p, nil
	}
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return p, fmt.Errorf("parsing worker_done payload: %w", err)
	}
	return p, nil
}

// formatKV renders "Key: value" lines, skipping empty values.
func formatKV(pairs ...string) string {
	var sb strings.Builder
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			continue
		}
		fmt.Fprintf(&sb, "%s: %s\n", pairs[i], pairs[i+1])
	}
	return sb.String()
}
