package mail

import (
	"strings"
	"testing"
	"time"
)

func TestWorkerDoneRoundTrip(t *testing.T) {
	msg, err := NewWorkerDone("impl", "orchestrator", WorkerDonePayload{
		Agent:         "impl",
		TaskID:        "T1",
		Branch:        "overstory/impl/T1",
		FilesModified: []string{"src/a.ts", "src/b.ts"},
		FinishedAt:    time.Now(),
	})
	if err != nil {
		t.Fatalf("NewWorkerDone: %v", err)
	}
	if msg.Type != TypeWorkerDone || msg.Priority != PriorityHigh {
		t.Errorf("type=%s priority=%s", msg.Type, msg.Priority)
	}
	if !strings.Contains(msg.Body, "overstory/impl/T1") {
		t.Errorf("body missing branch:\n%s", msg.Body)
	}

	p, err := ParseWorkerDone(msg)
	if err != nil {
		t.Fatalf("ParseWorkerDone: %v", err)
	}
	if p.Branch != "overstory/impl/T1" || len(p.FilesModified) != 2 {
		t.Errorf("payload mismatch: %+v", p)
	}
}

func TestParseWorkerDoneWrongType(t *testing.T) {
	msg := &Message{Type: TypeStatus}
	if _, err := ParseWorkerDone(msg); err == nil {
		t.Error("expected an error for a non-worker_done message")
	}
}

func TestParseWorkerDoneEmptyPayload(t *testing.T) {
	// Operators testing by hand send worker_done with no payload blob;
	// the sender identity still routes the merge.
	msg := &Message{Type: TypeWorkerDone, From: "impl"}
	p, err := ParseWorkerDone(msg)
	if err != nil {
		t.Fatalf("ParseWorkerDone: %v", err)
	}
	if p.Agent != "impl" {
		t.Errorf("agent = %q, want impl", p.Agent)
	}
}

func TestProtocolMessageShapes(t *testing.T) {
	merged, err := NewMerged("orchestrator", "lead", MergedPayload{
		Agent: "impl", TaskID: "T1", Branch: "overstory/impl/T1",
		Tier: "clean-merge", TargetBranch: "main", MergedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("NewMerged: %v", err)
	}
	if merged.Type != TypeMerged || !strings.HasPrefix(merged.Subject, "MERGED") {
		t.Errorf("merged shape: type=%s subject=%q", merged.Type, merged.Subject)
	}

	esc, err := NewEscalation("orchestrator", "lead", EscalationPayload{
		Agent: "impl", TaskID: "T1", Branch: "overstory/impl/T1",
		Reason: "merge failed at all tiers", Detail: "boom",
	})
	if err != nil {
		t.Fatalf("NewEscalation: %v", err)
	}
	if esc.Type != TypeEscalation || esc.Priority != PriorityUrgent {
		t.Errorf("escalation shape: type=%s priority=%s", esc.Type, esc.Priority)
	}
	if !strings.Contains(esc.Body, "boom") {
		t.Errorf("escalation body missing detail:\n%s", esc.Body)
	}
}
