package mail

import (
	"path/filepath"
	"testing"
	"time"
)

func TestNudgeSetGetClear(t *testing.T) {
	n := NewNudgesAtDir(filepath.Join(t.TempDir(), "pending-nudges"))

	// Absent dir behaves as empty.
	got, err := n.Get("builder-1")
	if err != nil || got != nil {
		t.Fatalf("Get on empty registry = %+v, %v", got, err)
	}

	nudge := &Nudge{
		Recipient: "builder-1",
		Sender:    "orchestrator",
		Subject:   "Fix NOW",
		MessageID: "m-1",
		Reason:    ReasonUrgent,
		CreatedAt: time.Now(),
	}
	if err := n.Set(nudge); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err = n.Get("builder-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Reason != ReasonUrgent || got.MessageID != "m-1" {
		t.Errorf("round-trip mismatch: %+v", got)
	}

	if err := n.Clear("builder-1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if got, _ := n.Get("builder-1"); got != nil {
		t.Error("marker still present after clear")
	}

	// Clearing an absent marker is fine.
	if err := n.Clear("builder-1"); err != nil {
		t.Errorf("second clear: %v", err)
	}
}

func TestNudgeLatestWins(t *testing.T) {
	n := NewNudgesAtDir(filepath.Join(t.TempDir(), "pending-nudges"))

	_ = n.Set(&Nudge{Recipient: "r", Sender: "a", MessageID: "m-1", Reason: ReasonHigh})
	_ = n.Set(&Nudge{Recipient: "r", Sender: "b", MessageID: "m-2", Reason: ReasonUrgent})

	got, err := n.Get("r")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.MessageID != "m-2" || got.Reason != ReasonUrgent {
		t.Errorf("latest send should win, got %+v", got)
	}
}

func TestNudgeList(t *testing.T) {
	n := NewNudgesAtDir(filepath.Join(t.TempDir(), "pending-nudges"))

	if recipients, err := n.List(); err != nil || len(recipients) != 0 {
		t.Fatalf("List on empty registry = %v, %v", recipients, err)
	}

	_ = n.Set(&Nudge{Recipient: "a", Reason: ReasonHigh})
	_ = n.Set(&Nudge{Recipient: "b", Reason: ReasonWorkerDone})

	recipients, err := n.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recipients) != 2 {
		t.Errorf("got %d recipients, want 2", len(recipients))
	}
}
