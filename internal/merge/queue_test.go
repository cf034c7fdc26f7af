package merge

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testQueue(t *testing.T) *Queue {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ".overstory"), 0755); err != nil {
		t.Fatal(err)
	}
	return NewQueue(root)
}

func TestQueueFIFOOrdering(t *testing.T) {
	q := testQueue(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entries := []*Entry{
		{BranchName: "overstory/zeta/T3", EnqueuedAt: base.Add(2 * time.Second)},
		{BranchName: "overstory/alpha/T1", EnqueuedAt: base},
		{BranchName: "overstory/beta/T2", EnqueuedAt: base.Add(time.Second)},
	}
	for _, e := range entries {
		if err := q.Enqueue(e); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	pending, err := q.Pending()
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	want := []string{"overstory/alpha/T1", "overstory/beta/T2", "overstory/zeta/T3"}
	for i, e := range pending {
		if e.BranchName != want[i] {
			t.Errorf("position %d = %s, want %s", i, e.BranchName, want[i])
		}
	}
}

func TestQueueTieBreakByBranchName(t *testing.T) {
	q := testQueue(t)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	_ = q.Enqueue(&Entry{BranchName: "overstory/b/T2", EnqueuedAt: at})
	_ = q.Enqueue(&Entry{BranchName: "overstory/a/T1", EnqueuedAt: at})

	pending, _ := q.Pending()
	if pending[0].BranchName != "overstory/a/T1" {
		t.Errorf("tie-break failed: first = %s", pending[0].BranchName)
	}
}

func TestQueueEnqueueDeduplicates(t *testing.T) {
	q := testQueue(t)

	e := &Entry{BranchName: "overstory/impl/T1", EnqueuedAt: time.Now()}
	_ = q.Enqueue(e)
	_ = q.Enqueue(&Entry{BranchName: "overstory/impl/T1", EnqueuedAt: time.Now()})

	pending, _ := q.Pending()
	if len(pending) != 1 {
		t.Errorf("got %d pending, want 1 (duplicate pending entries)", len(pending))
	}
}

func TestQueueUpdateTerminal(t *testing.T) {
	q := testQueue(t)

	e := &Entry{BranchName: "overstory/impl/T1", EnqueuedAt: time.Now()}
	_ = q.Enqueue(e)

	e.Status = StatusMerged
	e.ResolvedTier = TierCleanMerge
	if err := q.Update(e); err != nil {
		t.Fatalf("Update: %v", err)
	}

	pending, _ := q.Pending()
	if len(pending) != 0 {
		t.Errorf("entry still pending after terminal update")
	}

	all, _ := q.All()
	if len(all) != 1 || all[0].Status != StatusMerged || all[0].ResolvedTier != TierCleanMerge {
		t.Errorf("terminal state not recorded: %+v", all[0])
	}

	// A second merge of the same branch may be enqueued later.
	if err := q.Enqueue(&Entry{BranchName: "overstory/impl/T1", EnqueuedAt: time.Now()}); err != nil {
		t.Fatalf("re-enqueue after terminal: %v", err)
	}
	pending, _ = q.Pending()
	if len(pending) != 1 {
		t.Errorf("re-enqueue failed: %d pending", len(pending))
	}
}

func TestQueueUpdateMissing(t *testing.T) {
	q := testQueue(t)
	if err := q.Update(&Entry{BranchName: "nope", Status: StatusMerged}); err == nil {
		t.Error("expected error updating a missing entry")
	}
}

func TestQueueEmpty(t *testing.T) {
	q := testQueue(t)
	pending, err := q.Pending()
	if err != nil || len(pending) != 0 {
		t.Errorf("empty queue = %v, %v", pending, err)
	}
}
