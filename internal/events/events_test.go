package events

import (
	"os"
	"path/filepath"
	"testing"
)

func testRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ".overstory"), 0755); err != nil {
		t.Fatal(err)
	}
	return root
}

func TestLogAtAndTail(t *testing.T) {
	root := testRoot(t)

	if err := LogAt(root, TypeSpawn, "impl", map[string]any{"task": "T1"}); err != nil {
		t.Fatalf("LogAt: %v", err)
	}
	if err := LogAt(root, TypeMail, "orchestrator", nil); err != nil {
		t.Fatalf("LogAt: %v", err)
	}

	events, err := Tail(root, 10)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Type != TypeSpawn || events[0].Actor != "impl" {
		t.Errorf("first event = %+v", events[0])
	}
	if events[0].Payload["task"] != "T1" {
		t.Errorf("payload = %v", events[0].Payload)
	}
}

func TestTailLimitsToLastN(t *testing.T) {
	root := testRoot(t)
	for i := 0; i < 5; i++ {
		_ = LogAt(root, TypeMail, "a", nil)
	}
	_ = LogAt(root, TypeKill, "b", nil)

	events, err := Tail(root, 2)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[1].Type != TypeKill {
		t.Errorf("last event = %+v", events[1])
	}
}

func TestTailMissingFeed(t *testing.T) {
	events, err := Tail(testRoot(t), 10)
	if err != nil || events != nil {
		t.Errorf("got %v, %v; want nil, nil", events, err)
	}
}

func TestTailSkipsMalformedLines(t *testing.T) {
	root := testRoot(t)
	_ = LogAt(root, TypeMail, "a", nil)

	path := filepath.Join(root, ".overstory", FeedFile)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.WriteString("{not json\n")
	_ = f.Close()

	_ = LogAt(root, TypeKill, "b", nil)

	events, err := Tail(root, 10)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("got %d events, want 2 (malformed line skipped)", len(events))
	}
}
