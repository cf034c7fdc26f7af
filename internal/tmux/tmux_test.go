package tmux

import (
	"errors"
	"strings"
	"testing"

	"github.com/cellexec/overstory/internal/runner"
)

func TestListSessionsParsesNameAndPID(t *testing.T) {
	fake := runner.NewFake()
	fake.Stub("tmux list-sessions", runner.Result{Stdout: "overstory-impl:4242\noverstory-probe:4243\n"})

	tm := NewWithRunner(fake)
	sessions, err := tm.ListSessions()
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions))
	}
	if sessions[0].Name != "overstory-impl" || sessions[0].PID != 4242 {
		t.Errorf("session = %+v", sessions[0])
	}
}

func TestListSessionsNoServerIsEmpty(t *testing.T) {
	fake := runner.NewFake()
	fake.Stub("tmux list-sessions", runner.Result{ExitCode: 1, Stderr: "no server running on /tmp/tmux-0/default"})

	tm := NewWithRunner(fake)
	sessions, err := tm.ListSessions()
	if err != nil {
		t.Fatalf("no server must not be an error, got %v", err)
	}
	if sessions != nil {
		t.Errorf("sessions = %v, want nil", sessions)
	}
}

func TestCreateSessionRecoversPID(t *testing.T) {
	fake := runner.NewFake()
	fake.Stub("tmux list-sessions", runner.Result{Stdout: "other:1\noverstory-impl:7777\n"})

	tm := NewWithRunner(fake)
	pid, err := tm.CreateSession("overstory-impl", "/wt/impl", "claude")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if pid != 7777 {
		t.Errorf("pid = %d, want 7777", pid)
	}

	want := "tmux new-session -d -s overstory-impl -c /wt/impl claude"
	if lines := fake.CommandLines(); lines[0] != want {
		t.Errorf("command = %q, want %q", lines[0], want)
	}
}

func TestCreateSessionDuplicate(t *testing.T) {
	fake := runner.NewFake()
	fake.Stub("tmux new-session", runner.Result{ExitCode: 1, Stderr: "duplicate session: overstory-impl"})

	tm := NewWithRunner(fake)
	if _, err := tm.CreateSession("overstory-impl", "", "claude"); !errors.Is(err, ErrSessionExists) {
		t.Errorf("err = %v, want ErrSessionExists", err)
	}
}

func TestCreateSessionRejectsUnsafeNames(t *testing.T) {
	tm := NewWithRunner(runner.NewFake())
	for _, name := range []string{"", "has space", "has:colon", "has.dot"} {
		if _, err := tm.CreateSession(name, "", "x"); !errors.Is(err, ErrInvalidSessionName) {
			t.Errorf("name %q: err = %v, want ErrInvalidSessionName", name, err)
		}
	}
}

func TestHasSession(t *testing.T) {
	fake := runner.NewFake()
	fake.Stub("tmux has-session -t =gone", runner.Result{ExitCode: 1, Stderr: "can't find session: gone"})

	tm := NewWithRunner(fake)
	if ok, err := tm.HasSession("present"); err != nil || !ok {
		t.Errorf("present: ok=%t err=%v", ok, err)
	}
	if ok, err := tm.HasSession("gone"); err != nil || ok {
		t.Errorf("gone: ok=%t err=%v", ok, err)
	}
}

func TestHasSessionUsesExactMatch(t *testing.T) {
	fake := runner.NewFake()
	tm := NewWithRunner(fake)
	_, _ = tm.HasSession("overstory-a")

	if lines := fake.CommandLines(); !strings.Contains(lines[0], "-t =overstory-a") {
		t.Errorf("command %q must use the exact-match prefix", lines[0])
	}
}

func TestKillSessionIdempotent(t *testing.T) {
	fake := runner.NewFake()
	fake.Stub("tmux kill-session", runner.Result{ExitCode: 1, Stderr: "session not found: gone"})

	tm := NewWithRunner(fake)
	if err := tm.KillSession("gone"); err != nil {
		t.Errorf("killing an absent session should be a no-op, got %v", err)
	}
}

func TestSendKeysSeparateEnter(t *testing.T) {
	fake := runner.NewFake()
	tm := NewWithRunner(fake)

	if err := tm.SendKeysDebounced("overstory-impl", "start the task", 0); err != nil {
		t.Fatalf("SendKeys: %v", err)
	}

	lines := fake.CommandLines()
	if len(lines) != 2 {
		t.Fatalf("got %d commands, want 2 (paste then Enter): %v", len(lines), lines)
	}
	if !strings.Contains(lines[0], "-l start the task") {
		t.Errorf("first command %q must paste in literal mode", lines[0])
	}
	if !strings.HasSuffix(lines[1], "Enter") {
		t.Errorf("second command %q must be the Enter press", lines[1])
	}
}

func TestCapturePane(t *testing.T) {
	fake := runner.NewFake()
	fake.Stub("tmux capture-pane", runner.Result{Stdout: "some output\nlast line"})

	tm := NewWithRunner(fake)
	out, err := tm.CapturePane("overstory-impl", 50)
	if err != nil {
		t.Fatalf("CapturePane: %v", err)
	}
	if !strings.Contains(out, "last line") {
		t.Errorf("out = %q", out)
	}
	if lines := fake.CommandLines(); !strings.Contains(lines[0], "-S -50") {
		t.Errorf("command %q missing scrollback bound", lines[0])
	}
}
