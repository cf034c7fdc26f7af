package orchestrator

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/cellexec/overstory/internal/agent"
	"github.com/cellexec/overstory/internal/config"
	"github.com/cellexec/overstory/internal/constants"
	"github.com/cellexec/overstory/internal/git"
	"github.com/cellexec/overstory/internal/mail"
	"github.com/cellexec/overstory/internal/merge"
	"github.com/cellexec/overstory/internal/runner"
)

type fakeSessions struct{ live map[string]bool }

func (f *fakeSessions) CreateSession(name, cwd, command string) (int, error) {
	f.live[name] = true
	return 1, nil
}
func (f *fakeSessions) HasSession(name string) (bool, error) { return f.live[name], nil }
func (f *fakeSessions) KillSession(name string) error        { delete(f.live, name); return nil }
func (f *fakeSessions) SendKeys(name, text string) error     { return nil }

func testOrchestrator(t *testing.T, fakeGit *runner.Fake) (*Orchestrator, *mail.Client, *merge.Queue) {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ".overstory", "locks"), 0755); err != nil {
		t.Fatal(err)
	}

	store, err := mail.OpenPath(filepath.Join(root, ".overstory", "mail.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	client := mail.NewClient(store, mail.NewNudges(root))
	cfg := config.Default()
	sessions := &fakeSessions{live: make(map[string]bool)}
	mgr := agent.NewManager(root, cfg, git.NewWithRunner(root, fakeGit), sessions, store)
	queue := merge.NewQueue(root)
	resolver := merge.NewResolver(root, "main", cfg.Merge, []string{"fakeai"}, fakeGit)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	return New(root, "main", client, mgr, queue, resolver, log), client, queue
}

func TestTickMergesWorkerDone(t *testing.T) {
	fakeGit := runner.NewFake()
	o, client, queue := testOrchestrator(t, fakeGit)

	msg, err := mail.NewWorkerDone("impl", constants.OrchestratorName, mail.WorkerDonePayload{
		Agent:         "impl",
		TaskID:        "T1",
		Branch:        "overstory/impl/T1",
		FilesModified: []string{"src/a.ts"},
	})
	if err != nil {
		t.Fatal(err)
	}
	id, err := client.Send(msg)
	if err != nil {
		t.Fatal(err)
	}

	o.Tick()

	// The entry went through the resolver and landed clean.
	all, err := queue.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 1 || all[0].Status != merge.StatusMerged || all[0].ResolvedTier != merge.TierCleanMerge {
		t.Fatalf("queue = %+v", all)
	}

	// The worker_done is handled exactly once.
	handled, _ := client.Get(id)
	if handled.Unread() {
		t.Error("worker_done not marked read after enqueue")
	}

	// A merged protocol message reports the outcome upstream.
	msgs, _ := client.List(mail.ListFilter{To: constants.OrchestratorName})
	var merged *mail.Message
	for _, m := range msgs {
		if m.Type == mail.TypeMerged {
			merged = m
		}
	}
	if merged == nil {
		t.Fatal("merged mail missing")
	}

	// A second tick does not re-enqueue the same branch.
	o.Tick()
	all, _ = queue.All()
	if len(all) != 1 {
		t.Errorf("second tick duplicated the entry: %+v", all)
	}
}

func TestTickEscalatesOnFailure(t *testing.T) {
	fakeGit := runner.NewFake()
	// The merge conflicts with a delete/modify residual. Tiers 3 and 4 are
	// enabled by default, but the assistant exits non-zero, so both fail.
	fakeGit.Stub("git merge --no-edit", runner.Result{ExitCode: 1, Stderr: "CONFLICT (modify/delete): gone.ts"})
	fakeGit.Stub("git diff --name-only --diff-filter=U", runner.Result{Stdout: "gone.ts\n"})
	fakeGit.Stub("fakeai", runner.Result{ExitCode: 1, Stderr: "unavailable"})

	o, client, queue := testOrchestrator(t, fakeGit)

	msg, _ := mail.NewWorkerDone("impl", constants.OrchestratorName, mail.WorkerDonePayload{
		Agent: "impl", TaskID: "T1", Branch: "overstory/impl/T1", FilesModified: []string{"gone.ts"},
	})
	if _, err := client.Send(msg); err != nil {
		t.Fatal(err)
	}

	o.Tick()

	all, _ := queue.All()
	if len(all) != 1 || all[0].Status != merge.StatusFailed {
		t.Fatalf("queue = %+v", all)
	}

	msgs, _ := client.List(mail.ListFilter{To: constants.OrchestratorName})
	var escalation *mail.Message
	for _, m := range msgs {
		if m.Type == mail.TypeEscalation {
			escalation = m
		}
	}
	if escalation == nil {
		t.Fatal("escalation mail missing")
	}
	if escalation.Priority != mail.PriorityUrgent {
		t.Errorf("escalation priority = %s", escalation.Priority)
	}
}

func TestTickIgnoresOrdinaryMail(t *testing.T) {
	fakeGit := runner.NewFake()
	o, client, queue := testOrchestrator(t, fakeGit)

	if _, err := client.Send(&mail.Message{
		From: "lead", To: constants.OrchestratorName, Subject: "question", Body: "?",
	}); err != nil {
		t.Fatal(err)
	}

	o.Tick()

	all, _ := queue.All()
	if len(all) != 0 {
		t.Errorf("ordinary mail enqueued a merge: %+v", all)
	}

	// Ordinary mail is left unread for the operator.
	msgs, _ := client.List(mail.ListFilter{To: constants.OrchestratorName, UnreadOnly: true})
	if len(msgs) != 1 {
		t.Errorf("ordinary mail was consumed: %v", msgs)
	}
}
