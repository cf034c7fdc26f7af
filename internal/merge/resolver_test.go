package merge

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cellexec/overstory/internal/config"
	"github.com/cellexec/overstory/internal/runner"
)

const conflictedContent = "<<<<<<< HEAD\nmain modified\n=======\nfeature\n>>>>>>> feature\n"

func TestKeepIncoming(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
		ok      bool
	}{
		{
			name:    "single hunk keeps incoming side",
			content: conflictedContent,
			want:    "feature\n",
			ok:      true,
		},
		{
			name:    "no markers is residual",
			content: "modified\n",
			ok:      false,
		},
		{
			name:    "empty file is residual",
			content: "",
			ok:      false,
		},
		{
			name: "surrounding context is preserved",
			content: "before\n<<<<<<< HEAD\nours\n=======\ntheirs\n>>>>>>> feature\nafter\n",
			want: "before\ntheirs\nafter\n",
			ok:   true,
		},
		{
			name: "multiple hunks",
			content: "<<<<<<< HEAD\na\n=======\nb\n>>>>>>> x\nmid\n<<<<<<< HEAD\nc\n=======\nd\n>>>>>>> x\n",
			want: "b\nmid\nd\n",
			ok:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := keepIncoming(tt.content)
			if ok != tt.ok {
				t.Fatalf("ok = %t, want %t", ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

// testResolver builds a resolver over a fake runner and a temp repo dir.
func testResolver(t *testing.T, cfg config.MergeConfig, fake *runner.Fake) (*Resolver, string) {
	t.Helper()
	repo := t.TempDir()
	if err := os.MkdirAll(filepath.Join(repo, ".overstory", "locks"), 0755); err != nil {
		t.Fatal(err)
	}
	r := NewResolver(repo, "main", cfg, []string{"fakeai", "--print"}, fake)
	return r, repo
}

func entryFor(branch string, files ...string) *Entry {
	return &Entry{
		BranchName:    branch,
		TaskID:        "T1",
		AgentName:     "impl",
		FilesModified: files,
		EnqueuedAt:    time.Now(),
		Status:        StatusPending,
	}
}

func TestResolveCleanMerge(t *testing.T) {
	fake := runner.NewFake()
	r, _ := testResolver(t, config.MergeConfig{}, fake)

	result := r.Resolve(entryFor("overstory/impl/T1"))
	if !result.Success || result.Tier != TierCleanMerge {
		t.Fatalf("result = %+v", result)
	}
	if result.Entry.Status != StatusMerged || result.Entry.ResolvedTier != TierCleanMerge {
		t.Errorf("entry not finalized: %+v", result.Entry)
	}

	lines := fake.CommandLines()
	if lines[0] != "git checkout main" {
		t.Errorf("first command = %q, want checkout of canonical", lines[0])
	}
	found := false
	for _, l := range lines {
		if l == "git merge --no-edit overstory/impl/T1" {
			found = true
		}
	}
	if !found {
		t.Errorf("merge command missing from transcript: %v", lines)
	}
}

func TestResolveAutoResolve(t *testing.T) {
	fake := runner.NewFake()
	fake.Stub("git merge --no-edit", runner.Result{ExitCode: 1, Stderr: "CONFLICT (content): Merge conflict in src/test.ts\nAutomatic merge failed"})
	fake.Stub("git diff --name-only --diff-filter=U", runner.Result{Stdout: "src/test.ts\n"})

	r, repo := testResolver(t, config.MergeConfig{}, fake)
	if err := os.MkdirAll(filepath.Join(repo, "src"), 0755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(repo, "src", "test.ts")
	if err := os.WriteFile(path, []byte(conflictedContent), 0644); err != nil {
		t.Fatal(err)
	}

	result := r.Resolve(entryFor("feature", "src/test.ts"))
	if !result.Success || result.Tier != TierAutoResolve {
		t.Fatalf("result = %+v (err %s)", result, result.ErrorMessage)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "feature\n" {
		t.Errorf("file = %q, want feature side kept", data)
	}
	if len(result.ConflictFiles) != 1 || result.ConflictFiles[0] != "src/test.ts" {
		t.Errorf("conflict files = %v", result.ConflictFiles)
	}
}

func TestResolveAllTiersDisabled(t *testing.T) {
	fake := runner.NewFake()
	fake.Stub("git merge --no-edit", runner.Result{ExitCode: 1, Stderr: "CONFLICT (modify/delete): src/test.ts"})
	fake.Stub("git diff --name-only --diff-filter=U", runner.Result{Stdout: "src/test.ts\n"})

	r, repo := testResolver(t, config.MergeConfig{AIResolveEnabled: false, ReimagineEnabled: false}, fake)
	// Delete/modify conflict: working copy has the surviving side, no markers.
	if err := os.MkdirAll(filepath.Join(repo, "src"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(repo, "src", "test.ts"), []byte("modified\n"), 0644); err != nil {
		t.Fatal(err)
	}

	result := r.Resolve(entryFor("feature", "src/test.ts"))
	if result.Success {
		t.Fatal("expected failure with all tiers disabled")
	}
	if result.Entry.ResolvedTier != "" {
		t.Errorf("resolvedTier = %q, want empty", result.Entry.ResolvedTier)
	}
	if result.ErrorMessage == "" {
		t.Error("errorMessage must be non-empty on failure")
	}
	if result.Entry.Status != StatusFailed {
		t.Errorf("status = %s, want failed", result.Entry.Status)
	}

	// The in-progress merge must have been aborted.
	aborted := false
	for _, l := range fake.CommandLines() {
		if l == "git merge --abort" {
			aborted = true
		}
	}
	if !aborted {
		t.Errorf("merge --abort missing from transcript: %v", fake.CommandLines())
	}
}

func TestResolveAIResolve(t *testing.T) {
	fake := runner.NewFake()
	fake.Stub("git merge --no-edit", runner.Result{ExitCode: 1, Stderr: "CONFLICT"})
	fake.Stub("git diff --name-only --diff-filter=U", runner.Result{Stdout: "src/test.ts\n"})
	fake.Stub("fakeai", runner.Result{Stdout: "resolved by assistant\n"})

	r, repo := testResolver(t, config.MergeConfig{AIResolveEnabled: true}, fake)
	if err := os.MkdirAll(filepath.Join(repo, "src"), 0755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(repo, "src", "test.ts")
	// No markers: tier 2 leaves it residual, tier 3 takes over.
	if err := os.WriteFile(path, []byte("modified\n"), 0644); err != nil {
		t.Fatal(err)
	}

	result := r.Resolve(entryFor("feature", "src/test.ts"))
	if !result.Success || result.Tier != TierAIResolve {
		t.Fatalf("result = %+v (err %s)", result, result.ErrorMessage)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "resolved by assistant\n" {
		t.Errorf("file = %q", data)
	}

	// The assistant received the working-copy content on stdin.
	var sawPrompt bool
	for _, c := range fake.Calls {
		if c.Argv[0] == "fakeai" && strings.Contains(c.Input, "modified") {
			sawPrompt = true
		}
	}
	if !sawPrompt {
		t.Error("assistant prompt missing file content")
	}
}

func TestResolveReimagine(t *testing.T) {
	fake := runner.NewFake()
	fake.Stub("git merge --no-edit", runner.Result{ExitCode: 1, Stderr: "CONFLICT"})
	fake.Stub("git diff --name-only --diff-filter=U", runner.Result{Stdout: "src/test.ts\n"})
	fake.Stub("git show main:src/test.ts", runner.Result{Stdout: "canonical version\n"})
	fake.Stub("git show feature:src/test.ts", runner.Result{Stdout: "branch version\n"})
	fake.Stub("fakeai", runner.Result{Stdout: "reimagined\n"})

	r, repo := testResolver(t, config.MergeConfig{AIResolveEnabled: false, ReimagineEnabled: true}, fake)
	if err := os.MkdirAll(filepath.Join(repo, "src"), 0755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(repo, "src", "test.ts")
	if err := os.WriteFile(path, []byte("modified\n"), 0644); err != nil {
		t.Fatal(err)
	}

	result := r.Resolve(entryFor("feature", "src/test.ts"))
	if !result.Success || result.Tier != TierReimagine {
		t.Fatalf("result = %+v (err %s)", result, result.ErrorMessage)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "reimagined\n" {
		t.Errorf("file = %q", data)
	}

	// Reimagine aborts the merge before rewriting onto canonical.
	lines := fake.CommandLines()
	abortIdx, showIdx := -1, -1
	for i, l := range lines {
		if l == "git merge --abort" && abortIdx == -1 {
			abortIdx = i
		}
		if strings.HasPrefix(l, "git show") && showIdx == -1 {
			showIdx = i
		}
	}
	if abortIdx == -1 || showIdx == -1 || abortIdx > showIdx {
		t.Errorf("abort must precede show: %v", lines)
	}
}

func TestResolveAssistantFailureEscalates(t *testing.T) {
	fake := runner.NewFake()
	fake.Stub("git merge --no-edit", runner.Result{ExitCode: 1, Stderr: "CONFLICT"})
	fake.Stub("git diff --name-only --diff-filter=U", runner.Result{Stdout: "src/test.ts\n"})
	fake.Stub("fakeai", runner.Result{ExitCode: 1, Stderr: "model overloaded"})

	r, repo := testResolver(t, config.MergeConfig{AIResolveEnabled: true, ReimagineEnabled: false}, fake)
	if err := os.MkdirAll(filepath.Join(repo, "src"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(repo, "src", "test.ts"), []byte("modified\n"), 0644); err != nil {
		t.Fatal(err)
	}

	result := r.Resolve(entryFor("feature", "src/test.ts"))
	if result.Success {
		t.Fatal("expected failure when tier 3 fails and tier 4 is disabled")
	}
	if result.ErrorMessage == "" {
		t.Error("errorMessage must be set")
	}
}
