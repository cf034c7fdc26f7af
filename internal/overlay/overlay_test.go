package overlay

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRenderContainsAssignment(t *testing.T) {
	out := Render(Params{
		AgentName:  "impl",
		Capability: "builder",
		TaskID:     "T1",
		Depth:      1,
		CanSpawn:   false,
		SpecPath:   "specs/T1.md",
		FileScope:  []string{"src/a.ts", "src/b.ts"},
	})

	for _, want := range []string{
		"Name: impl",
		"Task: T1",
		"Depth: 1",
		"May spawn sub-agents: false",
		"Spec: specs/T1.md",
		"src/a.ts, src/b.ts",
		"worker_done",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("overlay missing %q:\n%s", want, out)
		}
	}

	// The builder base section is the static layer.
	if !strings.Contains(out, "You are a builder") {
		t.Error("capability base section missing")
	}
}

func TestRenderOmitsEmptyFields(t *testing.T) {
	out := Render(Params{AgentName: "probe", Capability: "scout", TaskID: "T2"})
	if strings.Contains(out, "Spec:") {
		t.Error("empty spec path rendered")
	}
	if strings.Contains(out, "File scope:") {
		t.Error("empty file scope rendered")
	}
}

func TestWrite(t *testing.T) {
	dir := t.TempDir()
	if err := Write(dir, Params{AgentName: "impl", Capability: "builder", TaskID: "T1"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		t.Fatalf("reading overlay: %v", err)
	}
	if !strings.Contains(string(data), "impl") {
		t.Error("overlay content missing agent name")
	}
}
