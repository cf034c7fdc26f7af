package runner

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRunCapturesStdout(t *testing.T) {
	r := New()
	res, err := r.Run("", "", "sh", "-c", "echo hello; echo oops >&2")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "hello" {
		t.Errorf("stdout = %q, want hello", res.Stdout)
	}
	if strings.TrimSpace(res.Stderr) != "oops" {
		t.Errorf("stderr = %q, want oops", res.Stderr)
	}
	if !res.Ok() {
		t.Errorf("exit code = %d, want 0", res.ExitCode)
	}
}

func TestRunPropagatesExitCode(t *testing.T) {
	r := New()
	res, err := r.Run("", "", "sh", "-c", "exit 3")
	if err != nil {
		t.Fatalf("non-zero exit should not be an error, got %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", res.ExitCode)
	}
}

func TestRunMissingExecutable(t *testing.T) {
	r := New()
	_, err := r.Run("", "", "definitely-not-a-real-binary-xyz")
	if err == nil {
		t.Fatal("expected a launch error for a missing executable")
	}
}

func TestRunEmptyArgv(t *testing.T) {
	r := New()
	if _, err := r.Run("", ""); err != ErrEmptyArgv {
		t.Errorf("err = %v, want ErrEmptyArgv", err)
	}
}

func TestRunStdin(t *testing.T) {
	r := New()
	res, err := r.Run("", "ping\n", "cat")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Stdout != "ping\n" {
		t.Errorf("stdout = %q, want ping", res.Stdout)
	}
}

func TestRunContextTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	r := New()
	start := time.Now()
	_, err := r.RunContext(ctx, "", "", "sleep", "10")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("child was not killed promptly (took %s)", elapsed)
	}
}

func TestRunInDir(t *testing.T) {
	dir := t.TempDir()
	r := New()
	res, err := r.Run(dir, "", "pwd")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := strings.TrimSpace(res.Stdout); !strings.HasSuffix(got, dir[strings.LastIndex(dir, "/"):]) {
		t.Errorf("pwd = %q, want suffix of %q", got, dir)
	}
}

func TestTrimStderr(t *testing.T) {
	long := strings.Repeat("x", 600)
	if got := TrimStderr(long); len(got) != 500 {
		t.Errorf("len = %d, want 500", len(got))
	}
	if got := TrimStderr("  short \n"); got != "short" {
		t.Errorf("got %q, want short", got)
	}
}
