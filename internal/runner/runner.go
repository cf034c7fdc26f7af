// Package runner launches external commands and captures their output.
//
// Every component that shells out (git, tmux, the assistant CLI) goes
// through a Runner so tests can substitute a fake and record the exact
// command shapes. The runner imposes no timeout of its own; callers
// compose timeouts via RunContext.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
)

// Result holds the captured streams and exit status of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Ok reports whether the command exited zero.
func (r *Result) Ok() bool {
	return r.ExitCode == 0
}

// Runner executes external commands.
type Runner interface {
	// Run executes argv in dir (empty dir means inherit cwd) with stdin
	// fed from input. A non-zero exit is NOT an error: the Result carries
	// the exit code and callers interpret it. The returned error is
	// reserved for launch failures (executable not found, fork failure).
	Run(dir string, input string, argv ...string) (*Result, error)

	// RunContext is Run bounded by a context. On cancellation the child's
	// whole process group is killed so grandchildren don't linger.
	RunContext(ctx context.Context, dir string, input string, argv ...string) (*Result, error)
}

// ErrEmptyArgv indicates Run was called with no command.
var ErrEmptyArgv = errors.New("empty argv")

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// New returns the default subprocess runner.
func New() *ExecRunner {
	return &ExecRunner{}
}

// Run implements Runner.
func (e *ExecRunner) Run(dir string, input string, argv ...string) (*Result, error) {
	return e.RunContext(context.Background(), dir, input, argv...)
}

// RunContext implements Runner.
func (e *ExecRunner) RunContext(ctx context.Context, dir string, input string, argv ...string) (*Result, error) {
	if len(argv) == 0 {
		return nil, ErrEmptyArgv
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...) //nolint:gosec // G204: argv is built by callers from internal config
	if dir != "" {
		cmd.Dir = dir
	}
	if input != "" {
		cmd.Stdin = strings.NewReader(input)
	}

	// Run the child in its own process group so a context cancellation
	// takes the whole tree down, not just the immediate child.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// Normal completion with non-zero status.
			res.ExitCode = exitErr.ExitCode()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, fmt.Errorf("command %s: %w", argv[0], ctxErr)
			}
			return res, nil
		}
		// Launch failure: executable missing, permission denied, etc.
		return nil, fmt.Errorf("running %s: %w", argv[0], err)
	}

	return res, nil
}

// TrimStderr returns stderr trimmed for operator-facing error messages.
// Long tool output is cut at 500 chars so failures stay readable.
func TrimStderr(stderr string) string {
	s := strings.TrimSpace(stderr)
	if len(s) > 500 {
		s = s[:500]
	}
	return s
}
