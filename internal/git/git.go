// Package git wraps version-control operations via subprocess.
package git

import (
	"fmt"
	"strings"

	"github.com/cellexec/overstory/internal/runner"
)

// GitError carries the raw output of a failed git command so callers can
// surface the tool's own words to the operator.
type GitError struct {
	Command string
	Args    []string
	Stdout  string
	Stderr  string
	Code    int
}

func (e *GitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("git %s: %s", e.Command, runner.TrimStderr(e.Stderr))
	}
	return fmt.Sprintf("git %s: exit %d", e.Command, e.Code)
}

// Git wraps git operations for a working directory.
type Git struct {
	workDir string
	run     runner.Runner
}

// New creates a Git wrapper for the given directory using the default
// subprocess runner.
func New(workDir string) *Git {
	return NewWithRunner(workDir, runner.New())
}

// NewWithRunner creates a Git wrapper with an injected runner. Tests use
// this to record command shapes without a real repository.
func NewWithRunner(workDir string, r runner.Runner) *Git {
	return &Git{workDir: workDir, run: r}
}

// WorkDir returns the working directory for this Git instance.
func (g *Git) WorkDir() string {
	return g.workDir
}

// git executes a git command and returns trimmed stdout.
func (g *Git) git(args ...string) (string, error) {
	argv := append([]string{"git"}, args...)
	res, err := g.run.Run(g.workDir, "", argv...)
	if err != nil {
		return "", fmt.Errorf("git %s: %w", args[0], err)
	}
	if !res.Ok() {
		return "", &GitError{
			Command: command(args),
			Args:    args,
			Stdout:  strings.TrimSpace(res.Stdout),
			Stderr:  strings.TrimSpace(res.Stderr),
			Code:    res.ExitCode,
		}
	}
	return strings.TrimSpace(res.Stdout), nil
}

// command picks the subcommand name out of an arg list for error messages.
func command(args []string) string {
	for _, a := range args {
		if !strings.HasPrefix(a, "-") {
			return a
		}
	}
	if len(args) > 0 {
		return args[0]
	}
	return ""
}

// IsRepo returns true if the workDir is inside a git repository.
func (g *Git) IsRepo() bool {
	_, err := g.git("rev-parse", "--git-dir")
	return err == nil
}

// Checkout checks out the given ref.
func (g *Git) Checkout(ref string) error {
	_, err := g.git("checkout", ref)
	return err
}

// CurrentBranch returns the checked-out branch name.
func (g *Git) CurrentBranch() (string, error) {
	return g.git("branch", "--show-current")
}

// Merge runs a non-interactive merge of branch into the current HEAD.
// A conflicted merge surfaces as a *GitError whose output mentions
// CONFLICT; use IsConflict to classify.
func (g *Git) Merge(branch string) error {
	_, err := g.git("merge", "--no-edit", branch)
	return err
}

// IsConflict reports whether err is a merge failure caused by conflicts
// (as opposed to, say, an unknown ref).
func IsConflict(err error) bool {
	gitErr, ok := err.(*GitError)
	if !ok {
		return false
	}
	return strings.Contains(gitErr.Stderr, "CONFLICT") ||
		strings.Contains(gitErr.Stdout, "CONFLICT") ||
		strings.Contains(gitErr.Stderr, "Automatic merge failed") ||
		strings.Contains(gitErr.Stdout, "Automatic merge failed")
}

// AbortMerge aborts an in-progress merge. "No merge to abort" is not an
// error: the goal is a clean working copy either way.
func (g *Git) AbortMerge() error {
	_, err := g.git("merge", "--abort")
	if err != nil {
		if gitErr, ok := err.(*GitError); ok &&
			strings.Contains(gitErr.Stderr, "MERGE_HEAD missing") {
			return nil
		}
		return err
	}
	return nil
}

// ConflictedFiles returns paths with unresolved conflicts.
func (g *Git) ConflictedFiles() ([]string, error) {
	out, err := g.git("diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// Add stages the given paths.
func (g *Git) Add(paths ...string) error {
	args := append([]string{"add", "--"}, paths...)
	_, err := g.git(args...)
	return err
}

// AddAll stages everything, including deletions.
func (g *Git) AddAll() error {
	_, err := g.git("add", "-A")
	return err
}

// Commit commits staged changes with the given message.
func (g *Git) Commit(message string) error {
	_, err := g.git("commit", "-m", message)
	return err
}

// CommitNoEdit concludes a merge with the tool's default merge message.
func (g *Git) CommitNoEdit() error {
	_, err := g.git("commit", "--no-edit")
	return err
}

// Show returns the content of path as committed on branch.
func (g *Git) Show(branch, path string) (string, error) {
	// No TrimSpace here: file content must round-trip byte-for-byte.
	argv := []string{"git", "show", branch + ":" + path}
	res, err := g.run.Run(g.workDir, "", argv...)
	if err != nil {
		return "", fmt.Errorf("git show: %w", err)
	}
	if !res.Ok() {
		return "", &GitError{
			Command: "show",
			Args:    argv[1:],
			Stdout:  strings.TrimSpace(res.Stdout),
			Stderr:  strings.TrimSpace(res.Stderr),
			Code:    res.ExitCode,
		}
	}
	return res.Stdout, nil
}

// StatusPorcelain returns the machine-readable status output.
func (g *Git) StatusPorcelain() (string, error) {
	return g.git("status", "--porcelain")
}

// IsClean reports whether the working copy has no pending changes.
func (g *Git) IsClean() (bool, error) {
	out, err := g.StatusPorcelain()
	if err != nil {
		return false, err
	}
	return out == "", nil
}

// BranchExists checks whether a local branch exists.
func (g *Git) BranchExists(name string) (bool, error) {
	_, err := g.git("rev-parse", "--verify", "refs/heads/"+name)
	if err != nil {
		if _, ok := err.(*GitError); ok {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// DeleteBranch deletes a local branch. With force=false, git refuses to
// delete unmerged branches; that refusal comes back as a *GitError.
func (g *Git) DeleteBranch(name string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	_, err := g.git("branch", flag, name)
	return err
}

// Rev resolves a ref to a commit hash.
func (g *Git) Rev(ref string) (string, error) {
	return g.git("rev-parse", ref)
}

// ResetHard discards all working-copy changes back to HEAD. The merge
// resolver uses this to guarantee a clean tree after a failed tier.
func (g *Git) ResetHard() error {
	_, err := g.git("reset", "--hard", "HEAD")
	return err
}
