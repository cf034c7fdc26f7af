package git

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cellexec/overstory/internal/constants"
)

// Common worktree errors.
var (
	ErrBranchExists   = errors.New("branch already exists")
	ErrPathOccupied   = errors.New("worktree path already exists")
	ErrWorktreeAbsent = errors.New("worktree not in listing")
)

// Worktree is one entry of the worktree listing.
type Worktree struct {
	Path   string
	Head   string
	Branch string // stripped of refs/heads/
}

// CreateOptions configures AddAgentWorktree.
type CreateOptions struct {
	BaseDir    string // parent directory for checkouts
	AgentName  string
	TaskID     string
	BaseBranch string // start point for the new branch
}

// AddAgentWorktree creates an isolated checkout for an agent on a fresh
// branch overstory/<name>/<task> starting from the base branch. The
// underlying tool's stderr is surfaced verbatim on failure.
func (g *Git) AddAgentWorktree(opts CreateOptions) (path, branch string, err error) {
	branch = constants.BranchName(opts.AgentName, opts.TaskID)
	path = filepath.Join(opts.BaseDir, opts.AgentName)

	if exists, err := g.BranchExists(branch); err != nil {
		return "", "", err
	} else if exists {
		return "", "", fmt.Errorf("%w: %s", ErrBranchExists, branch)
	}

	if _, err := g.git("worktree", "add", "-b", branch, path, opts.BaseBranch); err != nil {
		var gitErr *GitError
		if errors.As(err, &gitErr) && strings.Contains(gitErr.Stderr, "already exists") {
			return "", "", fmt.Errorf("%w: %s (%s)", ErrPathOccupied, path, gitErr.Stderr)
		}
		return "", "", err
	}
	return path, branch, nil
}

// WorktreeList parses `worktree list --porcelain` into entries. Branch
// names come back without the refs/heads/ prefix; detached worktrees have
// an empty Branch.
func (g *Git) WorktreeList() ([]Worktree, error) {
	out, err := g.git("worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}

	var worktrees []Worktree
	var current Worktree

	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			if current.Path != "" {
				worktrees = append(worktrees, current)
				current = Worktree{}
			}
			continue
		}
		switch {
		case strings.HasPrefix(line, "worktree "):
			current.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "HEAD "):
			current.Head = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			current.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		}
	}
	if current.Path != "" {
		worktrees = append(worktrees, current)
	}

	return worktrees, nil
}

// RemoveWorktree removes a checkout and then attempts to delete its
// branch. The two phases are deliberately asymmetric: a branch that won't
// delete (typically "not fully merged") must never block cleanup of the
// checkout, so that failure is swallowed. If the path is not in the
// listing at all, the branch-delete step is skipped.
func (g *Git) RemoveWorktree(path string) error {
	worktrees, err := g.WorktreeList()
	if err != nil {
		return err
	}

	var branch string
	found := false
	for _, wt := range worktrees {
		if samePath(wt.Path, path) {
			branch = wt.Branch
			found = true
			break
		}
	}

	if _, err := g.git("worktree", "remove", "--force", path); err != nil {
		return err
	}

	if found && branch != "" {
		// Best-effort: unmerged work legitimately blocks -d.
		_ = g.DeleteBranch(branch, false)
	}
	return nil
}

// WorktreePrune removes listing entries for deleted paths.
func (g *Git) WorktreePrune() error {
	_, err := g.git("worktree", "prune")
	return err
}

// samePath compares paths after cleaning; worktree listings print
// absolute cleaned paths but callers may hold a trailing slash.
func samePath(a, b string) bool {
	return filepath.Clean(a) == filepath.Clean(b)
}
