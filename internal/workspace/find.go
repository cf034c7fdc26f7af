// Package workspace provides project root detection.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cellexec/overstory/internal/constants"
)

// ErrNotFound indicates no Overstory project was found.
var ErrNotFound = errors.New("not in an Overstory project")

// Find locates the project root by walking up from the given directory
// looking for a .overstory/ state directory. Worktrees live under
// .overstory/worktrees/, so agents inside a checkout still resolve to the
// outer project root. Does not resolve symlinks to stay consistent with
// os.Getwd().
func Find(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}

	current := absDir
	for {
		marker := filepath.Join(current, constants.StateDir)
		if info, err := os.Stat(marker); err == nil && info.IsDir() {
			// A worktree contains no .overstory of its own, so the first
			// hit walking upward is the project root.
			return current, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			return "", ErrNotFound
		}
		current = parent
	}
}

// FindFromCwd locates the project root from the current working directory.
// If getcwd fails (e.g., the worktree was removed underneath us), falls
// back to the OVERSTORY_ROOT env var set in agent sessions.
func FindFromCwd() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		if root := os.Getenv("OVERSTORY_ROOT"); root != "" {
			if info, statErr := os.Stat(filepath.Join(root, constants.StateDir)); statErr == nil && info.IsDir() {
				return root, nil
			}
		}
		return "", fmt.Errorf("getting current directory: %w", err)
	}
	return Find(cwd)
}

// StateDir returns the .overstory directory for a project root.
func StateDir(root string) string {
	return filepath.Join(root, constants.StateDir)
}

// IsProject checks whether dir is an Overstory project root.
func IsProject(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, constants.StateDir))
	return err == nil && info.IsDir()
}
