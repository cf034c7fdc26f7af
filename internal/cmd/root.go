// Package cmd provides the overstory CLI.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cellexec/overstory/internal/config"
	"github.com/cellexec/overstory/internal/mail"
	"github.com/cellexec/overstory/internal/workspace"
)

var rootCmd = &cobra.Command{
	Use:   "overstory",
	Short: "Overstory - autonomous coding-agent swarm orchestrator",
	Long: `Overstory orchestrates a swarm of coding-assistant workers against a
single repository. Workers run in isolated git worktrees inside detached
tmux sessions, coordinate through a persistent mailbox, and their
branches return to the canonical branch through a tiered merge pipeline.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and returns an exit code for main.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// Command groups for help output.
const (
	GroupWork = "work"
	GroupComm = "comm"
	GroupDiag = "diag"
)

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: GroupWork, Title: "Work Management:"},
		&cobra.Group{ID: GroupComm, Title: "Communication:"},
		&cobra.Group{ID: GroupDiag, Title: "Diagnostics:"},
	)
	rootCmd.SetHelpCommandGroupID(GroupDiag)
}

// project bundles the handles most commands need. Everything is built
// from explicit constructors so tests can assemble the same pieces
// against a temp directory.
type project struct {
	Root   string
	Cfg    *config.Config
	Store  *mail.Store
	Nudges *mail.Nudges
	Client *mail.Client
}

// openProject locates the project root from cwd and opens its state.
// The caller must Close when done.
func openProject() (*project, error) {
	root, err := workspace.FindFromCwd()
	if err != nil {
		return nil, err
	}
	return openProjectAt(root)
}

func openProjectAt(root string) (*project, error) {
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	store, err := mail.Open(root)
	if err != nil {
		return nil, err
	}
	nudges := mail.NewNudges(root)
	return &project{
		Root:   root,
		Cfg:    cfg,
		Store:  store,
		Nudges: nudges,
		Client: mail.NewClient(store, nudges),
	}, nil
}

// Close releases the project's store handle.
func (p *project) Close() {
	_ = p.Store.Close()
}
