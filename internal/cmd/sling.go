package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cellexec/overstory/internal/agent"
	"github.com/cellexec/overstory/internal/git"
	"github.com/cellexec/overstory/internal/style"
	"github.com/cellexec/overstory/internal/tmux"
)

var (
	slingTask       string
	slingCapability string
	slingName       string
	slingSpec       string
	slingFiles      string
	slingParent     string
	slingDepth      int
	slingBase       string
)

var slingCmd = &cobra.Command{
	Use:     "sling",
	Short:   "Spawn a worker agent for a task",
	GroupID: GroupWork,
	Args:    cobra.NoArgs,
	RunE:    runSling,
}

func init() {
	slingCmd.Flags().StringVar(&slingTask, "task", "", "task identifier (required)")
	slingCmd.Flags().StringVar(&slingCapability, "capability", "builder", "agent capability")
	slingCmd.Flags().StringVar(&slingName, "name", "", "agent name (required)")
	slingCmd.Flags().StringVar(&slingSpec, "spec", "", "path to the task spec")
	slingCmd.Flags().StringVar(&slingFiles, "files", "", "comma-separated file scope")
	slingCmd.Flags().StringVar(&slingParent, "parent", "", "parent agent name")
	slingCmd.Flags().IntVar(&slingDepth, "depth", 0, "hierarchy depth")
	slingCmd.Flags().StringVar(&slingBase, "base", "", "base branch (defaults to canonical)")
	_ = slingCmd.MarkFlagRequired("task")
	_ = slingCmd.MarkFlagRequired("name")
	rootCmd.AddCommand(slingCmd)
}

func runSling(cmd *cobra.Command, args []string) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	capability, err := agent.ParseCapability(slingCapability)
	if err != nil {
		return err
	}

	var fileScope []string
	if slingFiles != "" {
		for _, f := range strings.Split(slingFiles, ",") {
			if f = strings.TrimSpace(f); f != "" {
				fileScope = append(fileScope, f)
			}
		}
	}

	mgr := agent.NewManager(p.Root, p.Cfg, git.New(p.Root), tmux.New(), p.Store)
	a, err := mgr.Spawn(agent.SpawnRequest{
		Name:       slingName,
		Capability: capability,
		TaskID:     slingTask,
		Parent:     slingParent,
		Depth:      slingDepth,
		SpecPath:   slingSpec,
		FileScope:  fileScope,
		BaseBranch: slingBase,
	})
	if err != nil {
		return err
	}

	fmt.Printf("%s Spawned %s (%s) for task %s\n", style.CheckPrefix, a.Name, a.Capability, a.TaskID)
	fmt.Printf("  Branch:   %s\n", a.Branch)
	fmt.Printf("  Worktree: %s\n", a.Worktree)
	fmt.Printf("  Session:  %s (pid %d)\n", a.Session, a.SessionPID)
	return nil
}
