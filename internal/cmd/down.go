package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cellexec/overstory/internal/agent"
	"github.com/cellexec/overstory/internal/git"
	"github.com/cellexec/overstory/internal/style"
	"github.com/cellexec/overstory/internal/tmux"
)

var downCmd = &cobra.Command{
	Use:     "down [agent...]",
	Short:   "Tear down agents (all of them with no arguments)",
	GroupID: GroupWork,
	RunE:    runDown,
}

func init() {
	rootCmd.AddCommand(downCmd)
}

func runDown(cmd *cobra.Command, args []string) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	mgr := agent.NewManager(p.Root, p.Cfg, git.New(p.Root), tmux.New(), p.Store)

	names := args
	if len(names) == 0 {
		agents, err := mgr.List()
		if err != nil {
			return err
		}
		for _, a := range agents {
			names = append(names, a.Name)
		}
	}

	if len(names) == 0 {
		fmt.Println(style.Dim.Render("nothing to tear down"))
		return nil
	}

	failures := 0
	for _, name := range names {
		if err := mgr.Teardown(name); err != nil {
			failures++
			fmt.Printf("%s %s: %v\n", style.CrossPrefix, name, err)
			continue
		}
		fmt.Printf("%s %s torn down\n", style.CheckPrefix, name)
	}

	if failures > 0 {
		return fmt.Errorf("%d teardown(s) reported problems", failures)
	}
	return nil
}
