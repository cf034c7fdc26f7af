package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cellexec/overstory/internal/merge"
	"github.com/cellexec/overstory/internal/style"
	"github.com/cellexec/overstory/internal/tmux"
	"github.com/cellexec/overstory/internal/tui"
)

var statusWatch bool

var statusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Report live agents, mail, and the merge queue",
	GroupID: GroupDiag,
	Args:    cobra.NoArgs,
	RunE:    runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusWatch, "watch", false, "live-updating view")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	queue := merge.NewQueue(p.Root)

	snapshot := func() tui.Snapshot {
		snap := tui.Snapshot{Unread: make(map[string]int)}
		agents, err := p.Store.ListAgents()
		if err != nil {
			snap.Err = err
			return snap
		}
		snap.Agents = agents
		for _, a := range agents {
			n, err := p.Store.CountUnread(a.Name)
			if err == nil {
				snap.Unread[a.Name] = n
			}
		}
		pending, err := queue.Pending()
		if err != nil {
			snap.Err = err
			return snap
		}
		snap.Pending = pending
		return snap
	}

	if statusWatch {
		return tui.Run(snapshot)
	}

	snap := snapshot()
	if snap.Err != nil {
		return snap.Err
	}

	if len(snap.Agents) == 0 {
		fmt.Println(style.Dim.Render("no live agents"))
	} else {
		t := tmux.New()
		fmt.Println(style.Header.Render("AGENTS"))
		for _, a := range snap.Agents {
			liveness := style.Success.Render("live")
			if alive, err := t.HasSession(a.Session); err == nil && !alive {
				liveness = style.Error.Render("dead")
			}
			fmt.Printf("  %-16s %-10s task=%-10s depth=%d unread=%d %s\n",
				a.Name, a.Capability, a.TaskID, a.Depth, snap.Unread[a.Name], liveness)
			fmt.Printf("    %s\n", style.Dim.Render(a.Branch))
		}
	}

	if len(snap.Pending) > 0 {
		fmt.Println(style.Header.Render("MERGE QUEUE"))
		for _, e := range snap.Pending {
			fmt.Printf("  %s %s (task %s)\n", style.Warning.Render("⏳"), e.BranchName, e.TaskID)
		}
	}
	return nil
}
