package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/cellexec/overstory/internal/agent"
	"github.com/cellexec/overstory/internal/git"
	"github.com/cellexec/overstory/internal/merge"
	"github.com/cellexec/overstory/internal/orchestrator"
	"github.com/cellexec/overstory/internal/runner"
	"github.com/cellexec/overstory/internal/style"
	"github.com/cellexec/overstory/internal/tmux"
)

var mergeVerbose bool

var mergeCmd = &cobra.Command{
	Use:     "merge",
	Short:   "Drain the merge queue sequentially",
	GroupID: GroupWork,
	Args:    cobra.NoArgs,
	RunE:    runMerge,
}

func init() {
	mergeCmd.Flags().BoolVarP(&mergeVerbose, "verbose", "v", false, "debug logging")
	rootCmd.AddCommand(mergeCmd)
}

// newLogger builds the tinted slog logger the daemon surfaces share.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
	}))
}

func runMerge(cmd *cobra.Command, args []string) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	log := newLogger(mergeVerbose)
	mgr := agent.NewManager(p.Root, p.Cfg, git.New(p.Root), tmux.New(), p.Store)
	queue := merge.NewQueue(p.Root)
	resolver := merge.NewResolver(p.Root, p.Cfg.CanonicalBranch, p.Cfg.Merge, p.Cfg.Agent.OneShotCommand, runner.New())
	o := orchestrator.New(p.Root, p.Cfg.CanonicalBranch, p.Client, mgr, queue, resolver, log)

	before, err := queue.Pending()
	if err != nil {
		return err
	}

	o.Tick()

	after, err := queue.All()
	if err != nil {
		return err
	}

	merged, failed := 0, 0
	for _, e := range after {
		switch e.Status {
		case merge.StatusMerged:
			merged++
		case merge.StatusFailed:
			failed++
		}
	}

	fmt.Printf("%s Queue drained: %d pending before, %d merged total, %d failed total\n",
		style.CheckPrefix, len(before), merged, failed)
	if failed > 0 {
		return fmt.Errorf("%d merge(s) failed; see escalation mail", failed)
	}
	return nil
}
