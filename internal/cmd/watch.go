package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cellexec/overstory/internal/agent"
	"github.com/cellexec/overstory/internal/git"
	"github.com/cellexec/overstory/internal/merge"
	"github.com/cellexec/overstory/internal/orchestrator"
	"github.com/cellexec/overstory/internal/runner"
	"github.com/cellexec/overstory/internal/tmux"
	"github.com/cellexec/overstory/internal/watchdog"
)

var (
	watchVerbose      bool
	watchOrchestrator bool
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Short:   "Run the watchdog (and, with --orchestrate, the event loop)",
	GroupID: GroupWork,
	Args:    cobra.NoArgs,
	RunE:    runWatch,
}

func init() {
	watchCmd.Flags().BoolVarP(&watchVerbose, "verbose", "v", false, "debug logging")
	watchCmd.Flags().BoolVar(&watchOrchestrator, "orchestrate", false, "also run the merge event loop")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	log := newLogger(watchVerbose)
	t := tmux.New()
	r := runner.New()
	mgr := agent.NewManager(p.Root, p.Cfg, git.New(p.Root), t, p.Store)

	// Shutdown order on signal: the context stops the watchdog first;
	// any in-flight merge finishes inside the orchestrator's tick before
	// its loop observes cancellation. Workers are left running — they
	// reattach on the next start.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wd := watchdog.New(p.Root, p.Cfg.Watchdog, mgr, p.Store, t, r, p.Cfg.Agent.OneShotCommand, log)

	if watchOrchestrator {
		queue := merge.NewQueue(p.Root)
		resolver := merge.NewResolver(p.Root, p.Cfg.CanonicalBranch, p.Cfg.Merge, p.Cfg.Agent.OneShotCommand, r)
		o := orchestrator.New(p.Root, p.Cfg.CanonicalBranch, p.Client, mgr, queue, resolver, log)

		done := make(chan error, 1)
		go func() { done <- o.Run(ctx) }()

		err := wd.Run(ctx)
		oErr := <-done
		if errors.Is(err, context.Canceled) && errors.Is(oErr, context.Canceled) {
			return nil
		}
		return errors.Join(ignoreCanceled(err), ignoreCanceled(oErr))
	}

	if err := wd.Run(ctx); !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
