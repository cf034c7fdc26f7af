package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cellexec/overstory/internal/config"
	"github.com/cellexec/overstory/internal/constants"
	"github.com/cellexec/overstory/internal/mail"
	"github.com/cellexec/overstory/internal/style"
)

var initCmd = &cobra.Command{
	Use:     "init",
	Short:   "Initialize the .overstory state directory in the current repo",
	GroupID: GroupWork,
	Args:    cobra.NoArgs,
	RunE:    runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}

	stateDir := filepath.Join(cwd, constants.StateDir)
	for _, dir := range []string{
		stateDir,
		filepath.Join(stateDir, "worktrees"),
		filepath.Join(stateDir, "specs"),
		filepath.Join(stateDir, "hooks"),
		filepath.Join(stateDir, mail.NudgeDir),
		filepath.Join(stateDir, "locks"),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	if _, err := os.Stat(config.Path(cwd)); os.IsNotExist(err) {
		if err := config.Save(cwd, config.Default()); err != nil {
			return err
		}
	}

	// Open once so the mailbox schema exists before the first agent does.
	store, err := mail.Open(cwd)
	if err != nil {
		return err
	}
	_ = store.Close()

	fmt.Printf("%s Initialized %s\n", style.CheckPrefix, stateDir)
	return nil
}
