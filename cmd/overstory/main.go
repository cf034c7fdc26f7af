/*
overstory orchestrates a swarm of autonomous coding-assistant workers
against a single repository.

Workers run as independent processes in isolated git worktrees inside
detached tmux sessions. They coordinate through a persistent mailbox,
their branches return to the canonical branch through a tiered merge
pipeline, and a watchdog monitors liveness.

Usage:

	overstory <command> [arguments]

Common commands:

	overstory init     Initialize the .overstory state directory
	overstory sling    Spawn a worker agent for a task
	overstory mail     Send, list, read, and check messages
	overstory merge    Drain the merge queue
	overstory watch    Run the watchdog
	overstory status   Report live agents

See 'overstory help <command>' for details on a specific command.
*/
package main

import (
	"os"

	"github.com/cellexec/overstory/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
