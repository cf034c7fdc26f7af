// Package constants holds shared naming conventions and tuning values.
package constants

import "time"

// StateDir is the per-project state directory at the repo root.
const StateDir = ".overstory"

// OrchestratorName is the reserved mail address for the human-driven
// top-level session.
const OrchestratorName = "orchestrator"

// SessionPrefix is prepended to agent names to form tmux session names.
const SessionPrefix = "overstory-"

// BranchPrefix is the namespace for agent work branches.
// Full form: overstory/<agentName>/<taskId>.
const BranchPrefix = "overstory/"

// DefaultCanonicalBranch is the branch merges land on unless configured.
const DefaultCanonicalBranch = "main"

// DefaultDebounceMs is the pause between pasting text into a session
// and sending Enter. Tuned against the assistant's input buffer.
const DefaultDebounceMs = 100

// DefaultStaggerDelay is the wait between creating a session and sending
// its task beacon, giving the assistant time to finish booting.
const DefaultStaggerDelay = 8 * time.Second

// SessionName returns the tmux session name for an agent.
func SessionName(agentName string) string {
	return SessionPrefix + agentName
}

// BranchName returns the work branch for an agent and task.
func BranchName(agentName, taskID string) string {
	return BranchPrefix + agentName + "/" + taskID
}
