// Package overlay materializes the per-agent instruction file.
//
// The overlay has two layers: a static base section per capability and a
// dynamic section describing this agent's assignment. It is written once
// at spawn and never mutated by the lifecycle manager afterward.
package overlay

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileName is the instruction file written into each checkout.
const FileName = "OVERSTORY.md"

// Params is the dynamic layer of the overlay.
type Params struct {
	AgentName  string
	Capability string
	TaskID     string
	Depth      int
	CanSpawn   bool
	SpecPath   string
	FileScope  []string
}

// capabilityBase holds the static instruction section per capability.
// The wording is deliberately short; the runtime carries its own system
// prompt and this is the swarm contract on top of it.
var capabilityBase = map[string]string{
	"coordinator": `You are the coordinator. You decompose work, spawn leads, and arbitrate
escalations. You do not edit code directly.`,
	"lead": `You are a lead. You own one task tree: write the spec, spawn builders and
scouts for subtasks, review results, and report upward by mail.`,
	"builder": `You are a builder. Implement exactly the assigned task inside your own
checkout, commit on your branch, and send worker_done mail when finished.
Do not touch the canonical branch.`,
	"scout": `You are a scout. You explore and report: read code, run analyses, answer
questions by mail. You have no write access.`,
	"reviewer": `You are a reviewer. Review the referenced branch and report findings by
mail. You have no write access.`,
	"merger": `You are a merger. You operate the merge pipeline for branches handed to
you and report outcomes by mail.`,
	"supervisor": `You are a supervisor. You monitor agents in your subtree and may spawn
replacements for failed workers.`,
}

// Render produces the overlay content.
func Render(p Params) string {
	base, ok := capabilityBase[p.Capability]
	if !ok {
		base = "You are an Overstory agent."
	}

	var sb strings.Builder
	sb.WriteString("# Overstory agent brief\n\n")
	sb.WriteString(base)
	sb.WriteString("\n\n## Assignment\n\n")
	fmt.Fprintf(&sb, "- Name: %s\n", p.AgentName)
	fmt.Fprintf(&sb, "- Capability: %s\n", p.Capability)
	fmt.Fprintf(&sb, "- Task: %s\n", p.TaskID)
	fmt.Fprintf(&sb, "- Depth: %d\n", p.Depth)
	fmt.Fprintf(&sb, "- May spawn sub-agents: %t\n", p.CanSpawn)
	if p.SpecPath != "" {
		fmt.Fprintf(&sb, "- Spec: %s\n", p.SpecPath)
	}
	if len(p.FileScope) > 0 {
		fmt.Fprintf(&sb, "- File scope: %s\n", strings.Join(p.FileScope, ", "))
	}
	sb.WriteString("\n## Mail\n\n")
	fmt.Fprintf(&sb, "Check mail with `overstory mail list --to %s` and report with\n", p.AgentName)
	fmt.Fprintf(&sb, "`overstory mail send --from %s --to <recipient>`. Send a message of\n", p.AgentName)
	sb.WriteString("type `worker_done` to the orchestrator when your branch is ready.\n")
	return sb.String()
}

// Write materializes the overlay into a checkout.
func Write(checkoutPath string, p Params) error {
	path := filepath.Join(checkoutPath, FileName)
	if err := os.WriteFile(path, []byte(Render(p)), 0644); err != nil { //nolint:gosec // G306: instructions are non-sensitive
		return fmt.Errorf("writing overlay: %w", err)
	}
	return nil
}
