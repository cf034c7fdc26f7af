// Package guard deploys per-agent hook policies into a checkout.
//
// The policy is declarative JSON consumed by the hosted assistant
// runtime's hook mechanism; the deployer writes it and never interprets
// it. Safety here is policy, not kernel enforcement.
package guard

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cellexec/overstory/internal/constants"
)

// Policy is the capability contract the runtime's hooks evaluate.
type Policy struct {
	Agent      string `json:"agent"`
	Capability string `json:"capability"`

	// WriteScope is the only directory subtree Write/Edit may resolve
	// into. Empty means writes are denied entirely (scout, reviewer).
	WriteScope string `json:"write_scope,omitempty"`

	// ProtectedBranch may not be pushed to or history-rewritten.
	ProtectedBranch string `json:"protected_branch"`

	// DeniedTools are runtime tools blocked outright. Native sub-agent
	// spawning is always here so agents must go through the lifecycle
	// manager.
	DeniedTools []string `json:"denied_tools"`

	// DeniedCommands are command patterns the pre-tool-use hook rejects.
	DeniedCommands []string `json:"denied_commands"`
}

// alwaysDeniedTools blocks the runtime's own sub-agent spawning.
var alwaysDeniedTools = []string{"Task", "Agent"}

// readOnlyCapabilities cannot Write or Edit at all.
var readOnlyCapabilities = map[string]bool{
	"scout":    true,
	"reviewer": true,
}

// Build constructs the policy for an agent.
func Build(agentName, capability, checkoutPath, protectedBranch string) Policy {
	p := Policy{
		Agent:           agentName,
		Capability:      capability,
		ProtectedBranch: protectedBranch,
		DeniedTools:     append([]string(nil), alwaysDeniedTools...),
		DeniedCommands: []string{
			"git push*" + protectedBranch + "*",
			"git push --force*",
			"git push -f*",
			"git reset --hard*",
			"git rebase*" + protectedBranch + "*",
			"git branch -D " + protectedBranch,
		},
	}

	if readOnlyCapabilities[capability] {
		p.DeniedTools = append(p.DeniedTools, "Write", "Edit")
	} else {
		p.WriteScope = checkoutPath
	}
	return p
}

// Deploy writes the policy for an agent into its checkout and mirrors it
// under <root>/.overstory/hooks/. The pre-tool-use hook (`overstory guard
// check`) evaluates the mirror via Load; the checkout copy sits beside the
// settings file that wires the hook commands and is not read back here.
func Deploy(projectRoot, checkoutPath string, p Policy) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding policy: %w", err)
	}

	// Mirror under the project state dir.
	hooksDir := filepath.Join(projectRoot, constants.StateDir, "hooks")
	if err := os.MkdirAll(hooksDir, 0755); err != nil {
		return fmt.Errorf("creating hooks dir: %w", err)
	}
	mirror := filepath.Join(hooksDir, p.Agent+".json")
	if err := os.WriteFile(mirror, data, 0644); err != nil { //nolint:gosec // G306: policy is non-sensitive
		return fmt.Errorf("writing policy mirror: %w", err)
	}

	// Policy copy inside the checkout, next to the runtime settings.
	guardDir := filepath.Join(checkoutPath, ".claude")
	if err := os.MkdirAll(guardDir, 0755); err != nil {
		return fmt.Errorf("creating settings dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(guardDir, "guard-policy.json"), data, 0644); err != nil { //nolint:gosec // G306
		return fmt.Errorf("writing policy: %w", err)
	}

	settings, err := buildSettings(p)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(guardDir, "settings.json"), settings, 0644); err != nil { //nolint:gosec // G306
		return fmt.Errorf("writing settings: %w", err)
	}
	return nil
}

// buildSettings renders the runtime settings that wire our hooks: mail
// injection at the prompt boundary and the guard check before tool use.
func buildSettings(p Policy) ([]byte, error) {
	type hookCmd struct {
		Type    string `json:"type"`
		Command string `json:"command"`
	}
	type hookMatcher struct {
		Matcher string    `json:"matcher,omitempty"`
		Hooks   []hookCmd `json:"hooks"`
	}

	settings := map[string]any{
		"hooks": map[string][]hookMatcher{
			"UserPromptSubmit": {{
				Hooks: []hookCmd{{
					Type:    "command",
					Command: fmt.Sprintf("overstory mail check --inject --agent %s", p.Agent),
				}},
			}},
			"PreToolUse": {{
				Matcher: "Write|Edit|Bash",
				Hooks: []hookCmd{{
					Type:    "command",
					Command: fmt.Sprintf("overstory guard check --agent %s", p.Agent),
				}},
			}},
		},
	}
	return json.MarshalIndent(settings, "", "  ")
}

// Load reads a deployed policy from the project mirror.
func Load(projectRoot, agentName string) (*Policy, error) {
	path := filepath.Join(projectRoot, constants.StateDir, "hooks", agentName+".json")
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is constructed internally
	if err != nil {
		return nil, err
	}
	var p Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing policy: %w", err)
	}
	return &p, nil
}

// Remove deletes the project-side mirror for an agent. The checkout copy
// disappears with the worktree.
func Remove(projectRoot, agentName string) error {
	path := filepath.Join(projectRoot, constants.StateDir, "hooks", agentName+".json")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
