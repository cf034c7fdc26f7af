package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cellexec/overstory/internal/guard"
)

var guardCmd = &cobra.Command{
	Use:    "guard",
	Short:  "Hook-side guard evaluation",
	Hidden: true, // invoked by the runtime's hooks, not operators
}

var guardCheckAgent string

var guardCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Evaluate a tool call against the agent's policy",
	Long: `Reads the runtime's pre-tool-use hook JSON from stdin and evaluates it
against the deployed policy. Exit 0 allows the call; exit 2 blocks it
with the reason on stderr (the runtime's hook contract).`,
	Args: cobra.NoArgs,
	RunE: runGuardCheck,
}

func init() {
	guardCheckCmd.Flags().StringVar(&guardCheckAgent, "agent", "", "agent name (required)")
	_ = guardCheckCmd.MarkFlagRequired("agent")
	guardCmd.AddCommand(guardCheckCmd)
	rootCmd.AddCommand(guardCmd)
}

// hookInput is the slice of the runtime's hook payload the guard reads.
type hookInput struct {
	ToolName  string `json:"tool_name"`
	ToolInput struct {
		FilePath string `json:"file_path"`
		Command  string `json:"command"`
	} `json:"tool_input"`
}

func runGuardCheck(cmd *cobra.Command, args []string) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	policy, err := guard.Load(p.Root, guardCheckAgent)
	if err != nil {
		// No policy means nothing to enforce; never block on our own
		// bookkeeping failure.
		return nil
	}

	var in hookInput
	if err := json.NewDecoder(os.Stdin).Decode(&in); err != nil {
		return nil // unreadable payload: allow, the runtime enforces its own defaults
	}

	if reason := evaluate(policy, &in); reason != "" {
		fmt.Fprintln(os.Stderr, reason)
		os.Exit(2)
	}
	return nil
}

// evaluate returns a denial reason, or "" to allow.
func evaluate(p *guard.Policy, in *hookInput) string {
	for _, denied := range p.DeniedTools {
		if in.ToolName == denied {
			return fmt.Sprintf("tool %s is blocked for capability %s", in.ToolName, p.Capability)
		}
	}

	if (in.ToolName == "Write" || in.ToolName == "Edit") && p.WriteScope != "" {
		abs, err := filepath.Abs(in.ToolInput.FilePath)
		if err != nil || !strings.HasPrefix(abs+string(filepath.Separator), filepath.Clean(p.WriteScope)+string(filepath.Separator)) {
			return fmt.Sprintf("write outside checkout %s is blocked", p.WriteScope)
		}
	}

	if in.ToolName == "Bash" {
		for _, pattern := range p.DeniedCommands {
			if matchCommand(pattern, in.ToolInput.Command) {
				return fmt.Sprintf("command matches blocked pattern %q", pattern)
			}
		}
	}
	return ""
}

// matchCommand does glob-ish matching: '*' matches anything, everything
// else is a literal substring anchor.
func matchCommand(pattern, command string) bool {
	parts := strings.Split(pattern, "*")
	rest := command
	for i, part := range parts {
		if part == "" {
			continue
		}
		idx := strings.Index(rest, part)
		if idx < 0 {
			return false
		}
		if i == 0 && idx != 0 {
			return false // first literal must anchor at the start
		}
		rest = rest[idx+len(part):]
	}
	return true
}
