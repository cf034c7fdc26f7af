package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cellexec/overstory/internal/style"
)

var agentsJSON bool

var agentsCmd = &cobra.Command{
	Use:     "agents",
	Short:   "List live agent records",
	GroupID: GroupDiag,
	Args:    cobra.NoArgs,
	RunE:    runAgents,
}

func init() {
	agentsCmd.Flags().BoolVar(&agentsJSON, "json", false, "JSON output")
	rootCmd.AddCommand(agentsCmd)
}

func runAgents(cmd *cobra.Command, args []string) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	agents, err := p.Store.ListAgents()
	if err != nil {
		return err
	}

	if agentsJSON {
		return json.NewEncoder(os.Stdout).Encode(agents)
	}

	if len(agents) == 0 {
		fmt.Println(style.Dim.Render("no live agents"))
		return nil
	}
	for _, a := range agents {
		fmt.Printf("%-16s %-11s task=%-10s parent=%-12s depth=%d spawn=%t\n",
			a.Name, a.Capability, a.TaskID, orDash(a.Parent), a.Depth, a.CanSpawn)
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
