// Package tui renders the live status view for `overstory status --watch`.
package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/cellexec/overstory/internal/mail"
	"github.com/cellexec/overstory/internal/merge"
	"github.com/cellexec/overstory/internal/style"
)

// refreshInterval is how often the view re-reads the store and queue.
const refreshInterval = 2 * time.Second

// Snapshot is one refresh of everything the view shows.
type Snapshot struct {
	Agents  []*mail.AgentRecord
	Unread  map[string]int
	Pending []*merge.Entry
	Err     error
}

// Source produces snapshots; the CLI wires it to the store and queue.
type Source func() Snapshot

type tickMsg time.Time

// Model is the bubbletea model for the watch view.
type Model struct {
	source Source
	table  table.Model
	snap   Snapshot
	width  int
}

// NewModel builds the watch model.
func NewModel(source Source) Model {
	columns := []table.Column{
		{Title: "AGENT", Width: 16},
		{Title: "CAP", Width: 11},
		{Title: "TASK", Width: 12},
		{Title: "DEPTH", Width: 5},
		{Title: "BRANCH", Width: 32},
		{Title: "UNREAD", Width: 6},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(12),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.Bold(true).Foreground(style.ColorAccent).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true)
	s.Selected = s.Selected.Foreground(lipgloss.Color("15")).Background(style.ColorMuted)
	t.SetStyles(s)

	return Model{source: source, table: t}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refresh, tick())
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) refresh() tea.Msg {
	return m.source()
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, m.refresh
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tickMsg:
		return m, tea.Batch(m.refresh, tick())
	case Snapshot:
		m.snap = msg
		m.table.SetRows(rows(msg))
		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func rows(snap Snapshot) []table.Row {
	out := make([]table.Row, 0, len(snap.Agents))
	for _, a := range snap.Agents {
		out = append(out, table.Row{
			a.Name,
			a.Capability,
			a.TaskID,
			fmt.Sprintf("%d", a.Depth),
			a.Branch,
			fmt.Sprintf("%d", snap.Unread[a.Name]),
		})
	}
	return out
}

// View implements tea.Model.
func (m Model) View() string {
	header := style.Header.Render("Overstory") + style.Dim.Render("  q quit · r refresh")

	body := m.table.View()
	if len(m.snap.Agents) == 0 {
		body = style.Dim.Render("no live agents")
	}

	queue := style.Dim.Render("merge queue empty")
	if n := len(m.snap.Pending); n > 0 {
		lines := fmt.Sprintf("merge queue: %d pending", n)
		for _, e := range m.snap.Pending {
			lines += "\n  " + style.Warning.Render("⏳ ") + e.BranchName
		}
		queue = lines
	}

	errLine := ""
	if m.snap.Err != nil {
		errLine = "\n" + style.Error.Render(fmt.Sprintf("error: %v", m.snap.Err))
	}

	return lipgloss.JoinVertical(lipgloss.Left, header, "", body, "", queue) + errLine + "\n"
}

// Run starts the watch view and blocks until quit.
func Run(source Source) error {
	_, err := tea.NewProgram(NewModel(source), tea.WithAltScreen()).Run()
	return err
}
