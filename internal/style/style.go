// Package style centralizes lipgloss styles for CLI output.
package style

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Ayu-ish palette shared with the status TUI.
var (
	ColorAccent = lipgloss.AdaptiveColor{Light: "#399ee6", Dark: "#59c2ff"}
	ColorPass   = lipgloss.AdaptiveColor{Light: "#86b300", Dark: "#aad94c"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "#f2ae49", Dark: "#ffb454"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "#f07171", Dark: "#f26d78"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "#8a9199", Dark: "#565b66"}
)

var (
	Bold    = lipgloss.NewStyle().Bold(true)
	Dim     = lipgloss.NewStyle().Foreground(ColorMuted)
	Success = lipgloss.NewStyle().Foreground(ColorPass)
	Warning = lipgloss.NewStyle().Foreground(ColorWarn)
	Error   = lipgloss.NewStyle().Foreground(ColorFail)
	Accent  = lipgloss.NewStyle().Foreground(ColorAccent)

	Header = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
)

// Prefixes for one-line status output.
var (
	CheckPrefix   = Success.Render("✓")
	WarningPrefix = Warning.Render("⚠")
	CrossPrefix   = Error.Render("✗")
	ArrowPrefix   = Dim.Render("→")
)

// IsTTY reports whether stdout is a terminal. Piped output gets plain
// text; lipgloss handles the actual color stripping via termenv, this is
// for layout decisions (tables vs machine-friendly lines).
func IsTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}
