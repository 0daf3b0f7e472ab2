package cmd

import (
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/felixgeelhaar/stocktake/internal/health"
)

// Styles contains lipgloss styles for terminal output
type Styles struct {
	Title   lipgloss.Style
	Prompt  lipgloss.Style
	Error   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Muted   lipgloss.Style
	Key     lipgloss.Style
	Banner  lipgloss.Style
}

// newStyles builds styles for w. The renderer inspects w, so output to a
// pipe or buffer carries no escape codes.
func newStyles(w io.Writer) Styles {
	r := lipgloss.NewRenderer(w)
	return Styles{
		Title: r.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("63")), // Purple
		Prompt: r.NewStyle().
			Foreground(lipgloss.Color("86")), // Cyan
		Error: r.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196")), // Red
		Success: r.NewStyle().
			Foreground(lipgloss.Color("46")), // Green
		Warning: r.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("226")), // Yellow
		Muted: r.NewStyle().
			Foreground(lipgloss.Color("241")), // Gray
		Key: r.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("63")),
		Banner: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("196")).
			Padding(0, 1),
	}
}

// status renders a health status word in its color.
func (s Styles) status(st health.Status) string {
	switch st {
	case health.StatusHealthy:
		return s.Success.Render("✓ " + st.String())
	case health.StatusDegraded:
		return s.Warning.Render("! " + st.String())
	default:
		return s.Error.Render("✗ " + st.String())
	}
}
