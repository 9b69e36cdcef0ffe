// Package watch is a live terminal view of the drill front end: health,
// per-command outcomes and the raw event stream, fed by the web server's
// /events endpoint.
package watch

import "github.com/charmbracelet/lipgloss"

// Theme centralizes all styling for the watch TUI.
type Theme struct {
	StatusOK      lipgloss.Style
	StatusRunning lipgloss.Style
	StatusFailed  lipgloss.Style

	Border    lipgloss.Style
	Title     lipgloss.Style
	Header    lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style

	ActivityOn  lipgloss.Style
	ActivityOff lipgloss.Style
}

func NewDefaultTheme() Theme {
	copper := lipgloss.Color("#C87533")

	return Theme{
		StatusOK:      lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		StatusRunning: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		StatusFailed:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(copper),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Header:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#61AFEF")),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),

		ActivityOn:  lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		ActivityOff: lipgloss.NewStyle().Foreground(lipgloss.Color("#444444")),
	}
}
