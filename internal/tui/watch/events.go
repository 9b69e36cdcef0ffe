package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/pcbdrill/pcb-drill/internal/api"
	"github.com/pcbdrill/pcb-drill/internal/events"
)

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= 10 {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n")),
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	typeStyle := theme.Dim
	switch e.Type {
	case api.EventCommand:
		if strings.Contains(string(e.Data), `"success":true`) {
			typeStyle = theme.StatusOK
		} else {
			typeStyle = theme.StatusFailed
		}
	case api.EventLibrarySaved:
		typeStyle = theme.Highlight
	}

	return fmt.Sprintf("%s %s %s", ts, typeStyle.Render(fmt.Sprintf("%-18s", e.Type)), describeEvent(e))
}

// describeEvent pulls a short summary out of the payload.
func describeEvent(e events.Event) string {
	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	var parts []string
	if command, ok := data["command"].(string); ok {
		parts = append(parts, command)
	}
	if name, ok := data["name"].(string); ok {
		parts = append(parts, name)
	}
	if status, ok := data["status"].(float64); ok {
		parts = append(parts, fmt.Sprintf("%d", int(status)))
	}
	if msg, ok := data["error"].(string); ok && msg != "" {
		parts = append(parts, truncate(msg, 50))
	}

	if len(parts) == 0 {
		return truncate(string(e.Data), 60)
	}
	return strings.Join(parts, " ")
}
