package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/pcbdrill/pcb-drill/internal/api"
	"github.com/pcbdrill/pcb-drill/internal/events"
)

// CommandState tallies the outcomes of one worker command.
type CommandState struct {
	Name      string
	Succeeded int
	Failed    int
	LastOK    bool
	LastTime  float64
	LastError string
	LastRun   time.Time
}

// updateCommandState folds a command event into the tallies.
func updateCommandState(commands map[string]*CommandState, e events.Event, now time.Time) {
	if e.Type != api.EventCommand {
		return
	}
	var ev api.CommandEvent
	if err := json.Unmarshal(e.Data, &ev); err != nil || ev.Command == "" {
		return
	}

	c, ok := commands[ev.Command]
	if !ok {
		c = &CommandState{Name: ev.Command}
		commands[ev.Command] = c
	}
	if ev.Success {
		c.Succeeded++
	} else {
		c.Failed++
	}
	c.LastOK = ev.Success
	c.LastTime = ev.Time
	c.LastError = ev.Error
	c.LastRun = now
}

func renderCommands(commands map[string]*CommandState, selected int, theme Theme, width int) string {
	innerWidth := width - 4
	title := theme.Title.Render("COMMANDS")

	if len(commands) == 0 {
		return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left,
			title,
			theme.Dim.Render("  No commands relayed yet"),
		))
	}

	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := []string{theme.Header.Render(fmt.Sprintf("  %-22s %5s %5s  %-8s %s", "COMMAND", "OK", "FAIL", "TIME", "LAST"))}
	for i, name := range names {
		c := commands[name]
		status := theme.StatusOK.Render("ok")
		if !c.LastOK {
			status = theme.StatusFailed.Render(truncate(c.LastError, 40))
		}
		cursor := "  "
		if i == selected {
			cursor = theme.Highlight.Render("> ")
		}
		lines = append(lines, fmt.Sprintf("%s%-22s %5d %5d  %-8s %s",
			cursor, name, c.Succeeded, c.Failed, fmt.Sprintf("%.2fs", c.LastTime), status))
	}

	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left,
		title,
		strings.Join(lines, "\n"),
	))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
