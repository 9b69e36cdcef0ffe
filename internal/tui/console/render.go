package console

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Styles colours the scrollback.
type Styles struct {
	OK      lipgloss.Style
	Failed  lipgloss.Style
	Running lipgloss.Style
	Key     lipgloss.Style
	Dim     lipgloss.Style
	Prompt  lipgloss.Style
	Border  lipgloss.Style
}

func DefaultStyles() Styles {
	return Styles{
		OK:      lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		Failed:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		Running: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		Key:     lipgloss.NewStyle().Foreground(lipgloss.Color("173")),
		Dim:     lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		Prompt:  lipgloss.NewStyle().Foreground(lipgloss.Color("173")).Bold(true),
		Border: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), true, false, false, false).
			BorderForeground(lipgloss.Color("173")),
	}
}

func renderResponse(msg responseMsg, s Styles) []string {
	if msg.err != nil {
		return []string{s.Failed.Render("✗ " + msg.command + ": " + msg.err.Error())}
	}
	resp := msg.resp
	if resp == nil {
		return []string{s.Failed.Render("✗ " + msg.command + ": no reply")}
	}

	if !resp.Success {
		lines := []string{s.Failed.Render(fmt.Sprintf("✗ %s failed: %s", msg.command, resp.Error))}
		for _, l := range strings.Split(strings.TrimRight(resp.Exception, "\n"), "\n") {
			if l != "" {
				lines = append(lines, s.Dim.Render("  "+l))
			}
		}
		return lines
	}

	lines := []string{s.OK.Render(fmt.Sprintf("✓ %s", msg.command)) +
		s.Dim.Render(fmt.Sprintf(" (%.3fs worker, %s round trip)", resp.Time, msg.elapsed.Round(time.Millisecond)))}
	return append(lines, renderOutput(resp.Output, s)...)
}

// renderOutput prints a map as sorted key: value lines, with multi-line
// strings indented below their key. Anything else is shown as JSON.
func renderOutput(output any, s Styles) []string {
	switch v := output.(type) {
	case nil:
		return nil
	case string:
		return indent(v)
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var lines []string
		for _, k := range keys {
			if str, ok := v[k].(string); ok && strings.Contains(str, "\n") {
				lines = append(lines, "  "+s.Key.Render(k+":"))
				for _, l := range indent(str) {
					lines = append(lines, "  "+l)
				}
				continue
			}
			lines = append(lines, "  "+s.Key.Render(k+":")+" "+scalarText(v[k]))
		}
		return lines
	}
	return indent(scalarText(output))
}

func scalarText(v any) string {
	if str, ok := v.(string); ok {
		return str
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func indent(text string) []string {
	var lines []string
	for _, l := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		lines = append(lines, "  "+l)
	}
	return lines
}
