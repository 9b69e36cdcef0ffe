// Package console is an interactive terminal client for the drill worker.
// Each line typed at the prompt is sent as one request and the reply
// envelope is printed into a scrollback pane.
package console

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pcbdrill/pcb-drill/internal/protocol"
)

const maxScrollback = 500

// Caller sends one request to the worker. *client.Client satisfies it.
type Caller interface {
	Do(ctx context.Context, command string, args protocol.Args) (*protocol.Response, error)
}

type responseMsg struct {
	command string
	resp    *protocol.Response
	err     error
	elapsed time.Duration
}

type commandsMsg struct {
	names []string
	err   error
}

// Model is the BubbleTea model for the console.
type Model struct {
	ctx     context.Context
	caller  Caller
	timeout time.Duration

	input    textinput.Model
	viewport viewport.Model
	ready    bool
	styles   Styles

	lines    []string
	history  []string
	histPos  int
	commands []string
	busy     bool
	target   string
}

// New returns a console that sends requests through caller. target is only
// shown in the banner. A zero timeout leaves requests bounded by ctx alone.
func New(ctx context.Context, caller Caller, target string, timeout time.Duration) Model {
	in := textinput.New()
	in.Prompt = "drill> "
	in.Placeholder = "command key=value ..."
	in.CharLimit = 4096
	in.Focus()

	m := Model{
		ctx:      ctx,
		caller:   caller,
		timeout:  timeout,
		input:    in,
		viewport: viewport.New(80, 20),
		styles:   DefaultStyles(),
		target:   target,
	}
	m.appendLines(m.styles.Dim.Render(fmt.Sprintf("connected to %s; type help for builtins", target)))
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.fetchCommands())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height - 3
		if m.viewport.Height < 1 {
			m.viewport.Height = 1
		}
		m.input.Width = msg.Width - len(m.input.Prompt) - 1
		m.ready = true
		m.viewport.SetContent(strings.Join(m.lines, "\n"))
		m.viewport.GotoBottom()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submit()
		case tea.KeyUp:
			m.recall(-1)
			return m, nil
		case tea.KeyDown:
			m.recall(1)
			return m, nil
		case tea.KeyTab:
			m.complete()
			return m, nil
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case responseMsg:
		m.busy = false
		m.appendLines(renderResponse(msg, m.styles)...)
		return m, nil

	case commandsMsg:
		if msg.err != nil {
			m.appendLines(m.styles.Failed.Render("could not list commands: " + msg.err.Error()))
			return m, nil
		}
		m.commands = msg.names
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	status := m.styles.Dim.Render(fmt.Sprintf(" %s  [tab] complete  [↑/↓] history  [esc] quit", m.target))
	if m.busy {
		status = m.styles.Running.Render(" waiting for reply...")
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.viewport.View(),
		m.styles.Border.Render(m.input.View()),
		status,
	)
}

// submit handles the current input line.
func (m Model) submit() (tea.Model, tea.Cmd) {
	line := strings.TrimSpace(m.input.Value())
	m.input.Reset()
	if line == "" {
		return m, nil
	}
	if len(m.history) == 0 || m.history[len(m.history)-1] != line {
		m.history = append(m.history, line)
	}
	m.histPos = len(m.history)
	m.appendLines(m.styles.Prompt.Render(m.input.Prompt) + line)

	switch line {
	case "quit", "exit":
		return m, tea.Quit
	case "clear":
		m.lines = nil
		m.viewport.SetContent("")
		return m, nil
	case "help":
		m.appendLines(m.help()...)
		return m, nil
	}

	if m.busy {
		m.appendLines(m.styles.Failed.Render("a request is already in flight"))
		return m, nil
	}
	command, args, err := ParseLine(line)
	if err != nil {
		m.appendLines(m.styles.Failed.Render(err.Error()))
		return m, nil
	}
	m.busy = true
	return m, m.call(command, args)
}

func (m Model) help() []string {
	lines := []string{
		"builtins: help, clear, quit",
		"requests: <command> key=value ...",
	}
	if len(m.commands) > 0 {
		lines = append(lines, "commands: "+strings.Join(m.commands, ", "))
	}
	for i, l := range lines {
		lines[i] = m.styles.Dim.Render(l)
	}
	return lines
}

// recall walks the input history; dir is -1 for older, +1 for newer.
func (m *Model) recall(dir int) {
	if len(m.history) == 0 {
		return
	}
	pos := m.histPos + dir
	if pos < 0 {
		pos = 0
	}
	if pos >= len(m.history) {
		m.histPos = len(m.history)
		m.input.SetValue("")
		return
	}
	m.histPos = pos
	m.input.SetValue(m.history[pos])
	m.input.CursorEnd()
}

// complete extends a partial command name when it is unambiguous, or to the
// longest shared prefix of the candidates.
func (m *Model) complete() {
	value := m.input.Value()
	if strings.Contains(value, " ") {
		return
	}
	var matches []string
	for _, name := range m.commands {
		if strings.HasPrefix(name, value) {
			matches = append(matches, name)
		}
	}
	switch len(matches) {
	case 0:
		return
	case 1:
		m.input.SetValue(matches[0] + " ")
	default:
		m.input.SetValue(commonPrefix(matches))
		m.appendLines(m.styles.Dim.Render(strings.Join(matches, "  ")))
	}
	m.input.CursorEnd()
}

func (m *Model) appendLines(lines ...string) {
	m.lines = append(m.lines, lines...)
	if len(m.lines) > maxScrollback {
		m.lines = m.lines[len(m.lines)-maxScrollback:]
	}
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	m.viewport.GotoBottom()
}

func (m Model) call(command string, args protocol.Args) tea.Cmd {
	ctx, caller, timeout := m.ctx, m.caller, m.timeout
	return func() tea.Msg {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		start := time.Now()
		resp, err := caller.Do(ctx, command, args)
		return responseMsg{command: command, resp: resp, err: err, elapsed: time.Since(start)}
	}
}

func (m Model) fetchCommands() tea.Cmd {
	ctx, caller := m.ctx, m.caller
	return func() tea.Msg {
		resp, err := caller.Do(ctx, "commands", nil)
		if err != nil {
			return commandsMsg{err: err}
		}
		if !resp.Success {
			return commandsMsg{err: errors.New(resp.Error)}
		}
		names, err := stringList(resp.Output)
		return commandsMsg{names: names, err: err}
	}
}

// ParseLine splits "command key=value ..." into a command name and its
// arguments.
func ParseLine(line string) (string, protocol.Args, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil, errors.New("empty request")
	}
	if strings.Contains(fields[0], "=") {
		return "", nil, fmt.Errorf("missing command before %q", fields[0])
	}
	args, err := protocol.ParseArgs(fields[1:])
	if err != nil {
		return "", nil, err
	}
	return fields[0], args, nil
}

func stringList(output any) ([]string, error) {
	switch v := output.(type) {
	case []string:
		names := append([]string(nil), v...)
		sort.Strings(names)
		return names, nil
	case []any:
		names := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("commands output holds %T, not a name", item)
			}
			names = append(names, s)
		}
		sort.Strings(names)
		return names, nil
	}
	return nil, fmt.Errorf("commands output is %T, not a list", output)
}

func commonPrefix(names []string) string {
	prefix := names[0]
	for _, name := range names[1:] {
		for !strings.HasPrefix(name, prefix) {
			prefix = prefix[:len(prefix)-1]
		}
	}
	return prefix
}
