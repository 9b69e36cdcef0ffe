package watch

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pcbdrill/pcb-drill/internal/events"
)

const maxEventLog = 50

// Model is the BubbleTea model for the watch TUI.
type Model struct {
	apiURL string
	apiKey string
	ctx    context.Context

	width  int
	height int

	health   HealthState
	commands map[string]*CommandState
	eventLog []events.Event
	lastID   int64
	activity Activity
	now      func() time.Time

	theme    Theme
	selected int

	hubEvents chan events.Event
	lastError string
}

// New creates a watch model for the front end at apiURL. The event stream
// is torn down when ctx ends.
func New(ctx context.Context, apiURL, apiKey string) Model {
	return Model{
		apiURL:    apiURL,
		apiKey:    apiKey,
		ctx:       ctx,
		commands:  make(map[string]*CommandState),
		hubEvents: make(chan events.Event, 100),
		theme:     NewDefaultTheme(),
		now:       time.Now,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.ctx, m.apiURL, m.apiKey, 0, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchHealth(m.apiURL, m.apiKey) },
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
		case "down", "j":
			if m.selected < len(m.commands)-1 {
				m.selected++
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.activity.Decay(m.now())
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		e := events.Event(msg)
		m = m.applyEvent(e)
		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.Daemon = msg.Daemon
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.Connected = true
		m.health.LastCheck = m.now()
		m.lastError = ""
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return fetchHealth(m.apiURL, m.apiKey)
		})

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		// Resume after the last seen event so nothing is counted twice.
		return m, subscribeToEvents(m.ctx, m.apiURL, m.apiKey, m.lastID, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return fetchHealth(m.apiURL, m.apiKey)
		})
	}

	return m, nil
}

// applyEvent records e unless it was already seen.
func (m Model) applyEvent(e events.Event) Model {
	if e.ID != 0 && e.ID <= m.lastID {
		return m
	}
	if e.ID > m.lastID {
		m.lastID = e.ID
	}

	m.eventLog = append([]events.Event{e}, m.eventLog...)
	if len(m.eventLog) > maxEventLog {
		m.eventLog = m.eventLog[:maxEventLog]
	}
	now := m.now()
	m.activity.OnEvent(now)
	updateCommandState(m.commands, e, now)
	m.health.Connected = true
	m.lastError = ""
	return m
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to pcb-drill..."
	}

	parts := []string{
		renderHeader(m.health, m.activity, m.now(), m.theme, m.width),
		renderCommands(m.commands, m.selected, m.theme, m.width),
		renderEventStream(m.eventLog, m.theme, m.width),
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(fmt.Sprintf(" ! %s", m.lastError)))
	}
	parts = append(parts, lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Select command"))

	return lipgloss.NewStyle().Margin(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}
