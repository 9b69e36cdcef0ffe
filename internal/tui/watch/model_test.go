package watch

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pcbdrill/pcb-drill/internal/api"
	"github.com/pcbdrill/pcb-drill/internal/events"
)

func newTestModel() Model {
	m := New(context.Background(), "http://127.0.0.1:8080", "")
	fixed := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	m.now = func() time.Time { return fixed }
	return m
}

func commandEvent(id int64, data string) eventMsg {
	return eventMsg(events.Event{ID: id, Type: api.EventCommand, Data: []byte(data)})
}

func TestUpdateTalliesCommands(t *testing.T) {
	m := newTestModel()

	next, _ := m.Update(commandEvent(1, `{"command":"capture_image","success":true,"time":2.5,"status":200}`))
	next, _ = next.(Model).Update(commandEvent(2, `{"command":"capture_image","success":false,"error":"camera busy","status":502}`))
	next, _ = next.(Model).Update(commandEvent(3, `{"command":"generate_gcode","success":true,"status":200}`))
	m = next.(Model)

	require.Contains(t, m.commands, "capture_image")
	c := m.commands["capture_image"]
	assert.Equal(t, 1, c.Succeeded)
	assert.Equal(t, 1, c.Failed)
	assert.False(t, c.LastOK)
	assert.Equal(t, "camera busy", c.LastError)
	assert.Equal(t, 1, m.commands["generate_gcode"].Succeeded)

	require.Len(t, m.eventLog, 3)
	assert.Equal(t, int64(3), m.eventLog[0].ID, "newest first")
	assert.Equal(t, int64(3), m.lastID)
	assert.True(t, m.health.Connected)
}

func TestUpdateSkipsReplayedEvents(t *testing.T) {
	m := newTestModel()
	next, _ := m.Update(commandEvent(5, `{"command":"stop_preview","success":true}`))
	next, _ = next.(Model).Update(commandEvent(5, `{"command":"stop_preview","success":true}`))
	next, _ = next.(Model).Update(commandEvent(4, `{"command":"stop_preview","success":true}`))
	m = next.(Model)

	assert.Equal(t, 1, m.commands["stop_preview"].Succeeded)
	assert.Len(t, m.eventLog, 1)
}

func TestUpdateIgnoresOtherEvents(t *testing.T) {
	m := newTestModel()
	next, _ := m.Update(eventMsg(events.Event{ID: 1, Type: api.EventLibrarySaved, Data: []byte(`{"name":"a.gcode"}`)}))
	m = next.(Model)

	assert.Empty(t, m.commands)
	assert.Len(t, m.eventLog, 1)
	assert.Equal(t, "a.gcode", describeEvent(m.eventLog[0]))
}

func TestEventLogIsBounded(t *testing.T) {
	m := newTestModel()
	for i := 1; i <= maxEventLog+10; i++ {
		next, _ := m.Update(commandEvent(int64(i), `{"command":"commands","success":true}`))
		m = next.(Model)
	}
	assert.Len(t, m.eventLog, maxEventLog)
	assert.Equal(t, maxEventLog+10, m.commands["commands"].Succeeded)
}

func TestHealthAndDisconnect(t *testing.T) {
	m := newTestModel()
	next, cmd := m.Update(healthMsg{Status: "ok", Daemon: "ok", UptimeSeconds: 90})
	m = next.(Model)
	assert.NotNil(t, cmd)
	assert.True(t, m.health.Connected)
	assert.Equal(t, "ok", m.health.Daemon)

	next, cmd = m.Update(sseDisconnectedMsg{})
	m = next.(Model)
	assert.NotNil(t, cmd)
	assert.False(t, m.health.Connected)
	assert.Contains(t, m.lastError, "disconnected")
}

func TestKeysMoveSelection(t *testing.T) {
	m := newTestModel()
	for i, name := range []string{"a", "b"} {
		next, _ := m.Update(commandEvent(int64(i+1), `{"command":"`+name+`","success":true}`))
		m = next.(Model)
	}

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = next.(Model)
	assert.Equal(t, 1, m.selected)
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = next.(Model)
	assert.Equal(t, 1, m.selected, "selection stops at the last command")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestView(t *testing.T) {
	m := newTestModel()
	assert.Equal(t, "Connecting to pcb-drill...", m.View())

	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	next, _ = next.(Model).Update(commandEvent(1, `{"command":"calibrate_pcb","success":false,"error":"no solder mask","status":502}`))
	view := next.(Model).View()
	assert.Contains(t, view, "PCB DRILL WATCH")
	assert.Contains(t, view, "calibrate_pcb")
	assert.Contains(t, view, "no solder mask")
}

func TestReadEvents(t *testing.T) {
	stream := "id: 1\nevent: command.completed\ndata: {\"command\":\"x\"}\n\n: keep-alive\n\nid: 2\ndata: {}\n\n"
	var got []events.Event
	readEvents(strings.NewReader(stream), func(e events.Event) { got = append(got, e) })

	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].ID)
	assert.Equal(t, api.EventCommand, got[0].Type)
	assert.Equal(t, `{"command":"x"}`, string(got[0].Data))
	assert.Equal(t, int64(2), got[1].ID)
	assert.Empty(t, got[1].Type)
}

func TestActivityDecay(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var a Activity
	a.OnEvent(start)
	a.Decay(start.Add(time.Second))
	assert.Equal(t, 5, a.dots)
	a.Decay(start.Add(5 * time.Second))
	assert.Equal(t, 3, a.dots)
	a.Decay(start.Add(11 * time.Second))
	assert.Equal(t, 0, a.dots)
}
