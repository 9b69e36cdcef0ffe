package console

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pcbdrill/pcb-drill/internal/protocol"
)

type call struct {
	command string
	args    protocol.Args
}

type fakeCaller struct {
	calls []call
	reply func(command string, args protocol.Args) (*protocol.Response, error)
}

func (f *fakeCaller) Do(_ context.Context, command string, args protocol.Args) (*protocol.Response, error) {
	f.calls = append(f.calls, call{command, args})
	return f.reply(command, args)
}

func newConsole(t *testing.T, reply func(string, protocol.Args) (*protocol.Response, error)) (Model, *fakeCaller) {
	t.Helper()
	f := &fakeCaller{reply: reply}
	m := New(context.Background(), f, "ws://127.0.0.1:5555/rpc", time.Second)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return next.(Model), f
}

func typeLine(t *testing.T, m Model, line string) (Model, tea.Cmd) {
	t.Helper()
	m.input.SetValue(line)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return next.(Model), cmd
}

func scrollback(m Model) string {
	return strings.Join(m.lines, "\n")
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		command string
		args    protocol.Args
		wantErr bool
	}{
		{name: "bare command", line: "start_preview", command: "start_preview", args: protocol.Args{}},
		{name: "typed args", line: "capture_image  filename=board.png width=1024 ", command: "capture_image",
			args: protocol.Args{"filename": "board.png", "width": float64(1024)}},
		{name: "empty", line: "   ", wantErr: true},
		{name: "missing command", line: "filename=a.png", wantErr: true},
		{name: "bad pair", line: "capture_image filename", wantErr: true},
		{name: "reserved key", line: "capture_image command=x", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			command, args, err := ParseLine(tt.line)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.command, command)
			assert.Equal(t, tt.args, args)
		})
	}
}

func TestSubmitSendsRequest(t *testing.T) {
	m, f := newConsole(t, func(string, protocol.Args) (*protocol.Response, error) {
		return protocol.Success(map[string]any{
			"gcode":  "G1 X1 Y2\nG1 X3 Y4",
			"prefix": "",
		}, 250*time.Millisecond), nil
	})

	m, cmd := typeLine(t, m, "generate_gcode filename=mask.png")
	require.NotNil(t, cmd)
	assert.True(t, m.busy)
	assert.Empty(t, m.input.Value())

	msg := cmd()
	require.Len(t, f.calls, 1)
	assert.Equal(t, "generate_gcode", f.calls[0].command)
	assert.Equal(t, protocol.Args{"filename": "mask.png"}, f.calls[0].args)

	next, _ := m.Update(msg)
	m = next.(Model)
	assert.False(t, m.busy)
	out := scrollback(m)
	assert.Contains(t, out, "generate_gcode filename=mask.png")
	assert.Contains(t, out, "✓ generate_gcode")
	assert.Contains(t, out, "0.250s worker")
	assert.Contains(t, out, "G1 X3 Y4")
}

func TestFailureEnvelope(t *testing.T) {
	m, _ := newConsole(t, func(string, protocol.Args) (*protocol.Response, error) {
		return protocol.Failure(errors.New("no solder mask processed for session default"), "trace line 1\ntrace line 2\n"), nil
	})

	m, cmd := typeLine(t, m, "calibrate_pcb pcb_filename=pcb.png")
	next, _ := m.Update(cmd())
	out := scrollback(next.(Model))
	assert.Contains(t, out, "✗ calibrate_pcb failed: no solder mask processed")
	assert.Contains(t, out, "trace line 2")
}

func TestDeliveryError(t *testing.T) {
	m, _ := newConsole(t, func(string, protocol.Args) (*protocol.Response, error) {
		return nil, errors.New("dial tcp: connection refused")
	})

	m, cmd := typeLine(t, m, "stop_preview")
	next, _ := m.Update(cmd())
	assert.Contains(t, scrollback(next.(Model)), "✗ stop_preview: dial tcp: connection refused")
}

func TestParseErrorStaysLocal(t *testing.T) {
	m, f := newConsole(t, nil)
	m, cmd := typeLine(t, m, "capture_image filename")
	assert.Nil(t, cmd)
	assert.False(t, m.busy)
	assert.Empty(t, f.calls)
	assert.Contains(t, scrollback(m), "want key=value")
}

func TestOneRequestInFlight(t *testing.T) {
	m, _ := newConsole(t, func(string, protocol.Args) (*protocol.Response, error) {
		return protocol.Success(nil, 0), nil
	})
	m, cmd := typeLine(t, m, "start_preview")
	require.NotNil(t, cmd)
	m, cmd = typeLine(t, m, "stop_preview")
	assert.Nil(t, cmd)
	assert.Contains(t, scrollback(m), "already in flight")
}

func TestBuiltins(t *testing.T) {
	m, f := newConsole(t, nil)
	m.commands = []string{"capture_image", "commands"}

	m, cmd := typeLine(t, m, "help")
	assert.Nil(t, cmd)
	assert.Contains(t, scrollback(m), "commands: capture_image, commands")

	m, _ = typeLine(t, m, "clear")
	assert.Empty(t, m.lines)

	_, cmd = typeLine(t, m, "quit")
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
	assert.Empty(t, f.calls)
}

func TestHistory(t *testing.T) {
	m, _ := newConsole(t, nil)
	for _, line := range []string{"help", "clear", "clear"} {
		m, _ = typeLine(t, m, line)
	}
	assert.Equal(t, []string{"help", "clear"}, m.history)

	up := func() {
		next, _ := m.Update(tea.KeyMsg{Type: tea.KeyUp})
		m = next.(Model)
	}
	down := func() {
		next, _ := m.Update(tea.KeyMsg{Type: tea.KeyDown})
		m = next.(Model)
	}

	up()
	assert.Equal(t, "clear", m.input.Value())
	up()
	assert.Equal(t, "help", m.input.Value())
	up()
	assert.Equal(t, "help", m.input.Value(), "stops at the oldest entry")
	down()
	assert.Equal(t, "clear", m.input.Value())
	down()
	assert.Empty(t, m.input.Value())
}

func TestTabCompletion(t *testing.T) {
	m, _ := newConsole(t, nil)
	m.commands = []string{"calibrate_pcb", "calibrate_printer", "capture_image"}

	tab := func(value string) Model {
		m.input.SetValue(value)
		next, _ := m.Update(tea.KeyMsg{Type: tea.KeyTab})
		return next.(Model)
	}

	assert.Equal(t, "capture_image ", tab("capt").input.Value())
	got := tab("cal")
	assert.Equal(t, "calibrate_p", got.input.Value())
	assert.Contains(t, scrollback(got), "calibrate_pcb  calibrate_printer")
	assert.Equal(t, "zzz", tab("zzz").input.Value())
	assert.Equal(t, "capture_image file", tab("capture_image file").input.Value())
}

func TestFetchCommands(t *testing.T) {
	m, f := newConsole(t, func(command string, _ protocol.Args) (*protocol.Response, error) {
		return protocol.Success([]any{"stop_preview", "commands"}, 0), nil
	})

	msg := m.fetchCommands()()
	require.Len(t, f.calls, 1)
	assert.Equal(t, "commands", f.calls[0].command)

	next, _ := m.Update(msg)
	assert.Equal(t, []string{"commands", "stop_preview"}, next.(Model).commands)
}

func TestFetchCommandsFailure(t *testing.T) {
	m, _ := newConsole(t, func(string, protocol.Args) (*protocol.Response, error) {
		return protocol.Failure(errors.New("boom"), ""), nil
	})
	next, _ := m.Update(m.fetchCommands()())
	m = next.(Model)
	assert.Empty(t, m.commands)
	assert.Contains(t, scrollback(m), "could not list commands: boom")
}

func TestRenderOutput(t *testing.T) {
	s := DefaultStyles()
	assert.Nil(t, renderOutput(nil, s))
	assert.Equal(t, []string{"  /data/images/a.png"}, renderOutput("/data/images/a.png", s))
	assert.Equal(t, []string{`  ["a","b"]`}, renderOutput([]any{"a", "b"}, s))

	lines := renderOutput(map[string]any{"count": float64(3), "holes": "(1,2)\n(3,4)"}, s)
	joined := strings.Join(lines, "\n")
	assert.Contains(t, joined, "count: 3")
	assert.Contains(t, joined, "    (3,4)")
}

func TestScrollbackIsBounded(t *testing.T) {
	m, _ := newConsole(t, nil)
	for i := 0; i < maxScrollback+20; i++ {
		m.appendLines("line")
	}
	assert.Len(t, m.lines, maxScrollback)
}
