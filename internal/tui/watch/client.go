package watch

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/pcbdrill/pcb-drill/internal/api"
	"github.com/pcbdrill/pcb-drill/internal/events"
)

// --- Message types ---

type eventMsg events.Event

type healthMsg api.HealthzResponse

type tickMsg time.Time

type errMsg error

type sseDisconnectedMsg struct{}
type reconnectMsg struct{}

// --- Commands ---

// subscribeToEvents connects to the /events stream and feeds events into
// ch, resuming after lastID. Returns sseDisconnectedMsg when the stream ends.
func subscribeToEvents(ctx context.Context, apiURL, apiKey string, lastID int64, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+"/events", nil)
		if err != nil {
			return errMsg(err)
		}
		setAuth(req, apiKey)
		if lastID > 0 {
			req.Header.Set("Last-Event-ID", strconv.FormatInt(lastID, 10))
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return sseDisconnectedMsg{}
		}
		defer resp.Body.Close()

		readEvents(resp.Body, func(ev events.Event) {
			select {
			case ch <- ev:
			case <-ctx.Done():
			}
		})
		return sseDisconnectedMsg{}
	}
}

// readEvents parses a server-sent event stream, calling emit per event.
func readEvents(r io.Reader, emit func(events.Event)) {
	scanner := bufio.NewScanner(r)
	var current events.Event
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(current.Data) > 0 {
				current.At = time.Now()
				emit(current)
			}
			current = events.Event{}
		case strings.HasPrefix(line, "id: "):
			if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
				current.ID = id
			}
		case strings.HasPrefix(line, "event: "):
			current.Type = line[7:]
		case strings.HasPrefix(line, "data: "):
			current.Data = []byte(line[6:])
		}
	}
}

// receiveNextEvent waits for the next event from the channel.
func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

// fetchHealth queries /healthz including the worker probe.
func fetchHealth(apiURL, apiKey string) tea.Msg {
	client := &http.Client{Timeout: 7 * time.Second}
	req, err := http.NewRequest(http.MethodGet, apiURL+"/healthz?daemon=1", nil)
	if err != nil {
		return errMsg(err)
	}
	setAuth(req, apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return errMsg(err)
	}
	defer resp.Body.Close()

	var h healthMsg
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return errMsg(err)
	}
	return h
}

func setAuth(req *http.Request, apiKey string) {
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}
