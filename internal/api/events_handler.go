package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/pcbdrill/pcb-drill/internal/events"
)

// sseKeepAlive is the interval between comment lines on an idle stream.
var sseKeepAlive = 15 * time.Second

// handleEvents handles GET /events as a server-sent event stream.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Subscribe before replaying so nothing published in between is lost.
	ch, cancel := s.events.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	lastID := parseLastEventID(r.Header.Get("Last-Event-ID"))
	for _, ev := range s.events.Since(lastID) {
		if err := writeSSE(w, ev); err != nil {
			return
		}
		lastID = ev.ID
	}
	flusher.Flush()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.ID <= lastID {
				continue
			}
			if err := writeSSE(w, ev); err != nil {
				return
			}
			lastID = ev.ID
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func parseLastEventID(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// writeSSE frames ev; the payload is single-line JSON.
func writeSSE(w io.Writer, ev events.Event) error {
	if ev.Type != "" {
		_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, ev.Data)
		return err
	}
	_, err := fmt.Fprintf(w, "id: %d\ndata: %s\n\n", ev.ID, ev.Data)
	return err
}
