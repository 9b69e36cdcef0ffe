// Package events is the in-memory outcome stream behind the web front end's
// /events endpoint.
package events

import (
	"encoding/json"
	"sync"
	"time"
)

// Event is one entry of the outcome stream.
type Event struct {
	ID   int64     `json:"id"`
	Type string    `json:"type"`
	At   time.Time `json:"at"`
	Data []byte    `json:"data"` // JSON payload
}

// Hub fans events out to subscribers and keeps the most recent ones so
// a browser that reconnects with Last-Event-ID catches up.
type Hub struct {
	mu       sync.Mutex
	lastID   int64
	capacity int
	recent   []Event
	subs     map[int]chan Event
	nextSub  int
}

// NewHub creates a hub remembering up to capacity events.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 1
	}
	return &Hub{
		capacity: capacity,
		recent:   make([]Event, 0, capacity),
		subs:     make(map[int]chan Event),
	}
}

// Publish records an event with data marshalled as JSON. Slow subscribers
// miss events rather than block the publisher.
func (h *Hub) Publish(eventType string, data any) Event {
	payload := []byte("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastID++
	ev := Event{ID: h.lastID, Type: eventType, At: time.Now().UTC(), Data: payload}

	if len(h.recent) == h.capacity {
		copy(h.recent, h.recent[1:])
		h.recent = h.recent[:len(h.recent)-1]
	}
	h.recent = append(h.recent, ev)

	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return ev
}

// Subscribe returns a channel of new events and the func that ends the
// subscription and closes the channel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSub
	h.nextSub++
	ch := make(chan Event, 32)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			close(ch)
			h.mu.Unlock()
		})
	}
}

// Since returns remembered events with ID > lastID, oldest first.
func (h *Hub) Since(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, len(h.recent))
	for _, ev := range h.recent {
		if ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}
