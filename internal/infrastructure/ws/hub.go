package ws

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/pulsecrm/pulsecrm/internal/domain/event"
)

// Hub is the push transport: it tracks which connections are subscribed to
// which rooms and fans published envelopes out to them. Delivery is
// best-effort per connection; a slow consumer's full send queue drops the
// frame rather than blocking the publisher.
type Hub struct {
	logger zerolog.Logger

	mu     sync.RWMutex
	rooms  map[event.Room]map[*Conn]struct{}
	closed bool
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger: logger.With().Str("transport", "push").Logger(),
		rooms:  make(map[event.Room]map[*Conn]struct{}),
	}
}

func (h *Hub) Name() string { return "push" }

// Deliver implements event.Transport.
func (h *Hub) Deliver(room event.Room, env event.Envelope) error {
	frame, err := json.Marshal(pushFrame{Room: string(room), Event: env})
	if err != nil {
		return err
	}

	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.enqueue(frame)
	}
	return nil
}

// Close implements event.Transport. It disconnects every client.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	conns := make(map[*Conn]struct{})
	for _, members := range h.rooms {
		for c := range members {
			conns[c] = struct{}{}
		}
	}
	h.rooms = make(map[event.Room]map[*Conn]struct{})
	h.mu.Unlock()

	for c := range conns {
		c.close()
	}
	return nil
}

func (h *Hub) join(room event.Room, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Conn]struct{})
	}
	h.rooms[room][c] = struct{}{}
}

func (h *Hub) leave(room event.Room, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// roomCount is used by tests.
func (h *Hub) roomCount(room event.Room) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
