package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pulsecrm/pulsecrm/internal/domain/event"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 8 << 10
	sendQueueSize  = 64
)

// PresenceDemoter marks a principal inactive when their connection drops;
// implemented by the presence tracker.
type PresenceDemoter interface {
	MarkInactive(ctx context.Context, userID, resourceType, resourceID string) error
}

// Conn is one authenticated websocket client. Every connection is implicitly
// subscribed to its own user room and the global broadcast room; document and
// entity rooms are joined on request.
type Conn struct {
	hub      *Hub
	ws       *websocket.Conn
	userID   string
	presence PresenceDemoter

	send chan []byte
	done chan struct{}

	mu     sync.Mutex
	rooms  map[event.Room]struct{}
	closed bool
}

type pushFrame struct {
	Room  string         `json:"room"`
	Event event.Envelope `json:"event"`
}

type clientFrame struct {
	Op   string `json:"op"`
	Room string `json:"room"`
}

// NewConn registers a freshly upgraded socket with the hub and starts its
// read and write pumps.
func NewConn(hub *Hub, ws *websocket.Conn, userID string, presence PresenceDemoter) *Conn {
	c := &Conn{
		hub:      hub,
		ws:       ws,
		userID:   userID,
		presence: presence,
		send:     make(chan []byte, sendQueueSize),
		done:     make(chan struct{}),
		rooms:    make(map[event.Room]struct{}),
	}
	c.subscribe(event.UserRoom(userID))
	c.subscribe(event.BroadcastRoom)

	go c.writeLoop()
	go c.readLoop()
	return c
}

// enqueue queues a frame for delivery, dropping it when the client cannot
// keep up or has already disconnected. The hub delivers outside its own lock,
// so a frame can arrive after teardown; the closed check keeps that from
// touching a dead connection.
func (c *Conn) enqueue(frame []byte) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	select {
	case c.send <- frame:
		c.mu.Unlock()
	default:
		c.mu.Unlock()
		c.hub.logger.Debug().Str("user_id", c.userID).Msg("send queue full, frame dropped")
	}
}

func (c *Conn) subscribe(room event.Room) {
	c.mu.Lock()
	c.rooms[room] = struct{}{}
	c.mu.Unlock()
	c.hub.join(room, c)
}

func (c *Conn) unsubscribe(room event.Room) {
	c.mu.Lock()
	delete(c.rooms, room)
	c.mu.Unlock()
	c.hub.leave(room, c)
}

func (c *Conn) readLoop() {
	defer c.teardown()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var frame clientFrame
		if err := c.ws.ReadJSON(&frame); err != nil {
			return
		}
		switch frame.Op {
		case "subscribe":
			if frame.Room != "" {
				c.subscribe(event.Room(frame.Room))
			}
		case "unsubscribe":
			if frame.Room != "" {
				c.unsubscribe(event.Room(frame.Room))
			}
		}
	}
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// teardown releases room memberships and finalizes presence after the socket
// drops, so other participants see the user go inactive without waiting for
// the staleness sweep.
func (c *Conn) teardown() {
	c.mu.Lock()
	rooms := make([]event.Room, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	c.rooms = make(map[event.Room]struct{})
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, room := range rooms {
		c.hub.leave(room, c)
		kind, id := room.Split()
		if kind == "document" || kind == "entity" {
			if c.presence != nil {
				if err := c.presence.MarkInactive(ctx, c.userID, kind, id); err != nil {
					c.hub.logger.Warn().Err(err).Str("user_id", c.userID).Msg("disconnect presence demotion failed")
				}
			}
		}
	}
	c.close()
}

// close flags the connection dead and signals the write pump. The send
// channel itself is never closed: the hub's fan-out may still race a late
// enqueue against disconnect.
func (c *Conn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	close(c.done)
}
