package ws

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsecrm/pulsecrm/internal/domain/event"
)

// testConn builds a connection without a live socket; only the queue and
// room bookkeeping run in these tests.
func testConn(h *Hub, userID string, queueSize int) *Conn {
	return &Conn{
		hub:    h,
		userID: userID,
		send:   make(chan []byte, queueSize),
		done:   make(chan struct{}),
		rooms:  make(map[event.Room]struct{}),
	}
}

func TestDeliverFansOutToRoomMembers(t *testing.T) {
	h := NewHub(zerolog.Nop())
	a := testConn(h, "u1", 4)
	b := testConn(h, "u2", 4)
	outsider := testConn(h, "u3", 4)

	room := event.DocumentRoom("doc-1")
	a.subscribe(room)
	b.subscribe(room)
	outsider.subscribe(event.DocumentRoom("doc-2"))

	env := event.NewEnvelope("document:updated", "doc-1", "u1", json.RawMessage(`{"version":2}`))
	require.NoError(t, h.Deliver(room, env))

	for _, c := range []*Conn{a, b} {
		select {
		case raw := <-c.send:
			var frame pushFrame
			require.NoError(t, json.Unmarshal(raw, &frame))
			assert.Equal(t, string(room), frame.Room)
			assert.Equal(t, "document:updated", frame.Event.Type)
		default:
			t.Fatalf("expected frame for %s", c.userID)
		}
	}
	assert.Empty(t, outsider.send)
}

func TestDeliverDropsWhenQueueFull(t *testing.T) {
	h := NewHub(zerolog.Nop())
	c := testConn(h, "u1", 1)
	room := event.DocumentRoom("doc-1")
	c.subscribe(room)

	env := event.NewEnvelope("document:updated", "doc-1", "", nil)
	require.NoError(t, h.Deliver(room, env))
	// Queue is full now; the second frame must be dropped, not block.
	require.NoError(t, h.Deliver(room, env))
	assert.Len(t, c.send, 1)
}

func TestLeaveStopsDelivery(t *testing.T) {
	h := NewHub(zerolog.Nop())
	c := testConn(h, "u1", 4)
	room := event.EntityRoom("lead-9")

	c.subscribe(room)
	assert.Equal(t, 1, h.roomCount(room))

	c.unsubscribe(room)
	assert.Zero(t, h.roomCount(room))

	require.NoError(t, h.Deliver(room, event.NewEnvelope("entity:updated", "lead-9", "", nil)))
	assert.Empty(t, c.send)
}

func TestCloseDisconnectsEveryone(t *testing.T) {
	h := NewHub(zerolog.Nop())
	a := testConn(h, "u1", 4)
	b := testConn(h, "u2", 4)
	a.subscribe(event.BroadcastRoom)
	b.subscribe(event.DocumentRoom("doc-1"))

	require.NoError(t, h.Close())

	for _, c := range []*Conn{a, b} {
		select {
		case <-c.done:
		default:
			t.Fatalf("expected %s to be signalled closed", c.userID)
		}
	}

	// Joining after close is refused.
	c := testConn(h, "u3", 4)
	c.subscribe(event.BroadcastRoom)
	assert.Zero(t, h.roomCount(event.BroadcastRoom))
}

func TestDeliverAfterDisconnectIsDropped(t *testing.T) {
	h := NewHub(zerolog.Nop())
	c := testConn(h, "u1", 4)
	room := event.DocumentRoom("doc-1")
	c.subscribe(room)

	// The fan-out snapshots room members before queueing, so a frame can
	// reach a connection that tore down in between. It must be dropped,
	// not crash the publisher.
	c.teardown()
	env := event.NewEnvelope("document:updated", "doc-1", "", nil)
	require.NotPanics(t, func() { c.enqueue([]byte(`{}`)) })
	require.NoError(t, h.Deliver(room, env))
	assert.Empty(t, c.send)
}
