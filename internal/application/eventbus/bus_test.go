package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsecrm/pulsecrm/internal/domain/event"
)

type fakeTransport struct {
	mu        sync.Mutex
	name      string
	delivered []event.Envelope
	rooms     []event.Room
	failWith  error
	closed    bool
}

func (f *fakeTransport) Name() string { return f.name }

func (f *fakeTransport) Deliver(room event.Room, env event.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.rooms = append(f.rooms, room)
	f.delivered = append(f.delivered, env)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestPublishFansOutToAllTransports(t *testing.T) {
	bus := New(zerolog.Nop())
	push := &fakeTransport{name: "push"}
	broker := &fakeTransport{name: "broker"}
	bus.Attach(push)
	bus.Attach(broker)

	env := event.NewEnvelope("document:updated", "d1", "u1", nil)
	err := bus.Publish(context.Background(), event.DocumentRoom("d1"), env)
	require.NoError(t, err)

	assert.Len(t, push.delivered, 1)
	assert.Len(t, broker.delivered, 1)
	assert.Equal(t, event.DocumentRoom("d1"), push.rooms[0])
}

func TestPublishSurvivesOneFailingTransport(t *testing.T) {
	bus := New(zerolog.Nop())
	broken := &fakeTransport{name: "broker", failWith: errors.New("broker down")}
	healthy := &fakeTransport{name: "push"}
	bus.Attach(broken)
	bus.Attach(healthy)

	err := bus.Publish(context.Background(), event.BroadcastRoom, event.NewEnvelope("lead:created", "l1", "", nil))
	require.NoError(t, err, "single adapter failure must not fail the publish")
	assert.Len(t, healthy.delivered, 1)
}

func TestPublishEscalatesWhenAllTransportsFail(t *testing.T) {
	bus := New(zerolog.Nop())
	bus.Attach(&fakeTransport{name: "a", failWith: errors.New("down")})
	bus.Attach(&fakeTransport{name: "b", failWith: errors.New("down")})

	err := bus.Publish(context.Background(), event.UserRoom("u1"), event.NewEnvelope("notification", "n1", "", nil))
	assert.ErrorIs(t, err, event.ErrTransportUnavailable)
}

func TestPublishWithNoTransports(t *testing.T) {
	bus := New(zerolog.Nop())
	err := bus.Publish(context.Background(), event.BroadcastRoom, event.NewEnvelope("noop", "x", "", nil))
	assert.NoError(t, err)
}

func TestPublishToRooms(t *testing.T) {
	bus := New(zerolog.Nop())
	tr := &fakeTransport{name: "push"}
	bus.Attach(tr)

	rooms := []event.Room{event.DocumentRoom("d1"), event.BroadcastRoom}
	err := bus.PublishToRooms(context.Background(), rooms, event.NewEnvelope("document:updated", "d1", "u1", nil))
	require.NoError(t, err)
	assert.Equal(t, rooms, tr.rooms)
}

func TestPreservesPerRoomPublishOrder(t *testing.T) {
	bus := New(zerolog.Nop())
	tr := &fakeTransport{name: "push"}
	bus.Attach(tr)

	for i := 0; i < 5; i++ {
		env := event.NewEnvelope("seq", "d1", "", []byte{byte('0' + i)})
		require.NoError(t, bus.Publish(context.Background(), event.DocumentRoom("d1"), env))
	}
	for i, env := range tr.delivered {
		assert.Equal(t, []byte{byte('0' + i)}, []byte(env.Payload))
	}
}

func TestShutdownClosesTransports(t *testing.T) {
	bus := New(zerolog.Nop())
	tr := &fakeTransport{name: "push"}
	bus.Attach(tr)
	bus.Shutdown()
	assert.True(t, tr.closed)

	// Publishing after shutdown is a no-op, not a panic.
	assert.NoError(t, bus.Publish(context.Background(), event.BroadcastRoom, event.NewEnvelope("late", "x", "", nil)))
}
