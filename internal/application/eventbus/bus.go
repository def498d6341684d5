package eventbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/pulsecrm/pulsecrm/internal/domain/event"
)

// Bus is the central fan-out engine. Every publish is pushed to all attached
// transport adapters; adapters fail independently and a single failure never
// aborts the publish. Within one adapter, events for the same room are
// delivered in publish order. Across adapters nothing is guaranteed:
// consumers see an at-least-once, unordered notification stream and must
// reconcile authoritative state from durable storage.
type Bus struct {
	mu         sync.RWMutex
	transports []event.Transport
	logger     zerolog.Logger
}

// New creates an empty bus.
func New(logger zerolog.Logger) *Bus {
	return &Bus{
		logger: logger.With().Str("service", "eventbus").Logger(),
	}
}

// Attach adds a transport adapter. Adapters attached mid-flight receive only
// subsequent publishes.
func (b *Bus) Attach(t event.Transport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transports = append(b.transports, t)
	b.logger.Info().Str("transport", t.Name()).Msg("transport attached")
}

// Publish fans the envelope out to every attached transport, best effort.
// Individual adapter failures are logged and skipped; only when every
// adapter fails does Publish return ErrTransportUnavailable.
func (b *Bus) Publish(ctx context.Context, room event.Room, env event.Envelope) error {
	b.mu.RLock()
	transports := make([]event.Transport, len(b.transports))
	copy(transports, b.transports)
	b.mu.RUnlock()

	if len(transports) == 0 {
		return nil
	}

	failed := 0
	for _, t := range transports {
		if err := t.Deliver(room, env); err != nil {
			failed++
			b.logger.Warn().
				Err(err).
				Str("transport", t.Name()).
				Str("room", string(room)).
				Str("type", env.Type).
				Msg("transport delivery failed")
		}
	}
	if failed == len(transports) {
		return fmt.Errorf("publish to %s: all %d transports failed: %w", room, failed, event.ErrTransportUnavailable)
	}
	return nil
}

// PublishToRooms publishes one envelope to several rooms.
func (b *Bus) PublishToRooms(ctx context.Context, rooms []event.Room, env event.Envelope) error {
	var firstErr error
	for _, room := range rooms {
		if err := b.Publish(ctx, room, env); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Shutdown closes every attached transport.
func (b *Bus) Shutdown() {
	b.mu.Lock()
	transports := b.transports
	b.transports = nil
	b.mu.Unlock()

	for _, t := range transports {
		if err := t.Close(); err != nil {
			b.logger.Warn().Err(err).Str("transport", t.Name()).Msg("transport close failed")
		}
	}
}
