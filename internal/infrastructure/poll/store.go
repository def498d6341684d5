package poll

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/pulsecrm/pulsecrm/internal/domain/event"
)

// DefaultBatchLimit caps how many stored envelopes one poll returns.
const DefaultBatchLimit = 50

// StoreTransport is the fallback delivery channel: every published envelope
// is persisted, and clients without a live socket re-derive missed events by
// polling the durable store.
type StoreTransport struct {
	repo   event.Repository
	logger zerolog.Logger
}

func NewStoreTransport(repo event.Repository, logger zerolog.Logger) *StoreTransport {
	return &StoreTransport{
		repo:   repo,
		logger: logger.With().Str("transport", "poll").Logger(),
	}
}

func (t *StoreTransport) Name() string { return "poll" }

// Deliver implements event.Transport by appending the envelope to the store.
func (t *StoreTransport) Deliver(room event.Room, env event.Envelope) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.repo.Append(ctx, room, env); err != nil {
		t.logger.Error().Err(err).Str("room", string(room)).Msg("envelope append failed")
		return event.ErrTransportUnavailable
	}
	return nil
}

func (t *StoreTransport) Close() error { return nil }

// Since returns up to limit stored envelopes for rooms at or after the
// watermark, oldest first. limit <= 0 or above the cap uses the default.
func (t *StoreTransport) Since(ctx context.Context, rooms []event.Room, since time.Time, limit int) ([]*event.StoredEnvelope, error) {
	if limit <= 0 || limit > DefaultBatchLimit {
		limit = DefaultBatchLimit
	}
	return t.repo.ListSince(ctx, rooms, since, limit)
}
