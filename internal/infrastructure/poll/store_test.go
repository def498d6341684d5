package poll

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsecrm/pulsecrm/internal/domain/event"
)

type memEventRepo struct {
	mu     sync.Mutex
	rows   []*event.StoredEnvelope
	nextID int64
	fail   error
}

func (r *memEventRepo) Append(_ context.Context, room event.Room, env event.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.nextID++
	r.rows = append(r.rows, &event.StoredEnvelope{ID: r.nextID, Room: room, Envelope: env})
	return nil
}

func (r *memEventRepo) ListSince(_ context.Context, rooms []event.Room, since time.Time, limit int) ([]*event.StoredEnvelope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := make(map[event.Room]struct{}, len(rooms))
	for _, room := range rooms {
		want[room] = struct{}{}
	}
	var out []*event.StoredEnvelope
	for _, se := range r.rows {
		if len(out) >= limit {
			break
		}
		if _, ok := want[se.Room]; !ok {
			continue
		}
		if se.Envelope.Timestamp.Before(since) {
			continue
		}
		out = append(out, se)
	}
	return out, nil
}

func (r *memEventRepo) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.rows[:0]
	var n int64
	for _, se := range r.rows {
		if se.Envelope.Timestamp.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, se)
	}
	r.rows = kept
	return n, nil
}

func TestDeliverPersistsEnvelope(t *testing.T) {
	repo := &memEventRepo{}
	tr := NewStoreTransport(repo, zerolog.Nop())

	env := event.NewEnvelope("document:updated", "doc-1", "u1", nil)
	require.NoError(t, tr.Deliver(event.DocumentRoom("doc-1"), env))

	got, err := tr.Since(context.Background(), []event.Room{event.DocumentRoom("doc-1")}, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "document:updated", got[0].Envelope.Type)
}

func TestDeliverSignalsUnavailable(t *testing.T) {
	repo := &memEventRepo{fail: errors.New("db down")}
	tr := NewStoreTransport(repo, zerolog.Nop())

	err := tr.Deliver(event.BroadcastRoom, event.NewEnvelope("system:announcement", "", "", nil))
	assert.ErrorIs(t, err, event.ErrTransportUnavailable)
}

func TestSinceClampsLimitAndFiltersRooms(t *testing.T) {
	repo := &memEventRepo{}
	tr := NewStoreTransport(repo, zerolog.Nop())

	for i := 0; i < DefaultBatchLimit+10; i++ {
		require.NoError(t, tr.Deliver(event.DocumentRoom("doc-1"), event.NewEnvelope("document:updated", "doc-1", "", nil)))
	}
	require.NoError(t, tr.Deliver(event.EntityRoom("lead-9"), event.NewEnvelope("entity:updated", "lead-9", "", nil)))

	got, err := tr.Since(context.Background(), []event.Room{event.DocumentRoom("doc-1")}, time.Time{}, 10_000)
	require.NoError(t, err)
	assert.Len(t, got, DefaultBatchLimit)
	for _, se := range got {
		assert.Equal(t, event.DocumentRoom("doc-1"), se.Room)
	}
}

func TestSinceHonorsWatermark(t *testing.T) {
	repo := &memEventRepo{}
	tr := NewStoreTransport(repo, zerolog.Nop())

	old := event.NewEnvelope("document:updated", "doc-1", "", nil)
	old.Timestamp = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, repo.Append(context.Background(), event.DocumentRoom("doc-1"), old))
	require.NoError(t, tr.Deliver(event.DocumentRoom("doc-1"), event.NewEnvelope("document:updated", "doc-1", "", nil)))

	got, err := tr.Since(context.Background(), []event.Room{event.DocumentRoom("doc-1")}, time.Now().UTC().Add(-time.Minute), 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
