package presence

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsecrm/pulsecrm/internal/domain/event"
	"github.com/pulsecrm/pulsecrm/internal/domain/presence"
)

type memCache struct {
	mu   sync.Mutex
	recs map[string]*presence.Record
}

func newMemCache() *memCache {
	return &memCache{recs: make(map[string]*presence.Record)}
}

func key(resourceType, resourceID, userID string) string {
	return resourceType + "/" + resourceID + "/" + userID
}

func (c *memCache) Put(_ context.Context, rec *presence.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *rec
	c.recs[key(rec.ResourceType, rec.ResourceID, rec.UserID)] = &cp
	return nil
}

func (c *memCache) Get(_ context.Context, resourceType, resourceID, userID string) (*presence.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.recs[key(resourceType, resourceID, userID)]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (c *memCache) List(_ context.Context, resourceType, resourceID string) ([]*presence.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*presence.Record
	for _, rec := range c.recs {
		if rec.ResourceType == resourceType && rec.ResourceID == resourceID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (c *memCache) Resources(_ context.Context) ([][2]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	seen := make(map[[2]string]struct{})
	var out [][2]string
	for _, rec := range c.recs {
		pair := [2]string{rec.ResourceType, rec.ResourceID}
		if _, ok := seen[pair]; !ok {
			seen[pair] = struct{}{}
			out = append(out, pair)
		}
	}
	return out, nil
}

func (c *memCache) Remove(_ context.Context, resourceType, resourceID, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.recs, key(resourceType, resourceID, userID))
	return nil
}

type memAudit struct {
	mu   sync.Mutex
	rows []*presence.Record
}

func (a *memAudit) Record(_ context.Context, rec *presence.Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := *rec
	a.rows = append(a.rows, &cp)
	return nil
}

type capturingBus struct {
	mu     sync.Mutex
	events []struct {
		Room event.Room
		Env  event.Envelope
	}
}

func (b *capturingBus) Publish(_ context.Context, room event.Room, env event.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, struct {
		Room event.Room
		Env  event.Envelope
	}{room, env})
	return nil
}

func (b *capturingBus) last(t *testing.T) (event.Room, event.Envelope) {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	require.NotEmpty(t, b.events)
	e := b.events[len(b.events)-1]
	return e.Room, e.Env
}

func newTestTracker() (*Tracker, *memCache, *memAudit, *capturingBus) {
	cache := newMemCache()
	audit := &memAudit{}
	bus := &capturingBus{}
	tr := NewTracker(cache, audit, bus, 0, zerolog.Nop())
	return tr, cache, audit, bus
}

func TestUpsertOverwritesAndNotifies(t *testing.T) {
	tr, cache, _, bus := newTestTracker()
	ctx := context.Background()

	_, err := tr.Upsert(ctx, "u1", "document", "doc-1", presence.StatusViewing, nil, nil)
	require.NoError(t, err)

	cursor := json.RawMessage(`{"line":3}`)
	rec, err := tr.Upsert(ctx, "u1", "document", "doc-1", presence.StatusEditing, cursor, nil)
	require.NoError(t, err)
	assert.Equal(t, presence.StatusEditing, rec.Status)
	assert.True(t, rec.IsActive)

	stored, err := cache.Get(ctx, "document", "doc-1", "u1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, presence.StatusEditing, stored.Status)
	assert.JSONEq(t, `{"line":3}`, string(stored.Cursor))

	room, env := bus.last(t)
	assert.Equal(t, event.DocumentRoom("doc-1"), room)
	assert.Equal(t, "user:presence", env.Type)
	assert.Equal(t, "u1", env.ActorID)
}

func TestUpsertEntityResourceUsesEntityRoom(t *testing.T) {
	tr, _, _, bus := newTestTracker()

	_, err := tr.Upsert(context.Background(), "u1", "deal", "deal-7", presence.StatusViewing, nil, nil)
	require.NoError(t, err)

	room, _ := bus.last(t)
	assert.Equal(t, event.EntityRoom("deal-7"), room)
}

func TestUpsertRejectsBlankIdentifiers(t *testing.T) {
	tr, _, _, _ := newTestTracker()

	_, err := tr.Upsert(context.Background(), "", "document", "doc-1", presence.StatusViewing, nil, nil)
	assert.Error(t, err)

	_, err = tr.Upsert(context.Background(), "u1", "document", "  ", presence.StatusViewing, nil, nil)
	assert.Error(t, err)
}

func TestMarkInactiveIsIdempotent(t *testing.T) {
	tr, cache, _, bus := newTestTracker()
	ctx := context.Background()

	// Absent record: quiet success, no event.
	require.NoError(t, tr.MarkInactive(ctx, "ghost", "document", "doc-1"))
	assert.Empty(t, bus.events)

	_, err := tr.Upsert(ctx, "u1", "document", "doc-1", presence.StatusEditing, nil, nil)
	require.NoError(t, err)

	require.NoError(t, tr.MarkInactive(ctx, "u1", "document", "doc-1"))
	rec, err := cache.Get(ctx, "document", "doc-1", "u1")
	require.NoError(t, err)
	assert.False(t, rec.IsActive)
	assert.Equal(t, presence.StatusIdle, rec.Status)

	published := len(bus.events)
	// Second demotion is a no-op and must not publish again.
	require.NoError(t, tr.MarkInactive(ctx, "u1", "document", "doc-1"))
	assert.Len(t, bus.events, published)
}

func TestListActiveFiltersStaleAndInactive(t *testing.T) {
	tr, cache, _, _ := newTestTracker()
	ctx := context.Background()

	_, err := tr.Upsert(ctx, "fresh", "document", "doc-1", presence.StatusViewing, nil, nil)
	require.NoError(t, err)

	stale := &presence.Record{
		UserID: "stale", ResourceType: "document", ResourceID: "doc-1",
		Status: presence.StatusViewing, LastSeenAt: time.Now().UTC().Add(-10 * time.Minute), IsActive: true,
	}
	require.NoError(t, cache.Put(ctx, stale))

	idle := &presence.Record{
		UserID: "idle", ResourceType: "document", ResourceID: "doc-1",
		Status: presence.StatusIdle, LastSeenAt: time.Now().UTC(), IsActive: false,
	}
	require.NoError(t, cache.Put(ctx, idle))

	active, err := tr.ListActive(ctx, "document", "doc-1", 0)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "fresh", active[0].UserID)
}

func TestSweepStaleDemotesAndAudits(t *testing.T) {
	tr, cache, audit, bus := newTestTracker()
	ctx := context.Background()

	_, err := tr.Upsert(ctx, "live", "document", "doc-1", presence.StatusEditing, nil, nil)
	require.NoError(t, err)

	for _, old := range []string{"old-a", "old-b"} {
		rec := &presence.Record{
			UserID: old, ResourceType: "document", ResourceID: "doc-1",
			Status: presence.StatusViewing, LastSeenAt: time.Now().UTC().Add(-2 * time.Hour), IsActive: true,
		}
		require.NoError(t, cache.Put(ctx, rec))
	}

	swept, err := tr.SweepStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, swept)
	assert.Len(t, audit.rows, 2)
	for _, row := range audit.rows {
		assert.False(t, row.IsActive)
		assert.Equal(t, presence.StatusIdle, row.Status)
	}

	// Live record untouched.
	rec, err := cache.Get(ctx, "document", "doc-1", "live")
	require.NoError(t, err)
	assert.True(t, rec.IsActive)

	// A demotion event was published for each swept record.
	types := 0
	for _, e := range bus.events {
		if e.Env.Type == "user:presence" {
			types++
		}
	}
	assert.GreaterOrEqual(t, types, 3) // 1 upsert + 2 sweeps

	// Re-sweep finds nothing left to do.
	swept, err = tr.SweepStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, swept)
}
