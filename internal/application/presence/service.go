package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pulsecrm/pulsecrm/internal/domain/event"
	"github.com/pulsecrm/pulsecrm/internal/domain/presence"
)

// Publisher is the slice of the event bus the tracker needs.
type Publisher interface {
	Publish(ctx context.Context, room event.Room, env event.Envelope) error
}

// Tracker maintains ephemeral who-is-where state. Records live in the
// presence cache; durable storage only receives finalized records for audit
// when the sweep demotes them. Every upsert and demotion is push-notified
// through the event bus as a user:presence event.
type Tracker struct {
	cache  presence.Cache
	audit  presence.AuditRepository
	bus    Publisher
	window time.Duration
	logger zerolog.Logger
}

// NewTracker creates a presence tracker. window <= 0 selects the default
// five-minute freshness window; audit may be nil to skip mirroring.
func NewTracker(cache presence.Cache, audit presence.AuditRepository, bus Publisher, window time.Duration, logger zerolog.Logger) *Tracker {
	if window <= 0 {
		window = presence.DefaultFreshnessWindow
	}
	return &Tracker{
		cache:  cache,
		audit:  audit,
		bus:    bus,
		window: window,
		logger: logger.With().Str("service", "presence").Logger(),
	}
}

// Upsert records activity for one principal on one resource. It always
// succeeds over prior state: the record is overwritten and lastSeenAt reset.
func (t *Tracker) Upsert(ctx context.Context, userID, resourceType, resourceID string, status presence.Status, cursor, selection json.RawMessage) (*presence.Record, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(resourceID) == "" {
		return nil, fmt.Errorf("user_id and resource_id are required")
	}
	if status == "" {
		status = presence.StatusViewing
	}

	rec := &presence.Record{
		UserID:       userID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Status:       status,
		Cursor:       cursor,
		Selection:    selection,
		LastSeenAt:   time.Now().UTC(),
		IsActive:     true,
	}
	if err := t.cache.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("presence upsert: %w", err)
	}
	t.notify(ctx, rec)
	return rec, nil
}

// MarkInactive demotes the record for one principal on one resource.
// Idempotent: demoting an absent or already-idle record succeeds quietly.
func (t *Tracker) MarkInactive(ctx context.Context, userID, resourceType, resourceID string) error {
	rec, err := t.cache.Get(ctx, resourceType, resourceID, userID)
	if err != nil {
		return fmt.Errorf("presence lookup: %w", err)
	}
	if rec == nil {
		return nil
	}
	if !rec.IsActive && rec.Status == presence.StatusIdle {
		return nil
	}
	rec.Demote()
	if err := t.cache.Put(ctx, rec); err != nil {
		return fmt.Errorf("presence demote: %w", err)
	}
	t.notify(ctx, rec)
	return nil
}

// ListActive returns fresh records for one resource. window <= 0 selects
// the tracker's configured freshness window.
func (t *Tracker) ListActive(ctx context.Context, resourceType, resourceID string, window time.Duration) ([]*presence.Record, error) {
	if window <= 0 {
		window = t.window
	}
	all, err := t.cache.List(ctx, resourceType, resourceID)
	if err != nil {
		return nil, fmt.Errorf("presence list: %w", err)
	}
	now := time.Now().UTC()
	out := make([]*presence.Record, 0, len(all))
	for _, rec := range all {
		if rec.Fresh(now, window) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// SweepStale batch-demotes every record older than threshold, mirrors the
// finalized records to the audit store, and returns how many were affected.
// Invoked hourly by the cleanup queue.
func (t *Tracker) SweepStale(ctx context.Context, threshold time.Duration) (int, error) {
	resources, err := t.cache.Resources(ctx)
	if err != nil {
		return 0, fmt.Errorf("presence sweep: %w", err)
	}

	cutoff := time.Now().UTC().Add(-threshold)
	swept := 0
	for _, res := range resources {
		resourceType, resourceID := res[0], res[1]
		recs, err := t.cache.List(ctx, resourceType, resourceID)
		if err != nil {
			t.logger.Warn().Err(err).Str("resource", resourceType+":"+resourceID).Msg("sweep list failed")
			continue
		}
		for _, rec := range recs {
			if !rec.IsActive || rec.LastSeenAt.After(cutoff) {
				continue
			}
			rec.Demote()
			if err := t.cache.Put(ctx, rec); err != nil {
				t.logger.Warn().Err(err).Str("user_id", rec.UserID).Msg("sweep demote failed")
				continue
			}
			if t.audit != nil {
				if err := t.audit.Record(ctx, rec); err != nil {
					t.logger.Warn().Err(err).Str("user_id", rec.UserID).Msg("presence audit write failed")
				}
			}
			t.notify(ctx, rec)
			swept++
		}
	}
	if swept > 0 {
		t.logger.Info().Int("count", swept).Dur("threshold", threshold).Msg("stale presence swept")
	}
	return swept, nil
}

// Snapshot returns active records grouped by resource, for the polling
// endpoint's presence section.
func (t *Tracker) Snapshot(ctx context.Context, resources [][2]string) (map[string][]*presence.Record, error) {
	out := make(map[string][]*presence.Record, len(resources))
	for _, res := range resources {
		recs, err := t.ListActive(ctx, res[0], res[1], 0)
		if err != nil {
			return nil, err
		}
		out[res[0]+":"+res[1]] = recs
	}
	return out, nil
}

func (t *Tracker) notify(ctx context.Context, rec *presence.Record) {
	if t.bus == nil {
		return
	}
	payload, _ := json.Marshal(rec)
	env := event.NewEnvelope("user:presence", rec.ResourceID, rec.UserID, payload)

	room := event.EntityRoom(rec.ResourceID)
	if rec.ResourceType == "document" {
		room = event.DocumentRoom(rec.ResourceID)
	}
	if err := t.bus.Publish(ctx, room, env); err != nil {
		t.logger.Warn().Err(err).Str("user_id", rec.UserID).Msg("presence event publish failed")
	}
}
