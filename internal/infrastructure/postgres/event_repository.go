package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulsecrm/pulsecrm/internal/domain/event"
)

// EventRepository implements event.Repository. Stored envelopes back the
// polling transport; the retention prune ages them out.
type EventRepository struct {
	pool *pgxpool.Pool
}

func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

func (r *EventRepository) Append(ctx context.Context, room event.Room, env event.Envelope) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sync_events (room, event_type, resource_id, actor_id, payload, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, string(room), env.Type, env.ResourceID, env.ActorID, env.Payload, env.Timestamp)
	return err
}

func (r *EventRepository) ListSince(ctx context.Context, rooms []event.Room, since time.Time, limit int) ([]*event.StoredEnvelope, error) {
	names := make([]string, len(rooms))
	for i, room := range rooms {
		names[i] = string(room)
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, room, event_type, resource_id, actor_id, payload, occurred_at
		FROM sync_events
		WHERE room = ANY($1) AND occurred_at >= $2
		ORDER BY occurred_at ASC, id ASC
		LIMIT $3
	`, names, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*event.StoredEnvelope
	for rows.Next() {
		var se event.StoredEnvelope
		var room string
		if err := rows.Scan(&se.ID, &room, &se.Envelope.Type, &se.Envelope.ResourceID, &se.Envelope.ActorID, &se.Envelope.Payload, &se.Envelope.Timestamp); err != nil {
			return nil, err
		}
		se.Room = event.Room(room)
		out = append(out, &se)
	}
	return out, rows.Err()
}

func (r *EventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sync_events WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
