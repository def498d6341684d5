package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulsecrm/pulsecrm/internal/domain/presence"
)

// PresenceAuditRepository implements presence.AuditRepository. Live presence
// stays in the cache; this table only receives records finalized by the
// staleness sweep.
type PresenceAuditRepository struct {
	pool *pgxpool.Pool
}

func NewPresenceAuditRepository(pool *pgxpool.Pool) *PresenceAuditRepository {
	return &PresenceAuditRepository{pool: pool}
}

func (r *PresenceAuditRepository) Record(ctx context.Context, rec *presence.Record) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO presence_audit (user_id, resource_type, resource_id, status, cursor_data, selection_data, last_seen_at, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (user_id, resource_type, resource_id)
		DO UPDATE SET status=EXCLUDED.status, cursor_data=EXCLUDED.cursor_data, selection_data=EXCLUDED.selection_data, last_seen_at=EXCLUDED.last_seen_at, is_active=EXCLUDED.is_active
	`, rec.UserID, rec.ResourceType, rec.ResourceID, rec.Status, rec.Cursor, rec.Selection, rec.LastSeenAt, rec.IsActive)
	return err
}
