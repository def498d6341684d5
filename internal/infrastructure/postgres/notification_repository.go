package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulsecrm/pulsecrm/internal/domain/notification"
)

// NotificationRepository implements notification.Repository.
type NotificationRepository struct {
	pool *pgxpool.Pool
}

func NewNotificationRepository(pool *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{pool: pool}
}

func (r *NotificationRepository) Create(ctx context.Context, n *notification.Notification) error {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO notifications (notification_id, target_user_id, title, body, payload, status, created_at, delivered_at, last_error)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id
	`, n.NotificationID, n.TargetUserID, n.Title, n.Body, n.Payload, n.Status, n.CreatedAt, n.DeliveredAt, n.LastError)
	return row.Scan(&n.ID)
}

func (r *NotificationRepository) GetByID(ctx context.Context, notificationID uuid.UUID) (*notification.Notification, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, notification_id, target_user_id, title, body, payload, status, created_at, delivered_at, last_error
		FROM notifications WHERE notification_id=$1
	`, notificationID)
	n, err := scanNotification(row)
	if err == pgx.ErrNoRows {
		return nil, notification.ErrNotFound
	}
	return n, err
}

func (r *NotificationRepository) Update(ctx context.Context, n *notification.Notification) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications SET status=$2, delivered_at=$3, last_error=$4 WHERE notification_id=$1
	`, n.NotificationID, n.Status, n.DeliveredAt, n.LastError)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notification.ErrNotFound
	}
	return nil
}

func (r *NotificationRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*notification.Notification, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, notification_id, target_user_id, title, body, payload, status, created_at, delivered_at, last_error
		FROM notifications WHERE target_user_id=$1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*notification.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *NotificationRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM notifications WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanNotification(row pgx.Row) (*notification.Notification, error) {
	var n notification.Notification
	if err := row.Scan(&n.ID, &n.NotificationID, &n.TargetUserID, &n.Title, &n.Body, &n.Payload, &n.Status, &n.CreatedAt, &n.DeliveredAt, &n.LastError); err != nil {
		return nil, err
	}
	return &n, nil
}
