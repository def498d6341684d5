package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines persistence for notifications.
type Repository interface {
	Create(ctx context.Context, n *Notification) error
	GetByID(ctx context.Context, notificationID uuid.UUID) (*Notification, error)
	Update(ctx context.Context, n *Notification) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*Notification, error)
	// DeleteOlderThan removes notifications created before cutoff and
	// returns how many were pruned.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
