package notification

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status represents the delivery status of a notification.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusDelivered Status = "DELIVERED"
	StatusFailed    Status = "FAILED"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotFound          = errors.New("notification not found")
)

// DefaultRetention is how long delivered notifications are kept before the
// daily prune job removes them.
const DefaultRetention = 30 * 24 * time.Hour

// Notification is a durable per-user notification. Delivery happens through
// the background notification queue, which publishes to the target user's
// room on success; the row itself is what the prune job ages out.
type Notification struct {
	ID             int64           `json:"id"`
	NotificationID uuid.UUID       `json:"notificationId"`
	TargetUserID   string          `json:"targetUserId"`
	Title          string          `json:"title"`
	Body           string          `json:"body"`
	Payload        json.RawMessage `json:"payload"`
	Status         Status          `json:"status"`
	CreatedAt      time.Time       `json:"createdAt"`
	DeliveredAt    *time.Time      `json:"deliveredAt,omitempty"`
	LastError      *string         `json:"lastError,omitempty"`
}

// New creates a pending notification for one user.
func New(targetUserID, title, body string, payload json.RawMessage) *Notification {
	return &Notification{
		NotificationID: uuid.New(),
		TargetUserID:   targetUserID,
		Title:          title,
		Body:           body,
		Payload:        payload,
		Status:         StatusPending,
		CreatedAt:      time.Now().UTC(),
	}
}

// MarkDelivered stamps successful delivery.
func (n *Notification) MarkDelivered() error {
	if n.Status == StatusDelivered {
		return ErrInvalidTransition
	}
	n.Status = StatusDelivered
	now := time.Now().UTC()
	n.DeliveredAt = &now
	return nil
}

// MarkFailed records a delivery failure. Retry bookkeeping lives on the job,
// not here; the row just remembers the last error.
func (n *Notification) MarkFailed(errMsg string) {
	n.Status = StatusFailed
	n.LastError = &errMsg
}
