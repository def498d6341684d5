package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pulsecrm/pulsecrm/internal/domain/job"
	"github.com/pulsecrm/pulsecrm/internal/domain/notification"
)

// Enqueuer is the slice of the scheduler the notifier needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, queue job.Queue, kind string, payload json.RawMessage) (*job.Job, error)
}

// Service creates durable notifications and hands delivery to the
// notification queue. Delivery is asynchronous: Create returning nil means
// the row and its dispatch job are persisted, not that the user saw it.
type Service struct {
	repo   notification.Repository
	jobs   Enqueuer
	logger zerolog.Logger
}

func NewService(repo notification.Repository, jobs Enqueuer, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		jobs:   jobs,
		logger: logger.With().Str("service", "notify").Logger(),
	}
}

// CreateInput carries the fields for a new notification.
type CreateInput struct {
	TargetUserID string          `json:"targetUserId"`
	Title        string          `json:"title"`
	Body         string          `json:"body"`
	Payload      json.RawMessage `json:"payload"`
}

// Create persists a notification and enqueues its dispatch job.
func (s *Service) Create(ctx context.Context, in CreateInput) (*notification.Notification, error) {
	if strings.TrimSpace(in.TargetUserID) == "" {
		return nil, fmt.Errorf("target_user_id is required")
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, fmt.Errorf("title is required")
	}

	n := notification.New(in.TargetUserID, in.Title, in.Body, in.Payload)
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}

	payload, err := json.Marshal(map[string]string{"notificationId": n.NotificationID.String()})
	if err != nil {
		return nil, fmt.Errorf("encode dispatch payload: %w", err)
	}
	if _, err := s.jobs.Enqueue(ctx, job.QueueNotifications, "notification:dispatch", payload); err != nil {
		return nil, fmt.Errorf("enqueue dispatch: %w", err)
	}

	s.logger.Debug().
		Str("notification_id", n.NotificationID.String()).
		Str("target_user_id", n.TargetUserID).
		Msg("notification created")
	return n, nil
}

// Get returns one notification by its public identifier.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*notification.Notification, error) {
	return s.repo.GetByID(ctx, id)
}

// ListForUser pages a user's notifications, newest first.
func (s *Service) ListForUser(ctx context.Context, userID string, limit, offset int) ([]*notification.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByUser(ctx, userID, limit, offset)
}
