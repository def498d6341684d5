package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pulsecrm/pulsecrm/internal/domain/event"
	"github.com/pulsecrm/pulsecrm/internal/domain/job"
	"github.com/pulsecrm/pulsecrm/internal/domain/notification"
)

// Job kinds dispatched by the queue workers.
const (
	KindDispatchNotification = "notification:dispatch"
	KindSendEmail            = "email:send"
	KindSweepPresence        = "presence:sweep-stale"
	KindPruneNotifications   = "notifications:prune"
)

// Publisher is the slice of the event bus notification delivery needs.
type Publisher interface {
	Publish(ctx context.Context, room event.Room, env event.Envelope) error
}

// Sweeper demotes stale presence records; implemented by the presence tracker.
type Sweeper interface {
	SweepStale(ctx context.Context, threshold time.Duration) (int, error)
}

// Sender delivers email. The default implementation only logs; a real SMTP
// or provider-backed sender plugs in at wiring time.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogSender is the development Sender: it records the send and succeeds.
type LogSender struct {
	Logger zerolog.Logger
}

func (s LogSender) Send(_ context.Context, to, subject, _ string) error {
	s.Logger.Info().Str("to", to).Str("subject", subject).Msg("email send (log only)")
	return nil
}

// Handlers bundles the job handler dependencies.
type Handlers struct {
	Notifications notification.Repository
	Events        event.Repository
	Jobs          job.Repository
	Bus           Publisher
	Sweeper       Sweeper
	Sender        Sender

	// SweepThreshold is how old a presence record must be before the hourly
	// sweep demotes it. Zero selects one hour.
	SweepThreshold time.Duration
	// Retention is how long notification rows and stored envelopes are kept.
	// Zero selects the 30-day default.
	Retention time.Duration

	Logger zerolog.Logger
}

// Mount registers the handlers and the recurring maintenance jobs.
func (h *Handlers) Mount(s *Scheduler) {
	s.Register(KindDispatchNotification, h.DispatchNotification)
	s.Register(KindSendEmail, h.SendEmail)
	s.Register(KindSweepPresence, h.SweepPresence)
	s.Register(KindPruneNotifications, h.PruneNotifications)

	s.RegisterRecurring(Recurring{
		Kind:     KindSweepPresence,
		Queue:    job.QueueCleanup,
		Interval: time.Hour,
	})
	s.RegisterRecurring(Recurring{
		Kind:     KindPruneNotifications,
		Queue:    job.QueueCleanup,
		Interval: 24 * time.Hour,
	})
}

type dispatchPayload struct {
	NotificationID uuid.UUID `json:"notificationId"`
}

// DispatchNotification delivers one stored notification to its target user's
// room. Delivery failure keeps the row FAILED and surfaces the error so the
// job machinery retries.
func (h *Handlers) DispatchNotification(ctx context.Context, j *job.Job) error {
	var p dispatchPayload
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return fmt.Errorf("decode dispatch payload: %w", err)
	}

	n, err := h.Notifications.GetByID(ctx, p.NotificationID)
	if err != nil {
		return fmt.Errorf("load notification %s: %w", p.NotificationID, err)
	}
	if n.Status == notification.StatusDelivered {
		return nil
	}

	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification %s: %w", n.NotificationID, err)
	}
	env := event.NewEnvelope("notification:new", n.NotificationID.String(), "", body)
	if err := h.Bus.Publish(ctx, event.UserRoom(n.TargetUserID), env); err != nil {
		n.MarkFailed(err.Error())
		if uerr := h.Notifications.Update(ctx, n); uerr != nil {
			h.Logger.Error().Err(uerr).Str("notification_id", n.NotificationID.String()).Msg("failure status update failed")
		}
		return fmt.Errorf("publish notification %s: %w", n.NotificationID, err)
	}

	if err := n.MarkDelivered(); err != nil {
		return nil
	}
	if err := h.Notifications.Update(ctx, n); err != nil {
		return fmt.Errorf("record delivery of %s: %w", n.NotificationID, err)
	}
	return nil
}

type emailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (h *Handlers) SendEmail(ctx context.Context, j *job.Job) error {
	var p emailPayload
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return fmt.Errorf("decode email payload: %w", err)
	}
	if p.To == "" {
		return fmt.Errorf("email payload missing recipient")
	}
	if err := h.Sender.Send(ctx, p.To, p.Subject, p.Body); err != nil {
		return fmt.Errorf("send email to %s: %w", p.To, err)
	}
	return nil
}

func (h *Handlers) SweepPresence(ctx context.Context, _ *job.Job) error {
	threshold := h.SweepThreshold
	if threshold <= 0 {
		threshold = time.Hour
	}
	if _, err := h.Sweeper.SweepStale(ctx, threshold); err != nil {
		return fmt.Errorf("sweep stale presence: %w", err)
	}
	return nil
}

// PruneNotifications ages out delivered notification rows, stored envelopes
// and completed jobs past the retention window.
func (h *Handlers) PruneNotifications(ctx context.Context, _ *job.Job) error {
	retention := h.Retention
	if retention <= 0 {
		retention = notification.DefaultRetention
	}
	cutoff := time.Now().UTC().Add(-retention)

	pruned, err := h.Notifications.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune notifications: %w", err)
	}
	var events, jobs int64
	if h.Events != nil {
		if events, err = h.Events.DeleteOlderThan(ctx, cutoff); err != nil {
			return fmt.Errorf("prune stored envelopes: %w", err)
		}
	}
	if h.Jobs != nil {
		if jobs, err = h.Jobs.DeleteDone(ctx, cutoff); err != nil {
			return fmt.Errorf("prune finished jobs: %w", err)
		}
	}
	h.Logger.Info().
		Int64("notifications", pruned).
		Int64("events", events).
		Int64("jobs", jobs).
		Time("cutoff", cutoff).
		Msg("retention prune complete")
	return nil
}
