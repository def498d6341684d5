package notify

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsecrm/pulsecrm/internal/domain/job"
	"github.com/pulsecrm/pulsecrm/internal/domain/notification"
)

type memRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*notification.Notification
}

func newMemRepo() *memRepo {
	return &memRepo{rows: make(map[uuid.UUID]*notification.Notification)}
}

func (r *memRepo) Create(_ context.Context, n *notification.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *n
	r.rows[n.NotificationID] = &cp
	return nil
}

func (r *memRepo) GetByID(_ context.Context, id uuid.UUID) (*notification.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.rows[id]
	if !ok {
		return nil, notification.ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (r *memRepo) Update(_ context.Context, n *notification.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *n
	r.rows[n.NotificationID] = &cp
	return nil
}

func (r *memRepo) ListByUser(_ context.Context, userID string, limit, _ int) ([]*notification.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*notification.Notification
	for _, n := range r.rows {
		if n.TargetUserID == userID && len(out) < limit {
			cp := *n
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memRepo) DeleteOlderThan(context.Context, time.Time) (int64, error) { return 0, nil }

type stubEnqueuer struct {
	queues   []job.Queue
	kinds    []string
	payloads []json.RawMessage
}

func (e *stubEnqueuer) Enqueue(_ context.Context, queue job.Queue, kind string, payload json.RawMessage) (*job.Job, error) {
	e.queues = append(e.queues, queue)
	e.kinds = append(e.kinds, kind)
	e.payloads = append(e.payloads, payload)
	return job.New(queue, kind, payload), nil
}

func TestCreateEnqueuesDispatch(t *testing.T) {
	repo := newMemRepo()
	enq := &stubEnqueuer{}
	svc := NewService(repo, enq, zerolog.Nop())

	n, err := svc.Create(context.Background(), CreateInput{
		TargetUserID: "u1",
		Title:        "Lead assigned",
		Body:         "Lead l1 is now yours",
		Payload:      json.RawMessage(`{"leadId":"l1"}`),
	})
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, notification.StatusPending, n.Status)

	stored, err := repo.GetByID(context.Background(), n.NotificationID)
	require.NoError(t, err)
	assert.Equal(t, "Lead assigned", stored.Title)

	require.Len(t, enq.kinds, 1)
	assert.Equal(t, job.QueueNotifications, enq.queues[0])
	assert.Equal(t, "notification:dispatch", enq.kinds[0])

	var p map[string]string
	require.NoError(t, json.Unmarshal(enq.payloads[0], &p))
	assert.Equal(t, n.NotificationID.String(), p["notificationId"])
}

func TestCreateValidatesInput(t *testing.T) {
	svc := NewService(newMemRepo(), &stubEnqueuer{}, zerolog.Nop())

	_, err := svc.Create(context.Background(), CreateInput{Title: "no target"})
	assert.Error(t, err)

	_, err = svc.Create(context.Background(), CreateInput{TargetUserID: "u1"})
	assert.Error(t, err)
}

func TestListForUserClampsLimit(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, &stubEnqueuer{}, zerolog.Nop())

	for i := 0; i < 25; i++ {
		_, err := svc.Create(context.Background(), CreateInput{TargetUserID: "u1", Title: "t"})
		require.NoError(t, err)
	}

	out, err := svc.ListForUser(context.Background(), "u1", 0, 0)
	require.NoError(t, err)
	assert.Len(t, out, 20)
}
