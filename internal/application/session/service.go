package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/pulsecrm/pulsecrm/internal/application/docstore"
	"github.com/pulsecrm/pulsecrm/internal/application/eventbus"
	"github.com/pulsecrm/pulsecrm/internal/domain/document"
	"github.com/pulsecrm/pulsecrm/internal/domain/event"
	"github.com/pulsecrm/pulsecrm/internal/domain/session"
)

// Manager owns collaboration session state: one active session per document,
// its participant set and update log. It is also the single choke point that
// serializes merge calls into the document store per document, so two
// simultaneous edits never interleave their writes to the cached projection.
type Manager struct {
	repo   session.Repository
	docs   *docstore.Service
	bus    *eventbus.Bus
	logger zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a session manager.
func NewManager(repo session.Repository, docs *docstore.Service, bus *eventbus.Bus, logger zerolog.Logger) *Manager {
	return &Manager{
		repo:   repo,
		docs:   docs,
		bus:    bus,
		logger: logger.With().Str("service", "session").Logger(),
		locks:  make(map[string]*sync.Mutex),
	}
}

// docLock returns the per-document mutex, creating it on first use. Lock
// entries are never removed; the set of concurrently edited documents stays
// small relative to process lifetime.
func (m *Manager) docLock(documentID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[documentID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[documentID] = l
	}
	return l
}

// StartOrJoin creates an active session for the document, or joins the
// existing one. Joining twice is a no-op beyond stamping activity.
func (m *Manager) StartOrJoin(ctx context.Context, documentID, userID string) (*session.Session, error) {
	documentID = strings.TrimSpace(documentID)
	userID = strings.TrimSpace(userID)
	if documentID == "" || userID == "" {
		return nil, fmt.Errorf("document_id and user_id are required")
	}

	lock := m.docLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := m.repo.GetActiveByDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		sess = session.New(documentID, userID)
		if err := m.repo.Create(ctx, sess); err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		m.publish(ctx, sess, "session:started", userID)
		return sess, nil
	}

	sess.Join(userID)
	if err := m.repo.Update(ctx, sess); err != nil {
		return nil, fmt.Errorf("join session: %w", err)
	}
	m.publish(ctx, sess, "session:joined", userID)
	return sess, nil
}

// Leave removes the participant from the document's active session. When the
// last participant leaves, the session ends and its duration is final.
func (m *Manager) Leave(ctx context.Context, documentID, userID string) (*session.Session, error) {
	lock := m.docLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := m.repo.GetActiveByDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("document %s: %w", documentID, session.ErrNoActiveSession)
	}

	ended := sess.Leave(userID)
	if err := m.repo.Update(ctx, sess); err != nil {
		return nil, fmt.Errorf("leave session: %w", err)
	}

	if ended {
		m.logger.Info().
			Str("session_id", sess.SessionID.String()).
			Str("document_id", documentID).
			Dur("duration", sess.Duration()).
			Int("total_edits", sess.Metrics.TotalEdits).
			Msg("session ended")
		m.publish(ctx, sess, "session:ended", userID)
	} else {
		m.publish(ctx, sess, "session:left", userID)
	}
	return sess, nil
}

// RecordUpdate merges one opaque update into the document through the
// document store and appends it to the session's advisory update log. It
// requires an active session; the per-document lock serializes concurrent
// callers end to end, merge included.
func (m *Manager) RecordUpdate(ctx context.Context, documentID, userID string, update []byte) (*document.Document, error) {
	lock := m.docLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := m.repo.GetActiveByDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("document %s: %w", documentID, session.ErrNoActiveSession)
	}

	doc, err := m.docs.Merge(ctx, documentID, userID, update)
	if err != nil {
		return nil, err
	}

	sess.RecordUpdate(update)
	if err := m.repo.Update(ctx, sess); err != nil {
		return nil, fmt.Errorf("record update: %w", err)
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"version":   doc.Version,
		"sessionId": sess.SessionID,
	})
	env := event.NewEnvelope("document:updated", documentID, userID, payload)
	if err := m.bus.PublishToRooms(ctx, []event.Room{event.DocumentRoom(documentID), event.BroadcastRoom}, env); err != nil {
		// Delivery is best effort; durable state already advanced.
		m.logger.Warn().Err(err).Str("document_id", documentID).Msg("update event publish failed")
	}
	return doc, nil
}

// Get returns the document's active session, or ErrNoActiveSession.
func (m *Manager) Get(ctx context.Context, documentID string) (*session.Session, error) {
	sess, err := m.repo.GetActiveByDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("document %s: %w", documentID, session.ErrNoActiveSession)
	}
	return sess, nil
}

func (m *Manager) publish(ctx context.Context, sess *session.Session, eventType, actorID string) {
	payload, _ := json.Marshal(map[string]interface{}{
		"sessionId":    sess.SessionID,
		"participants": sess.Participants,
	})
	env := event.NewEnvelope(eventType, sess.DocumentID, actorID, payload)
	if err := m.bus.Publish(ctx, event.DocumentRoom(sess.DocumentID), env); err != nil {
		m.logger.Warn().Err(err).Str("document_id", sess.DocumentID).Str("type", eventType).Msg("session event publish failed")
	}
}
