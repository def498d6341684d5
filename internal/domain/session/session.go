package session

import (
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("session not found")
	ErrNoActiveSession = errors.New("no active session for document")
)

// Metrics accumulates per-session counters.
type Metrics struct {
	TotalEdits          int `json:"totalEdits"`
	TotalParticipants   int `json:"totalParticipants"`
	ConflictResolutions int `json:"conflictResolutions"`
}

// Session is one collaboration session over a document. A session is active
// while EndedAt is unset; at most one active session exists per document.
type Session struct {
	SessionID      uuid.UUID  `json:"sessionId"`
	DocumentID     string     `json:"documentId"`
	Participants   []string   `json:"participants"`
	StartedAt      time.Time  `json:"startedAt"`
	EndedAt        *time.Time `json:"endedAt,omitempty"`
	LastActivityAt time.Time  `json:"lastActivityAt"`
	UpdateLog      [][]byte   `json:"updateLog,omitempty"`
	Metrics        Metrics    `json:"metrics"`
}

// New starts a session for documentID with a single participant.
func New(documentID, userID string) *Session {
	now := time.Now().UTC()
	return &Session{
		SessionID:      uuid.New(),
		DocumentID:     documentID,
		Participants:   []string{userID},
		StartedAt:      now,
		LastActivityAt: now,
		Metrics:        Metrics{TotalParticipants: 1},
	}
}

// Active reports whether the session has not ended.
func (s *Session) Active() bool {
	return s.EndedAt == nil
}

// Join appends userID to the participant set. Joining twice is a no-op;
// either way activity is stamped.
func (s *Session) Join(userID string) bool {
	s.LastActivityAt = time.Now().UTC()
	if slices.Contains(s.Participants, userID) {
		return false
	}
	s.Participants = append(s.Participants, userID)
	s.Metrics.TotalParticipants++
	return true
}

// Leave removes userID from the participant set. When the set empties the
// session transitions to ended and EndedAt is stamped. Returns true if the
// session ended.
func (s *Session) Leave(userID string) bool {
	idx := slices.Index(s.Participants, userID)
	if idx >= 0 {
		s.Participants = slices.Delete(s.Participants, idx, idx+1)
	}
	now := time.Now().UTC()
	s.LastActivityAt = now
	if len(s.Participants) == 0 && s.EndedAt == nil {
		s.EndedAt = &now
		return true
	}
	return false
}

// RecordUpdate appends one opaque update to the advisory update log. The log
// is diagnostic; document durability lives in the document store.
func (s *Session) RecordUpdate(update []byte) {
	cp := make([]byte, len(update))
	copy(cp, update)
	s.UpdateLog = append(s.UpdateLog, cp)
	s.Metrics.TotalEdits++
	s.LastActivityAt = time.Now().UTC()
}

// Duration is the session length; zero while the session is still active.
func (s *Session) Duration() time.Duration {
	if s.EndedAt == nil {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}
