package session

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines persistence for collaboration sessions.
type Repository interface {
	Create(ctx context.Context, sess *Session) error
	GetByID(ctx context.Context, sessionID uuid.UUID) (*Session, error)
	GetActiveByDocument(ctx context.Context, documentID string) (*Session, error)
	Update(ctx context.Context, sess *Session) error
	ListByDocument(ctx context.Context, documentID string, limit, offset int) ([]*Session, error)
}
