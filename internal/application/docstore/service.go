package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pulsecrm/pulsecrm/internal/domain/crdt"
	"github.com/pulsecrm/pulsecrm/internal/domain/document"
)

// Service is the document store adapter: it persists and retrieves the
// serialized replicated state and applies merge updates to it. Merge is
// commutative, associative and idempotent per the CRDT contract; callers
// (the session manager) serialize concurrent merges per document so the
// cached content projection is never rebuilt from interleaved writes.
type Service struct {
	repo   document.Repository
	permFn document.PermissionFunc
	logger zerolog.Logger
}

// NewService creates a document store adapter. permFn may be nil, in which
// case the document's own permission sets decide.
func NewService(repo document.Repository, permFn document.PermissionFunc, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		permFn: permFn,
		logger: logger.With().Str("service", "docstore").Logger(),
	}
}

// Create makes an empty document owned by ownerID.
func (s *Service) Create(ctx context.Context, ownerID, title string) (*document.Document, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, fmt.Errorf("owner_id is required")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = "untitled"
	}

	now := time.Now().UTC()
	doc := &document.Document{
		ID:              uuid.NewString(),
		Title:           title,
		SerializedState: crdt.NewState().Encode(),
		OwnerID:         ownerID,
		CreatedAt:       now,
		LastModified:    now,
	}
	if err := s.repo.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}

	s.logger.Info().Str("document_id", doc.ID).Str("owner_id", ownerID).Msg("document created")
	return doc, nil
}

// Load returns the document if userID may view it. Soft-deleted documents
// read as not found.
func (s *Service) Load(ctx context.Context, documentID, userID string) (*document.Document, error) {
	return s.get(ctx, documentID, userID, document.PermissionView)
}

// Merge applies one opaque update to the document's replicated state.
// Applying a duplicate update changes nothing and does not bump the version;
// an accepted merge increments the version by exactly one and regenerates
// the content projection.
func (s *Service) Merge(ctx context.Context, documentID, userID string, update []byte) (*document.Document, error) {
	doc, err := s.get(ctx, documentID, userID, document.PermissionEdit)
	if err != nil {
		return nil, err
	}

	state, err := crdt.Decode(doc.SerializedState)
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", documentID, document.ErrMergeConflict)
	}
	changed, err := state.Apply(update)
	if err != nil {
		if errors.Is(err, crdt.ErrBadState) {
			return nil, fmt.Errorf("document %s: %w", documentID, document.ErrMergeConflict)
		}
		return nil, err
	}
	if !changed {
		return doc, nil
	}

	doc.SerializedState = state.Encode()
	doc.Content = state.Text()
	doc.Version++
	doc.LastModified = time.Now().UTC()
	if err := s.repo.Update(ctx, doc); err != nil {
		return nil, fmt.Errorf("save merged document: %w", err)
	}
	return doc, nil
}

// Save overwrites the serialized state at an explicit version. Intended for
// snapshot restores; normal edits flow through Merge.
func (s *Service) Save(ctx context.Context, documentID, userID string, serialized []byte, version int64) (*document.Document, error) {
	doc, err := s.get(ctx, documentID, userID, document.PermissionEdit)
	if err != nil {
		return nil, err
	}
	state, err := crdt.Decode(serialized)
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", documentID, document.ErrMergeConflict)
	}
	doc.SerializedState = state.Encode()
	doc.Content = state.Text()
	doc.Version = version
	doc.LastModified = time.Now().UTC()
	if err := s.repo.Update(ctx, doc); err != nil {
		return nil, fmt.Errorf("save document: %w", err)
	}
	return doc, nil
}

// ListOwned pages the caller's own documents, most recently modified first.
func (s *Service) ListOwned(ctx context.Context, ownerID string, limit, offset int) ([]*document.Document, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByOwner(ctx, ownerID, limit, offset)
}

// SoftDelete flags the document deleted. Replicated history stays intact, so
// replicas holding older state keep converging.
func (s *Service) SoftDelete(ctx context.Context, documentID, userID string) error {
	doc, err := s.get(ctx, documentID, userID, document.PermissionDelete)
	if err != nil {
		return err
	}
	return s.repo.SetDeleted(ctx, doc.ID, true, time.Now().UTC())
}

func (s *Service) get(ctx context.Context, documentID, userID string, kind document.PermissionKind) (*document.Document, error) {
	doc, err := s.repo.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil || doc.Deleted {
		return nil, fmt.Errorf("document %s: %w", documentID, document.ErrNotFound)
	}
	if !s.allowed(doc, userID, kind) {
		return nil, fmt.Errorf("user %s lacks %s on document %s: %w", userID, kind, documentID, document.ErrPermissionDenied)
	}
	return doc, nil
}

func (s *Service) allowed(doc *document.Document, userID string, kind document.PermissionKind) bool {
	if s.permFn != nil {
		return s.permFn(doc, userID, kind)
	}
	return doc.HasPermission(userID, kind)
}
