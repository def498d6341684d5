package document

import (
	"context"
	"errors"
	"slices"
	"time"
)

var (
	ErrNotFound         = errors.New("document not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrMergeConflict    = errors.New("replicated state merge conflict")
)

// PermissionKind is a capability a user can hold on a document.
type PermissionKind string

const (
	PermissionEdit   PermissionKind = "edit"
	PermissionView   PermissionKind = "view"
	PermissionDelete PermissionKind = "delete"
)

// Permissions holds per-capability user ID sets. The owner implicitly holds
// every capability regardless of set membership.
type Permissions struct {
	CanEdit   []string `json:"canEdit"`
	CanView   []string `json:"canView"`
	CanDelete []string `json:"canDelete"`
}

// Allows reports whether userID appears in the set for kind.
func (p Permissions) Allows(userID string, kind PermissionKind) bool {
	switch kind {
	case PermissionEdit:
		return slices.Contains(p.CanEdit, userID)
	case PermissionView:
		// Editors can always read what they can write.
		return slices.Contains(p.CanView, userID) || slices.Contains(p.CanEdit, userID)
	case PermissionDelete:
		return slices.Contains(p.CanDelete, userID)
	}
	return false
}

// Document is a collaboratively edited document. SerializedState is the sole
// source of truth; Content is a cached projection regenerated on every
// accepted merge. Version strictly increases with each accepted merge.
type Document struct {
	ID              string      `json:"id"`
	Title           string      `json:"title"`
	Content         string      `json:"content"`
	SerializedState []byte      `json:"serializedState"`
	Version         int64       `json:"version"`
	Permissions     Permissions `json:"permissions"`
	OwnerID         string      `json:"ownerId"`
	Deleted         bool        `json:"deleted"`
	CreatedAt       time.Time   `json:"createdAt"`
	LastModified    time.Time   `json:"lastModified"`
}

// HasPermission checks a capability, honoring implicit owner rights.
func (d *Document) HasPermission(userID string, kind PermissionKind) bool {
	if userID == d.OwnerID {
		return true
	}
	return d.Permissions.Allows(userID, kind)
}

// PermissionFunc lets the business layer override capability checks. A nil
// func falls back to Document.HasPermission.
type PermissionFunc func(doc *Document, userID string, kind PermissionKind) bool

// Repository defines durable storage for documents.
type Repository interface {
	Create(ctx context.Context, doc *Document) error
	GetByID(ctx context.Context, id string) (*Document, error)
	Update(ctx context.Context, doc *Document) error
	SetDeleted(ctx context.Context, id string, deleted bool, at time.Time) error
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*Document, error)
}
