package presence

import (
	"context"
	"encoding/json"
	"time"
)

// Status is what a principal is doing on a resource.
type Status string

const (
	StatusViewing Status = "viewing"
	StatusEditing Status = "editing"
	StatusIdle    Status = "idle"
)

// DefaultFreshnessWindow bounds how old a record may be and still count as
// active in roster listings.
const DefaultFreshnessWindow = 5 * time.Minute

// Record is the ephemeral per-user, per-resource activity state. Records are
// unique per (UserID, ResourceType, ResourceID) and live primarily in the
// presence cache; durable storage only mirrors finalized records for audit.
type Record struct {
	UserID       string          `json:"userId"`
	ResourceType string          `json:"resourceType"`
	ResourceID   string          `json:"resourceId"`
	Status       Status          `json:"status"`
	Cursor       json.RawMessage `json:"cursor,omitempty"`
	Selection    json.RawMessage `json:"selection,omitempty"`
	LastSeenAt   time.Time       `json:"lastSeenAt"`
	IsActive     bool            `json:"isActive"`
}

// Fresh reports whether the record was seen within window of now.
func (r *Record) Fresh(now time.Time, window time.Duration) bool {
	return r.IsActive && now.Sub(r.LastSeenAt) <= window
}

// Demote flips the record to its inactive idle form.
func (r *Record) Demote() {
	r.IsActive = false
	r.Status = StatusIdle
}

// Cache is the fast ephemeral store backing the presence tracker.
type Cache interface {
	Put(ctx context.Context, rec *Record) error
	Get(ctx context.Context, resourceType, resourceID, userID string) (*Record, error)
	List(ctx context.Context, resourceType, resourceID string) ([]*Record, error)
	// Resources enumerates every (resourceType, resourceID) pair holding
	// at least one record; used by the staleness sweep.
	Resources(ctx context.Context) ([][2]string, error)
	Remove(ctx context.Context, resourceType, resourceID, userID string) error
}

// AuditRepository mirrors finalized presence records to durable storage.
type AuditRepository interface {
	Record(ctx context.Context, rec *Record) error
}
