package event

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// ErrTransportUnavailable signals that delivery through an adapter failed.
// The bus absorbs it per adapter and only escalates when every attached
// adapter fails for one publish.
var ErrTransportUnavailable = errors.New("transport unavailable")

// Envelope is the unit fanned out through the event bus. Envelopes are
// immutable once emitted; consumers must treat them as unordered,
// possibly-duplicated notifications, never as an authoritative log.
type Envelope struct {
	Type       string          `json:"type"`
	ResourceID string          `json:"resourceId"`
	ActorID    string          `json:"actorId,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	Timestamp  time.Time       `json:"timestamp"`
}

// NewEnvelope stamps a new envelope with the current UTC time.
func NewEnvelope(eventType, resourceID, actorID string, payload json.RawMessage) Envelope {
	return Envelope{
		Type:       eventType,
		ResourceID: resourceID,
		ActorID:    actorID,
		Payload:    payload,
		Timestamp:  time.Now().UTC(),
	}
}

// Room is a logical routing group. Rooms have no persisted identity; they
// exist only as addresses for currently-attached consumers.
type Room string

const BroadcastRoom Room = "broadcast:global"

func DocumentRoom(documentID string) Room { return Room("document:" + documentID) }
func EntityRoom(entityID string) Room     { return Room("entity:" + entityID) }
func UserRoom(userID string) Room         { return Room("user:" + userID) }

// Split breaks a room into its kind and identifier. The broadcast room
// splits into ("broadcast", "global").
func (r Room) Split() (kind, id string) {
	kind, id, ok := strings.Cut(string(r), ":")
	if !ok {
		return string(r), ""
	}
	return kind, id
}

// Transport is one delivery channel attached to the bus. Deliver must not
// block on slow consumers; adapters isolate their own backpressure.
type Transport interface {
	Name() string
	Deliver(room Room, env Envelope) error
	Close() error
}

// Receiver is implemented by transports that also carry inbound traffic
// (the broker bridge). Callbacks run on the transport's consumer goroutine.
type Receiver interface {
	OnReceive(func(room Room, env Envelope))
}

// StoredEnvelope is an envelope persisted for the polling transport,
// annotated with the room it was published to.
type StoredEnvelope struct {
	ID       int64    `json:"-"`
	Room     Room     `json:"room"`
	Envelope Envelope `json:"envelope"`
}

// Repository is durable storage for published envelopes. The polling
// endpoint re-derives missed events from here rather than from any live
// delivery buffer.
type Repository interface {
	Append(ctx context.Context, room Room, env Envelope) error
	// ListSince returns envelopes with timestamp >= since for the given
	// rooms, oldest first, capped at limit.
	ListSince(ctx context.Context, rooms []Room, since time.Time, limit int) ([]*StoredEnvelope, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
