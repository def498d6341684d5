package broker

import (
	"strings"

	"github.com/pulsecrm/pulsecrm/internal/domain/event"
)

// Routing keys take the shape crm/<kind>/<id>/<eventName>. Subscriptions may
// use + as a single-level wildcard, so crm/document/+/updated matches every
// document's update stream.
const keyPrefix = "crm"

// RoutingKey derives the routing key for an envelope published to room.
// Colons inside the event type are folded to dots so the type occupies one
// key level.
func RoutingKey(room event.Room, env event.Envelope) string {
	kind, id := room.Split()
	name := strings.ReplaceAll(env.Type, ":", ".")
	return keyPrefix + "/" + kind + "/" + id + "/" + name
}

// MatchKey reports whether key satisfies pattern. + matches exactly one
// level; all other levels compare literally.
func MatchKey(pattern, key string) bool {
	p := strings.Split(pattern, "/")
	k := strings.Split(key, "/")
	if len(p) != len(k) {
		return false
	}
	for i := range p {
		if p[i] == "+" {
			continue
		}
		if p[i] != k[i] {
			return false
		}
	}
	return true
}
