package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/pulsecrm/pulsecrm/internal/domain/event"
)

type pollResponse struct {
	Events    []*event.StoredEnvelope `json:"events"`
	Presence  map[string]interface{}  `json:"presence"`
	Watermark time.Time               `json:"watermark"`
}

// pollEvents is the fallback for clients without a live socket. The caller
// passes the watermark from its previous poll as since; rooms beyond the
// caller's own user room and the broadcast room are opted into with repeated
// room parameters.
func (s *Server) pollEvents(w http.ResponseWriter, r *http.Request) {
	user := authUserFromContext(r.Context())

	since, err := parseSince(r.URL.Query().Get("since"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "since must be RFC3339 or unix milliseconds")
		return
	}

	rooms := []event.Room{event.UserRoom(user.UserID), event.BroadcastRoom}
	resources := make([][2]string, 0, 4)
	for _, raw := range r.URL.Query()["room"] {
		room := event.Room(raw)
		kind, id := room.Split()
		if kind != "document" && kind != "entity" {
			continue
		}
		rooms = append(rooms, room)
		resources = append(resources, [2]string{kind, id})
	}

	events, err := s.pollStore.Since(r.Context(), rooms, since, 0)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}

	presence, err := s.presenceSvc.Snapshot(r.Context(), resources)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	presenceOut := make(map[string]interface{}, len(presence))
	for k, v := range presence {
		presenceOut[k] = v
	}

	// The watermark is the newest returned event so a full page replays from
	// the right spot; an empty page advances to now.
	watermark := time.Now().UTC()
	if len(events) > 0 {
		watermark = events[len(events)-1].Envelope.Timestamp
	}

	respondJSON(w, http.StatusOK, pollResponse{
		Events:    events,
		Presence:  presenceOut,
		Watermark: watermark,
	})
}

func parseSince(raw string) (time.Time, error) {
	if raw == "" {
		return time.Now().UTC().Add(-time.Minute), nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}
