package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pulsecrm/pulsecrm/internal/domain/presence"
)

type upsertPresenceRequest struct {
	ResourceType string          `json:"resourceType"`
	ResourceID   string          `json:"resourceId"`
	Status       string          `json:"status"`
	Cursor       json.RawMessage `json:"cursor"`
	Selection    json.RawMessage `json:"selection"`
}

type markInactiveRequest struct {
	ResourceType string `json:"resourceType"`
	ResourceID   string `json:"resourceId"`
}

func (s *Server) upsertPresence(w http.ResponseWriter, r *http.Request) {
	user := authUserFromContext(r.Context())
	var req upsertPresenceRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	rec, err := s.presenceSvc.Upsert(r.Context(), user.UserID, req.ResourceType, req.ResourceID, presence.Status(req.Status), req.Cursor, req.Selection)
	if err != nil {
		respondError(w, http.StatusBadRequest, "UPSERT_FAILED", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) markPresenceInactive(w http.ResponseWriter, r *http.Request) {
	user := authUserFromContext(r.Context())
	var req markInactiveRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if err := s.presenceSvc.MarkInactive(r.Context(), user.UserID, req.ResourceType, req.ResourceID); err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "inactive"})
}

func (s *Server) listPresence(w http.ResponseWriter, r *http.Request) {
	recs, err := s.presenceSvc.ListActive(r.Context(), chi.URLParam(r, "resourceType"), chi.URLParam(r, "resourceId"), 0)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"presence": recs})
}
