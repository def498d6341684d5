package httpapi

import (
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pulsecrm/pulsecrm/internal/domain/session"
)

type sessionUpdateRequest struct {
	// Update is the base64-encoded serialized merge payload.
	Update string `json:"update"`
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessionSvc.Get(r.Context(), chi.URLParam(r, "documentId"))
	if err != nil {
		respondSessionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) joinSession(w http.ResponseWriter, r *http.Request) {
	user := authUserFromContext(r.Context())
	sess, err := s.sessionSvc.StartOrJoin(r.Context(), chi.URLParam(r, "documentId"), user.UserID)
	if err != nil {
		respondDocumentError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) leaveSession(w http.ResponseWriter, r *http.Request) {
	user := authUserFromContext(r.Context())
	sess, err := s.sessionSvc.Leave(r.Context(), chi.URLParam(r, "documentId"), user.UserID)
	if err != nil {
		respondSessionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) sessionUpdate(w http.ResponseWriter, r *http.Request) {
	user := authUserFromContext(r.Context())
	var req sessionUpdateRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	update, err := base64.StdEncoding.DecodeString(req.Update)
	if err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "update must be base64")
		return
	}
	doc, err := s.sessionSvc.RecordUpdate(r.Context(), chi.URLParam(r, "documentId"), user.UserID, update)
	if err != nil {
		if errors.Is(err, session.ErrNoActiveSession) {
			respondSessionError(w, err)
			return
		}
		respondDocumentError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

func respondSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNoActiveSession), errors.Is(err, session.ErrNotFound):
		respondError(w, http.StatusNotFound, "NO_ACTIVE_SESSION", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
	}
}
