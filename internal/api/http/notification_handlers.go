package httpapi

import (
	"net/http"

	appNotify "github.com/pulsecrm/pulsecrm/internal/application/notify"
)

func (s *Server) createNotification(w http.ResponseWriter, r *http.Request) {
	var req appNotify.CreateInput
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	n, err := s.notifySvc.Create(r.Context(), req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "CREATE_FAILED", err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, n)
}

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	user := authUserFromContext(r.Context())
	limit, offset := pagination(r)
	out, err := s.notifySvc.ListForUser(r.Context(), user.UserID, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"notifications": out})
}

func (s *Server) listFailedJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	jobs, err := s.scheduler.ListFailed(r.Context(), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}
