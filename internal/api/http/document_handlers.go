package httpapi

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pulsecrm/pulsecrm/internal/domain/document"
)

type createDocumentRequest struct {
	Title string `json:"title"`
}

type mergeDocumentRequest struct {
	// Update is the base64-encoded serialized merge payload.
	Update string `json:"update"`
}

func (s *Server) createDocument(w http.ResponseWriter, r *http.Request) {
	user := authUserFromContext(r.Context())
	var req createDocumentRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	doc, err := s.docSvc.Create(r.Context(), user.UserID, req.Title)
	if err != nil {
		respondError(w, http.StatusBadRequest, "CREATE_FAILED", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, doc)
}

func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	user := authUserFromContext(r.Context())
	limit, offset := pagination(r)
	docs, err := s.docSvc.ListOwned(r.Context(), user.UserID, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "LIST_FAILED", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"documents": docs})
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	user := authUserFromContext(r.Context())
	doc, err := s.docSvc.Load(r.Context(), chi.URLParam(r, "documentId"), user.UserID)
	if err != nil {
		respondDocumentError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

func (s *Server) mergeDocument(w http.ResponseWriter, r *http.Request) {
	user := authUserFromContext(r.Context())
	var req mergeDocumentRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	update, err := base64.StdEncoding.DecodeString(req.Update)
	if err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "update must be base64")
		return
	}
	doc, err := s.docSvc.Merge(r.Context(), chi.URLParam(r, "documentId"), user.UserID, update)
	if err != nil {
		respondDocumentError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

func (s *Server) deleteDocument(w http.ResponseWriter, r *http.Request) {
	user := authUserFromContext(r.Context())
	if err := s.docSvc.SoftDelete(r.Context(), chi.URLParam(r, "documentId"), user.UserID); err != nil {
		respondDocumentError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func respondDocumentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, document.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, document.ErrPermissionDenied):
		respondError(w, http.StatusForbidden, "FORBIDDEN", err.Error())
	case errors.Is(err, document.ErrMergeConflict):
		respondError(w, http.StatusConflict, "MERGE_CONFLICT", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
	}
}

func pagination(r *http.Request) (limit, offset int) {
	limit = 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
