package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	appDocstore "github.com/pulsecrm/pulsecrm/internal/application/docstore"
	appNotify "github.com/pulsecrm/pulsecrm/internal/application/notify"
	appPresence "github.com/pulsecrm/pulsecrm/internal/application/presence"
	appScheduler "github.com/pulsecrm/pulsecrm/internal/application/scheduler"
	appSession "github.com/pulsecrm/pulsecrm/internal/application/session"
	"github.com/pulsecrm/pulsecrm/internal/infrastructure/poll"
	"github.com/pulsecrm/pulsecrm/internal/infrastructure/ws"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	docSvc      *appDocstore.Service
	sessionSvc  *appSession.Manager
	presenceSvc *appPresence.Tracker
	notifySvc   *appNotify.Service
	scheduler   *appScheduler.Scheduler
	pollStore   *poll.StoreTransport
	hub         *ws.Hub
	jwtSecret   []byte
	logger      zerolog.Logger
}

func NewServer(
	docSvc *appDocstore.Service,
	sessionSvc *appSession.Manager,
	presenceSvc *appPresence.Tracker,
	notifySvc *appNotify.Service,
	scheduler *appScheduler.Scheduler,
	pollStore *poll.StoreTransport,
	hub *ws.Hub,
	jwtSecret []byte,
	logger zerolog.Logger,
) *Server {
	return &Server{
		docSvc:      docSvc,
		sessionSvc:  sessionSvc,
		presenceSvc: presenceSvc,
		notifySvc:   notifySvc,
		scheduler:   scheduler,
		pollStore:   pollStore,
		hub:         hub,
		jwtSecret:   jwtSecret,
		logger:      logger.With().Str("component", "http").Logger(),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			r.Route("/documents", func(r chi.Router) {
				r.Post("/", s.createDocument)
				r.Get("/", s.listDocuments)
				r.Get("/{documentId}", s.getDocument)
				r.Post("/{documentId}/merge", s.mergeDocument)
				r.Delete("/{documentId}", s.deleteDocument)

				r.Route("/{documentId}/session", func(r chi.Router) {
					r.Get("/", s.getSession)
					r.Post("/join", s.joinSession)
					r.Post("/leave", s.leaveSession)
					r.Post("/update", s.sessionUpdate)
				})
			})

			r.Route("/presence", func(r chi.Router) {
				r.Put("/", s.upsertPresence)
				r.Post("/inactive", s.markPresenceInactive)
				r.Get("/{resourceType}/{resourceId}", s.listPresence)
			})

			r.Route("/notifications", func(r chi.Router) {
				r.Post("/", s.createNotification)
				r.Get("/", s.listNotifications)
			})

			r.Get("/jobs/failed", s.listFailedJobs)
			r.Get("/poll", s.pollEvents)
		})
	})

	// The websocket handshake authenticates inside the handler so the token
	// can also ride a query parameter.
	r.Get("/ws", s.serveWS)

	return r
}

// Helpers
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
