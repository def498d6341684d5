package httpapi

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/pulsecrm/pulsecrm/internal/infrastructure/ws"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origin enforcement is handled by the fronting proxy.
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	user, err := s.verifyToken(extractToken(r))
	if err != nil {
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	ws.NewConn(s.hub, conn, user.UserID, s.presenceSvc)
	s.logger.Debug().Str("user_id", user.UserID).Msg("websocket connected")
}
