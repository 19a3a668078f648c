package server

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"docvault/pkg/domain"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browsers connect from a separate frontend origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWS upgrades the connection and registers it in the hub under the
// caller's user ID. A bad or missing token does not reject the socket:
// the client stays connected but is never addressed, mirroring how an
// unauthenticated subscriber simply receives nothing.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "err", err)
		return
	}

	principal, verr := s.tokens.Verify(r.URL.Query().Get("token"))
	if verr != nil {
		slog.Debug("websocket connected without valid token", "err", verr)
		go discard(conn)
		return
	}

	s.hub.Register(principal.ID, conn)
	if principal.Role == domain.RoleAdmin {
		s.hub.Register(domain.LogsChannelKey, conn)
	}
	slog.Info("websocket connected", "userId", principal.ID, "role", principal.Role)

	go func() {
		// Reads only serve to detect the peer going away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		s.hub.Unregister(principal.ID, conn)
		if principal.Role == domain.RoleAdmin {
			s.hub.Unregister(domain.LogsChannelKey, conn)
		}
		_ = conn.Close()
	}()
}

func discard(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			_ = conn.Close()
			return
		}
	}
}
