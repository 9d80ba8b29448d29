package relay

import (
	"log/slog"
	"net/http"
	"slices"

	"carechat/internal/content"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const maxFrameBytes = 64 << 10

type Server struct {
	hub      *Hub
	upgrader *websocket.Upgrader
}

// NewServer builds the websocket endpoint. allowedOrigins may contain "*";
// requests without an Origin header (non-browser clients) are always accepted.
func NewServer(hub *Hub, allowedOrigins []string) *Server {
	return &Server{
		hub: hub,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				return slices.Contains(allowedOrigins, "*") || slices.Contains(allowedOrigins, origin)
			},
		},
	}
}

func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientID := r.URL.Query().Get("userId")
	if clientID == "" {
		clientID = content.NewClientID()
	}
	if err := content.ValidateClientID(clientID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("error upgrading to websocket", "client_id", clientID, "error", err)
		return
	}
	ws.SetReadLimit(maxFrameBytes)

	conn := NewConnection(s.hub, ws, Peer{ID: uuid.NewString(), ClientID: clientID})
	if err := conn.Handle(r.Context()); err != nil && !isNormalClose(err) {
		slog.Warn("connection closed with error", "client_id", clientID, "error", err)
	}
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}
