package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Callers are authenticated by tenant token before the upgrade.
		return true
	},
}

type ackFrame struct {
	Event    string `json:"event"`
	TenantID string `json:"tenantId"`
}

// ServeWS upgrades the request and subscribes it to tenantID until the client disconnects.
// Subscribers only listen; inbound frames are read to track liveness and discarded.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, tenantID uuid.UUID) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", slog.Any("error", err))
		return
	}

	conn := NewConnection(tenantID, ws)
	h.Join(conn)
	defer func() {
		h.Leave(conn)
		conn.Close(websocket.CloseNormalClosure, "session closed")
	}()

	if payload, err := json.Marshal(ackFrame{Event: "connected", TenantID: tenantID.String()}); err == nil {
		_ = conn.Send(payload)
	}

	ws.SetReadLimit(4096)
	_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
	}
}
