package stream

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// MessageHandler receives each text message a websocket client sends.
type MessageHandler func(data []byte) error

// upgrader keeps gorilla's default origin check: a browser request whose
// Origin host differs from the request Host is refused, so another site cannot
// drive a user's session with their cookies or Tailscale identity. Clients
// that send no Origin header are let through.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 1024,
}

// ServeWS upgrades the request and subscribes the connection to sessionID.
// Incoming messages are passed to onMessage; a handler error is logged and the
// connection stays open. It returns when the client disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, sessionID string, onMessage MessageHandler) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "session", sessionID, "error", err)
		return
	}
	defer conn.Close()

	client := h.Register(sessionID)
	defer h.Unregister(client)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range client.Send {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if kind != websocket.TextMessage || onMessage == nil {
			continue
		}
		if err := onMessage(data); err != nil {
			h.log.Debug("websocket message rejected", "session", sessionID, "error", err)
		}
	}
	h.Unregister(client)
	<-done
}
