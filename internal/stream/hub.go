package stream

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Dashboards are served from other origins; auth is handled upstream.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub bridges the broadcaster to websocket clients: each connection gets
// its own subscription and receives every status event as a JSON frame.
type Hub struct {
	broadcaster *Broadcaster
}

func NewHub(b *Broadcaster) *Hub {
	return &Hub{broadcaster: b}
}

func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	id, events := h.broadcaster.Subscribe()
	slog.Debug("stream subscriber connected", "id", id)

	// Reader goroutine: we never expect client frames, but reading is
	// required to notice the peer closing.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		h.broadcaster.Unsubscribe(id)
		conn.Close()
		<-done
		slog.Debug("stream subscriber disconnected", "id", id)
	}()

	for {
		select {
		case <-done:
			return
		case e, ok := <-events:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(writeTimeout))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		}
	}
}
