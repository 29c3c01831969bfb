package server

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"nexus/internal/logging"
	"nexus/internal/stream"
)

const clientSendBuffer = 64

// Hub mirrors every broadcast frame to connected WebSocket observers, so a
// second window or debugging tool can watch a broadcast without holding the
// SSE response open.
type Hub struct {
	mu       sync.Mutex
	clients  map[*hubClient]struct{}
	upgrader websocket.Upgrader
	logger   logging.Logger
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub builds an empty observer hub.
func NewHub(logger logging.Logger) *Hub {
	return &Hub{
		clients: make(map[*hubClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
		logger: logging.OrNop(logger),
	}
}

// HandleWatch upgrades the connection and streams frames until the client
// disconnects.
func (h *Hub) HandleWatch(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed: %v", err)
		return
	}

	client := &hubClient{conn: conn, send: make(chan []byte, clientSendBuffer)}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("Observer connected (%d total)", count)

	go h.writePump(client)
	h.readPump(client)
}

// Publish fans one frame out to every observer. Observers that cannot keep
// up are dropped rather than stalling the broadcast.
func (h *Hub) Publish(frame stream.Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			h.dropLocked(client)
		}
	}
}

// Close disconnects every observer.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		h.dropLocked(client)
	}
}

func (h *Hub) dropLocked(client *hubClient) {
	delete(h.clients, client)
	close(client.send)
	_ = client.conn.Close()
}

func (h *Hub) remove(client *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		h.dropLocked(client)
	}
}

func (h *Hub) writePump(client *hubClient) {
	for data := range client.send {
		if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.remove(client)
			return
		}
	}
}

// readPump drains inbound messages so pings and the close handshake are
// processed; observers never send application data.
func (h *Hub) readPump(client *hubClient) {
	defer h.remove(client)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}
