package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/estmeter/estmeter/pkg/log"
	"github.com/estmeter/estmeter/pkg/types"
)

const streamWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	// the API is token-authed, checking the browser origin adds nothing
	CheckOrigin: func(*http.Request) bool { return true },
}

// Hub fans run events out to every connected stream client. It implements
// recon.EventSink. All writes happen under the mutex so no connection ever
// sees interleaved frames.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	last    *types.RunEvent
}

func newHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]bool)}
}

// Publish sends the event to every connected client. Clients whose write
// fails are dropped.
func (h *Hub) Publish(event types.RunEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Warn("failed to marshal run event", slog.Any("error", err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = &event
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			delete(h.clients, conn)
			conn.Close()
		}
	}
}

// add registers a client and immediately replays the most recent event so a
// fresh subscriber sees state without waiting for the next run.
func (h *Hub) add(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last != nil {
		if data, err := json.Marshal(h.last); err == nil {
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				conn.Close()
				return
			}
		}
	}
	h.clients[conn] = true
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	conn.Close()
}

// closeAll disconnects every client. Used during shutdown.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		log.Ctx(ctx).WarnContext(ctx, "websocket upgrade failed", slog.Any("error", err))
		return
	}
	s.hub.add(conn)
	log.Ctx(ctx).DebugContext(ctx, "stream client connected", slog.String("remote", conn.RemoteAddr().String()))

	// the read loop only exists to notice the client going away
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.hub.remove(conn)
			return
		}
	}
}
