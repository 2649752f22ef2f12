// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingPeriod   = 30 * time.Second
	wsSendBuffer   = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Clients should assume the daemon is the authority and reconcile on
	// reconnect; the daemon does not need to be picky about origin for a
	// LAN control-plane service.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// message is the envelope every WebSocket push uses: {type, payload}.
type message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// conn is one connected client's write pump.
type conn struct {
	ws   *websocket.Conn
	send chan message
}

// Hub tracks connected WebSocket clients and fans broadcasts out to all of
// them, adapted from the connection-registry-plus-per-connection-pump shape
// used for device-connection fan-out elsewhere in the retrieved examples.
type Hub struct {
	mu     sync.Mutex
	conns  map[*conn]struct{}
	logger *slog.Logger
}

func newHub(logger *slog.Logger) *Hub {
	return &Hub{conns: make(map[*conn]struct{}), logger: logger}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("api: websocket upgrade failed", "error", err)
		return
	}

	c := &conn{ws: ws, send: make(chan message, wsSendBuffer)}
	s.hub.add(c)
	defer s.hub.remove(c)

	c.send <- message{Type: "init", Payload: s.initSnapshot()}

	go c.writePump()
	c.readPump(s.logger)
}

func (s *Server) initSnapshot() map[string]any {
	ids := s.devices.IDs()
	devices := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		devices = append(devices, s.deviceView(id))
	}
	return map[string]any{"devices": devices}
}

func (h *Hub) add(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c] = struct{}{}
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; ok {
		delete(h.conns, c)
		close(c.send)
	}
}

func (h *Hub) broadcast(msgType string, payload any) {
	msg := message{Type: msgType, Payload: payload}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		select {
		case c.send <- msg:
		default:
			// Slow client: drop the message rather than block the
			// broadcaster on one stuck connection.
			h.logger.Warn("api: dropping websocket message for slow client")
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		_ = c.ws.Close()
		delete(h.conns, c)
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	defer c.ws.Close()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains and discards client frames (this is a push-only stream
// from the daemon's point of view) until the connection closes, so pong
// frames and client disconnects are observed.
func (c *conn) readPump(logger *slog.Logger) {
	defer c.ws.Close()
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}
