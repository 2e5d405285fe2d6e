// Package websocket adapts the teacher's single-client broadcast hub into
// the RPC channel the control service uses to drive an external browser
// session, per spec.md §6's browser control capability and §5's "single
// writer per session" rule.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Envelope is one frame on the browser-control channel: a call from the
// service to the browser ({id, op, params}), or a reply from the browser
// back to the service ({id, result, error}).
type Envelope struct {
	ID     string          `json:"id"`
	Op     string          `json:"op,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Hub manages exactly one active browser-extension connection and
// correlates outbound calls to inbound replies by Envelope.ID.
type Hub struct {
	mu      sync.RWMutex
	conn    *websocket.Conn
	pending map[string]chan Envelope
}

// NewHub returns an empty hub with no connected browser session.
func NewHub() *Hub {
	return &Hub{pending: make(map[string]chan Envelope)}
}

// ServeWS upgrades r into the hub's browser-control connection, replacing
// any previously connected session.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("browser session upgrade failed: %v", err)
		return
	}

	h.mu.Lock()
	if h.conn != nil {
		h.conn.Close()
	}
	h.conn = conn
	h.mu.Unlock()

	go h.readLoop(conn)
	go h.pingLoop(conn)
}

func (h *Hub) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for range ticker.C {
		h.mu.RLock()
		current := h.conn
		h.mu.RUnlock()
		if current != conn {
			return
		}
		h.mu.Lock()
		err := conn.WriteMessage(websocket.PingMessage, nil)
		h.mu.Unlock()
		if err != nil {
			return
		}
	}
}

func (h *Hub) readLoop(conn *websocket.Conn) {
	defer func() {
		h.mu.Lock()
		if h.conn == conn {
			h.conn = nil
		}
		h.mu.Unlock()
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("browser session read error: %v", err)
			}
			return
		}
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			log.Printf("browser session sent malformed frame: %v", err)
			continue
		}

		h.mu.RLock()
		ch, ok := h.pending[env.ID]
		h.mu.RUnlock()
		if ok {
			ch <- env
		}
	}
}

// IsConnected reports whether a browser session is currently attached.
func (h *Hub) IsConnected() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conn != nil
}

// Call sends {op, params} to the connected browser session and blocks for
// its matching reply, honoring ctx's deadline. Calls to the same hub are
// naturally serialized by the mutex guarding the connection write.
func (h *Hub) Call(ctx context.Context, op string, params any) (json.RawMessage, error) {
	h.mu.Lock()
	conn := h.conn
	if conn == nil {
		h.mu.Unlock()
		return nil, fmt.Errorf("no browser session connected")
	}

	id := uuid.NewString()
	reply := make(chan Envelope, 1)
	h.pending[id] = reply
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.pending, id)
		h.mu.Unlock()
	}()

	paramsRaw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encoding call params: %w", err)
	}

	h.mu.Lock()
	writeErr := conn.WriteJSON(Envelope{ID: id, Op: op, Params: paramsRaw})
	h.mu.Unlock()
	if writeErr != nil {
		return nil, fmt.Errorf("sending browser command: %w", writeErr)
	}

	select {
	case env := <-reply:
		if env.Error != "" {
			return nil, fmt.Errorf("browser session reported error: %s", env.Error)
		}
		return env.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// pingInterval keeps the connection alive through idle proxies between
// browser-control calls.
const pingInterval = 30 * time.Second
