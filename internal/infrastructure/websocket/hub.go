// Package websocket streams execution lifecycle events to connected
// clients. Each client subscribes to one execution id, or to all events
// with an empty filter.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/smilemakc/flowforge/internal/application/observer"
	"github.com/smilemakc/flowforge/internal/infrastructure/logger"
)

const (
	writeWait     = 10 * time.Second
	clientBacklog = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type client struct {
	conn        *websocket.Conn
	executionID string // empty subscribes to everything
	send        chan []byte
}

// Hub fans observer events out to websocket clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	log     *logger.Logger
}

// NewHub creates an empty hub.
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Nop()
	}
	return &Hub{
		clients: make(map[*client]struct{}),
		log:     log,
	}
}

// Observer returns the hub's observer manager hook.
func (h *Hub) Observer() observer.Observer {
	return observer.Func(func(_ context.Context, event observer.Event) {
		payload, err := json.Marshal(event)
		if err != nil {
			return
		}
		h.mu.RLock()
		defer h.mu.RUnlock()
		for c := range h.clients {
			if c.executionID != "" && c.executionID != event.ExecutionID {
				continue
			}
			select {
			case c.send <- payload:
			default: // slow client: drop the event rather than block
			}
		}
	})
}

// Serve upgrades the request and streams events for the execution filter
// until the client goes away.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, executionID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		conn:        conn,
		executionID: executionID,
		send:        make(chan []byte, clientBacklog),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *Hub) writeLoop(c *client) {
	for payload := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			break
		}
	}
	_ = c.conn.Close()
}

// readLoop drains client frames (pings, close) and tears the client down on
// error.
func (h *Hub) readLoop(c *client) {
	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		close(c.send)
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
