package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	viewerBuffer   = 256
)

// Hub fans monitor events out to connected websocket viewers.
type Hub struct {
	viewers    map[*viewer]struct{}
	register   chan *viewer
	unregister chan *viewer
	broadcast  chan []byte
	done       chan struct{}
	mu         sync.RWMutex
	logger     *slog.Logger
}

// viewer is one connected websocket client.
type viewer struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates an idle hub. Call Run to start it.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		viewers:    make(map[*viewer]struct{}),
		register:   make(chan *viewer),
		unregister: make(chan *viewer),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
		logger:     logger.With("component", "monitor-hub"),
	}
}

// Run owns the viewer set until ctx is cancelled, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for v := range h.viewers {
				close(v.send)
				delete(h.viewers, v)
			}
			h.mu.Unlock()
			return

		case v := <-h.register:
			h.mu.Lock()
			h.viewers[v] = struct{}{}
			n := len(h.viewers)
			h.mu.Unlock()
			h.logger.Info("viewer connected", "count", n)

		case v := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.viewers[v]; ok {
				delete(h.viewers, v)
				close(v.send)
			}
			n := len(h.viewers)
			h.mu.Unlock()
			h.logger.Info("viewer disconnected", "count", n)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for v := range h.viewers {
				select {
				case v.send <- msg:
				default:
					// slow viewer
					close(v.send)
					delete(h.viewers, v)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Count returns the number of connected viewers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers)
}

// Broadcast queues evt for every viewer. Drops the event if the queue is full.
func (h *Hub) Broadcast(evt MonitorEvent) {
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("failed to marshal event", "type", evt.Type, "error", err)
		return
	}

	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("broadcast queue full, dropping event", "type", evt.Type)
	}
}

// attach registers conn with the hub and starts its pumps. initial, if
// non-nil, is the first message the viewer receives. Returns false when the
// hub has stopped.
func (h *Hub) attach(conn *websocket.Conn, initial []byte) bool {
	v := &viewer{
		hub:  h,
		conn: conn,
		send: make(chan []byte, viewerBuffer),
	}
	if initial != nil {
		v.send <- initial
	}

	select {
	case h.register <- v:
	case <-h.done:
		conn.Close()
		return false
	}

	go v.writePump()
	go v.readPump()
	return true
}

// writePump moves queued messages onto the connection and keeps it alive.
func (v *viewer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		v.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-v.send:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				v.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := v.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards viewer input and detects disconnects.
func (v *viewer) readPump() {
	defer func() {
		select {
		case v.hub.unregister <- v:
		case <-v.hub.done:
		}
		v.conn.Close()
	}()

	v.conn.SetReadLimit(maxMessageSize)
	v.conn.SetReadDeadline(time.Now().Add(pongWait))
	v.conn.SetPongHandler(func(string) error {
		v.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := v.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				v.hub.logger.Debug("viewer read error", "error", err)
			}
			return
		}
	}
}
