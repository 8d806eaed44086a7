package http

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"quizroom/internal/domain"
)

const (
	sendBufferSize = 64
	writeTimeout   = 10 * time.Second
)

// Hub owns the live websocket connections and implements app.Transport.
// Each connection has one outbound queue drained by one writer goroutine, so
// messages reach a connection in the order they were delivered.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	logger  *slog.Logger
}

type client struct {
	id        string
	conn      *websocket.Conn
	send      chan domain.Envelope
	done      chan struct{}
	closeOnce sync.Once
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*client),
		logger:  logger,
	}
}

func (h *Hub) register(conn *websocket.Conn) *client {
	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan domain.Envelope, sendBufferSize),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	h.clients[c.id] = c
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("ws client connected", "conn", c.id, "total", total)
	return c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	c.close()
	h.logger.Debug("ws client disconnected", "conn", c.id)
}

// Deliver queues msg for connID without blocking. A connection whose queue is
// full is closed rather than reordered or stalled.
func (h *Hub) Deliver(connID string, msg domain.Envelope) {
	h.mu.RLock()
	c := h.clients[connID]
	h.mu.RUnlock()
	if c == nil {
		return
	}
	select {
	case <-c.done:
	case c.send <- msg:
	default:
		h.logger.Warn("ws client too slow, closing", "conn", connID, "event", msg.Type)
		c.close()
	}
}

// Len reports the number of live connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *client) writeLoop(logger *slog.Logger) {
	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(msg); err != nil {
				logger.Debug("ws write error", "conn", c.id, "err", err)
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}
