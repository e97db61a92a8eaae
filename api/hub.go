package api

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tzhukov/pollprobe/logger"
	"github.com/tzhukov/pollprobe/metrics"
	"github.com/tzhukov/pollprobe/models"
)

const (
	writeWait = 5 * time.Second
	// sendBuffer covers a full run of events for a client that keeps up.
	sendBuffer = 16
)

type client struct {
	conn *websocket.Conn
	send chan interface{}
}

// Hub manages websocket clients and broadcasts iteration events to them.
// Each client has its own writer, so Broadcast never waits on the network.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]*client
}

func NewHub() *Hub { return &Hub{clients: make(map[*websocket.Conn]*client)} }

func (h *Hub) Add(conn *websocket.Conn) {
	c := &client{conn: conn, send: make(chan interface{}, sendBuffer)}
	h.mu.Lock()
	h.clients[conn] = c
	h.mu.Unlock()
	metrics.IncWSConnections()
	logger.Info("websocket client connected", logger.FieldKV("remote_addr", conn.RemoteAddr().String()))
	go h.writeLoop(c)
}

func (h *Hub) Remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(conn)
}

func (h *Hub) remove(conn *websocket.Conn) {
	c, ok := h.clients[conn]
	if !ok {
		return
	}
	delete(h.clients, conn)
	close(c.send)
	metrics.DecWSConnections()
	_ = conn.Close()
	logger.Info("websocket client disconnected", logger.FieldKV("remote_addr", conn.RemoteAddr().String()))
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast queues msg for every client. A client whose queue is full is
// dropped.
func (h *Hub) Broadcast(msg interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, c := range h.clients {
		select {
		case c.send <- msg:
		default:
			logger.Warn("websocket client too slow, dropping", logger.FieldKV("remote_addr", conn.RemoteAddr().String()))
			h.remove(conn)
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(msg); err != nil {
			logger.Error("websocket write error", err, logger.FieldKV("remote_addr", c.conn.RemoteAddr().String()))
			h.Remove(c.conn)
			return
		}
	}
}

// OnIteration forwards poll progress to connected clients.
func (h *Hub) OnIteration(_ context.Context, ev models.IterationEvent) {
	h.Broadcast(ev)
}
