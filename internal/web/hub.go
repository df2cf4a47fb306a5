package web

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"Orion-Core/server/internal/models"
)

const (
	pingInterval = 30 * time.Second
	readDeadline = 60 * time.Second
	sendBuffer   = 256
)

// Client represents a WebSocket client connection
type Client struct {
	ID     string
	Conn   *websocket.Conn
	Send   chan []byte
	Hub    *StatusHub
	mu     sync.Mutex
	closed bool
}

// HubStats counts hub traffic since start
type HubStats struct {
	Clients     int   `json:"clients"`
	Connections int64 `json:"connections"`
	Sent        int64 `json:"sent"`
	Dropped     int64 `json:"dropped"`
}

// StatusHub manages WebSocket connections and broadcasts provider probe
// results as they arrive.
type StatusHub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan models.ProviderStatus
	done       chan struct{}
	mu         sync.RWMutex
	logger     *zap.Logger

	connections atomic.Int64
	sent        atomic.Int64
	dropped     atomic.Int64
}

// NewStatusHub creates a new status hub
func NewStatusHub(logger *zap.Logger) *StatusHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusHub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client, 100),
		unregister: make(chan *Client, 100),
		broadcast:  make(chan models.ProviderStatus, 1000),
		done:       make(chan struct{}),
		logger:     logger.Named("hub"),
	}
}

// Run starts the hub's event loop. It closes every client when ctx ends.
func (h *StatusHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case status := <-h.broadcast:
			h.broadcastStatus(status)
		}
	}
}

// registerClient adds a new client to the hub
func (h *StatusHub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client.ID] = client
	h.connections.Inc()
	h.logger.Info("client connected", zap.String("client", client.ID), zap.Int("total", len(h.clients)))

	go client.writePump()
}

// unregisterClient removes a client from the hub
func (h *StatusHub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; ok {
		delete(h.clients, client.ID)
		close(client.Send)
		h.logger.Info("client disconnected", zap.String("client", client.ID), zap.Int("total", len(h.clients)))
	}
}

func (h *StatusHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, client := range h.clients {
		delete(h.clients, id)
		close(client.Send)
	}
}

// broadcastStatus sends one probe result to all connected clients
func (h *StatusHub) broadcastStatus(status models.ProviderStatus) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := json.Marshal(map[string]interface{}{
		"type": "provider_status",
		"data": status,
		"time": time.Now().Unix(),
	})
	if err != nil {
		h.logger.Error("failed to marshal provider status", zap.Error(err))
		return
	}

	for _, client := range h.clients {
		select {
		case client.Send <- data:
			h.sent.Inc()
		default:
			h.dropped.Inc()
			h.logger.Warn("client send buffer full", zap.String("client", client.ID))
		}
	}
}

// Broadcast queues a probe result for every connected client. It never
// blocks the prober.
func (h *StatusHub) Broadcast(status models.ProviderStatus) {
	select {
	case h.broadcast <- status:
	default:
		h.dropped.Inc()
		h.logger.Warn("broadcast channel full, dropping status", zap.String("model", status.Model))
	}
}

// Serve attaches an upgraded connection to the hub and starts its pumps.
func (h *StatusHub) Serve(conn *websocket.Conn) *Client {
	client := &Client{
		ID:   uuid.NewString(),
		Conn: conn,
		Send: make(chan []byte, sendBuffer),
		Hub:  h,
	}

	welcome, _ := json.Marshal(map[string]interface{}{
		"type": "connected",
		"id":   client.ID,
		"msg":  "Connected to provider health stream",
		"time": time.Now().Unix(),
	})
	client.Send <- welcome

	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
		return client
	}

	go client.readPump()
	return client
}

// GetClientCount returns the number of connected clients
func (h *StatusHub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *StatusHub) Stats() HubStats {
	return HubStats{
		Clients:     h.GetClientCount(),
		Connections: h.connections.Load(),
		Sent:        h.sent.Load(),
		Dropped:     h.dropped.Load(),
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.mu.Lock()
			if !ok {
				// Hub closed the channel
				c.closed = true
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				c.mu.Unlock()
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.Hub.logger.Debug("write failed", zap.String("client", c.ID), zap.Error(err))
				c.closed = true
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()

		case <-ticker.C:
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				return
			}

			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Hub.logger.Debug("ping failed", zap.String("client", c.ID), zap.Error(err))
				c.closed = true
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()
		}
	}
}

// Close closes the client connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.closed = true
	c.Conn.Close()
}

// readPump drains the connection so pongs and close frames are processed.
// Clients never send data.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.Hub.unregister <- c:
		case <-c.Hub.done:
		}
		c.Close()
	}()

	c.Conn.SetReadLimit(512)
	c.Conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, _, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Info("unexpected close", zap.String("client", c.ID), zap.Error(err))
			}
			break
		}
	}
}
