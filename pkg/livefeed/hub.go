// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package livefeed

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const clientSendBuffer = 256

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// Event is the envelope every feed message travels in.
type Event struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// client is one connected WebSocket consumer.
type client struct {
	id   uuid.UUID
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans session events out to any number of WebSocket clients. Slow
// clients are disconnected rather than allowed to stall the broadcast.
type Hub struct {
	logger *zap.Logger

	clients    map[uuid.UUID]*client
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	stopCh     chan struct{}
}

// NewHub creates a hub; call Run before serving clients.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger,
		clients:    make(map[uuid.UUID]*client),
		broadcast:  make(chan []byte, clientSendBuffer),
		register:   make(chan *client),
		unregister: make(chan *client),
		stopCh:     make(chan struct{}),
	}
}

// Run owns the client set until the context ends.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case c := <-h.register:
			h.clients[c.id] = c
			h.logger.Info("livefeed client connected", zap.String("client", c.id.String()))

		case c := <-h.unregister:
			if _, ok := h.clients[c.id]; ok {
				delete(h.clients, c.id)
				close(c.send)
				h.logger.Info("livefeed client disconnected", zap.String("client", c.id.String()))
			}

		case msg := <-h.broadcast:
			for id, c := range h.clients {
				select {
				case c.send <- msg:
				default:
					delete(h.clients, id)
					close(c.send)
				}
			}

		case <-h.stopCh:
			for id, c := range h.clients {
				delete(h.clients, id)
				close(c.send)
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop disconnects all clients.
func (h *Hub) Stop() {
	close(h.stopCh)
}

// Broadcast queues an event for all clients; full queue drops the event.
func (h *Hub) Broadcast(eventType string, data interface{}) {
	msg := Event{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal livefeed event", zap.Error(err))
		return
	}

	select {
	case h.broadcast <- payload:
	default:
		h.logger.Debug("livefeed broadcast queue full, event dropped")
	}
}

// ServeWS upgrades an HTTP request into a feed subscription.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		id:   uuid.New(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, clientSendBuffer),
	}
	h.register <- c

	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
