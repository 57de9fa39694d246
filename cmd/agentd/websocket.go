// WebSocket server for real-time queue and sync events.
package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/taskdeck/clientsync/internal/logging"
	"github.com/taskdeck/clientsync/internal/models"
	"github.com/taskdeck/clientsync/internal/uuid"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The agent only serves the local desktop shell.
		return r.Host == "localhost" || r.Host == "127.0.0.1" ||
			r.Host == "localhost:8090" || r.Host == "127.0.0.1:8090"
	},
}

// WSClient represents a WebSocket client connection.
type WSClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *WSHub
}

// WSHub maintains active client connections and broadcasts messages.
type WSHub struct {
	clients    map[string]*WSClient
	broadcast  chan []byte
	register   chan *WSClient
	unregister chan *WSClient
	mu         sync.RWMutex
}

// WSEnvelope wraps all WebSocket messages.
type WSEnvelope struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp int64                  `json:"timestamp"`
}

// WebSocket event types.
const (
	EventQueueEnqueued = "queue.enqueued"
	EventQueueDequeued = "queue.dequeued"
	EventQueueCleared  = "queue.cleared"

	EventSyncStarted     = "sync.started"
	EventSyncCompleted   = "sync.completed"
	EventSyncFailed      = "sync.failed"
	EventOperationFailed = "operation.failed"
)

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	hub := &WSHub{
		clients:    make(map[string]*WSClient),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
	}
	go hub.run()
	return hub
}

// run manages client connections and broadcasts.
func (h *WSHub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			logging.Debug("websocket client connected",
				map[string]interface{}{"client_id": client.id, "total": len(h.clients)})

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			h.mu.Unlock()
			logging.Debug("websocket client disconnected",
				map[string]interface{}{"client_id": client.id, "total": len(h.clients)})

		case message := <-h.broadcast:
			h.mu.RLock()
			for _, client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Send buffer full, drop the connection.
					close(client.send)
					delete(h.clients, client.id)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast sends an event envelope to all connected clients.
func (h *WSHub) Broadcast(messageType string, data map[string]interface{}) {
	envelope := WSEnvelope{
		Type:      messageType,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		logging.Warn("failed to marshal websocket message",
			map[string]interface{}{"error": err.Error()})
		return
	}

	h.broadcast <- bytes
}

// BroadcastQueueEnqueued notifies clients that an operation was queued.
func (h *WSHub) BroadcastQueueEnqueued(op models.QueuedOperation) {
	h.Broadcast(EventQueueEnqueued, map[string]interface{}{
		"operation_id": op.ID,
		"type":         string(op.Type),
		"endpoint":     op.Endpoint,
		"description":  op.Description,
	})
}

// BroadcastQueueDequeued notifies clients that an operation was removed.
func (h *WSHub) BroadcastQueueDequeued(id string) {
	h.Broadcast(EventQueueDequeued, map[string]interface{}{
		"operation_id": id,
	})
}

// BroadcastQueueCleared notifies clients that operations were cleared.
func (h *WSHub) BroadcastQueueCleared(removed int) {
	h.Broadcast(EventQueueCleared, map[string]interface{}{
		"removed": removed,
	})
}

// BroadcastSyncStarted notifies clients that a sync cycle began.
func (h *WSHub) BroadcastSyncStarted() {
	h.Broadcast(EventSyncStarted, map[string]interface{}{
		"status": "started",
	})
}

// BroadcastSyncCompleted notifies clients that a sync cycle finished.
func (h *WSHub) BroadcastSyncCompleted(replayed, remaining int) {
	h.Broadcast(EventSyncCompleted, map[string]interface{}{
		"replayed":  replayed,
		"remaining": remaining,
		"status":    "completed",
	})
}

// BroadcastSyncFailed notifies clients that a sync cycle failed.
func (h *WSHub) BroadcastSyncFailed(errorCode string) {
	h.Broadcast(EventSyncFailed, map[string]interface{}{
		"error_code": errorCode,
		"status":     "failed",
	})
}

// BroadcastOperationFailed notifies clients that an operation exhausted
// its retry budget.
func (h *WSHub) BroadcastOperationFailed(op models.QueuedOperation) {
	h.Broadcast(EventOperationFailed, map[string]interface{}{
		"operation_id": op.ID,
		"endpoint":     op.Endpoint,
		"description":  op.Description,
		"retry_count":  op.RetryCount,
		"max_retries":  op.MaxRetries,
	})
}

// readPump pumps messages from the WebSocket connection.
func (c *WSClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn("websocket read error",
					map[string]interface{}{"error": err.Error()})
			}
			break
		}

		var msg map[string]interface{}
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if action, ok := msg["action"].(string); ok && action == "ping" {
			c.sendPong()
		}
	}
}

// writePump pumps messages to the WebSocket connection.
func (c *WSClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendPong sends a pong response.
func (c *WSClient) sendPong() {
	envelope := map[string]interface{}{
		"action":    "pong",
		"timestamp": time.Now().UnixMilli(),
	}

	bytes, _ := json.Marshal(envelope)
	c.send <- bytes
}

// HandleWebSocket handles WebSocket connections.
func HandleWebSocket(hub *WSHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Warn("websocket upgrade failed",
				map[string]interface{}{"error": err.Error()})
			return
		}

		client := &WSClient{
			id:   uuid.New(),
			conn: conn,
			send: make(chan []byte, 256),
			hub:  hub,
		}

		hub.register <- client

		go client.writePump()
		go client.readPump()
	}
}
