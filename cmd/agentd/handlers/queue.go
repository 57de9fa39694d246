// Package handlers provides REST API handlers for queue and sync operations.
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/taskdeck/clientsync/internal/models"
	"github.com/taskdeck/clientsync/internal/queue"
)

// WSQueueBroadcaster interface for queue WebSocket events.
type WSQueueBroadcaster interface {
	BroadcastQueueEnqueued(op models.QueuedOperation)
	BroadcastQueueDequeued(id string)
	BroadcastQueueCleared(removed int)
}

// QueueHandler handles queue inspection and mutation endpoints.
type QueueHandler struct {
	queue      *queue.Manager
	maxRetries int
	wsHub      WSQueueBroadcaster
}

// NewQueueHandler creates a new QueueHandler. maxRetries is the default
// retry budget applied to enqueued operations that don't set their own.
func NewQueueHandler(q *queue.Manager, maxRetries int) *QueueHandler {
	if maxRetries <= 0 {
		maxRetries = queue.DefaultMaxRetries
	}
	return &QueueHandler{
		queue:      q,
		maxRetries: maxRetries,
	}
}

// SetWebSocketHub sets the WebSocket hub for broadcasting queue events.
func (h *QueueHandler) SetWebSocketHub(wsHub WSQueueBroadcaster) {
	h.wsHub = wsHub
}

var allowedMethods = map[string]bool{
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

var allowedTypes = map[models.OperationType]bool{
	models.OperationCreate: true,
	models.OperationUpdate: true,
	models.OperationDelete: true,
}

// GetStatus handles GET /api/queue/status
// Returns pending, retryable, and failed operation counts plus the
// operations themselves.
func (h *QueueHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	pending := h.queue.PendingOperations(ctx)

	response := map[string]interface{}{
		"pending":    len(pending),
		"retryable":  len(queue.Retryable(pending)),
		"failed":     len(queue.Failed(pending)),
		"operations": pending,
	}

	if lastAttempt := h.queue.LastSyncAttempt(ctx); lastAttempt != nil {
		response["last_sync_attempt"] = *lastAttempt
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// Enqueue handles POST /api/queue
// Adds a pending write operation to the queue.
func (h *QueueHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Type        string          `json:"type"`
		Endpoint    string          `json:"endpoint"`
		Method      string          `json:"method"`
		Body        json.RawMessage `json:"body"`
		MaxRetries  int             `json:"max_retries"`
		Description string          `json:"description"`
	}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if request.Endpoint == "" || !strings.HasPrefix(request.Endpoint, "/") {
		http.Error(w, "endpoint must be a path starting with /", http.StatusBadRequest)
		return
	}

	method := strings.ToUpper(request.Method)
	if !allowedMethods[method] {
		http.Error(w, "method must be one of POST, PUT, PATCH, DELETE", http.StatusBadRequest)
		return
	}

	opType := models.OperationType(request.Type)
	if !allowedTypes[opType] {
		http.Error(w, "type must be one of create, update, delete", http.StatusBadRequest)
		return
	}

	maxRetries := request.MaxRetries
	if maxRetries <= 0 {
		maxRetries = h.maxRetries
	}

	op := h.queue.Enqueue(r.Context(), queue.EnqueueRequest{
		Type:        opType,
		Endpoint:    request.Endpoint,
		Method:      method,
		Body:        request.Body,
		MaxRetries:  maxRetries,
		Description: request.Description,
	})

	if h.wsHub != nil {
		h.wsHub.BroadcastQueueEnqueued(op)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(op)
}

// Dequeue handles DELETE /api/queue/{id}
// Removes a single operation from the queue. Removing an unknown id is
// not an error.
func (h *QueueHandler) Dequeue(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		http.Error(w, "operation id is required", http.StatusBadRequest)
		return
	}

	h.queue.Dequeue(r.Context(), id)

	if h.wsHub != nil {
		h.wsHub.BroadcastQueueDequeued(id)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "success",
	})
}

// ClearFailed handles DELETE /api/queue/failed
// Removes all operations that have exhausted their retry budget.
func (h *QueueHandler) ClearFailed(w http.ResponseWriter, r *http.Request) {
	removed := h.queue.ClearFailedOperations(r.Context())

	if h.wsHub != nil && removed > 0 {
		h.wsHub.BroadcastQueueCleared(removed)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "success",
		"removed": removed,
	})
}

// ClearAll handles DELETE /api/queue
// Removes every operation from the queue.
func (h *QueueHandler) ClearAll(w http.ResponseWriter, r *http.Request) {
	count := h.queue.PendingCount(r.Context())

	h.queue.ClearAllOperations(r.Context())

	if h.wsHub != nil && count > 0 {
		h.wsHub.BroadcastQueueCleared(count)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "success",
		"removed": count,
	})
}
