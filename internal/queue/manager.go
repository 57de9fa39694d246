// Package queue manages the persisted offline mutation queue.
//
// The whole queue is one JSON document in the local kv store. Every
// mutation is serialized through the manager's mutex, applied in memory,
// and then persisted best-effort: a failed write is logged as a warning
// and the in-memory state stays authoritative. The worst case under a
// broken local store is losing durability, never losing the running queue.
package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/taskdeck/clientsync/internal/kv"
	"github.com/taskdeck/clientsync/internal/logging"
	"github.com/taskdeck/clientsync/internal/models"
	"github.com/taskdeck/clientsync/internal/uuid"
)

// StateKey is the kv key holding the serialized queue document.
const StateKey = "sync_queue"

// DefaultMaxRetries is the retry budget applied when an enqueue request
// does not set one.
const DefaultMaxRetries = 3

// EnqueueRequest describes a write operation to save for later replay.
// ID, timestamp and retry count are assigned by the manager.
type EnqueueRequest struct {
	Type        models.OperationType
	Endpoint    string
	Method      string
	Body        json.RawMessage
	MaxRetries  int
	Description string
}

// Manager owns the in-memory queue state and its persistence.
type Manager struct {
	store kv.Store

	mu     sync.Mutex
	state  models.SyncQueueState
	loaded bool

	// injected for tests
	now   func() time.Time
	newID func() string
}

// NewManager creates a Manager over the given store. The persisted
// document is loaded lazily on first use.
func NewManager(store kv.Store) *Manager {
	return &Manager{
		store: store,
		now:   time.Now,
		newID: uuid.New,
	}
}

// ensureLoaded reads the persisted document once. Any read or decode
// failure falls open to the empty state. Callers hold m.mu.
func (m *Manager) ensureLoaded(ctx context.Context) {
	if m.loaded {
		return
	}
	m.loaded = true
	m.state = models.EmptySyncQueueState()

	data, err := m.store.Get(ctx, StateKey)
	if err == kv.ErrNotFound {
		return
	}
	if err != nil {
		logging.Warn("failed to load sync queue, starting empty",
			map[string]interface{}{"error": err.Error()})
		return
	}

	var state models.SyncQueueState
	if err := json.Unmarshal(data, &state); err != nil {
		logging.Warn("sync queue document is corrupt, starting empty",
			map[string]interface{}{"error": err.Error()})
		return
	}
	if state.Operations == nil {
		state.Operations = []models.QueuedOperation{}
	}
	m.state = state
}

// persist writes the full document. Failures are swallowed and logged;
// the in-memory mutation has already succeeded. Callers hold m.mu.
func (m *Manager) persist(ctx context.Context) {
	data, err := json.Marshal(m.state)
	if err != nil {
		logging.Warn("failed to encode sync queue",
			map[string]interface{}{"error": err.Error()})
		return
	}
	if err := m.store.Set(ctx, StateKey, data); err != nil {
		logging.Warn("failed to persist sync queue, keeping in-memory state",
			map[string]interface{}{"error": err.Error(), "operations": len(m.state.Operations)})
	}
}

// Load returns a snapshot of the current queue state.
func (m *Manager) Load(ctx context.Context) models.SyncQueueState {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ensureLoaded(ctx)
	return m.snapshot()
}

// snapshot copies the state so callers cannot mutate the queue. Callers
// hold m.mu.
func (m *Manager) snapshot() models.SyncQueueState {
	out := models.SyncQueueState{
		Operations: make([]models.QueuedOperation, len(m.state.Operations)),
	}
	copy(out.Operations, m.state.Operations)
	if m.state.LastSyncAttempt != nil {
		ts := *m.state.LastSyncAttempt
		out.LastSyncAttempt = &ts
	}
	return out
}

// Enqueue appends a new operation with a fresh id, creation timestamp
// and zeroed retry count, persists, and returns the stored record.
func (m *Manager) Enqueue(ctx context.Context, req EnqueueRequest) models.QueuedOperation {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ensureLoaded(ctx)

	maxRetries := req.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	op := models.QueuedOperation{
		ID:          m.newID(),
		Type:        req.Type,
		Endpoint:    req.Endpoint,
		Method:      req.Method,
		Body:        req.Body,
		Timestamp:   m.now().UnixMilli(),
		RetryCount:  0,
		MaxRetries:  maxRetries,
		Description: req.Description,
	}

	m.state.Operations = append(m.state.Operations, op)
	m.persist(ctx)

	logging.Debug("queued offline operation", map[string]interface{}{
		"operation_id": op.ID,
		"type":         string(op.Type),
		"endpoint":     op.Endpoint,
	})

	return op
}

// Dequeue removes the operation matching id and persists. Unknown ids
// are a silent no-op.
func (m *Manager) Dequeue(ctx context.Context, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ensureLoaded(ctx)

	for i, op := range m.state.Operations {
		if op.ID == id {
			m.state.Operations = append(m.state.Operations[:i], m.state.Operations[i+1:]...)
			m.persist(ctx)

			logging.Debug("dequeued offline operation",
				map[string]interface{}{"operation_id": id})
			return
		}
	}
}

// IncrementRetryCount bumps the retry count of the operation matching
// id, persists, and returns a copy of the updated record. Returns nil
// and leaves the queue unchanged when the id is unknown.
func (m *Manager) IncrementRetryCount(ctx context.Context, id string) *models.QueuedOperation {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ensureLoaded(ctx)

	for i := range m.state.Operations {
		if m.state.Operations[i].ID == id {
			m.state.Operations[i].RetryCount++
			m.persist(ctx)

			updated := m.state.Operations[i]
			return &updated
		}
	}
	return nil
}

// PendingOperations returns all queued operations in enqueue order.
func (m *Manager) PendingOperations(ctx context.Context) []models.QueuedOperation {
	return m.Load(ctx).Operations
}

// PendingCount returns the number of queued operations.
func (m *Manager) PendingCount(ctx context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ensureLoaded(ctx)
	return len(m.state.Operations)
}

// RetryableOperations returns the operations still within their retry
// budget, in enqueue order.
func (m *Manager) RetryableOperations(ctx context.Context) []models.QueuedOperation {
	return Retryable(m.Load(ctx).Operations)
}

// FailedOperations returns the operations that exhausted their retry
// budget, in enqueue order.
func (m *Manager) FailedOperations(ctx context.Context) []models.QueuedOperation {
	return Failed(m.Load(ctx).Operations)
}

// ClearFailedOperations removes every operation whose retry budget is
// exhausted, persists, and returns the count removed.
func (m *Manager) ClearFailedOperations(ctx context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ensureLoaded(ctx)

	kept := m.state.Operations[:0]
	removed := 0
	for _, op := range m.state.Operations {
		if IsOperationFailed(op) {
			removed++
			continue
		}
		kept = append(kept, op)
	}

	if removed > 0 {
		m.state.Operations = kept
		m.persist(ctx)

		logging.Info("cleared failed offline operations",
			map[string]interface{}{"removed": removed})
	}
	return removed
}

// ClearAllOperations resets the queue to the empty state and persists.
func (m *Manager) ClearAllOperations(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ensureLoaded(ctx)
	m.state.Operations = []models.QueuedOperation{}
	m.persist(ctx)

	logging.Info("cleared offline queue", nil)
}

// UpdateLastSyncAttempt records the current time as the last sync
// attempt and persists.
func (m *Manager) UpdateLastSyncAttempt(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ensureLoaded(ctx)
	ts := m.now().UnixMilli()
	m.state.LastSyncAttempt = &ts
	m.persist(ctx)
}

// LastSyncAttempt returns the last recorded sync attempt time in epoch
// milliseconds, or nil when no sync has been attempted.
func (m *Manager) LastSyncAttempt(ctx context.Context) *int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ensureLoaded(ctx)
	if m.state.LastSyncAttempt == nil {
		return nil
	}
	ts := *m.state.LastSyncAttempt
	return &ts
}
