// Package queue tests for the offline mutation queue manager.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/taskdeck/clientsync/internal/kv"
	"github.com/taskdeck/clientsync/internal/models"
)

// faultyStore wraps a MemoryStore and fails on demand.
type faultyStore struct {
	*kv.MemoryStore
	failGet bool
	failSet bool
}

func (s *faultyStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s.failGet {
		return nil, errors.New("injected read failure")
	}
	return s.MemoryStore.Get(ctx, key)
}

func (s *faultyStore) Set(ctx context.Context, key string, value []byte) error {
	if s.failSet {
		return errors.New("injected write failure")
	}
	return s.MemoryStore.Set(ctx, key, value)
}

func newTestManager() (*Manager, *kv.MemoryStore) {
	store := kv.NewMemoryStore()
	return NewManager(store), store
}

func createRequest() EnqueueRequest {
	return EnqueueRequest{
		Type:        models.OperationCreate,
		Endpoint:    "/api/tasks",
		Method:      models.MethodPost,
		Body:        json.RawMessage(`{"title":"x"}`),
		MaxRetries:  3,
		Description: "create task",
	}
}

// TestEnqueueAssignsFields verifies id, timestamp and retry count
// assignment on enqueue.
func TestEnqueueAssignsFields(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager()
	m.now = func() time.Time { return time.UnixMilli(1700000000000) }

	op := m.Enqueue(ctx, createRequest())

	if op.ID == "" {
		t.Error("expected id to be assigned")
	}
	if op.Timestamp != 1700000000000 {
		t.Errorf("Timestamp = %d, want 1700000000000", op.Timestamp)
	}
	if op.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0", op.RetryCount)
	}
	if op.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", op.MaxRetries)
	}
	if m.PendingCount(ctx) != 1 {
		t.Errorf("PendingCount = %d, want 1", m.PendingCount(ctx))
	}
}

// TestEnqueueOrderPreserved verifies pending operations come back in
// call order.
func TestEnqueueOrderPreserved(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager()

	var ids []string
	for i := 0; i < 5; i++ {
		op := m.Enqueue(ctx, createRequest())
		ids = append(ids, op.ID)
	}

	pending := m.PendingOperations(ctx)
	if len(pending) != 5 {
		t.Fatalf("len(pending) = %d, want 5", len(pending))
	}
	for i, op := range pending {
		if op.ID != ids[i] {
			t.Errorf("pending[%d].ID = %s, want %s", i, op.ID, ids[i])
		}
	}
}

// TestEnqueueUniqueIDs verifies ids are unique across the manager's
// lifetime.
func TestEnqueueUniqueIDs(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager()

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		op := m.Enqueue(ctx, createRequest())
		if seen[op.ID] {
			t.Fatalf("duplicate operation id %s", op.ID)
		}
		seen[op.ID] = true
	}
}

// TestDequeueRoundTrip verifies dequeue(enqueue(op).id) restores the
// previous queue contents.
func TestDequeueRoundTrip(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager()

	first := m.Enqueue(ctx, createRequest())
	before := m.PendingOperations(ctx)

	extra := m.Enqueue(ctx, createRequest())
	m.Dequeue(ctx, extra.ID)

	after := m.PendingOperations(ctx)
	if len(after) != len(before) {
		t.Fatalf("len(after) = %d, want %d", len(after), len(before))
	}
	if after[0].ID != first.ID {
		t.Errorf("after[0].ID = %s, want %s", after[0].ID, first.ID)
	}
}

// TestDequeueUnknownID verifies unknown ids are a silent no-op.
func TestDequeueUnknownID(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager()

	m.Enqueue(ctx, createRequest())
	m.Dequeue(ctx, "no-such-id")

	if m.PendingCount(ctx) != 1 {
		t.Errorf("PendingCount = %d, want 1", m.PendingCount(ctx))
	}
}

// TestIncrementRetryCount verifies the count grows by exactly one and
// the result is persisted.
func TestIncrementRetryCount(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager()

	op := m.Enqueue(ctx, createRequest())

	updated := m.IncrementRetryCount(ctx, op.ID)
	if updated == nil {
		t.Fatal("IncrementRetryCount returned nil for existing operation")
	}
	if updated.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", updated.RetryCount)
	}

	// A fresh manager over the same store must see the persisted count.
	reloaded := NewManager(store)
	ops := reloaded.PendingOperations(ctx)
	if len(ops) != 1 || ops[0].RetryCount != 1 {
		t.Errorf("persisted RetryCount = %d, want 1", ops[0].RetryCount)
	}
}

// TestIncrementRetryCountUnknownID verifies nil return and untouched
// queue for unknown ids.
func TestIncrementRetryCountUnknownID(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager()

	op := m.Enqueue(ctx, createRequest())

	if got := m.IncrementRetryCount(ctx, "no-such-id"); got != nil {
		t.Errorf("IncrementRetryCount = %+v, want nil", got)
	}

	ops := m.PendingOperations(ctx)
	if len(ops) != 1 || ops[0].RetryCount != 0 || ops[0].ID != op.ID {
		t.Errorf("queue changed after unknown-id increment: %+v", ops)
	}
}

// TestClearFailedOperations verifies exactly the exhausted operations
// are removed and counted.
func TestClearFailedOperations(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager()

	healthy := m.Enqueue(ctx, createRequest())

	req := createRequest()
	req.MaxRetries = 1
	doomed := m.Enqueue(ctx, req)
	m.IncrementRetryCount(ctx, doomed.ID)

	removed := m.ClearFailedOperations(ctx)
	if removed != 1 {
		t.Errorf("ClearFailedOperations = %d, want 1", removed)
	}

	ops := m.PendingOperations(ctx)
	if len(ops) != 1 || ops[0].ID != healthy.ID {
		t.Errorf("surviving operations = %+v, want only %s", ops, healthy.ID)
	}

	// Second call has nothing left to remove.
	if removed := m.ClearFailedOperations(ctx); removed != 0 {
		t.Errorf("second ClearFailedOperations = %d, want 0", removed)
	}
}

// TestClearAllOperations verifies the reset-to-empty semantics.
func TestClearAllOperations(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager()

	m.Enqueue(ctx, createRequest())
	m.Enqueue(ctx, createRequest())
	m.ClearAllOperations(ctx)

	if m.PendingCount(ctx) != 0 {
		t.Errorf("PendingCount = %d, want 0", m.PendingCount(ctx))
	}

	reloaded := NewManager(store)
	if reloaded.PendingCount(ctx) != 0 {
		t.Error("empty state was not persisted")
	}
}

// TestUpdateLastSyncAttempt verifies the timestamp is recorded
// independently of operation state.
func TestUpdateLastSyncAttempt(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager()
	m.now = func() time.Time { return time.UnixMilli(1700000123456) }

	if m.LastSyncAttempt(ctx) != nil {
		t.Error("LastSyncAttempt should be nil before any attempt")
	}

	m.UpdateLastSyncAttempt(ctx)

	got := m.LastSyncAttempt(ctx)
	if got == nil || *got != 1700000123456 {
		t.Errorf("LastSyncAttempt = %v, want 1700000123456", got)
	}
	if m.PendingCount(ctx) != 0 {
		t.Error("recording a sync attempt must not touch operations")
	}
}

// TestLoadFailsOpenOnReadError verifies storage read failures produce
// an empty queue, not an error.
func TestLoadFailsOpenOnReadError(t *testing.T) {
	ctx := context.Background()
	store := &faultyStore{MemoryStore: kv.NewMemoryStore(), failGet: true}
	m := NewManager(store)

	state := m.Load(ctx)
	if len(state.Operations) != 0 {
		t.Errorf("Operations = %+v, want empty", state.Operations)
	}
	if state.LastSyncAttempt != nil {
		t.Error("LastSyncAttempt should be nil in the fallback state")
	}
}

// TestLoadFailsOpenOnCorruptDocument verifies undecodable documents
// fall open to the empty state.
func TestLoadFailsOpenOnCorruptDocument(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	store.Set(ctx, StateKey, []byte("{not json"))

	m := NewManager(store)
	if m.PendingCount(ctx) != 0 {
		t.Errorf("PendingCount = %d, want 0 for corrupt document", m.PendingCount(ctx))
	}
}

// TestPersistFailureKeepsInMemoryState verifies write failures are
// swallowed and the mutation still takes effect.
func TestPersistFailureKeepsInMemoryState(t *testing.T) {
	ctx := context.Background()
	store := &faultyStore{MemoryStore: kv.NewMemoryStore(), failSet: true}
	m := NewManager(store)

	op := m.Enqueue(ctx, createRequest())
	if op.ID == "" {
		t.Fatal("Enqueue should succeed despite persist failure")
	}
	if m.PendingCount(ctx) != 1 {
		t.Errorf("PendingCount = %d, want 1", m.PendingCount(ctx))
	}

	// Nothing reached the underlying store.
	if _, err := store.MemoryStore.Get(ctx, StateKey); !errors.Is(err, kv.ErrNotFound) {
		t.Error("no document should have been written")
	}
}

// TestStatePersistsAcrossManagers verifies a new manager over the same
// store sees the full document, byte-for-byte round-tripped.
func TestStatePersistsAcrossManagers(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager()

	op := m.Enqueue(ctx, createRequest())
	m.UpdateLastSyncAttempt(ctx)

	reloaded := NewManager(store)
	state := reloaded.Load(ctx)

	if len(state.Operations) != 1 {
		t.Fatalf("len(Operations) = %d, want 1", len(state.Operations))
	}
	got := state.Operations[0]
	if got.ID != op.ID || got.Endpoint != op.Endpoint || got.Method != op.Method ||
		got.Type != op.Type || got.Description != op.Description ||
		got.Timestamp != op.Timestamp || got.MaxRetries != op.MaxRetries {
		t.Errorf("reloaded operation = %+v, want %+v", got, op)
	}
	if string(got.Body) != `{"title":"x"}` {
		t.Errorf("Body = %s, want {\"title\":\"x\"}", got.Body)
	}
	if state.LastSyncAttempt == nil {
		t.Error("LastSyncAttempt should survive reload")
	}
}

// TestRetryExhaustionScenario walks the end-to-end example: enqueue,
// fail three times, clear failed.
func TestRetryExhaustionScenario(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager()

	op := m.Enqueue(ctx, createRequest())
	if m.PendingCount(ctx) != 1 || op.RetryCount != 0 {
		t.Fatalf("after enqueue: count=%d retry=%d", m.PendingCount(ctx), op.RetryCount)
	}

	var last *models.QueuedOperation
	for i := 0; i < 3; i++ {
		last = m.IncrementRetryCount(ctx, op.ID)
	}
	if last == nil || last.RetryCount != 3 {
		t.Fatalf("RetryCount = %+v, want 3", last)
	}
	if !IsOperationFailed(*last) {
		t.Error("operation should be failed after exhausting the budget")
	}

	if removed := m.ClearFailedOperations(ctx); removed != 1 {
		t.Errorf("ClearFailedOperations = %d, want 1", removed)
	}
	if m.PendingCount(ctx) != 0 {
		t.Errorf("PendingCount = %d, want 0", m.PendingCount(ctx))
	}
}
