// Package scheduler tests for backoff computation and sync cycles.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/taskdeck/clientsync/internal/kv"
	"github.com/taskdeck/clientsync/internal/models"
	"github.com/taskdeck/clientsync/internal/queue"
)

// fakeReplayer scripts replay outcomes per endpoint.
type fakeReplayer struct {
	mu       sync.Mutex
	calls    []string
	failWith map[string]error
}

func newFakeReplayer() *fakeReplayer {
	return &fakeReplayer{failWith: make(map[string]error)}
}

func (r *fakeReplayer) Replay(ctx context.Context, op models.QueuedOperation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, op.ID)
	return r.failWith[op.ID]
}

func (r *fakeReplayer) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// recordingEvents captures scheduler notifications.
type recordingEvents struct {
	mu        sync.Mutex
	started   int
	completed int
	replayed  int
	failedOps []string
}

func (e *recordingEvents) SyncStarted() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started++
}

func (e *recordingEvents) SyncCompleted(replayed, remaining int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.completed++
	e.replayed += replayed
}

func (e *recordingEvents) SyncFailed(errorCode string) {}

func (e *recordingEvents) OperationFailed(op models.QueuedOperation) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failedOps = append(e.failedOps, op.ID)
}

func newTestScheduler(r *fakeReplayer, e Events) (*Scheduler, *queue.Manager) {
	q := queue.NewManager(kv.NewMemoryStore())
	s := New(q, r, e, Config{Interval: time.Hour, ReplayTimeout: time.Minute})
	return s, q
}

func enqueue(q *queue.Manager, maxRetries int) models.QueuedOperation {
	return q.Enqueue(context.Background(), queue.EnqueueRequest{
		Type:        models.OperationCreate,
		Endpoint:    "/api/tasks",
		Method:      models.MethodPost,
		MaxRetries:  maxRetries,
		Description: "create task",
	})
}

// TestSyncNowDequeuesOnSuccess verifies a successful replay removes the
// operation and records the attempt.
func TestSyncNowDequeuesOnSuccess(t *testing.T) {
	ctx := context.Background()
	replayer := newFakeReplayer()
	events := &recordingEvents{}
	s, q := newTestScheduler(replayer, events)

	enqueue(q, 3)

	if err := s.SyncNow(ctx); err != nil {
		t.Fatalf("SyncNow failed: %v", err)
	}

	if q.PendingCount(ctx) != 0 {
		t.Errorf("PendingCount = %d, want 0", q.PendingCount(ctx))
	}
	if replayer.callCount() != 1 {
		t.Errorf("replay calls = %d, want 1", replayer.callCount())
	}
	if q.LastSyncAttempt(ctx) == nil {
		t.Error("sync attempt should have been recorded")
	}
	if events.started != 1 || events.completed != 1 || events.replayed != 1 {
		t.Errorf("events = %+v, want one started/completed with one replayed", events)
	}
}

// TestSyncNowFailureSchedulesBackoff verifies a failed replay increments
// the retry count and defers the next attempt.
func TestSyncNowFailureSchedulesBackoff(t *testing.T) {
	ctx := context.Background()
	replayer := newFakeReplayer()
	s, q := newTestScheduler(replayer, nil)

	base := time.UnixMilli(1700000000000)
	s.now = func() time.Time { return base }

	op := enqueue(q, 3)
	replayer.failWith[op.ID] = errors.New("remote returned 500")

	if err := s.SyncNow(ctx); err != nil {
		t.Fatalf("SyncNow failed: %v", err)
	}

	ops := q.PendingOperations(ctx)
	if len(ops) != 1 || ops[0].RetryCount != 1 {
		t.Fatalf("after failure: ops=%+v, want one with RetryCount 1", ops)
	}

	// Immediately after, the operation is still backing off.
	if err := s.SyncNow(ctx); err != nil {
		t.Fatalf("second SyncNow failed: %v", err)
	}
	if replayer.callCount() != 1 {
		t.Errorf("replay calls = %d, want 1 (operation should be backing off)", replayer.callCount())
	}

	// Once the backoff window passes, it is due again.
	s.now = func() time.Time { return base.Add(2 * backoffMax) }
	if err := s.SyncNow(ctx); err != nil {
		t.Fatalf("third SyncNow failed: %v", err)
	}
	if replayer.callCount() != 2 {
		t.Errorf("replay calls = %d, want 2 after backoff elapsed", replayer.callCount())
	}
}

// TestExhaustedOperationStopsRetrying verifies operations past their
// budget are reported and never replayed again.
func TestExhaustedOperationStopsRetrying(t *testing.T) {
	ctx := context.Background()
	replayer := newFakeReplayer()
	events := &recordingEvents{}
	s, q := newTestScheduler(replayer, events)

	base := time.UnixMilli(1700000000000)
	s.now = func() time.Time { return base }

	op := enqueue(q, 1)
	replayer.failWith[op.ID] = errors.New("remote returned 500")

	if err := s.SyncNow(ctx); err != nil {
		t.Fatalf("SyncNow failed: %v", err)
	}

	if len(events.failedOps) != 1 || events.failedOps[0] != op.ID {
		t.Errorf("failedOps = %v, want [%s]", events.failedOps, op.ID)
	}

	// The operation stays queued (for inspection/clearing) but is no
	// longer retryable.
	s.now = func() time.Time { return base.Add(2 * backoffMax) }
	if err := s.SyncNow(ctx); err != nil {
		t.Fatalf("second SyncNow failed: %v", err)
	}
	if replayer.callCount() != 1 {
		t.Errorf("replay calls = %d, want 1 (exhausted op must not be retried)", replayer.callCount())
	}
	if q.PendingCount(ctx) != 1 {
		t.Errorf("PendingCount = %d, want 1", q.PendingCount(ctx))
	}
}

// TestSyncNowBusy verifies concurrent cycles are rejected.
func TestSyncNowBusy(t *testing.T) {
	s, _ := newTestScheduler(newFakeReplayer(), nil)

	s.mu.Lock()
	s.syncInProgress = true
	s.mu.Unlock()

	if err := s.SyncNow(context.Background()); err == nil {
		t.Error("SyncNow should fail while a cycle is in progress")
	}
}

// TestTriggerSyncWhileBusy verifies TriggerSync reports contention.
func TestTriggerSyncWhileBusy(t *testing.T) {
	s, _ := newTestScheduler(newFakeReplayer(), nil)

	s.mu.Lock()
	s.syncInProgress = true
	s.mu.Unlock()

	if s.TriggerSync(context.Background()) {
		t.Error("TriggerSync should return false while busy")
	}
}

// TestSetOnline verifies the online flag round-trips.
func TestSetOnline(t *testing.T) {
	s, _ := newTestScheduler(newFakeReplayer(), nil)

	if !s.IsOnline() {
		t.Error("scheduler should start online")
	}
	s.SetOnline(false)
	if s.IsOnline() {
		t.Error("SetOnline(false) did not take effect")
	}
}

// TestStartStop verifies lifecycle idempotence.
func TestStartStop(t *testing.T) {
	s, _ := newTestScheduler(newFakeReplayer(), nil)

	ctx := context.Background()
	s.Start(ctx)
	s.Start(ctx) // second start is a no-op
	if !s.IsRunning() {
		t.Error("scheduler should be running after Start")
	}

	s.Stop()
	s.Stop() // second stop is a no-op
	if s.IsRunning() {
		t.Error("scheduler should be stopped after Stop")
	}
}

// TestGetStatus verifies the snapshot counts.
func TestGetStatus(t *testing.T) {
	ctx := context.Background()
	replayer := newFakeReplayer()
	s, q := newTestScheduler(replayer, nil)

	enqueue(q, 3)
	exhausted := enqueue(q, 1)
	q.IncrementRetryCount(ctx, exhausted.ID)

	status := s.GetStatus(ctx)
	if status.Pending != 2 {
		t.Errorf("Pending = %d, want 2", status.Pending)
	}
	if status.Retryable != 1 {
		t.Errorf("Retryable = %d, want 1", status.Retryable)
	}
	if status.Failed != 1 {
		t.Errorf("Failed = %d, want 1", status.Failed)
	}
	if status.LastSyncTime != nil {
		t.Error("LastSyncTime should be nil before any cycle")
	}
}

// TestBackoffDelay verifies the exponential schedule and cap.
func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		name       string
		retryCount int
		want       time.Duration
	}{
		{"retry 0", 0, 30 * time.Second},
		{"retry 1", 1, 30 * time.Second},
		{"retry 2", 2, 60 * time.Second},
		{"retry 3", 3, 2 * time.Minute},
		{"retry 4", 4, 4 * time.Minute},
		{"retry 8", 8, 64 * time.Minute}, // capped to backoffMax below
		{"retry 30", 30, time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := backoffDelay(tt.retryCount)
			want := tt.want
			if want > backoffMax {
				want = backoffMax
			}
			if got != want {
				t.Errorf("backoffDelay(%d) = %v, want %v", tt.retryCount, got, want)
			}
		})
	}
}

// TestWithJitter verifies jitter bounds: [d, d*1.25).
func TestWithJitter(t *testing.T) {
	s, _ := newTestScheduler(newFakeReplayer(), nil)

	d := 30 * time.Second
	max := d + time.Duration(float64(d)*jitterFraction)

	for i := 0; i < 100; i++ {
		got := s.withJitter(d)
		if got < d || got >= max {
			t.Fatalf("withJitter(%v) = %v, want in [%v, %v)", d, got, d, max)
		}
	}
}
