// Package scheduler drives background replay of the offline queue.
//
// The queue itself stores no backoff state; scheduling lives here, as an
// explicit collaborator. Each retryable operation gets an exponential
// backoff with jitter computed from its retry count, tracked only in
// scheduler memory.
package scheduler

import (
	"context"
	"math/rand"
	"sync"
	"time"

	apperrors "github.com/taskdeck/clientsync/internal/errors"
	"github.com/taskdeck/clientsync/internal/logging"
	"github.com/taskdeck/clientsync/internal/models"
	"github.com/taskdeck/clientsync/internal/queue"
	"github.com/taskdeck/clientsync/internal/replay"
)

const (
	// backoffBase is the delay after the first failure.
	backoffBase = 30 * time.Second
	// backoffMax caps the exponential growth.
	backoffMax = 1 * time.Hour
	// jitterFraction is the maximum extra delay added on top of the
	// exponential backoff, as a fraction of it.
	jitterFraction = 0.25
)

// Events receives scheduler notifications. Implementations must not
// block; the agent daemon fans these out over WebSocket.
type Events interface {
	SyncStarted()
	SyncCompleted(replayed, remaining int)
	SyncFailed(errorCode string)
	OperationFailed(op models.QueuedOperation)
}

// noopEvents is used when no listener is registered.
type noopEvents struct{}

func (noopEvents) SyncStarted()                             {}
func (noopEvents) SyncCompleted(replayed, remaining int)    {}
func (noopEvents) SyncFailed(errorCode string)              {}
func (noopEvents) OperationFailed(op models.QueuedOperation) {}

// Config holds scheduler configuration.
type Config struct {
	// Interval between queue scans (default: 1 minute).
	Interval time.Duration
	// ReplayTimeout bounds each sync cycle (default: 2 minutes).
	ReplayTimeout time.Duration
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		Interval:      1 * time.Minute,
		ReplayTimeout: 2 * time.Minute,
	}
}

// Scheduler periodically replays due operations from the offline queue.
type Scheduler struct {
	queue    *queue.Manager
	replayer replay.Replayer
	events   Events

	interval      time.Duration
	replayTimeout time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu             sync.RWMutex
	isRunning      bool
	isOnline       bool
	syncInProgress bool
	lastSyncTime   time.Time
	nextAttempt    map[string]time.Time

	// injected for tests
	now func() time.Time
	rng *rand.Rand
}

// New creates a Scheduler. events may be nil.
func New(q *queue.Manager, r replay.Replayer, events Events, cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.ReplayTimeout <= 0 {
		cfg.ReplayTimeout = DefaultConfig().ReplayTimeout
	}
	if events == nil {
		events = noopEvents{}
	}

	return &Scheduler{
		queue:         q,
		replayer:      r,
		events:        events,
		interval:      cfg.Interval,
		replayTimeout: cfg.ReplayTimeout,
		stopCh:        make(chan struct{}),
		isOnline:      true, // assume online until told otherwise
		nextAttempt:   make(map[string]time.Time),
		now:           time.Now,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Start launches the background scan loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.scanLoop(ctx)

	logging.Info("sync scheduler started",
		map[string]interface{}{"interval": s.interval.String()})
}

// Stop stops the scheduler gracefully.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	logging.Info("sync scheduler stopped", nil)
}

// SetOnline changes the online status. Offline suspends replay attempts;
// the queue keeps accepting operations.
func (s *Scheduler) SetOnline(online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isOnline != online {
		logging.Info("online status changed",
			map[string]interface{}{"online": online})
	}
	s.isOnline = online
}

// IsOnline reports whether the scheduler will attempt replays.
func (s *Scheduler) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOnline
}

// IsRunning reports whether the scan loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// scanLoop ticks at the configured interval and replays due operations.
func (s *Scheduler) scanLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if !s.IsOnline() {
				continue
			}
			s.runSync(ctx)
		}
	}
}

// TriggerSync starts a sync cycle immediately. Returns false when one is
// already in progress.
func (s *Scheduler) TriggerSync(ctx context.Context) bool {
	s.mu.RLock()
	busy := s.syncInProgress
	s.mu.RUnlock()

	if busy {
		return false
	}
	go s.runSync(ctx)
	return true
}

// SyncNow runs one sync cycle synchronously.
func (s *Scheduler) SyncNow(ctx context.Context) error {
	s.mu.RLock()
	busy := s.syncInProgress
	s.mu.RUnlock()

	if busy {
		return apperrors.New(apperrors.ErrSyncInProgress, "sync already in progress")
	}
	s.runSync(ctx)
	return nil
}

// runSync replays every due retryable operation once.
func (s *Scheduler) runSync(ctx context.Context) {
	s.mu.Lock()
	if s.syncInProgress {
		s.mu.Unlock()
		return
	}
	s.syncInProgress = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.syncInProgress = false
		s.lastSyncTime = s.now()
		s.mu.Unlock()
	}()

	retryable := s.queue.RetryableOperations(ctx)
	due := s.dueOperations(retryable)
	if len(due) == 0 {
		return
	}

	s.events.SyncStarted()
	s.queue.UpdateLastSyncAttempt(ctx)

	syncCtx, cancel := context.WithTimeout(ctx, s.replayTimeout)
	defer cancel()

	replayed := 0
	for _, op := range due {
		select {
		case <-syncCtx.Done():
			s.events.SyncFailed(string(apperrors.ErrSyncTimeout))
			return
		case <-s.stopCh:
			return
		default:
		}

		if err := s.replayer.Replay(syncCtx, op); err != nil {
			s.recordFailure(ctx, op, err)
			continue
		}

		s.queue.Dequeue(ctx, op.ID)
		s.clearBackoff(op.ID)
		replayed++
	}

	remaining := s.queue.PendingCount(ctx)
	s.events.SyncCompleted(replayed, remaining)

	logging.Info("sync cycle completed", map[string]interface{}{
		"replayed":  replayed,
		"remaining": remaining,
	})
}

// recordFailure counts the attempt and schedules the next one.
func (s *Scheduler) recordFailure(ctx context.Context, op models.QueuedOperation, err error) {
	updated := s.queue.IncrementRetryCount(ctx, op.ID)
	if updated == nil {
		// Dequeued concurrently; nothing to schedule.
		return
	}

	if queue.IsOperationFailed(*updated) {
		s.clearBackoff(op.ID)
		s.events.OperationFailed(*updated)

		logging.ErrorWithCode("operation exhausted retry budget",
			string(apperrors.ErrReplayFailed), err, map[string]interface{}{
				"operation_id": updated.ID,
				"endpoint":     updated.Endpoint,
				"retry_count":  updated.RetryCount,
			})
		return
	}

	delay := s.withJitter(backoffDelay(updated.RetryCount))
	s.mu.Lock()
	s.nextAttempt[op.ID] = s.now().Add(delay)
	s.mu.Unlock()

	logging.Warn("replay failed, scheduling retry", map[string]interface{}{
		"operation_id": updated.ID,
		"retry_count":  updated.RetryCount,
		"max_retries":  updated.MaxRetries,
		"next_in":      delay.String(),
		"error":        err.Error(),
	})
}

// dueOperations filters out operations still waiting on their backoff.
func (s *Scheduler) dueOperations(ops []models.QueuedOperation) []models.QueuedOperation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	due := make([]models.QueuedOperation, 0, len(ops))
	for _, op := range ops {
		if at, ok := s.nextAttempt[op.ID]; ok && now.Before(at) {
			continue
		}
		due = append(due, op)
	}
	return due
}

func (s *Scheduler) clearBackoff(id string) {
	s.mu.Lock()
	delete(s.nextAttempt, id)
	s.mu.Unlock()
}

// backoffDelay computes the exponential backoff for a retry count:
// backoffBase * 2^(retryCount-1), capped at backoffMax.
func backoffDelay(retryCount int) time.Duration {
	if retryCount < 1 {
		return backoffBase
	}
	shift := uint(retryCount - 1)
	if shift > 20 {
		return backoffMax
	}
	delay := backoffBase << shift
	if delay > backoffMax {
		return backoffMax
	}
	return delay
}

// withJitter adds up to jitterFraction of extra delay.
func (s *Scheduler) withJitter(d time.Duration) time.Duration {
	s.mu.Lock()
	extra := time.Duration(s.rng.Int63n(int64(float64(d) * jitterFraction)))
	s.mu.Unlock()
	return d + extra
}

// Status is a point-in-time snapshot of the scheduler and queue.
type Status struct {
	IsRunning      bool   `json:"is_running"`
	IsOnline       bool   `json:"is_online"`
	SyncInProgress bool   `json:"sync_in_progress"`
	LastSyncTime   *int64 `json:"last_sync_time"` // epoch milliseconds
	Pending        int    `json:"pending"`
	Retryable      int    `json:"retryable"`
	Failed         int    `json:"failed"`
}

// GetStatus returns the current status.
func (s *Scheduler) GetStatus(ctx context.Context) Status {
	ops := s.queue.PendingOperations(ctx)

	s.mu.RLock()
	status := Status{
		IsRunning:      s.isRunning,
		IsOnline:       s.isOnline,
		SyncInProgress: s.syncInProgress,
	}
	if !s.lastSyncTime.IsZero() {
		ts := s.lastSyncTime.UnixMilli()
		status.LastSyncTime = &ts
	}
	s.mu.RUnlock()

	status.Pending = len(ops)
	status.Retryable = len(queue.Retryable(ops))
	status.Failed = len(queue.Failed(ops))
	return status
}
