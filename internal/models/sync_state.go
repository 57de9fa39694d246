package models

// SyncQueueState is the whole-document persisted form of the offline
// mutation queue. Operations keep enqueue order; LastSyncAttempt is
// updated independently of individual operation state.
type SyncQueueState struct {
	Operations      []QueuedOperation `json:"operations"`
	LastSyncAttempt *int64            `json:"last_sync_attempt"` // epoch milliseconds, nil until first attempt
}

// EmptySyncQueueState returns the default state used when no persisted
// document exists or the stored one cannot be read.
func EmptySyncQueueState() SyncQueueState {
	return SyncQueueState{Operations: []QueuedOperation{}}
}
