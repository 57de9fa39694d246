// Package models provides data model definitions for the TaskDeck client sync core.
package models

import "encoding/json"

// OperationType describes the semantic intent of a queued write.
// It is informational only and does not alter queue behavior.
type OperationType string

const (
	OperationCreate OperationType = "create"
	OperationUpdate OperationType = "update"
	OperationDelete OperationType = "delete"
)

// HTTP methods accepted for replayable writes.
const (
	MethodPost   = "POST"
	MethodPut    = "PUT"
	MethodPatch  = "PATCH"
	MethodDelete = "DELETE"
)

// QueuedOperation is a pending write request saved locally for later
// replay against the remote TaskDeck API.
type QueuedOperation struct {
	ID          string          `json:"id"`
	Type        OperationType   `json:"type"`
	Endpoint    string          `json:"endpoint"`
	Method      string          `json:"method"`
	Body        json.RawMessage `json:"body,omitempty"`
	Timestamp   int64           `json:"timestamp"` // creation time, epoch milliseconds
	RetryCount  int             `json:"retry_count"`
	MaxRetries  int             `json:"max_retries"`
	Description string          `json:"description"`
}
