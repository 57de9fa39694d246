package queue

import "github.com/taskdeck/clientsync/internal/models"

// IsOperationFailed reports whether an operation has exhausted its retry
// budget. This predicate is the single definition of "failed"; the
// retryable and failed views below derive from it.
func IsOperationFailed(op models.QueuedOperation) bool {
	return op.RetryCount >= op.MaxRetries
}

// Retryable returns the operations still within their retry budget,
// preserving input order.
func Retryable(ops []models.QueuedOperation) []models.QueuedOperation {
	out := make([]models.QueuedOperation, 0, len(ops))
	for _, op := range ops {
		if !IsOperationFailed(op) {
			out = append(out, op)
		}
	}
	return out
}

// Failed returns the operations that exhausted their retry budget,
// preserving input order.
func Failed(ops []models.QueuedOperation) []models.QueuedOperation {
	out := make([]models.QueuedOperation, 0, len(ops))
	for _, op := range ops {
		if IsOperationFailed(op) {
			out = append(out, op)
		}
	}
	return out
}
