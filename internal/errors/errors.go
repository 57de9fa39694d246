// Package errors provides error code definitions for the client sync core.
package errors

import "fmt"

// ErrorCode represents a unique error code surfaced through the agent API.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Storage errors
	ErrStorage      ErrorCode = "STORAGE_ERROR"
	ErrStorageRead  ErrorCode = "STORAGE_READ_FAILED"
	ErrStorageWrite ErrorCode = "STORAGE_WRITE_FAILED"

	// Queue errors
	ErrQueueCorrupt   ErrorCode = "QUEUE_DOCUMENT_CORRUPT"
	ErrQueueOpMissing ErrorCode = "QUEUE_OPERATION_NOT_FOUND"

	// Cache persister errors
	ErrCacheVersionMismatch ErrorCode = "CACHE_VERSION_MISMATCH"
	ErrCacheExpired         ErrorCode = "CACHE_EXPIRED"

	// Replay errors
	ErrReplayFailed      ErrorCode = "REPLAY_FAILED"
	ErrReplayBadStatus   ErrorCode = "REPLAY_BAD_STATUS"
	ErrReplayUnreachable ErrorCode = "REPLAY_UNREACHABLE"

	// Scheduler errors
	ErrSchedulerStopped ErrorCode = "SCHEDULER_STOPPED"
	ErrSyncInProgress   ErrorCode = "SYNC_IN_PROGRESS"
	ErrSyncTimeout      ErrorCode = "SYNC_TIMEOUT"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error carries a specific code.
func Is(err error, code ErrorCode) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == code
	}
	return false
}
