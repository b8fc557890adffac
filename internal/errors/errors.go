// Package errors defines stable error codes for RepoScan failure modes.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// QueueFull indicates the work queue is at capacity
	QueueFull ErrorCode = "QUEUE_FULL"
	// WaitTimeout indicates the caller gave up waiting for a job outcome
	WaitTimeout ErrorCode = "WAIT_TIMEOUT"
	// JobFailed indicates the analysis job reported a failed outcome
	JobFailed ErrorCode = "JOB_FAILED"
	// RepoUnreachable indicates the repository could not be fetched from GitHub
	RepoUnreachable ErrorCode = "REPO_UNREACHABLE"
	// StoreUnavailable indicates a backing store call failed
	StoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	// SessionNotFound indicates the chat session does not exist
	SessionNotFound ErrorCode = "SESSION_NOT_FOUND"
	// Unauthorized indicates a missing or invalid API token
	Unauthorized ErrorCode = "UNAUTHORIZED"
	// InvalidRequest indicates a malformed API request
	InvalidRequest ErrorCode = "INVALID_REQUEST"
	// InternalError indicates an unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// Sentinel errors used for flow control between the queue, the notification
// hub, and their callers. Wrapped ScanErrors carry these as cause.
var (
	ErrQueueFull    = errors.New("work queue is full")
	ErrDuplicateJob = errors.New("job already queued")
	ErrWaitTimeout  = errors.New("timed out waiting for job outcome")
)

// ScanError represents a RepoScan error with a stable code and message
type ScanError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	cause   error       // Underlying error (not exported to JSON)
}

// New creates a new ScanError
func New(code ErrorCode, message string, cause error) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Error implements the error interface
func (e *ScanError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *ScanError) Unwrap() error {
	return e.cause
}

// WithDetails adds details to the error
func (e *ScanError) WithDetails(details interface{}) *ScanError {
	e.Details = details
	return e
}

// CodeOf extracts the stable code from err, or InternalError when err is not
// a ScanError.
func CodeOf(err error) ErrorCode {
	var se *ScanError
	if errors.As(err, &se) {
		return se.Code
	}
	return InternalError
}

// HTTPStatus maps an error code to the status the API layer should return.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case QueueFull:
		return 429
	case WaitTimeout:
		return 504
	case SessionNotFound:
		return 404
	case Unauthorized:
		return 401
	case InvalidRequest:
		return 400
	case JobFailed, RepoUnreachable, StoreUnavailable, InternalError:
		return 500
	default:
		return 500
	}
}
