package shared

import "errors"

// Error taxonomy for engine operations. Module packages wrap these so
// callers can classify failures with errors.Is regardless of origin.
var (
	// ErrNotFound indicates a missing referenced entity. Never retried.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput indicates input rejected before any mutation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrStateConflict indicates an action against an already-finalised record.
	ErrStateConflict = errors.New("state conflict")
	// ErrStorageFailure indicates the backing store failed mid-operation.
	// The enclosing unit of work aborts entirely, so the caller may retry
	// the whole operation.
	ErrStorageFailure = errors.New("storage failure")
)
