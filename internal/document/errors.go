package document

import "errors"

// Error taxonomy shared by every store implementation. Callers classify
// failures with errors.Is; implementations wrap these sentinels with
// item-specific context.
var (
	// ErrNotConnected indicates the remote backend is unreachable.
	// Fatal to the current cycle phase for that store.
	ErrNotConnected = errors.New("not connected")

	// ErrNotFound indicates an absent document or file. Expected during
	// normal operation and never logged as an error.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates an optimistic write lost the race: the
	// comparison token presented no longer matches the stored token.
	// Retryable with backoff.
	ErrConflict = errors.New("conflict")

	// ErrPermissionDenied indicates the caller lacks access. Fatal for
	// the item, never retried.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrCorruptData indicates a payload that failed to parse. The item
	// is skipped and the cycle continues.
	ErrCorruptData = errors.New("corrupt data")
)
