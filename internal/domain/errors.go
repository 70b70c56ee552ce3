package domain

import "errors"

// Sentinel errors shared by every component. Callers classify failures
// with errors.Is and the HTTP layer maps them to status codes.
var (
	// ErrValidation signals malformed or out-of-range caller input.
	ErrValidation = errors.New("invalid input")
	// ErrNotFound indicates a referenced record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable indicates the record exists but cannot be ordered.
	ErrUnavailable = errors.New("unavailable")
	// ErrConflict indicates a concurrency conflict, e.g. the order number
	// allocator exhausting its retry budget.
	ErrConflict = errors.New("conflict")
)
