package models

import "errors"

// Sentinel errors shared across storage backends and services. Callers
// match them with errors.Is after any amount of wrapping.
var (
	// ErrNotFound is returned when a job or session id does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState is returned when an operation is not permitted in the
	// subject's current lifecycle state, such as deleting a running job or
	// fetching the result of an unfinished one.
	ErrInvalidState = errors.New("invalid state")

	// ErrUnsupportedType is returned when no job type accepts a document's
	// MIME type.
	ErrUnsupportedType = errors.New("unsupported document type")
)
