package store

import "errors"

var (
	// ErrNotFound is returned when no record exists for the given key.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyExists is returned by Create operations when a record with
	// the same key is already present.
	ErrAlreadyExists = errors.New("record already exists")

	// ErrConditionFailed is returned by conditional writes when the stored
	// version no longer matches the expected version. The caller re-reads
	// and retries against the new state.
	ErrConditionFailed = errors.New("conditional write failed")
)
