package reconcile

import (
	"errors"
	"fmt"
)

// PersistenceReason classifies persistence failures.
type PersistenceReason string

const (
	// StorageUnavailable marks the database or blob store as unreachable,
	// detected by the preflight checks. Fatal for the whole run; a single
	// record's write failure is recorded instead and never carries it.
	StorageUnavailable PersistenceReason = "storage-unavailable"
	// Conflict marks an incoming record older than the stored state.
	// Per record, never fatal.
	Conflict PersistenceReason = "conflict"
)

// PersistenceError is the typed failure of a reconciliation write.
type PersistenceError struct {
	Reason PersistenceReason
	Key    string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failed (%s) for %q: %v", e.Reason, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// AsPersistenceError unwraps err into a PersistenceError if possible.
func AsPersistenceError(err error) (*PersistenceError, bool) {
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

func unavailable(key string, err error) error {
	return &PersistenceError{Reason: StorageUnavailable, Key: key, Err: err}
}

func conflict(key string, err error) error {
	return &PersistenceError{Reason: Conflict, Key: key, Err: err}
}
