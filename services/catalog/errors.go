package catalog

import "fmt"

// NotFoundError reports that no system image exists for the requested id.
// Surfaced before any side effect runs.
type NotFoundError struct {
	ID int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("system image %d not found", e.ID)
}

// ValidationError reports a malformed or missing required field. Surfaced
// before any side effect runs.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// StorageError reports an artifact store failure. When returned from an
// update, a new artifact may already have been written and the previous one
// may already be gone; callers must treat the artifact reference as
// best-effort.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: artifact storage: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// PersistenceError reports a failed transaction commit. By the time it is
// returned, any artifact stored earlier in the same request has been deleted
// again (best-effort) and no event has been published.
type PersistenceError struct {
	Op  string
	ID  int64
	Err error
}

func (e *PersistenceError) Error() string {
	if e.ID != 0 {
		return fmt.Sprintf("%s system image %d: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("%s system image: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
