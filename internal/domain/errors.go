package domain

import "errors"

// Sentinel errors surfaced by the fact store and version registry.
var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrInstanceNotFound   = errors.New("payable instance not found")
	ErrDuplicateInstance  = errors.New("component_instance_id already present")
	ErrDatabaseConnection = errors.New("database connection error")
	ErrDatabaseOperation  = errors.New("database operation error")
)

// ValidationError is raised when an inbound event fails shape validation
// (§4.4 step 1): a missing required field, a bad enum value, a malformed
// timestamp, or a wrong type.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error on " + e.Field + ": " + e.Reason
}

// IdentityError is raised by the Identity Builder (C1) when dimensions
// contain a non-scalar value or component_type is missing.
type IdentityError struct {
	Reason string
}

func (e *IdentityError) Error() string {
	return "identity error: " + e.Reason
}

// VersionConflictError is raised when a write hits a scope's unique
// (scope, version) guard because another writer already committed that
// version. The pipeline retries it a bounded number of times.
type VersionConflictError struct {
	Family   string
	ScopeKey string
}

func (e *VersionConflictError) Error() string {
	return "version conflict for " + e.Family + " scope " + e.ScopeKey
}

// StorageError wraps an underlying persistence failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return "storage error during " + e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error { return e.Err }

// ProjectionError is raised when the Payables Projector finds an
// inconsistent row (e.g. a payable line referring to an absent
// timeline version). It is surfaced as a warning alongside partial
// results, never as a failure of the whole order read.
type ProjectionError struct {
	InstanceKey string
	Reason      string
}

func (e *ProjectionError) Error() string {
	return "projection warning for " + e.InstanceKey + ": " + e.Reason
}

// DuplicateEventError signals that event_id was already present in the
// target table and the event was skipped (at-least-once tolerance).
type DuplicateEventError struct {
	EventID string
}

func (e *DuplicateEventError) Error() string {
	return "duplicate event_id: " + e.EventID
}
