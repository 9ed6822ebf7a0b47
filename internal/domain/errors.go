package domain

import (
	"errors"
	"fmt"
)

// Retryable is implemented by remote-API errors to classify themselves.
// Errors that do not implement it are treated as transient, matching the
// remote API's behavior of surfacing throttling and timeouts as plain
// transport errors.
type Retryable interface {
	Retryable() bool
}

// IsTransient reports whether err is worth retrying. An exhausted retry
// series is final even though the underlying cause was transient.
func IsTransient(err error) bool {
	var ex *RetriesExhausted
	if errors.As(err, &ex) {
		return false
	}
	var r Retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}

// IsPermanent reports whether err is explicitly marked non-retryable.
func IsPermanent(err error) bool {
	var r Retryable
	if errors.As(err, &r) {
		return !r.Retryable()
	}
	return false
}

// RetriesExhausted wraps a transient error that persisted past the retry
// budget. It is distinct from a first-attempt permanent failure.
type RetriesExhausted struct {
	Op         string
	ResourceID string
	Attempts   int
	Err        error
}

func (e *RetriesExhausted) Error() string {
	return fmt.Sprintf("%s %s: retries exhausted after %d attempts: %v",
		e.Op, e.ResourceID, e.Attempts, e.Err)
}

func (e *RetriesExhausted) Unwrap() error { return e.Err }

// Exhausted reports whether err is a RetriesExhausted failure.
func Exhausted(err error) bool {
	var ex *RetriesExhausted
	return errors.As(err, &ex)
}

// StoreError wraps a persistence failure. Callers abort the current
// transition or firing and retry on the next tick.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

// StateConflict signals an invariant violation such as a double-open
// session. Under correct per-resource serialization it never occurs;
// observing one is a programming fault, not a user-facing condition.
type StateConflict struct {
	ResourceID string
	Detail     string
}

func (e *StateConflict) Error() string {
	return fmt.Sprintf("state conflict on %s: %s", e.ResourceID, e.Detail)
}
