/*
errors.go - Centralized error types for the donor engine

PURPOSE:
  All error types in one place. Callers classify with errors.Is;
  structured errors carry the contended key or failing store.

ERROR CATEGORIES:
  1. Contention errors - lock registry rejections (retryable by the caller)
  2. Permission errors - privilege check failures
  3. Store errors - durable-storage failures (abort the operation)

Fan-out failures against the membership collaborator are NOT in this
taxonomy: they are swallowed per target and never surface.
*/
package donor

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrEntityBusy is returned when a user's ledger is already being
	// mutated. The caller should report "try again"; nothing was written.
	ErrEntityBusy = errors.New("user is temporarily locked")

	// ErrGroupBusy is returned when a group is already being
	// reconfigured. Same contract as ErrEntityBusy.
	ErrGroupBusy = errors.New("group is temporarily locked")

	// ErrNotPrivileged is returned when the acting user lacks the
	// privilege a mutation requires. Nothing was written.
	ErrNotPrivileged = errors.New("not privileged")

	// ErrUnknownOp is returned for a mutation kind outside the known
	// set. The caller's input is malformed; nothing was written.
	ErrUnknownOp = errors.New("unknown op")

	// ErrStoreUnavailable is returned when the ledger, history, config,
	// or admin store fails. This aborts the enclosing operation.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// BusyError reports which user key was contended.
type BusyError struct {
	Key string
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("user %q is locked by a concurrent operation", e.Key)
}

func (e *BusyError) Unwrap() error { return ErrEntityBusy }

// GroupBusyError reports which group key was contended.
type GroupBusyError struct {
	Key string
}

func (e *GroupBusyError) Error() string {
	return fmt.Sprintf("group %q is locked by a concurrent operation", e.Key)
}

func (e *GroupBusyError) Unwrap() error { return ErrGroupBusy }

// StoreError wraps a storage failure with the collection that failed.
type StoreError struct {
	Collection string
	Err        error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s store: %v", e.Collection, e.Err)
}

func (e *StoreError) Unwrap() error { return ErrStoreUnavailable }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsBusy reports whether err is a lock-contention rejection.
func IsBusy(err error) bool {
	return errors.Is(err, ErrEntityBusy) || errors.Is(err, ErrGroupBusy)
}

// IsClientError reports whether the error is the caller's to fix
// (contention, permission, malformed input), as opposed to an internal
// failure.
func IsClientError(err error) bool {
	return IsBusy(err) || errors.Is(err, ErrNotPrivileged) || errors.Is(err, ErrUnknownOp)
}

// storeErr wraps a storage failure, passing nil through.
func storeErr(collection string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Collection: collection, Err: err}
}
