package registrations

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("invalid registration")
	// ErrStoreUnavailable means the store could not be reached or failed.
	// It never means "not registered".
	ErrStoreUnavailable = errors.New("registration store unavailable")
	// ErrCounterMissing means the allocator counter was never bootstrapped.
	ErrCounterMissing = errors.New("registration counter missing")
	// ErrSerialCollision means the counter points at an id already issued.
	ErrSerialCollision = errors.New("registration serial collision")
	// ErrAllocationConflict means concurrent allocators kept winning until
	// the retry budget ran out.
	ErrAllocationConflict = errors.New("registration allocation conflict")
	// ErrDuplicateEmail is returned by Allocate when a registration for the
	// same email was committed concurrently.
	ErrDuplicateEmail = errors.New("registration already exists for email")
)

// Error codes carried in API responses so remote clients can rebuild the
// sentinel errors above.
const (
	CodeValidation         = "validation"
	CodeStoreUnavailable   = "store_unavailable"
	CodeCounterMissing     = "counter_missing"
	CodeSerialCollision    = "serial_collision"
	CodeAllocationConflict = "allocation_conflict"
	CodeNotFound           = "not_found"
)

// ValidationError reports a rejected field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrValidation) hold for any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

// ErrorCode maps an error to its API code, or "" for unclassified errors.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrCounterMissing):
		return CodeCounterMissing
	case errors.Is(err, ErrSerialCollision):
		return CodeSerialCollision
	case errors.Is(err, ErrAllocationConflict):
		return CodeAllocationConflict
	case errors.Is(err, ErrStoreUnavailable):
		return CodeStoreUnavailable
	}
	return ""
}

// ErrorFromCode is the inverse of ErrorCode. Unknown codes are treated as the
// store being unavailable.
func ErrorFromCode(code, message string) error {
	switch code {
	case CodeValidation:
		return &ValidationError{Field: "request", Reason: message}
	case CodeCounterMissing:
		return fmt.Errorf("%w: %s", ErrCounterMissing, message)
	case CodeSerialCollision:
		return fmt.Errorf("%w: %s", ErrSerialCollision, message)
	case CodeAllocationConflict:
		return fmt.Errorf("%w: %s", ErrAllocationConflict, message)
	}
	return fmt.Errorf("%w: %s", ErrStoreUnavailable, message)
}
