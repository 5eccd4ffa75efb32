package domain

import "github.com/cockroachdb/errors"

var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrInvalidInput         = errors.New("invalid input")
	ErrForbidden            = errors.New("forbidden")

	ErrInsufficientCapacity = errors.New("insufficient capacity")
	ErrIllegalTransition    = errors.New("illegal status transition")
	ErrInvalidPaymentAmount = errors.New("invalid payment amount")
	ErrVersionConflict      = errors.New("version conflict")

	// ErrOverRelease means a release would push available capacity above the
	// counter's total. It indicates a bookkeeping bug, never user input.
	ErrOverRelease = errors.New("release exceeds reserved capacity")
)

// IsRetryable reports whether err is a lost optimistic or serializable race
// that the caller should answer by reloading and reapplying its change.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrSerializationFailure)
}
