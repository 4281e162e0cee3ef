// internal/domain/cart/errors.go
package cart

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies cart failures
type Kind int

const (
	KindValidation  Kind = iota + 1 // malformed product id, size or quantity
	KindNotFound                    // product or cart item missing
	KindStaleData                   // stock refresh failed, last snapshot kept
	KindConflict                    // racing quantity updates that sequencing could not settle
	KindPersistence                 // local or server write failed
	KindTransient                   // timeout, unavailable backend, open circuit
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindStaleData:
		return "stale_data"
	case KindConflict:
		return "conflict"
	case KindPersistence:
		return "persistence"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// Error is the typed failure every cart operation returns. Retryable tells the
// caller whether trying again is safe. When MutationID is set the change was
// sent and may still land; try again with Retry under that id rather than by
// repeating the operation.
type Error struct {
	Kind       Kind
	Op         string
	Key        Key
	MutationID string
	Retryable  bool
	Err        error
}

func (e *Error) Error() string {
	msg := "cart " + e.Op
	if !e.Key.IsZero() {
		msg += " " + e.Key.String()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds an Error with the default retry policy for its kind
func NewError(kind Kind, op string, key Key, err error) *Error {
	return &Error{
		Kind:      kind,
		Op:        op,
		Key:       key,
		Retryable: defaultRetryable(kind),
		Err:       err,
	}
}

// Errorf builds an Error from a formatted message
func Errorf(kind Kind, op string, key Key, format string, args ...interface{}) *Error {
	return NewError(kind, op, key, fmt.Errorf(format, args...))
}

func defaultRetryable(kind Kind) bool {
	switch kind {
	case KindValidation, KindNotFound:
		return false
	default:
		// prior state is untouched for these, so repeating is safe
		return true
	}
}

// KindOf returns the kind of the first Error in err's chain, or 0
func KindOf(err error) Kind {
	var cartErr *Error
	if errors.As(err, &cartErr) {
		return cartErr.Kind
	}
	return 0
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable reports whether err says a retry is safe
func IsRetryable(err error) bool {
	var cartErr *Error
	if errors.As(err, &cartErr) {
		return cartErr.Retryable
	}
	return false
}

// IsPending reports whether err leaves a sent change unsettled: the backend
// timed out or answered that the same mutation is still being processed
func IsPending(err error) bool {
	return IsKind(err, KindTransient) || (IsKind(err, KindConflict) && IsRetryable(err))
}

// MutationIDOf returns the mutation id carried by err, or ""
func MutationIDOf(err error) string {
	var cartErr *Error
	if errors.As(err, &cartErr) {
		return cartErr.MutationID
	}
	return ""
}

// Retrier resends an unsettled mutation under its original id
type Retrier interface {
	Retry(ctx context.Context, mutationID string) error
}
