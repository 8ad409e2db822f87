package booking

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies engine errors so callers can pick user-facing wording
// without inspecting message text.
type Kind int

const (
	// KindValidation covers unknown or inactive offerings, unknown slots,
	// slots in the past and invalid participant counts.
	KindValidation Kind = iota + 1
	// KindCapacity means the slot no longer has enough free places.
	KindCapacity
	// KindAuthorization means the booking is not visible to the caller.
	// A missing booking and a booking owned by someone else look the same.
	KindAuthorization
	// KindDeadline means a time limit passed: the pending confirmation
	// window or the cancellation deadline.
	KindDeadline
	// KindPrecondition means the booking is in the wrong status.
	KindPrecondition
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindCapacity:
		return "capacity"
	case KindAuthorization:
		return "authorization"
	case KindDeadline:
		return "deadline"
	case KindPrecondition:
		return "precondition"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is returned by every engine operation that rejects a request.
// Any other error returned by the engine is an infrastructure failure.
type Error struct {
	Kind    Kind
	Message string
	// Deadline is set for KindDeadline errors.
	Deadline time.Time
	// Available is set for KindCapacity errors.
	Available int
	// NotFound marks validation errors caused by a missing offering or slot.
	NotFound bool
}

func (e *Error) Error() string { return e.Message }

// Is matches another *Error by kind, so errors.Is(err, &Error{Kind: KindCapacity})
// works as a kind test.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of an engine error, or 0 when err is not one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsKind reports whether err is an engine error of the given kind.
func IsKind(err error, k Kind) bool {
	return KindOf(err) == k
}

func validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func notFoundf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...), NotFound: true}
}

func capacityErr(available, requested int) *Error {
	return &Error{
		Kind:      KindCapacity,
		Message:   fmt.Sprintf("only %d spots available, %d requested", available, requested),
		Available: available,
	}
}

func deadlineErr(msg string, deadline time.Time) *Error {
	return &Error{
		Kind:     KindDeadline,
		Message:  fmt.Sprintf("%s (deadline was %s)", msg, deadline.UTC().Format(time.RFC3339)),
		Deadline: deadline,
	}
}

func preconditionf(format string, args ...any) *Error {
	return &Error{Kind: KindPrecondition, Message: fmt.Sprintf(format, args...)}
}

var errBookingNotFound = &Error{Kind: KindAuthorization, Message: "booking not found"}
