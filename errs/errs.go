// Package errs defines the error taxonomy shared by every subsystem of
// the client runtime. Subsystems wrap the failures they originate in a
// *Error carrying a Kind so callers (and the Facade's "error" event) can
// branch on retryability without string matching. Errors returned by
// user-supplied middleware and error replies to RPCs pass through
// unwrapped.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by its origin, which also determines its
// default retryability.
type Kind string

const (
	Connection     Kind = "connection"
	Timeout        Kind = "timeout"
	Protocol       Kind = "protocol"
	QueueFull      Kind = "queue_full"
	Encryption     Kind = "encryption"
	Compression    Kind = "compression"
	State          Kind = "state"
	Authentication Kind = "authentication"
	MessageSize    Kind = "message_size"
)

// retryable reports the default retryability for a Kind. Connection
// and Timeout are retryable; everything else is not.
func (k Kind) retryable() bool {
	switch k {
	case Connection, Timeout:
		return true
	default:
		return false
	}
}

// Error is the concrete error type every subsystem returns.
type Error struct {
	Kind      Kind
	Op        string // the operation that failed, e.g. "queue.enqueue"
	Err       error
	retryable *bool
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the operation that produced this error may
// reasonably be retried by the caller.
func (e *Error) Retryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	return e.Kind.retryable()
}

// New wraps err with the given Kind and operation name. A nil err
// still produces a non-nil *Error so callers can attach a message via
// fmt.Errorf and wrap that instead.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithRetryable overrides the Kind's default retryability; the codec
// uses it to mark failed decryption explicitly non-retryable.
func WithRetryable(e *Error, retryable bool) *Error {
	e.retryable = &retryable
	return e
}

// Of reports the Kind of err if it (or something it wraps) is an
// *Error, and ok=false otherwise.
func Of(err error) (kind Kind, ok bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err's Kind (per Of) equals kind.
func Is(err error, kind Kind) bool {
	k, ok := Of(err)
	return ok && k == kind
}
