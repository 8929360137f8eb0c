// Package ojperr defines the OJP error taxonomy (see SPEC_FULL.md §9).
//
// Every component-local error returned up to the dispatcher should be one of
// the sentinel kinds declared here (wrapped with fmt.Errorf("%w: ...", Kind)
// or via the New helpers) so that the dispatcher can classify it with a
// single errors.Is switch instead of string matching.
package ojperr

import (
	"errors"
	"fmt"
)

// Kind is a taxonomy bucket from spec.md §7. Each maps to exactly one gRPC
// status code (rpcwire.ToStatus) and one breaker-accounting policy
// (CountsAsBreakerFailure below).
type Kind error

var (
	InvalidArgument  Kind = errors.New("invalid argument")
	PermissionDenied Kind = errors.New("permission denied")
	SessionNotFound  Kind = errors.New("session not found")
	SessionClosed    Kind = errors.New("session closed")
	CircuitOpen      Kind = errors.New("circuit open")
	Overloaded       Kind = errors.New("overloaded")
	Timeout          Kind = errors.New("timeout")
	BackendFailure   Kind = errors.New("backend failure")
	Cancelled        Kind = errors.New("cancelled")
	FailedPrecond    Kind = errors.New("failed precondition")
)

// Error pairs a taxonomy Kind with a human-readable detail message,
// preserving the original cause for logging and errors.Is/As chains.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *Error) Unwrap() error {
	if e.Cause != nil {
		return e.Cause
	}
	return e.Kind
}

// Is lets errors.Is(err, ojperr.SessionClosed) succeed against an *Error
// whose Kind is that sentinel, without requiring the sentinel itself to be
// in the chain.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, cause error) *Error {
	if cause == nil {
		return &Error{Kind: kind}
	}
	return &Error{Kind: kind, Msg: cause.Error(), Cause: cause}
}

// KindOf extracts the taxonomy Kind from err, defaulting to BackendFailure
// for errors that were never classified by a component (an unclassified
// error reaching the dispatcher is treated as a backend fault, never as a
// free pass).
func KindOf(err error) Kind {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind
	}
	switch {
	case errors.Is(err, InvalidArgument):
		return InvalidArgument
	case errors.Is(err, PermissionDenied):
		return PermissionDenied
	case errors.Is(err, SessionNotFound):
		return SessionNotFound
	case errors.Is(err, SessionClosed):
		return SessionClosed
	case errors.Is(err, CircuitOpen):
		return CircuitOpen
	case errors.Is(err, Overloaded):
		return Overloaded
	case errors.Is(err, Timeout):
		return Timeout
	case errors.Is(err, Cancelled):
		return Cancelled
	case errors.Is(err, FailedPrecond):
		return FailedPrecond
	default:
		return BackendFailure
	}
}

// CountsAsBreakerFailure reports whether an error of this kind should
// increment a circuit breaker's failure counter (spec.md §7).
func CountsAsBreakerFailure(kind Kind) bool {
	switch kind {
	case Timeout, BackendFailure:
		return true
	default:
		return false
	}
}
