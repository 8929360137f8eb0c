package rpcwire

import (
	"errors"

	"github.com/source-build/ojp/internal/ojperr"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ToStatus implements spec.md §7's wire mapping: each ojperr.Kind maps to a
// specific gRPC status code, with the original message preserved for
// BackendFailure.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}

	var oe *ojperr.Error
	if !errors.As(err, &oe) {
		return status.Error(codes.Internal, err.Error())
	}

	switch {
	case errors.Is(oe, ojperr.InvalidArgument):
		return status.Error(codes.InvalidArgument, oe.Error())
	case errors.Is(oe, ojperr.PermissionDenied):
		return status.Error(codes.PermissionDenied, oe.Error())
	case errors.Is(oe, ojperr.SessionNotFound), errors.Is(oe, ojperr.SessionClosed), errors.Is(oe, ojperr.FailedPrecond):
		return status.Error(codes.FailedPrecondition, oe.Error())
	case errors.Is(oe, ojperr.CircuitOpen):
		return status.Error(codes.Unavailable, oe.Error())
	case errors.Is(oe, ojperr.Overloaded):
		return status.Error(codes.ResourceExhausted, oe.Error())
	case errors.Is(oe, ojperr.Timeout):
		return status.Error(codes.DeadlineExceeded, oe.Error())
	case errors.Is(oe, ojperr.Cancelled):
		return status.Error(codes.Canceled, oe.Error())
	default:
		return status.Error(codes.Internal, oe.Error())
	}
}
