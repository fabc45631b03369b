package errors

import (
	stderrors "errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// As delegates to the standard library errors.As so callers of this package
// don't need a second errors import.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Is delegates to the standard library errors.Is.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// HandleError converts domain errors to gRPC status for client responses.
func HandleError(err error) error {
	if err == nil {
		return nil
	}

	var appErr *Error
	if stderrors.As(err, &appErr) {
		return appErr.ToGRPCStatus()
	}

	// Unknown error - return internal with generic message
	return status.Error(codes.Internal, "an unexpected error occurred")
}
