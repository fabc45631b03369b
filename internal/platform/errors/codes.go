package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Validation errors
	CodeTaskMissingClassification  Code = "TASK_MISSING_CLASSIFICATION"
	CodeTaskMissingWorkbasket      Code = "TASK_MISSING_WORKBASKET"
	CodeTaskInvalidObjectReference Code = "TASK_INVALID_OBJECT_REFERENCE"
	CodeDomainUnknown              Code = "DOMAIN_UNKNOWN"
	CodeWorkbasketInvalid          Code = "WORKBASKET_INVALID"
	CodeClassificationInvalid      Code = "CLASSIFICATION_INVALID"

	// Lookup errors
	CodeWorkbasketNotFound     Code = "WORKBASKET_NOT_FOUND"
	CodeClassificationNotFound Code = "CLASSIFICATION_NOT_FOUND"
	CodeTaskNotFound           Code = "TASK_NOT_FOUND"

	// Authorization errors
	CodeNotAuthorized Code = "NOT_AUTHORIZED"

	// State conflicts
	CodeInvalidTaskState       Code = "INVALID_TASK_STATE"
	CodeTaskAlreadyExists      Code = "TASK_ALREADY_EXISTS"
	CodeConcurrentModification Code = "CONCURRENT_MODIFICATION"

	// Session coordinator misuse. These indicate caller contract violations,
	// not business conditions.
	CodeConnectionAlreadySet Code = "CONNECTION_ALREADY_SET"
	CodeConnectionNotSet     Code = "CONNECTION_NOT_SET"
	CodeSessionNotAcquired   Code = "SESSION_NOT_ACQUIRED"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeTaskMissingClassification,
		CodeTaskMissingWorkbasket,
		CodeTaskInvalidObjectReference,
		CodeDomainUnknown,
		CodeWorkbasketInvalid,
		CodeClassificationInvalid:
		return codes.InvalidArgument

	// NotFound - resource doesn't exist
	case CodeWorkbasketNotFound,
		CodeClassificationNotFound,
		CodeTaskNotFound:
		return codes.NotFound

	// PermissionDenied - principal lacks role or workbasket permission
	case CodeNotAuthorized:
		return codes.PermissionDenied

	// State conflicts - caller may retry after re-reading state
	case CodeInvalidTaskState:
		return codes.FailedPrecondition
	case CodeTaskAlreadyExists:
		return codes.AlreadyExists
	case CodeConcurrentModification:
		return codes.Aborted

	default:
		return codes.Internal
	}
}

// IsRetryable reports whether the caller may retry after re-reading state.
func (c Code) IsRetryable() bool {
	return c == CodeConcurrentModification
}

// GetCode extracts the error code from any error.
// Returns CodeUnknown if the error is not a domain error.
func GetCode(err error) Code {
	var e *Error
	if As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// IsCode checks if the error has the specified code.
func IsCode(err error, code Code) bool {
	return GetCode(err) == code
}
