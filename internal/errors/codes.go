// Package errors provides structured error handling for the game core.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// CodeBusy indicates the room lock was not acquired within the wait
	// budget. Callers may retry.
	CodeBusy Code = "BUSY"

	// CodeNotFound indicates the room does not exist.
	CodeNotFound Code = "NOT_FOUND"

	// CodeIllegalAction indicates the action name is unknown or disallowed
	// in the current game state (not your turn, game ended, tile already
	// revealed).
	CodeIllegalAction Code = "ILLEGAL_ACTION"

	// CodeInvalidArgument indicates out-of-range indices or payload parse
	// failures.
	CodeInvalidArgument Code = "INVALID_ARGUMENT"

	// CodeCorrupt indicates persisted state could not be decoded and no
	// migration applied. Non-retryable; operator intervention expected.
	CodeCorrupt Code = "CORRUPT_STATE"

	// CodeConflict is reserved for the economy service's concurrent wallet
	// updates. The engine core never emits it.
	CodeConflict Code = "CONFLICT"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	case CodeBusy:
		return codes.Unavailable
	case CodeNotFound:
		return codes.NotFound
	case CodeIllegalAction:
		return codes.FailedPrecondition
	case CodeInvalidArgument:
		return codes.InvalidArgument
	case CodeCorrupt:
		return codes.DataLoss
	case CodeConflict:
		return codes.Aborted
	default:
		return codes.Internal
	}
}

// Retryable reports whether callers may retry the failed operation as-is.
func (c Code) Retryable() bool {
	return c == CodeBusy
}
