package engine

import "errors"

var (
	// ErrInvalidOperationAndMessage is returned when a dispatch receives both or neither input.
	ErrInvalidOperationAndMessage = errors.New("invalid operation and message")
	ErrNotImplemented             = errors.New("not implemented")
	ErrNotAllowed                 = errors.New("not allowed")
	ErrInvalidAmount              = errors.New("invalid amount")
	ErrInsufficientFunds          = errors.New("insufficient funds")
	ErrNotEnabled                 = errors.New("not enabled")
	ErrInvalidApplicationResponse = errors.New("invalid application response")
	// ErrMismatchedVariant is returned when a handler is built from a payload that does not match its tag.
	ErrMismatchedVariant = errors.New("mismatched variant")
)

// RuntimeError wraps a failure reported by the host runtime, such as a missing
// authenticated signer or an unexpected message origin.
type RuntimeError struct {
	Err error
}

func NewRuntimeError(err error) error { return &RuntimeError{Err: err} }

func (e *RuntimeError) Error() string { return "runtime error: " + e.Err.Error() }
func (e *RuntimeError) Unwrap() error { return e.Err }

// ProcessError wraps a failure of the handler's business logic.
type ProcessError struct {
	Err error
}

func NewProcessError(err error) error { return &ProcessError{Err: err} }

func (e *ProcessError) Error() string { return "process error: " + e.Err.Error() }
func (e *ProcessError) Unwrap() error { return e.Err }

var (
	ErrMissingAuthenticatedAccount = errors.New("missing authenticated account")
	ErrMissingAuthenticatedCaller  = errors.New("missing authenticated caller")
	ErrInvalidMessageOrigin        = errors.New("invalid message origin chain")
	ErrPermissionDenied            = errors.New("permission denied")
)
