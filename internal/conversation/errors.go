package conversation

import "fmt"

type ErrorCode string

const (
	ErrorNotFound   ErrorCode = "NOT_FOUND"
	ErrorValidation ErrorCode = "VALIDATION"
	ErrorDelivery   ErrorCode = "DELIVERY"
	ErrorInternal   ErrorCode = "INTERNAL_ERROR"
)

// Error is the failure of one processing cycle. Reason is a stable
// snake_case tag suitable for logs and metrics.
type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("conversation: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("conversation: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Retryable reports whether the job layer should retry the cycle. A missing
// message or an invalid session will fail the same way again.
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	switch e.Code {
	case ErrorNotFound, ErrorValidation:
		return false
	}
	return true
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}
