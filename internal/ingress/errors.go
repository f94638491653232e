package ingress

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrorInvalidInput     ErrorCode = "INVALID_INPUT"
	ErrorUnknownAgency    ErrorCode = "UNKNOWN_AGENCY"
	ErrorInvalidSignature ErrorCode = "INVALID_SIGNATURE"
	ErrorInternal         ErrorCode = "INTERNAL_ERROR"
)

// HTTPStatus is the webhook response status for the code.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case ErrorInvalidInput:
		return http.StatusBadRequest
	case ErrorInvalidSignature:
		return http.StatusForbidden
	case ErrorUnknownAgency:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

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
		return fmt.Sprintf("ingress: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("ingress: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// CodeOf returns the code carried by err, or ErrorInternal.
func CodeOf(err error) ErrorCode {
	var ie *Error
	if errors.As(err, &ie) && ie != nil {
		return ie.Code
	}
	return ErrorInternal
}
