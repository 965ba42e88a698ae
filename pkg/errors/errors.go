package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Machine-readable codes carried in error envelopes.
const (
	CodeNotFound            = "NOT_FOUND"
	CodeForbidden           = "FORBIDDEN"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeConflict            = "CONFLICT"
	CodePreconditionFailed  = "PRECONDITION_FAILED"
	CodeValidation          = "VALIDATION_ERROR"
	CodeInternal            = "INTERNAL_ERROR"
	CodeCacheMiss           = "CACHE_MISS"
	CodeInsufficientHistory = "INSUFFICIENT_HISTORY"
	CodeInvalidOverride     = "INVALID_OVERRIDE"
	CodeStaleResourceModel  = "STALE_RESOURCE_MODEL"
	CodeRunCancelled        = "RUN_CANCELLED"
	CodeInvalidTransition   = "INVALID_TRANSITION"
	CodeUnavailable         = "UNAVAILABLE"
)

// Error is a domain error that knows its HTTP status. Err is never serialised.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return "<nil>"
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	default:
		return e.Message
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors by code so clones and wraps of a predefined error compare equal.
func (e *Error) Is(target error) bool {
	var t *Error
	if e == nil || !errors.As(target, &t) || t == nil {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of e carrying cause. An empty message keeps e's message.
func (e *Error) WithCause(cause error, message string) *Error {
	clone := Clone(e, message)
	if clone != nil {
		clone.Err = cause
	}
	return clone
}

func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

var (
	ErrNotFound           = New(CodeNotFound, http.StatusNotFound, "resource not found")
	ErrForbidden          = New(CodeForbidden, http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New(CodeUnauthorized, http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New(CodeConflict, http.StatusConflict, "conflict")
	ErrPreconditionFailed = New(CodePreconditionFailed, http.StatusPreconditionFailed, "precondition failed")
	ErrValidation         = New(CodeValidation, http.StatusBadRequest, "validation failed")
	ErrInternal           = New(CodeInternal, http.StatusInternalServerError, "internal server error")
	ErrCacheMiss          = New(CodeCacheMiss, http.StatusNotFound, "cache miss")

	ErrInsufficientHistory = New(CodeInsufficientHistory, http.StatusUnprocessableEntity, "no progress record exists for student")
	ErrInvalidOverride     = New(CodeInvalidOverride, http.StatusBadRequest, "invalid override")
	ErrStaleResourceModel  = New(CodeStaleResourceModel, http.StatusConflict, "resource model changed since snapshot")
	ErrRunCancelled        = New(CodeRunCancelled, http.StatusConflict, "scheduling run cancelled")
	ErrInvalidTransition   = New(CodeInvalidTransition, http.StatusConflict, "invalid status transition")
	ErrUnavailable         = New(CodeUnavailable, http.StatusServiceUnavailable, "dependency unavailable")
)

// FromError returns the *Error in err's chain, or wraps err as an internal error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ErrInternal.WithCause(err, "")
}

// Clone copies err, replacing the message when one is given.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// IsRetryable reports whether the caller may retry the operation against fresh state.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStaleResourceModel)
}
