package common

import (
	"errors"
	"fmt"
	"net/http"
)

// Error taxonomy shared by the pricing, cart and order packages.
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidData     = errors.New("invalid data")
	ErrNotAllowed      = errors.New("not allowed")
	ErrUnexpectedState = errors.New("unexpected state")
	ErrDuplicate       = errors.New("duplicate")
)

// AppError represents an error with an attached code and HTTP status.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		if e.Message != "" {
			return e.Message + ": " + e.Err.Error()
		}
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// IsAppError checks whether the error is an AppError.
func IsAppError(err error) bool {
	var target *AppError
	return errors.As(err, &target)
}

// NotFound reports a missing line item, discount, store or order.
func NotFound(format string, args ...any) *AppError {
	return NewAppError("NOT_FOUND", fmt.Sprintf(format, args...), http.StatusNotFound, ErrNotFound)
}

// InvalidData reports a validation failure.
func InvalidData(format string, args ...any) *AppError {
	return NewAppError("INVALID_DATA", fmt.Sprintf(format, args...), http.StatusBadRequest, ErrInvalidData)
}

// NotAllowed reports an operation the actor may not perform.
func NotAllowed(format string, args ...any) *AppError {
	return NewAppError("NOT_ALLOWED", fmt.Sprintf(format, args...), http.StatusForbidden, ErrNotAllowed)
}

// UnexpectedState reports an aggregate in a state the operation cannot handle.
func UnexpectedState(format string, args ...any) *AppError {
	return NewAppError("UNEXPECTED_STATE", fmt.Sprintf(format, args...), http.StatusConflict, ErrUnexpectedState)
}

// Duplicate reports a second use of a single-use resource.
func Duplicate(format string, args ...any) *AppError {
	return NewAppError("DUPLICATE_ERROR", fmt.Sprintf(format, args...), http.StatusConflict, ErrDuplicate)
}

// CodeOf returns the AppError code or INTERNAL.
func CodeOf(err error) string {
	var target *AppError
	if errors.As(err, &target) && target.Code != "" {
		return target.Code
	}
	return "INTERNAL"
}
