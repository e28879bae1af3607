// Package errors provides custom error types and error handling utilities.
package errors

import (
	"errors"
	"fmt"
)

// Error codes.
const (
	// Caller errors.
	CodeValidation       = "VALIDATION_ERROR"
	CodeNotFound         = "NOT_FOUND"
	CodeMissingResponse  = "MISSING_RESPONSE"
	CodeUnknownReference = "UNKNOWN_REFERENCE"

	// Model and infrastructure errors.
	CodeFit           = "FIT_ERROR"
	CodeMalformedTree = "MALFORMED_TREE"
	CodeInternal      = "INTERNAL_ERROR"
	CodeUnavailable   = "SERVICE_UNAVAILABLE"
	CodeTimeout       = "TIMEOUT"
	CodeRateLimited   = "RATE_LIMITED"
)

// AppError represents an application error with code and details.
type AppError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
	Err     error             `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with an AppError.
func Wrap(code, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetail adds a single detail to the error.
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Convenience constructors.

// ValidationError creates a validation error.
func ValidationError(message string) *AppError {
	return New(CodeValidation, message)
}

// NotFoundError creates a not found error.
func NotFoundError(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource))
}

// MissingResponseError reports that data lacks the response column a
// likelihood evaluation needs.
func MissingResponseError(column string) *AppError {
	return New(CodeMissingResponse, fmt.Sprintf("new data must contain the response column %q", column)).
		WithDetail("column", column)
}

// UnknownReferenceError reports a reference item that is not among the items.
func UnknownReferenceError(ref string) *AppError {
	return New(CodeUnknownReference, fmt.Sprintf("reference item %s not found", ref)).
		WithDetail("reference", ref)
}

// FitError creates a model fitting error.
func FitError(message string, err error) *AppError {
	return Wrap(CodeFit, message, err)
}

// MalformedTreeError creates an error for inconsistent tree structure.
func MalformedTreeError(message string) *AppError {
	return New(CodeMalformedTree, message)
}

// InternalError creates an internal error.
func InternalError(message string, err error) *AppError {
	return Wrap(CodeInternal, message, err)
}

// RateLimitedError creates a rate limit error advising a retry after
// retryAfter seconds.
func RateLimitedError(retryAfter int) *AppError {
	return New(CodeRateLimited, "too many requests").
		WithDetail("retry_after", fmt.Sprintf("%d", retryAfter))
}

// Code returns the code of the first AppError in err's chain, or "".
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsNotFound checks if error is a not found error.
func IsNotFound(err error) bool {
	return Code(err) == CodeNotFound
}

// IsValidation checks if error is a validation error.
func IsValidation(err error) bool {
	return Code(err) == CodeValidation
}

// IsMissingResponse checks if error reports a missing response column.
func IsMissingResponse(err error) bool {
	return Code(err) == CodeMissingResponse
}

// IsUnknownReference checks if error reports an unresolvable reference item.
func IsUnknownReference(err error) bool {
	return Code(err) == CodeUnknownReference
}
