package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrCode represents an error code
type ErrCode string

const (
	ErrCodeNotFound        ErrCode = "NOT_FOUND"
	ErrCodeUnauthorized    ErrCode = "UNAUTHORIZED"
	ErrCodeUnauthenticated ErrCode = "UNAUTHENTICATED"
	ErrCodeRateLimited     ErrCode = "RATE_LIMITED"
	ErrCodeInternal        ErrCode = "INTERNAL_ERROR"
	ErrCodeBadRequest      ErrCode = "BAD_REQUEST"
	ErrCodeValidation      ErrCode = "VALIDATION"
	ErrCodePermanent       ErrCode = "PERMANENT"
)

// AppError represents an application error
type AppError struct {
	Code    ErrCode
	Message string
	Err     error

	// RetryAt is when a rate-limited call may be attempted again; zero if unknown
	RetryAt time.Time
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// NewUnauthorizedError creates a new unauthorized error, used for rejected
// inbound webhook authentication
func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeUnauthorized,
		Message: message,
	}
}

// NewUnauthenticatedError reports that the provider rejected the owner's
// access token in the middle of a job
func NewUnauthenticatedError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeUnauthenticated,
		Message: message,
		Err:     err,
	}
}

// NewRateLimitedError creates a new rate limited error
func NewRateLimitedError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeRateLimited,
		Message: message,
	}
}

// NewRateLimitedUntilError creates a rate limited error that clears at reset
func NewRateLimitedUntilError(message string, reset time.Time) *AppError {
	return &AppError{
		Code:    ErrCodeRateLimited,
		Message: message,
		RetryAt: reset,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeInternal,
		Message: message,
		Err:     err,
	}
}

// NewBadRequestError creates a new bad request error
func NewBadRequestError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeBadRequest,
		Message: message,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeValidation,
		Message: message,
		Err:     err,
	}
}

// NewPermanentError marks a job failure that must not be retried
func NewPermanentError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodePermanent,
		Message: message,
		Err:     err,
	}
}

func hasCode(err error, code ErrCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsRateLimited checks if the error is a rate limited error
func IsRateLimited(err error) bool {
	return hasCode(err, ErrCodeRateLimited)
}

// IsUnauthenticated checks if the provider rejected the access token
func IsUnauthenticated(err error) bool {
	return hasCode(err, ErrCodeUnauthenticated)
}

// IsValidation checks if the error is a validation error
func IsValidation(err error) bool {
	return hasCode(err, ErrCodeValidation) || hasCode(err, ErrCodeBadRequest)
}

// IsPermanent checks if the error must not be retried
func IsPermanent(err error) bool {
	return hasCode(err, ErrCodePermanent)
}

// RetryAt returns the time a rate-limited error clears, if it carries one
func RetryAt(err error) (time.Time, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Code == ErrCodeRateLimited && !appErr.RetryAt.IsZero() {
		return appErr.RetryAt, true
	}
	return time.Time{}, false
}
