// Package errors provides error code definitions for the sync engine.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a unique error code surfaced to the UI layer.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrDuplicate  ErrorCode = "DUPLICATE"
	ErrPermission ErrorCode = "PERMISSION_DENIED"

	// Storage errors (local cache I/O: fatal to the current operation,
	// never silently dropped)
	ErrStorage    ErrorCode = "STORAGE_ERROR"
	ErrMigration  ErrorCode = "MIGRATION_FAILED"
	ErrConstraint ErrorCode = "CONSTRAINT_VIOLATION"

	// Sync errors
	ErrTransientNetwork ErrorCode = "TRANSIENT_NETWORK" // timeout or unreachable; retried on next sync
	ErrValidation       ErrorCode = "VALIDATION_ERROR"  // payload rejected; needs correction, not retried
	ErrVersionConflict  ErrorCode = "VERSION_CONFLICT"  // base version mismatch; produces a conflict record
	ErrResolution       ErrorCode = "RESOLUTION_ERROR"  // unknown or already-resolved conflict id
	ErrSyncInProgress   ErrorCode = "SYNC_IN_PROGRESS"
	ErrSyncOffline      ErrorCode = "SYNC_OFFLINE" // total failure to reach the server

	// Collaboration errors
	ErrPresenceClosed ErrorCode = "PRESENCE_SESSION_CLOSED"

	// Auth errors
	ErrAuthFailed   ErrorCode = "AUTH_FAILED"
	ErrTokenInvalid ErrorCode = "TOKEN_INVALID"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error carries a specific code, unwrapping as needed.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// Code extracts the error code from err, or ErrInternal when it has none.
func Code(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// IsTransient reports whether err should be retried on the next sync pass.
func IsTransient(err error) bool {
	return Is(err, ErrTransientNetwork) || Is(err, ErrSyncOffline)
}

// IsValidation reports whether err is a payload validation rejection.
func IsValidation(err error) bool {
	return Is(err, ErrValidation)
}

// IsNotFound reports whether err is a not-found condition.
func IsNotFound(err error) bool {
	return Is(err, ErrNotFound)
}
