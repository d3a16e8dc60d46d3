package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
)

// AppError is a coded error returned by backends. The resilience layer reads
// its code to tell backend failures apart from correct rejections.
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	// Retryable is derived from Code by New and its helpers.
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
	Cause     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *AppError) Unwrap() error { return e.Cause }

// WithCause sets the cause and returns e.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetails merges details into e and returns e.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any, len(details))
	}
	maps.Copy(e.Details, details)
	return e
}

// WithDetail sets one detail and returns e.
func (e *AppError) WithDetail(key string, value any) *AppError {
	return e.WithDetails(map[string]any{key: value})
}

// NonSystem reports whether the error is a correct rejection of the request.
func (e *AppError) NonSystem() bool {
	return IsNonSystemCode(e.Code)
}

// New creates an AppError. Retryable follows the code.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Retryable: IsRetryableCode(code),
	}
}

// Newf is New with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// IsAppError checks if an error is an AppError.
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// AsAppError finds the first AppError in err's chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf returns the code of the first AppError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ""
}

// ServiceUnavailable reports a backend that is temporarily down.
func ServiceUnavailable(service string) *AppError {
	return Newf(ErrCodeServiceUnavailable, "The %s is temporarily unavailable.", service).
		WithDetail("service", service)
}

// Timeout reports an operation the backend did not finish in time.
func Timeout(operation string) *AppError {
	return New(ErrCodeTimeout, "The request timed out.").WithDetail("operation", operation)
}

// NotFound reports a missing resource. id is omitted from the details when empty.
func NotFound(resource, id string) *AppError {
	err := Newf(ErrCodeNotFound, "The requested %s was not found.", resource).
		WithDetail("resource", resource)
	if id != "" {
		err.WithDetail("id", id)
	}
	return err
}

// AlreadyExists reports a create that collided with an existing resource.
func AlreadyExists(resource string) *AppError {
	return Newf(ErrCodeAlreadyExists, "A %s with these details already exists.", resource).
		WithDetail("resource", resource)
}

// Conflict reports a write rejected by the current state of a resource.
func Conflict(reason string) *AppError {
	return New(ErrCodeConflict, reason)
}

// Validation reports invalid input.
func Validation(message string) *AppError {
	return New(ErrCodeInvalidInput, message)
}

// Internal wraps an unexpected failure.
func Internal(cause error) *AppError {
	return New(ErrCodeInternal, "An unexpected error occurred.").WithCause(cause)
}
