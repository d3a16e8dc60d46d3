package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Connection/Availability errors (retryable)
const (
	// ErrCodeServiceUnavailable indicates the service is temporarily unavailable.
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	// ErrCodeConnectionFailed indicates a failed connection to a service.
	ErrCodeConnectionFailed ErrorCode = "CONNECTION_FAILED"
	// ErrCodeTimeout indicates the request timed out.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
	// ErrCodeRateLimited indicates the backend throttled the request.
	ErrCodeRateLimited ErrorCode = "RATE_LIMITED"
)

// Resource errors
const (
	// ErrCodeNotFound indicates the requested resource was not found.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeAlreadyExists indicates the resource already exists.
	ErrCodeAlreadyExists ErrorCode = "ALREADY_EXISTS"
	// ErrCodeConflict indicates a conflict with the current state of the resource.
	ErrCodeConflict ErrorCode = "CONFLICT"
	// ErrCodeEmptyResult indicates a query legitimately matched nothing.
	ErrCodeEmptyResult ErrorCode = "EMPTY_RESULT"
)

// Validation errors
const (
	// ErrCodeInvalidInput indicates the input is invalid.
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	// ErrCodeMissingField indicates a required field is missing.
	ErrCodeMissingField ErrorCode = "MISSING_FIELD"
	// ErrCodeInvalidFormat indicates a field has an invalid format.
	ErrCodeInvalidFormat ErrorCode = "INVALID_FORMAT"
	// ErrCodeBusinessRule indicates a domain constraint rejected the request.
	ErrCodeBusinessRule ErrorCode = "BUSINESS_RULE"
)

// Authentication/Authorization errors
const (
	// ErrCodeUnauthorized indicates the request is unauthorized.
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	// ErrCodeForbidden indicates the request is forbidden.
	ErrCodeForbidden ErrorCode = "FORBIDDEN"
	// ErrCodeNotConfigured indicates the backend feature is not enabled for this client.
	ErrCodeNotConfigured ErrorCode = "NOT_CONFIGURED"
)

// Internal errors
const (
	// ErrCodeInternal indicates an internal server error.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	// ErrCodeExternalService indicates an error from an external service.
	ErrCodeExternalService ErrorCode = "EXTERNAL_SERVICE_ERROR"
)

// Resilience layer errors
const (
	// ErrCodeCircuitOpen indicates admission was denied by an open circuit.
	ErrCodeCircuitOpen ErrorCode = "CIRCUIT_OPEN"
	// ErrCodeQueueFull indicates a bounded queue was at capacity.
	ErrCodeQueueFull ErrorCode = "QUEUE_FULL"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodeServiceUnavailable: true,
	ErrCodeConnectionFailed:   true,
	ErrCodeTimeout:            true,
	ErrCodeRateLimited:        true,
	ErrCodeExternalService:    true,
	ErrCodeInternal:           false,
}

// nonSystemCodes describe correct rejections of a request. They say nothing
// about backend health and recur identically on retry.
var nonSystemCodes = map[ErrorCode]bool{
	ErrCodeNotFound:      true,
	ErrCodeAlreadyExists: true,
	ErrCodeConflict:      true,
	ErrCodeEmptyResult:   true,
	ErrCodeInvalidInput:  true,
	ErrCodeMissingField:  true,
	ErrCodeInvalidFormat: true,
	ErrCodeBusinessRule:  true,
	ErrCodeUnauthorized:  true,
	ErrCodeForbidden:     true,
	ErrCodeNotConfigured: true,
}

// IsRetryableCode returns true if the error code indicates a retryable error.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}

// IsNonSystemCode returns true if the code describes a rejection of the
// request rather than a backend failure.
func IsNonSystemCode(code ErrorCode) bool {
	return nonSystemCodes[code]
}
