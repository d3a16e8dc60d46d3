package resilience

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/kbukum/loadguard/errors"
)

// ErrorClass is the outcome category that drives retry and breaker accounting.
type ErrorClass int

const (
	// ClassNone is a nil error.
	ClassNone ErrorClass = iota
	// ClassAdmission means the layer refused to schedule the work.
	ClassAdmission
	// ClassLocal is local saturation: no token or permit in time.
	ClassLocal
	// ClassCancelled is cancellation by the caller.
	ClassCancelled
	// ClassNonSystem is a correct rejection of the request by the backend.
	ClassNonSystem
	// ClassTransient is a backend failure worth retrying.
	ClassTransient
	// ClassSystem is a backend failure that will not improve on retry.
	ClassSystem
)

// String returns the class name.
func (c ErrorClass) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassAdmission:
		return "admission"
	case ClassLocal:
		return "local"
	case ClassCancelled:
		return "cancelled"
	case ClassNonSystem:
		return "non_system"
	case ClassTransient:
		return "transient"
	case ClassSystem:
		return "system"
	default:
		return "unknown"
	}
}

// Retryable reports whether errors of this class are retried.
func (c ErrorClass) Retryable() bool {
	return c == ClassLocal || c == ClassTransient
}

// IsSystemFailure reports whether errors of this class count against the breaker.
func (c ErrorClass) IsSystemFailure() bool {
	return c == ClassTransient || c == ClassSystem
}

// nonSystemPatterns identify rejections that recur identically on retry:
// idempotent not-found, validation, duplicates on create, empty results,
// authorization, unconfigured features and business-rule constraints.
var nonSystemPatterns = []string{
	"not found",
	"not_found",
	"notfound",
	"does not exist",
	"no such",
	"validation",
	"invalid",
	"malformed",
	"bad request",
	"missing required",
	"already exists",
	"already_exists",
	"duplicate",
	"conflict",
	"unique constraint",
	"no results",
	"empty result",
	"no rows",
	"permission",
	"unauthorized",
	"unauthenticated",
	"forbidden",
	"access denied",
	"not configured",
	"not enabled",
	"not supported",
	"constraint violation",
	"business rule",
}

// transientPatterns identify backend failures that tend to clear up:
// server errors, throttling, timeouts and network trouble.
var transientPatterns = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"etimedout",
	"econnreset",
	"econnrefused",
	"connection reset",
	"connection refused",
	"connection closed",
	"broken pipe",
	"network",
	"socket hang up",
	"unexpected eof",
	"temporarily unavailable",
	"temporary failure",
	"service unavailable",
	"unavailable",
	"too many requests",
	"rate limit",
	"throttl",
	"overloaded",
	"try again",
	"internal server error",
	"bad gateway",
	"gateway timeout",
	"500",
	"502",
	"503",
	"504",
	"429",
}

// Classify categorizes err. Structured errors (the resilience error kinds and
// *errors.AppError) are classified by type; anything else falls back to
// matching its message against known fragments.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}

	switch {
	case IsAdmissionError(err),
		stderrors.Is(err, ErrExpiredInQueue),
		stderrors.Is(err, ErrQueueCleared),
		stderrors.Is(err, ErrRequestCancelled),
		stderrors.Is(err, ErrSemaphoreReset),
		stderrors.Is(err, ErrLayerClosed):
		return ClassAdmission
	case stderrors.Is(err, ErrAcquireTimeout), stderrors.Is(err, ErrRateLimitExceeded):
		return ClassLocal
	case stderrors.Is(err, ErrOperationPanicked):
		return ClassSystem
	case stderrors.Is(err, context.Canceled):
		return ClassCancelled
	case stderrors.Is(err, context.DeadlineExceeded):
		return ClassTransient
	}

	if appErr, ok := errors.AsAppError(err); ok {
		switch {
		case appErr.NonSystem():
			return ClassNonSystem
		case appErr.Code == errors.ErrCodeCircuitOpen || appErr.Code == errors.ErrCodeQueueFull:
			return ClassAdmission
		case appErr.Retryable:
			return ClassTransient
		default:
			return ClassSystem
		}
	}

	return classifyMessage(err.Error())
}

// errorCode returns the application error code carried by err, if any.
func errorCode(err error) string {
	return string(errors.CodeOf(err))
}

func classifyMessage(msg string) ErrorClass {
	msg = strings.ToLower(msg)
	for _, p := range nonSystemPatterns {
		if strings.Contains(msg, p) {
			return ClassNonSystem
		}
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return ClassTransient
		}
	}
	return ClassSystem
}

// IsRetryable reports whether the layer would retry err.
func IsRetryable(err error) bool {
	return Classify(err).Retryable()
}

// IsNonSystemError reports whether err is a correct rejection that must not
// count against the circuit breaker.
func IsNonSystemError(err error) bool {
	return Classify(err) == ClassNonSystem
}

// NormalizeError unwraps a structured backend error body embedded in err's
// message into an *OperationError with the plain message. Errors without such
// a body, and structured errors, are returned unchanged.
func NormalizeError(err error) error {
	if err == nil || errors.IsAppError(err) {
		return err
	}
	var opErr *OperationError
	if stderrors.As(err, &opErr) {
		return err
	}
	if p, ok := errors.FromPayload(err); ok {
		return &OperationError{Code: p.Code, Message: p.Message, Err: err}
	}
	return err
}
