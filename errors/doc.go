// Package errors provides the structured error type used by operations that
// run behind the resilience layer.
//
// Operations that return an *AppError are classified by their ErrorCode
// instead of by message matching. Codes fall into two groups: system codes,
// which describe backend ill-health and may be retryable, and non-system codes,
// which describe a correct rejection of the request and are never retried.
//
//	return errors.NotFound("fact", id)
//	return errors.Timeout("search").WithCause(err)
//
// Backend error bodies embedded in an error message can be unwrapped with
// FromPayload.
package errors
