package resilience

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors. The typed errors below match them with errors.Is.
var (
	ErrCircuitOpen       = errors.New("circuit breaker is open")
	ErrQueueFull         = errors.New("queue is full")
	ErrAcquireTimeout    = errors.New("concurrency permit acquire timeout")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrExpiredInQueue    = errors.New("request expired in queue")
	ErrQueueCleared      = errors.New("queue cleared")
	ErrRequestCancelled  = errors.New("queued request cancelled")
	ErrSemaphoreReset    = errors.New("semaphore reset")
	ErrLayerClosed       = errors.New("resilience layer is shut down")
	ErrOperationPanicked = errors.New("operation panicked")
)

// CircuitOpenError reports that admission was denied by an open breaker.
type CircuitOpenError struct {
	Name string
	// RetryIn is the time left until the breaker will admit a trial.
	RetryIn time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open (retry in %s)", e.Name, e.RetryIn.Round(time.Millisecond))
}

func (e *CircuitOpenError) Is(target error) bool { return target == ErrCircuitOpen }

// QueueFullError reports a bounded queue at capacity. Queue is "priority" for a
// level of the priority queue and "semaphore" for the permit waiter list.
type QueueFullError struct {
	Queue    string
	Priority Priority
	Size     int
}

func (e *QueueFullError) Error() string {
	if e.Queue == queueSemaphore {
		return fmt.Sprintf("semaphore wait queue is full (%d waiting)", e.Size)
	}
	return fmt.Sprintf("%s priority queue is full (size %d)", e.Priority, e.Size)
}

func (e *QueueFullError) Is(target error) bool { return target == ErrQueueFull }

// AcquireTimeoutError reports that no concurrency permit became free in time.
type AcquireTimeoutError struct {
	Timeout time.Duration
	Waiting int
}

func (e *AcquireTimeoutError) Error() string {
	return fmt.Sprintf("failed to acquire permit within %s (%d waiting)", e.Timeout, e.Waiting)
}

func (e *AcquireTimeoutError) Is(target error) bool { return target == ErrAcquireTimeout }

// RateLimitExceededError reports that the wait for a token exceeds the caller's limit.
type RateLimitExceededError struct {
	TokensAvailable float64
	RefillIn        time.Duration
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %.2f tokens available, next token in %s",
		e.TokensAvailable, e.RefillIn.Round(time.Millisecond))
}

func (e *RateLimitExceededError) Is(target error) bool { return target == ErrRateLimitExceeded }

// ExpiredError reports a queued request removed by the staleness sweep.
type ExpiredError struct {
	Age time.Duration
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("request expired after %s in queue", e.Age.Round(time.Millisecond))
}

func (e *ExpiredError) Is(target error) bool { return target == ErrExpiredInQueue }

// PanicError reports an operation that panicked instead of returning.
type PanicError struct {
	Operation string
	Value     any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("operation %s panicked: %v", e.Operation, e.Value)
}

func (e *PanicError) Is(target error) bool { return target == ErrOperationPanicked }

// OperationError carries the plain message of a structured backend error body.
type OperationError struct {
	Code    string
	Message string
	Err     error
}

func (e *OperationError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

func (e *OperationError) Unwrap() error { return e.Err }

// IsAdmissionError reports whether err means the layer refused to schedule the work.
func IsAdmissionError(err error) bool {
	return errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrQueueFull)
}
