package resilience

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/kbukum/loadguard/errors"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, ClassNone},
		{"circuit open", &CircuitOpenError{Name: "db"}, ClassAdmission},
		{"queue full", &QueueFullError{Queue: queuePriority}, ClassAdmission},
		{"wrapped circuit open", fmt.Errorf("call: %w", &CircuitOpenError{}), ClassAdmission},
		{"expired", &ExpiredError{}, ClassAdmission},
		{"layer closed", ErrLayerClosed, ClassAdmission},
		{"acquire timeout", &AcquireTimeoutError{}, ClassLocal},
		{"rate limit", &RateLimitExceededError{}, ClassLocal},
		{"cancelled", context.Canceled, ClassCancelled},
		{"deadline", context.DeadlineExceeded, ClassTransient},
		{"app not found", errors.NotFound("user", "42"), ClassNonSystem},
		{"app validation", errors.Validation("bad email"), ClassNonSystem},
		{"app unavailable", errors.ServiceUnavailable("search"), ClassTransient},
		{"app internal", errors.Internal(stderrors.New("boom")), ClassSystem},
		{"app circuit open", errors.New(errors.ErrCodeCircuitOpen, "open"), ClassAdmission},
		{"message not found", stderrors.New("user not found"), ClassNonSystem},
		{"message duplicate", stderrors.New("duplicate key value"), ClassNonSystem},
		{"message permission", stderrors.New("Permission denied for table"), ClassNonSystem},
		{"message connection reset", stderrors.New("read tcp: connection reset by peer"), ClassTransient},
		{"message 503", stderrors.New("upstream returned 503"), ClassTransient},
		{"message throttled", stderrors.New("request throttled"), ClassTransient},
		{"message unknown", stderrors.New("disk on fire"), ClassSystem},
		{"panic", &PanicError{Operation: "lookup", Value: "user not found"}, ClassSystem},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestErrorClass_Predicates(t *testing.T) {
	retryable := map[ErrorClass]bool{ClassLocal: true, ClassTransient: true}
	system := map[ErrorClass]bool{ClassTransient: true, ClassSystem: true}

	for c := ClassNone; c <= ClassSystem; c++ {
		if got := c.Retryable(); got != retryable[c] {
			t.Errorf("%s.Retryable() = %v, want %v", c, got, retryable[c])
		}
		if got := c.IsSystemFailure(); got != system[c] {
			t.Errorf("%s.IsSystemFailure() = %v, want %v", c, got, system[c])
		}
	}
}

func TestIsNonSystemError(t *testing.T) {
	if !IsNonSystemError(errors.AlreadyExists("order")) {
		t.Error("expected already-exists to be non-system")
	}
	if IsNonSystemError(stderrors.New("connection refused")) {
		t.Error("expected connection refused to be a system failure")
	}
}

func TestNormalizeError_PayloadBody(t *testing.T) {
	raw := stderrors.New(`backend call failed: {"error":{"code":"UNAVAILABLE","message":"service unavailable"}}`)

	err := NormalizeError(raw)

	var opErr *OperationError
	if !stderrors.As(err, &opErr) {
		t.Fatalf("expected *OperationError, got %T", err)
	}
	if opErr.Code != "UNAVAILABLE" || opErr.Message != "service unavailable" {
		t.Errorf("expected UNAVAILABLE/service unavailable, got %s/%s", opErr.Code, opErr.Message)
	}
	if !stderrors.Is(err, raw) {
		t.Error("expected original error to stay in the chain")
	}
	if Classify(err) != ClassTransient {
		t.Errorf("expected transient, got %s", Classify(err))
	}
}

func TestNormalizeError_PayloadNotFound(t *testing.T) {
	err := NormalizeError(stderrors.New(`404 {"message":"user not found"}`))

	if err.Error() != "user not found" {
		t.Errorf("expected plain message, got %q", err.Error())
	}
	if !IsNonSystemError(err) {
		t.Error("expected non-system classification")
	}
}

func TestNormalizeError_Unchanged(t *testing.T) {
	plain := stderrors.New("no body here")
	if NormalizeError(plain) != plain {
		t.Error("expected plain error returned unchanged")
	}

	appErr := errors.NotFound("user", "1")
	if NormalizeError(appErr) != error(appErr) {
		t.Error("expected *AppError returned unchanged")
	}

	if NormalizeError(nil) != nil {
		t.Error("expected nil for nil")
	}
}
