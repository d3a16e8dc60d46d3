package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestAppError_New_Success(t *testing.T) {
	err := New(ErrCodeNotFound, "not found")
	if err.Code != ErrCodeNotFound {
		t.Errorf("expected code %s, got %s", ErrCodeNotFound, err.Code)
	}
	if err.Message != "not found" {
		t.Errorf("expected message 'not found', got %q", err.Message)
	}
	if err.Retryable {
		t.Error("NOT_FOUND should not be retryable")
	}
}

func TestAppError_New_Retryable(t *testing.T) {
	err := New(ErrCodeTimeout, "timed out")
	if !err.Retryable {
		t.Error("TIMEOUT should be retryable")
	}
}

func TestAppError_NotFound_Success(t *testing.T) {
	err := NotFound("fact", "123")
	if err.Code != ErrCodeNotFound {
		t.Errorf("expected NOT_FOUND, got %s", err.Code)
	}
	if err.Details["resource"] != "fact" {
		t.Errorf("expected resource=fact, got %v", err.Details["resource"])
	}
	if err.Details["id"] != "123" {
		t.Errorf("expected id=123, got %v", err.Details["id"])
	}
	if !err.NonSystem() {
		t.Error("NotFound should be a non-system error")
	}
}

func TestAppError_NotFound_EmptyID(t *testing.T) {
	err := NotFound("fact", "")
	if _, ok := err.Details["id"]; ok {
		t.Error("expected no 'id' key in details when id is empty")
	}
}

func TestAppError_Internal_Success(t *testing.T) {
	cause := fmt.Errorf("db connection lost")
	err := Internal(cause)
	if err.Code != ErrCodeInternal {
		t.Errorf("expected INTERNAL_ERROR, got %s", err.Code)
	}
	if err.Cause != cause {
		t.Error("expected cause to be set")
	}
	if err.Retryable {
		t.Error("Internal should NOT be retryable by default")
	}
	if err.NonSystem() {
		t.Error("Internal should be a system error")
	}
}

func TestAppError_Error_WithCause(t *testing.T) {
	err := Timeout("search").WithCause(fmt.Errorf("read tcp: i/o timeout"))
	msg := err.Error()
	if !strings.Contains(msg, "TIMEOUT") || !strings.Contains(msg, "i/o timeout") {
		t.Errorf("unexpected message %q", msg)
	}
	if !stderrors.Is(err, err.Cause) {
		t.Error("expected Unwrap to expose the cause")
	}
}

func TestAppError_WithDetails(t *testing.T) {
	err := Conflict("version mismatch").
		WithDetail("expected", 2).
		WithDetails(map[string]any{"actual": 3})
	if err.Details["expected"] != 2 || err.Details["actual"] != 3 {
		t.Errorf("unexpected details %v", err.Details)
	}
}

func TestAsAppError(t *testing.T) {
	wrapped := fmt.Errorf("saving: %w", AlreadyExists("entity"))
	appErr, ok := AsAppError(wrapped)
	if !ok {
		t.Fatal("expected AsAppError to find the AppError")
	}
	if appErr.Code != ErrCodeAlreadyExists {
		t.Errorf("expected ALREADY_EXISTS, got %s", appErr.Code)
	}
	if IsAppError(fmt.Errorf("plain")) {
		t.Error("plain error should not be an AppError")
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(fmt.Errorf("lookup: %w", NotFound("user", "1"))); got != ErrCodeNotFound {
		t.Errorf("expected NOT_FOUND, got %q", got)
	}
	if got := CodeOf(fmt.Errorf("plain")); got != "" {
		t.Errorf("expected empty code, got %q", got)
	}
}

func TestServiceUnavailable_Retryable(t *testing.T) {
	err := ServiceUnavailable("search")
	if !err.Retryable {
		t.Error("SERVICE_UNAVAILABLE should be retryable")
	}
	if err.Details["service"] != "search" {
		t.Errorf("expected service=search, got %v", err.Details["service"])
	}
}

func TestCodeClassification(t *testing.T) {
	tests := []struct {
		code      ErrorCode
		retryable bool
		nonSystem bool
	}{
		{ErrCodeServiceUnavailable, true, false},
		{ErrCodeConnectionFailed, true, false},
		{ErrCodeTimeout, true, false},
		{ErrCodeRateLimited, true, false},
		{ErrCodeExternalService, true, false},
		{ErrCodeInternal, false, false},
		{ErrCodeNotFound, false, true},
		{ErrCodeAlreadyExists, false, true},
		{ErrCodeConflict, false, true},
		{ErrCodeEmptyResult, false, true},
		{ErrCodeInvalidInput, false, true},
		{ErrCodeMissingField, false, true},
		{ErrCodeBusinessRule, false, true},
		{ErrCodeUnauthorized, false, true},
		{ErrCodeForbidden, false, true},
		{ErrCodeNotConfigured, false, true},
		{ErrCodeCircuitOpen, false, false},
	}
	for _, tc := range tests {
		t.Run(string(tc.code), func(t *testing.T) {
			if got := IsRetryableCode(tc.code); got != tc.retryable {
				t.Errorf("IsRetryableCode(%s) = %v, want %v", tc.code, got, tc.retryable)
			}
			if got := IsNonSystemCode(tc.code); got != tc.nonSystem {
				t.Errorf("IsNonSystemCode(%s) = %v, want %v", tc.code, got, tc.nonSystem)
			}
		})
	}
}

func TestFromPayload(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantOK   bool
		wantMsg  string
		wantCode string
	}{
		{"nil", nil, false, "", ""},
		{"plain text", fmt.Errorf("connection refused"), false, "", ""},
		{"flat message", fmt.Errorf(`request failed: {"message":"index not ready","code":503}`), true, "index not ready", "503"},
		{"nested error", fmt.Errorf(`{"error":{"code":"NOT_FOUND","message":"no such entity"}}`), true, "no such entity", "NOT_FOUND"},
		{"string error", fmt.Errorf(`{"error":"quota exhausted"}`), true, "quota exhausted", ""},
		{"errors array", fmt.Errorf(`{"errors":[{"code":"E1","message":"bad filter"}]}`), true, "bad filter", "E1"},
		{"broken json", fmt.Errorf(`{"message": `), false, "", ""},
		{"no message", fmt.Errorf(`{"status":"fail"}`), false, "", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, ok := FromPayload(tc.err)
			if ok != tc.wantOK {
				t.Fatalf("expected ok=%v, got %v", tc.wantOK, ok)
			}
			if p.Message != tc.wantMsg {
				t.Errorf("expected message %q, got %q", tc.wantMsg, p.Message)
			}
			if p.Code != tc.wantCode {
				t.Errorf("expected code %q, got %q", tc.wantCode, p.Code)
			}
		})
	}
}
