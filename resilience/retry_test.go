package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errTransient = errors.New("connection reset by peer")

func fastRetry(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:      maxRetries,
		BaseDelay:       time.Millisecond,
		MaxDelay:        5 * time.Millisecond,
		ExponentialBase: 2,
	}
}

func TestRetry_SucceedsOnFirstAttempt(t *testing.T) {
	cfg := DefaultRetryConfig()
	callCount := 0

	result, err := Retry(context.Background(), cfg, func() (string, error) {
		callCount++
		return "success", nil
	})

	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if result != "success" {
		t.Errorf("expected 'success', got %s", result)
	}
	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
}

func TestRetry_SucceedsAfterRetry(t *testing.T) {
	callCount := 0

	result, err := Retry(context.Background(), fastRetry(3), func() (string, error) {
		callCount++
		if callCount < 3 {
			return "", errTransient
		}
		return "success", nil
	})

	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if result != "success" {
		t.Errorf("expected 'success', got %s", result)
	}
	if callCount != 3 {
		t.Errorf("expected 3 calls, got %d", callCount)
	}
}

func TestRetry_MakesMaxRetriesPlusOneAttempts(t *testing.T) {
	callCount := 0

	_, err := Retry(context.Background(), fastRetry(3), func() (string, error) {
		callCount++
		return "", errTransient
	})

	if !errors.Is(err, errTransient) {
		t.Errorf("expected errTransient, got %v", err)
	}
	if callCount != 4 {
		t.Errorf("expected 4 calls, got %d", callCount)
	}
}

func TestRetry_ZeroRetries(t *testing.T) {
	callCount := 0
	_, _ = Retry(context.Background(), fastRetry(0), func() (int, error) {
		callCount++
		return 0, errTransient
	})
	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
}

func TestRetry_DoesNotRetryNonRetryable(t *testing.T) {
	callCount := 0
	notFound := errors.New("user not found")

	_, err := Retry(context.Background(), fastRetry(3), func() (string, error) {
		callCount++
		return "", notFound
	})

	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
	if !errors.Is(err, notFound) {
		t.Errorf("expected notFound, got %v", err)
	}
}

func TestRetry_RespectsContext(t *testing.T) {
	cfg := RetryConfig{
		MaxRetries:      10,
		BaseDelay:       100 * time.Millisecond,
		MaxDelay:        time.Second,
		ExponentialBase: 2,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	callCount := 0
	_, err := Retry(ctx, cfg, func() (string, error) {
		callCount++
		return "", errTransient
	})

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("expected 1 call before the deadline, got %d", callCount)
	}
}

func TestRetry_RetryIfFilter(t *testing.T) {
	retryableErr := errors.New("retryable")
	nonRetryableErr := errors.New("non-retryable")

	cfg := fastRetry(2)
	cfg.RetryIf = func(err error) bool {
		return errors.Is(err, retryableErr)
	}

	callCount := 0
	_, _ = Retry(context.Background(), cfg, func() (string, error) {
		callCount++
		return "", retryableErr
	})
	if callCount != 3 {
		t.Errorf("expected 3 calls for retryable error, got %d", callCount)
	}

	callCount = 0
	_, err := Retry(context.Background(), cfg, func() (string, error) {
		callCount++
		return "", nonRetryableErr
	})
	if callCount != 1 {
		t.Errorf("expected 1 call for non-retryable error, got %d", callCount)
	}
	if !errors.Is(err, nonRetryableErr) {
		t.Errorf("expected nonRetryableErr, got %v", err)
	}
}

func TestRetry_OnRetryCallback(t *testing.T) {
	var retries []int
	var delays []time.Duration
	var mu sync.Mutex

	cfg := fastRetry(2)
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		mu.Lock()
		retries = append(retries, attempt)
		delays = append(delays, delay)
		mu.Unlock()
	}

	_, _ = Retry(context.Background(), cfg, func() (string, error) {
		return "", errTransient
	})

	mu.Lock()
	defer mu.Unlock()

	// OnRetry called before each retry, not before first attempt
	if len(retries) != 2 {
		t.Fatalf("expected 2 OnRetry calls, got %d", len(retries))
	}
	if retries[0] != 1 || retries[1] != 2 {
		t.Errorf("expected attempts [1, 2], got %v", retries)
	}
	if delays[0] != time.Millisecond || delays[1] != 2*time.Millisecond {
		t.Errorf("expected delays [1ms, 2ms], got %v", delays)
	}
}

func TestRetryFunc(t *testing.T) {
	callCount := 0

	err := RetryFunc(context.Background(), fastRetry(3), func() error {
		callCount++
		if callCount < 2 {
			return errTransient
		}
		return nil
	})

	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if callCount != 2 {
		t.Errorf("expected 2 calls, got %d", callCount)
	}
}

func TestSchedule_Exponential(t *testing.T) {
	b := Schedule(RetryConfig{
		BaseDelay:       100 * time.Millisecond,
		MaxDelay:        time.Second,
		ExponentialBase: 2,
	})

	want := []time.Duration{
		100 * time.Millisecond, // base * 2^0
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second, // capped at max
		time.Second,
	}
	for i, w := range want {
		if got := b.NextBackOff(); got != w {
			t.Errorf("retry %d: expected %v, got %v", i+1, w, got)
		}
	}
}

func TestSchedule_BaseAboveMax(t *testing.T) {
	b := Schedule(RetryConfig{BaseDelay: 5 * time.Second, MaxDelay: time.Second, ExponentialBase: 2})
	if got := b.NextBackOff(); got != time.Second {
		t.Errorf("expected first delay capped at 1s, got %v", got)
	}
}

func TestSchedule_JitterBounds(t *testing.T) {
	cfg := RetryConfig{
		BaseDelay:       100 * time.Millisecond,
		MaxDelay:        100 * time.Millisecond,
		ExponentialBase: 2,
		Jitter:          true,
	}

	for i := 0; i < 200; i++ {
		got := Schedule(cfg).NextBackOff()
		if got < 50*time.Millisecond || got > 150*time.Millisecond {
			t.Fatalf("expected jittered delay in [50ms, 150ms], got %v", got)
		}
	}
}
