package resilience

import (
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(cfg CircuitBreakerConfig) (*CircuitBreaker, *fakeClock) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(cfg)
	cb.now = clock.Now
	cb.lastStateChange = clock.Now()
	return cb, clock
}

func TestCircuitBreaker_StartsInClosedState(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig("test"))

	if cb.State() != StateClosed {
		t.Errorf("expected StateClosed, got %s", cb.State())
	}
	if !cb.AllowRequest() {
		t.Error("expected closed breaker to allow requests")
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{Name: "test", FailureThreshold: 3, Timeout: time.Second})

	for i := 0; i < 2; i++ {
		cb.RecordFailure()
	}
	if cb.State() != StateClosed {
		t.Fatalf("expected StateClosed below threshold, got %s", cb.State())
	}

	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Errorf("expected StateOpen, got %s", cb.State())
	}
	if cb.AllowRequest() {
		t.Error("expected open breaker to deny requests")
	}
	if got := cb.RetryIn(); got != time.Second {
		t.Errorf("expected RetryIn 1s, got %v", got)
	}
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{Name: "test", FailureThreshold: 3, Timeout: time.Second})

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	if cb.State() != StateClosed {
		t.Errorf("expected StateClosed, failures are consecutive only, got %s", cb.State())
	}
	if cb.Failures() != 2 {
		t.Errorf("expected 2 consecutive failures, got %d", cb.Failures())
	}
}

func TestCircuitBreaker_TransitionsToHalfOpenAfterTimeout(t *testing.T) {
	cb, clock := newTestBreaker(CircuitBreakerConfig{Name: "test", FailureThreshold: 1, Timeout: time.Second})

	cb.RecordFailure()
	clock.Advance(999 * time.Millisecond)
	if cb.State() != StateOpen {
		t.Fatalf("expected StateOpen before timeout, got %s", cb.State())
	}

	clock.Advance(time.Millisecond)
	if cb.State() != StateHalfOpen {
		t.Errorf("expected StateHalfOpen at timeout, got %s", cb.State())
	}
	if cb.RetryIn() != 0 {
		t.Errorf("expected RetryIn 0 when half-open, got %v", cb.RetryIn())
	}
}

func TestCircuitBreaker_HalfOpenLimitsTrials(t *testing.T) {
	cb, clock := newTestBreaker(CircuitBreakerConfig{
		Name: "test", FailureThreshold: 1, SuccessThreshold: 3, Timeout: time.Second, HalfOpenMax: 2,
	})
	cb.RecordFailure()
	clock.Advance(time.Second)

	if !cb.AllowRequest() || !cb.AllowRequest() {
		t.Fatal("expected two trial admissions")
	}
	if cb.AllowRequest() {
		t.Error("expected third trial to be denied")
	}
	if cb.CanExecute() {
		t.Error("expected CanExecute false with all trial slots taken")
	}

	cb.RecordIgnored()
	if !cb.CanExecute() {
		t.Error("expected an ignored outcome to free a trial slot")
	}
}

func TestCircuitBreaker_StaleAdmissionKeepsTrialLimit(t *testing.T) {
	cb, clock := newTestBreaker(CircuitBreakerConfig{
		Name: "test", FailureThreshold: 1, SuccessThreshold: 3, Timeout: time.Second, HalfOpenMax: 1,
	})

	// Admitted while closed, still running when the breaker opens.
	stale, ok := cb.Admit()
	if !ok {
		t.Fatal("expected admission while closed")
	}
	cb.RecordFailure()
	clock.Advance(time.Second)

	trial, ok := cb.Admit()
	if !ok {
		t.Fatal("expected one trial admission in half-open")
	}

	stale.Success()
	if cb.CanExecute() {
		t.Error("expected the late closed-state outcome not to free the trial slot")
	}
	if _, ok := cb.Admit(); ok {
		t.Error("expected a second trial to be denied")
	}

	trial.Ignore()
	if !cb.CanExecute() {
		t.Error("expected the trial's own outcome to free its slot")
	}
}

func TestCircuitBreaker_AdmissionSettlesOnce(t *testing.T) {
	cb, clock := newTestBreaker(CircuitBreakerConfig{
		Name: "test", FailureThreshold: 1, SuccessThreshold: 2, Timeout: time.Second, HalfOpenMax: 2,
	})
	cb.RecordFailure()
	clock.Advance(time.Second)

	a, _ := cb.Admit()
	b, _ := cb.Admit()
	a.Success()
	a.Success()
	if s := cb.State(); s != StateHalfOpen {
		t.Errorf("expected a repeated settle to count once, got %s", s)
	}
	b.Success()
	if s := cb.State(); s != StateClosed {
		t.Errorf("expected StateClosed after two trial successes, got %s", s)
	}
}

func TestCircuitBreaker_TrialFromEarlierHalfOpenIgnored(t *testing.T) {
	cb, clock := newTestBreaker(CircuitBreakerConfig{
		Name: "test", FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Second, HalfOpenMax: 2,
	})
	cb.RecordFailure()
	clock.Advance(time.Second)

	old, _ := cb.Admit()
	failed, _ := cb.Admit()
	failed.Failure()
	clock.Advance(time.Second)

	current, ok := cb.Admit()
	if !ok {
		t.Fatal("expected a trial in the new half-open period")
	}
	old.Failure()
	if s := cb.State(); s != StateHalfOpen {
		t.Errorf("expected the old trial's failure to be ignored, got %s", s)
	}
	current.Success()
	if s := cb.State(); s != StateClosed {
		t.Errorf("expected StateClosed, got %s", s)
	}
}

func TestCircuitBreaker_ClosesAfterSuccessesInHalfOpen(t *testing.T) {
	cb, clock := newTestBreaker(CircuitBreakerConfig{
		Name: "test", FailureThreshold: 1, SuccessThreshold: 2, Timeout: time.Second, HalfOpenMax: 2,
	})
	cb.RecordFailure()
	clock.Advance(time.Second)

	cb.AllowRequest()
	cb.RecordSuccess()
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected StateHalfOpen after one success, got %s", cb.State())
	}

	cb.AllowRequest()
	cb.RecordSuccess()
	if cb.State() != StateClosed {
		t.Errorf("expected StateClosed, got %s", cb.State())
	}
	if cb.Failures() != 0 {
		t.Errorf("expected failures reset on close, got %d", cb.Failures())
	}
}

func TestCircuitBreaker_ReopensOnFailureInHalfOpen(t *testing.T) {
	cb, clock := newTestBreaker(CircuitBreakerConfig{Name: "test", FailureThreshold: 3, Timeout: time.Second})
	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	clock.Advance(time.Second)

	cb.AllowRequest()
	cb.RecordFailure()

	if cb.State() != StateOpen {
		t.Errorf("expected StateOpen after half-open failure, got %s", cb.State())
	}
	if got := cb.RetryIn(); got != time.Second {
		t.Errorf("expected a fresh open timeout, got %v", got)
	}
	if m := cb.Metrics(); m.TotalOpens != 2 {
		t.Errorf("expected 2 opens, got %d", m.TotalOpens)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	var changes int
	cb, _ := newTestBreaker(CircuitBreakerConfig{
		Name: "test", FailureThreshold: 1, Timeout: time.Minute,
		OnStateChange: func(string, State, State) { changes++ },
	})
	cb.RecordFailure()
	changes = 0

	cb.Reset()

	if cb.State() != StateClosed {
		t.Errorf("expected StateClosed after reset, got %s", cb.State())
	}
	if cb.Failures() != 0 {
		t.Errorf("expected 0 failures after reset, got %d", cb.Failures())
	}
	if changes != 0 {
		t.Errorf("expected reset not to fire hooks, got %d calls", changes)
	}
}

func TestCircuitBreaker_StateChangeCallback(t *testing.T) {
	var stateChanges []struct{ from, to State }
	var mu sync.Mutex

	cb, clock := newTestBreaker(CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          10 * time.Millisecond,
		OnStateChange: func(name string, from, to State) {
			mu.Lock()
			stateChanges = append(stateChanges, struct{ from, to State }{from, to})
			mu.Unlock()
		},
	})

	cb.RecordFailure()
	clock.Advance(10 * time.Millisecond)
	cb.AllowRequest()
	cb.RecordSuccess()

	mu.Lock()
	defer mu.Unlock()

	want := []struct{ from, to State }{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}
	if len(stateChanges) != len(want) {
		t.Fatalf("expected %d state changes, got %d", len(want), len(stateChanges))
	}
	for i, w := range want {
		if stateChanges[i] != w {
			t.Errorf("change %d: expected %s->%s, got %s->%s", i, w.from, w.to, stateChanges[i].from, stateChanges[i].to)
		}
	}
}

func TestCircuitBreaker_HookMayQueryBreaker(t *testing.T) {
	var seen State
	var cb *CircuitBreaker
	cb = NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 1,
		Timeout:          time.Minute,
		OnStateChange: func(string, State, State) {
			seen = cb.State()
		},
	})

	done := make(chan struct{})
	go func() {
		cb.RecordFailure()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("hook calling back into the breaker deadlocked")
	}
	if seen != StateOpen {
		t.Errorf("expected hook to observe StateOpen, got %s", seen)
	}
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig("test"))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if cb.AllowRequest() {
				cb.RecordSuccess()
			}
			_ = cb.State()
			_ = cb.Metrics()
		}()
	}
	wg.Wait()

	if cb.State() != StateClosed {
		t.Errorf("expected StateClosed, got %s", cb.State())
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %s, want %s", tt.state, got, tt.want)
		}
	}
}
