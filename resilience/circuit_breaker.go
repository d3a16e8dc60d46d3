package resilience

import (
	"sync"
	"sync/atomic"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed allows requests to pass through.
	StateClosed State = iota
	// StateOpen blocks all requests.
	StateOpen
	// StateHalfOpen allows limited requests to test recovery.
	StateHalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures a circuit breaker.
type CircuitBreakerConfig struct {
	// Name identifies this circuit breaker for metrics/logging.
	Name string `yaml:"-" mapstructure:"-"`
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold" validate:"gte=1"`
	// SuccessThreshold is the number of half-open successes that closes the circuit.
	SuccessThreshold int `yaml:"success_threshold" mapstructure:"success_threshold" validate:"gte=1"`
	// Timeout is how long the circuit stays open before admitting a trial.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout" validate:"gt=0"`
	// HalfOpenMax caps concurrent trial operations while half-open.
	HalfOpenMax int `yaml:"half_open_max" mapstructure:"half_open_max" validate:"gte=1"`
	// OnStateChange is called when state changes. Not called by Reset.
	OnStateChange func(name string, from, to State) `yaml:"-" mapstructure:"-"`
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
		HalfOpenMax:      3,
	}
}

// CircuitBreakerMetrics is a point-in-time view of a circuit breaker.
type CircuitBreakerMetrics struct {
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailure         time.Time `json:"last_failure"`
	LastStateChange     time.Time `json:"last_state_change"`
	TotalOpens          int64     `json:"total_opens"`
}

// CircuitBreaker implements the circuit breaker pattern.
// It stops traffic to a failing backend and probes for recovery.
//
// States:
//   - Closed: Normal operation, requests pass through
//   - Open: Backend is unhealthy, admission is denied
//   - Half-Open: Testing if the backend recovered, limited trials allowed
//
// The open to half-open transition is lazy: it happens on the first check
// after Timeout has elapsed, not on a timer.
type CircuitBreaker struct {
	config CircuitBreakerConfig
	now    func() time.Time

	mu               sync.Mutex
	state            State
	failures         int
	successes        int
	halfOpenInFlight int
	lastFailure      time.Time
	lastStateChange  time.Time
	openedAt         time.Time
	totalOpens       int64
	pending          []transition
	// halfOpenEpoch numbers half-open periods so trial slots are only
	// released by the admissions that reserved them.
	halfOpenEpoch uint64
}

type transition struct {
	from, to State
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	outcomeIgnored
)

// Admission is one call admitted by Admit. Settle it with Success, Failure or
// Ignore; only the first of these has any effect.
type Admission struct {
	cb *CircuitBreaker
	// trial is the half-open epoch of the reserved slot, 0 when admitted
	// while closed.
	trial   uint64
	settled atomic.Bool
}

// Success records a successful operation.
func (a *Admission) Success() { a.settle(outcomeSuccess) }

// Failure records a backend failure.
func (a *Admission) Failure() { a.settle(outcomeFailure) }

// Ignore settles an outcome that says nothing about backend health.
func (a *Admission) Ignore() { a.settle(outcomeIgnored) }

func (a *Admission) settle(o outcome) {
	if a == nil || !a.settled.CompareAndSwap(false, true) {
		return
	}
	a.cb.record(o, true, a.trial)
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.HalfOpenMax <= 0 {
		config.HalfOpenMax = 1
	}

	cb := &CircuitBreaker{config: config, now: time.Now, state: StateClosed}
	cb.lastStateChange = cb.now()
	return cb
}

// State returns the current circuit breaker state.
func (cb *CircuitBreaker) State() State {
	var s State
	cb.do(func() { s = cb.currentState() })
	return s
}

// Admit is the admission check. In half-open it reserves one of the
// HalfOpenMax trial slots, returned when the admission is settled. An outcome
// of a call admitted in an earlier state never frees a slot it did not take.
func (cb *CircuitBreaker) Admit() (*Admission, bool) {
	var a *Admission
	cb.do(func() {
		switch cb.currentState() {
		case StateClosed:
			a = &Admission{cb: cb}
		case StateHalfOpen:
			if cb.halfOpenInFlight < cb.config.HalfOpenMax {
				cb.halfOpenInFlight++
				a = &Admission{cb: cb, trial: cb.halfOpenEpoch}
			}
		}
	})
	return a, a != nil
}

// AllowRequest is Admit without the handle. Outcomes are then reported with
// the Record methods, which release any half-open slot.
func (cb *CircuitBreaker) AllowRequest() bool {
	_, ok := cb.Admit()
	return ok
}

// CanExecute reports whether AllowRequest would currently succeed, without
// reserving a trial slot.
func (cb *CircuitBreaker) CanExecute() bool {
	allowed := false
	cb.do(func() {
		switch cb.currentState() {
		case StateClosed:
			allowed = true
		case StateHalfOpen:
			allowed = cb.halfOpenInFlight < cb.config.HalfOpenMax
		}
	})
	return allowed
}

// RetryIn returns the time left until an open circuit admits a trial.
func (cb *CircuitBreaker) RetryIn() time.Duration {
	var d time.Duration
	cb.do(func() {
		if cb.currentState() == StateOpen {
			d = cb.config.Timeout - cb.now().Sub(cb.openedAt)
		}
	})
	return d
}

// RecordSuccess records a successful operation.
func (cb *CircuitBreaker) RecordSuccess() { cb.record(outcomeSuccess, false, 0) }

// RecordFailure records a backend failure.
func (cb *CircuitBreaker) RecordFailure() { cb.record(outcomeFailure, false, 0) }

// RecordIgnored returns a half-open trial slot for an outcome that says
// nothing about backend health.
func (cb *CircuitBreaker) RecordIgnored() { cb.record(outcomeIgnored, false, 0) }

// record applies an outcome. Tracked outcomes count in half-open only when
// they hold a slot of the current half-open period.
func (cb *CircuitBreaker) record(o outcome, tracked bool, trial uint64) {
	cb.do(func() {
		state := cb.currentState()
		if state == StateHalfOpen {
			if tracked && trial != cb.halfOpenEpoch {
				return
			}
			cb.releaseTrial()
		}

		switch o {
		case outcomeSuccess:
			switch state {
			case StateClosed:
				cb.failures = 0
			case StateHalfOpen:
				cb.successes++
				if cb.successes >= cb.config.SuccessThreshold {
					cb.toState(StateClosed)
				}
			}
		case outcomeFailure:
			cb.lastFailure = cb.now()
			switch state {
			case StateClosed:
				cb.failures++
				if cb.failures >= cb.config.FailureThreshold {
					cb.toState(StateOpen)
				}
			case StateHalfOpen:
				cb.failures++
				cb.toState(StateOpen)
			}
		}
	})
}

// Failures returns the consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Metrics returns a snapshot of the breaker.
func (cb *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	var m CircuitBreakerMetrics
	cb.do(func() {
		m = CircuitBreakerMetrics{
			State:               cb.currentState().String(),
			ConsecutiveFailures: cb.failures,
			LastFailure:         cb.lastFailure,
			LastStateChange:     cb.lastStateChange,
			TotalOpens:          cb.totalOpens,
		}
	})
	return m
}

// Reset forces the breaker closed with zeroed counters. Hooks are not fired.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.successes = 0
	cb.halfOpenInFlight = 0
	cb.totalOpens = 0
	cb.lastFailure = time.Time{}
	cb.lastStateChange = cb.now()
	cb.pending = nil
}

// currentState returns the current state, handling the open timeout. Caller holds mu.
func (cb *CircuitBreaker) currentState() State {
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.config.Timeout {
		cb.toState(StateHalfOpen)
	}
	return cb.state
}

func (cb *CircuitBreaker) releaseTrial() {
	if cb.halfOpenInFlight > 0 {
		cb.halfOpenInFlight--
	}
}

// toState transitions to a new state. Caller holds mu.
func (cb *CircuitBreaker) toState(to State) {
	if cb.state == to {
		return
	}

	from := cb.state
	cb.state = to
	cb.lastStateChange = cb.now()
	cb.successes = 0
	cb.halfOpenInFlight = 0

	switch to {
	case StateClosed:
		cb.failures = 0
	case StateOpen:
		cb.openedAt = cb.lastStateChange
		cb.totalOpens++
	case StateHalfOpen:
		cb.halfOpenEpoch++
	}

	cb.pending = append(cb.pending, transition{from: from, to: to})
}

// do runs fn under the lock and then fires OnStateChange for any transitions
// fn caused, outside the lock so hooks may query the breaker.
func (cb *CircuitBreaker) do(fn func()) {
	cb.mu.Lock()
	fn()
	pending := cb.pending
	cb.pending = nil
	cb.mu.Unlock()

	if cb.config.OnStateChange == nil {
		return
	}
	for _, t := range pending {
		cb.config.OnStateChange(cb.config.Name, t.from, t.to)
	}
}
