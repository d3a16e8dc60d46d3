package resilience

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/kbukum/loadguard/logger"
)

const queueSemaphore = "semaphore"

// SemaphoreConfig configures a semaphore.
type SemaphoreConfig struct {
	// Name identifies this semaphore for metrics/logging.
	Name string
	// MaxConcurrent is the number of permits.
	MaxConcurrent int
	// MaxWaiting bounds the FIFO waiter list. Acquire fails fast once it is full.
	MaxWaiting int
	// Logger receives double-release warnings. Defaults to the global logger.
	Logger *logger.Logger
}

// DefaultSemaphoreConfig returns sensible defaults.
func DefaultSemaphoreConfig(name string) SemaphoreConfig {
	return SemaphoreConfig{
		Name:          name,
		MaxConcurrent: 5,
		MaxWaiting:    100,
	}
}

// SemaphoreMetrics is a point-in-time view of a semaphore.
type SemaphoreMetrics struct {
	MaxConcurrent int   `json:"max_concurrent"`
	Active        int   `json:"active"`
	Waiting       int   `json:"waiting"`
	PeakActive    int   `json:"peak_active"`
	Timeouts      int64 `json:"timeouts"`
	TotalAcquired int64 `json:"total_acquired"`
}

// Semaphore caps concurrently executing operations. Callers that cannot get a
// permit wait in strict FIFO order; a released permit is handed directly to the
// oldest waiter.
type Semaphore struct {
	config SemaphoreConfig
	log    *logger.Logger

	mu       sync.Mutex
	active   int
	waiters  *list.List // of *semWaiter
	peak     int
	timeouts int64
	acquired int64
	// epoch invalidates permits issued before a Reset.
	epoch uint64
}

type semWaiter struct {
	ready chan semResult
	done  bool
}

type semResult struct {
	permit *Permit
	err    error
}

// Permit is ownership of one concurrency slot. Release it exactly once.
type Permit struct {
	sem      *Semaphore
	epoch    uint64
	released bool
}

// NewSemaphore creates a semaphore with all permits free.
func NewSemaphore(config SemaphoreConfig) *Semaphore {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 5
	}
	if config.MaxWaiting < 0 {
		config.MaxWaiting = 0
	}
	log := config.Logger
	if log == nil {
		log = logger.WithComponent("semaphore")
	}
	return &Semaphore{
		config:  config,
		log:     log,
		waiters: list.New(),
	}
}

// TryAcquire returns a permit if one is free and nobody is waiting.
func (s *Semaphore) TryAcquire() (*Permit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active < s.config.MaxConcurrent && s.waiters.Len() == 0 {
		return s.grantLocked(), true
	}
	return nil, false
}

// Acquire returns a permit, waiting in FIFO order if none is free. A timeout of
// zero waits until a permit is handed over or ctx is done.
func (s *Semaphore) Acquire(ctx context.Context, timeout time.Duration) (*Permit, error) {
	s.mu.Lock()
	if s.active < s.config.MaxConcurrent && s.waiters.Len() == 0 {
		p := s.grantLocked()
		s.mu.Unlock()
		return p, nil
	}
	if s.waiters.Len() >= s.config.MaxWaiting {
		err := &QueueFullError{Queue: queueSemaphore, Size: s.waiters.Len()}
		s.mu.Unlock()
		return nil, err
	}

	w := &semWaiter{ready: make(chan semResult, 1)}
	elem := s.waiters.PushBack(w)
	s.mu.Unlock()

	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case res := <-w.ready:
		return res.permit, res.err
	case <-timeoutC:
		return s.abandon(w, elem, func(waiting int) error {
			s.timeouts++
			return &AcquireTimeoutError{Timeout: timeout, Waiting: waiting}
		})
	case <-ctx.Done():
		return s.abandon(w, elem, func(int) error { return ctx.Err() })
	}
}

// abandon removes a waiter that gave up. If a permit was handed over in the
// meantime the waiter keeps it.
func (s *Semaphore) abandon(w *semWaiter, elem *list.Element, fail func(waiting int) error) (*Permit, error) {
	s.mu.Lock()
	if w.done {
		s.mu.Unlock()
		res := <-w.ready
		return res.permit, res.err
	}
	w.done = true
	s.waiters.Remove(elem)
	err := fail(s.waiters.Len())
	s.mu.Unlock()
	return nil, err
}

// Release returns the permit. A second call is a logged no-op.
func (p *Permit) Release() {
	s := p.sem
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.released {
		s.log.Warn("permit released twice", logger.Fields("semaphore", s.config.Name))
		return
	}
	p.released = true
	if p.epoch != s.epoch {
		return
	}

	for e := s.waiters.Front(); e != nil; e = s.waiters.Front() {
		w := s.waiters.Remove(e).(*semWaiter)
		if w.done {
			continue
		}
		w.done = true
		s.acquired++
		w.ready <- semResult{permit: &Permit{sem: s, epoch: s.epoch}}
		return
	}
	s.active--
}

// Active returns the number of permits currently held.
func (s *Semaphore) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Waiting returns the number of queued acquirers.
func (s *Semaphore) Waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiters.Len()
}

// Metrics returns a snapshot of the semaphore.
func (s *Semaphore) Metrics() SemaphoreMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SemaphoreMetrics{
		MaxConcurrent: s.config.MaxConcurrent,
		Active:        s.active,
		Waiting:       s.waiters.Len(),
		PeakActive:    s.peak,
		Timeouts:      s.timeouts,
		TotalAcquired: s.acquired,
	}
}

// Reset rejects every waiter with ErrSemaphoreReset, frees all permits and
// zeroes metrics. Permits held at the time of the reset become inert.
func (s *Semaphore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for e := s.waiters.Front(); e != nil; e = s.waiters.Front() {
		w := s.waiters.Remove(e).(*semWaiter)
		if !w.done {
			w.done = true
			w.ready <- semResult{err: ErrSemaphoreReset}
		}
	}
	s.epoch++
	s.active = 0
	s.peak = 0
	s.timeouts = 0
	s.acquired = 0
}

// grantLocked issues a free permit. Caller holds mu.
func (s *Semaphore) grantLocked() *Permit {
	s.active++
	s.acquired++
	if s.active > s.peak {
		s.peak = s.active
	}
	return &Permit{sem: s, epoch: s.epoch}
}
