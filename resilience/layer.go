package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kbukum/loadguard/logger"
	"github.com/kbukum/loadguard/observability"
)

const (
	// shutdownPoll is how often Shutdown re-checks the queue while draining.
	shutdownPoll = 20 * time.Millisecond
	// DefaultShutdownTimeout bounds Shutdown when its ctx has no deadline.
	DefaultShutdownTimeout = 30 * time.Second
)

// Layer protects one backend. Every call passes through, in order: priority
// resolution, circuit breaker admission (parking the request in the priority
// queue when the breaker refuses), a retry loop and, per attempt, the token
// bucket and the concurrency semaphore.
//
// A background loop drains the queue as capacity returns and expires requests
// that waited too long. Call Shutdown to stop it.
type Layer struct {
	config   Config
	log      *logger.Logger
	resolver PriorityResolver
	metrics  *observability.GuardMetrics

	bucket  *TokenBucket
	sem     *Semaphore
	queue   *PriorityQueue
	breaker *CircuitBreaker

	executions atomic.Int64
	succeeded  atomic.Int64
	failed     atomic.Int64
	retries    atomic.Int64
	queued     atomic.Int64

	shutdownTimeout time.Duration

	closed   atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	loopDone chan struct{}
}

// Option configures a Layer.
type Option func(*Layer)

// WithLogger sets the logger. Defaults to the global logger scoped to the
// "resilience" component.
func WithLogger(l *logger.Logger) Option {
	return func(layer *Layer) {
		if l != nil {
			layer.log = l
		}
	}
}

// WithPriorityResolver sets how operation names map to priorities.
func WithPriorityResolver(r PriorityResolver) Option {
	return func(layer *Layer) {
		if r != nil {
			layer.resolver = r
		}
	}
}

// WithPriorityTable resolves priorities from a static table.
func WithPriorityTable(t PriorityTable) Option {
	return WithPriorityResolver(t)
}

// WithName overrides the backend name from the config.
func WithName(name string) Option {
	return func(layer *Layer) {
		if name != "" {
			layer.config.Name = name
		}
	}
}

// WithShutdownTimeout bounds Shutdown when it is given a ctx without a
// deadline.
func WithShutdownTimeout(d time.Duration) Option {
	return func(layer *Layer) {
		if d > 0 {
			layer.shutdownTimeout = d
		}
	}
}

// WithMetrics records OpenTelemetry instruments for the layer.
func WithMetrics(m *observability.GuardMetrics) Option {
	return func(layer *Layer) {
		layer.metrics = m
	}
}

// NewLayer builds a layer from cfg and starts its drain loop. Zero-valued
// settings are filled from DefaultConfig. A disabled layer passes every call
// straight through and starts nothing.
func NewLayer(cfg Config, opts ...Option) (*Layer, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l := &Layer{
		config:          cfg,
		resolver:        PriorityTable(nil),
		shutdownTimeout: DefaultShutdownTimeout,
		stop:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.log == nil {
		l.log = logger.WithComponent("resilience")
	}
	cfg = l.config
	l.log = l.log.WithFields(logger.Fields("backend", cfg.Name))

	l.bucket = NewTokenBucket(TokenBucketConfig{
		Name:       cfg.Name,
		Capacity:   cfg.RateLimit.BucketSize,
		RefillRate: cfg.RateLimit.RefillRate,
		OnThrottle: l.onThrottle,
	})
	l.sem = NewSemaphore(SemaphoreConfig{
		Name:          cfg.Name,
		MaxConcurrent: cfg.Concurrency.MaxConcurrent,
		MaxWaiting:    cfg.Concurrency.QueueSize,
		Logger:        l.log,
	})
	l.queue = NewPriorityQueue(cfg.Queue)

	cbConfig := cfg.CircuitBreaker
	cbConfig.Name = cfg.Name
	userHook := cbConfig.OnStateChange
	cbConfig.OnStateChange = func(name string, from, to State) {
		l.onStateChange(from, to)
		if userHook != nil {
			l.callHook("on_state_change", func() { userHook(name, from, to) })
		}
	}
	l.breaker = NewCircuitBreaker(cbConfig)

	if !cfg.Enabled {
		close(l.loopDone)
		l.log.Debug("resilience layer disabled, calls pass through")
		return l, nil
	}

	go l.loop()

	l.log.Info("resilience layer started", logger.Fields(
		"rate", cfg.RateLimit.RefillRate,
		"burst", cfg.RateLimit.BucketSize,
		"max_concurrent", cfg.Concurrency.MaxConcurrent,
		"failure_threshold", cfg.CircuitBreaker.FailureThreshold,
	))
	return l, nil
}

// Config returns the effective configuration.
func (l *Layer) Config() Config { return l.config }

// CircuitBreaker exposes the layer's breaker.
func (l *Layer) CircuitBreaker() *CircuitBreaker { return l.breaker }

// Queue exposes the layer's priority queue.
func (l *Layer) Queue() *PriorityQueue { return l.queue }

// Execute runs fn for operation under the layer's protection using the
// configured retry policy. When the layer is disabled fn is called directly
// and its result returned unchanged.
func (l *Layer) Execute(ctx context.Context, operation string, fn func(context.Context) error) error {
	return l.execute(ctx, operation, fn, l.config.Retry)
}

// ExecuteWithRetry is Execute with a per-call retry count and base delay. A
// retryDelay of zero keeps the configured base delay.
func (l *Layer) ExecuteWithRetry(ctx context.Context, operation string, fn func(context.Context) error, maxRetries int, retryDelay time.Duration) error {
	retry := l.config.Retry
	retry.MaxRetries = maxRetries
	if retryDelay > 0 {
		retry.BaseDelay = retryDelay
		retry.MaxDelay = max(retry.MaxDelay, retryDelay)
	}
	return l.execute(ctx, operation, fn, retry)
}

// Execute runs fn through l and returns its result.
func Execute[T any](ctx context.Context, l *Layer, operation string, fn func(context.Context) (T, error)) (T, error) {
	var (
		mu     sync.Mutex
		result T
	)
	err := l.Execute(ctx, operation, func(ctx context.Context) error {
		r, err := fn(ctx)
		if err != nil {
			return err
		}
		mu.Lock()
		result = r
		mu.Unlock()
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	mu.Lock()
	defer mu.Unlock()
	return result, nil
}

func (l *Layer) execute(ctx context.Context, operation string, fn func(context.Context) error, retry RetryConfig) error {
	if !l.config.Enabled {
		return fn(ctx)
	}
	if l.closed.Load() {
		return ErrLayerClosed
	}

	priority := l.resolver.Resolve(operation)
	ctx, span := observability.StartGuardSpan(ctx, observability.SpanExecute, l.config.Name, operation, priority.String())
	defer span.End()

	l.executions.Add(1)
	start := time.Now()

	var err error
	if adm, ok := l.breaker.Admit(); ok {
		err = l.executeWithRetry(ctx, operation, fn, retry, adm)
	} else {
		observability.MarkQueued(ctx)
		err = l.enqueueAndWait(ctx, operation, priority, fn)
	}

	class := Classify(err)
	if err == nil {
		l.succeeded.Add(1)
	} else {
		l.failed.Add(1)
	}
	observability.RecordOutcome(ctx, class.String(), err)
	l.metrics.RecordExecution(ctx, l.config.Name, operation, priority.String(), class.String(), time.Since(start))
	return err
}

// executeWithRetry runs the retry loop. The first attempt has already been
// admitted by the caller; every retry needs fresh admission.
func (l *Layer) executeWithRetry(ctx context.Context, operation string, fn func(context.Context) error, retry RetryConfig, adm *Admission) error {
	attempts := 0
	retry.RetryIf = func(err error) bool {
		return ctx.Err() == nil && Classify(err).Retryable()
	}
	retry.OnRetry = func(attempt int, err error, delay time.Duration) {
		l.retries.Add(1)
		l.metrics.RecordRetry(ctx, l.config.Name, operation)
		l.log.Debug("retrying operation", logger.Fields(
			logger.FieldOperation, operation,
			logger.FieldAttempt, attempt,
			logger.FieldDelay, delay.Milliseconds(),
			logger.FieldError, err.Error(),
		))
		if h := l.config.Hooks.OnRetry; h != nil {
			l.callHook("on_retry", func() { h(operation, attempt, err, delay) })
		}
	}

	err := RetryFunc(ctx, retry, func() error {
		attempts++
		if attempts > 1 {
			var ok bool
			if adm, ok = l.breaker.Admit(); !ok {
				return &CircuitOpenError{Name: l.config.Name, RetryIn: l.breaker.RetryIn()}
			}
		}
		return l.attempt(ctx, operation, fn, adm)
	})
	observability.SetAttempts(ctx, attempts)
	return err
}

// attempt runs fn once, holding a token and a permit, and settles adm.
func (l *Layer) attempt(ctx context.Context, operation string, fn func(context.Context) error, adm *Admission) error {
	if err := l.bucket.Acquire(ctx, l.config.RateLimit.MaxWait); err != nil {
		adm.Ignore()
		return err
	}
	permit, err := l.sem.Acquire(ctx, l.config.Concurrency.AcquireTimeout)
	if err != nil {
		adm.Ignore()
		return err
	}
	defer func() {
		permit.Release()
		l.metrics.AddInFlight(ctx, l.config.Name, -1)
		l.triggerDrain()
	}()
	l.metrics.AddInFlight(ctx, l.config.Name, 1)

	err = l.call(ctx, operation, fn)
	l.record(ctx, adm, err)
	return err
}

// call runs fn and normalizes its error. A panic becomes a *PanicError so the
// admission is always settled.
func (l *Layer) call(ctx context.Context, operation string, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Operation: operation, Value: r}
			l.log.WithContext(ctx).Error("operation panicked", logger.Fields(
				logger.FieldOperation, operation,
				"panic", fmt.Sprint(r),
			))
		}
	}()
	return NormalizeError(fn(ctx))
}

// record settles breaker admission for a finished operation. Only system
// failures count against the breaker; cancellation by the caller, correct
// rejections and local saturation say nothing about backend health.
func (l *Layer) record(ctx context.Context, adm *Admission, err error) {
	class := Classify(err)
	switch {
	case class == ClassNone:
		adm.Success()
	case class.IsSystemFailure() && ctx.Err() == nil:
		adm.Failure()
		l.log.Debug("backend failure recorded", logger.Fields(
			"class", class.String(),
			"code", errorCode(err),
		))
	default:
		adm.Ignore()
	}
}

// enqueueAndWait parks the request until the drain loop runs it, it expires, or
// ctx is done.
func (l *Layer) enqueueAndWait(ctx context.Context, operation string, priority Priority, fn func(context.Context) error) error {
	req := NewQueuedRequest(ctx, operation, priority, fn)
	req.ctx = logger.ContextWithRequestID(req.ctx, req.ID)
	if err := l.queue.Enqueue(req); err != nil {
		l.metrics.RecordQueueRejected(ctx, l.config.Name, priority.String())
		var full *QueueFullError
		if errors.As(err, &full) {
			l.log.Warn("priority queue full", logger.Fields(
				logger.FieldOperation, operation,
				logger.FieldPriority, priority.String(),
				logger.FieldQueueSize, full.Size,
			))
			if h := l.config.Hooks.OnQueueFull; h != nil {
				l.callHook("on_queue_full", func() { h(full.Priority, full.Size) })
			}
		}
		return err
	}

	if l.closed.Load() {
		// Shutdown may have cleared the queue before this request landed.
		l.queue.Cancel(req.ID)
		return ErrLayerClosed
	}

	l.queued.Add(1)
	l.metrics.RecordQueued(ctx, l.config.Name, priority.String())
	l.log.Debug("request queued while circuit is not admitting", logger.Fields(
		logger.FieldOperation, operation,
		logger.FieldPriority, priority.String(),
		logger.FieldRequestID, req.ID,
	))

	select {
	case err := <-req.Done():
		return err
	case <-ctx.Done():
		l.queue.Cancel(req.ID)
		return ctx.Err()
	}
}

// IsHealthy reports whether the breaker is closed. A disabled layer is always
// healthy.
func (l *Layer) IsHealthy() bool {
	return !l.config.Enabled || l.breaker.State() == StateClosed
}

// IsAcceptingRequests reports whether a new call would be admitted without
// queueing.
func (l *Layer) IsAcceptingRequests() bool {
	if !l.config.Enabled {
		return true
	}
	return !l.closed.Load() && l.breaker.CanExecute()
}

// Reset returns every part of the layer to its initial state. Queued requests
// fail with ErrQueueCleared and semaphore waiters with ErrSemaphoreReset.
func (l *Layer) Reset() {
	l.bucket.Reset()
	l.sem.Reset()
	l.queue.Clear()
	l.queue.ResetMetrics()
	l.breaker.Reset()
	l.executions.Store(0)
	l.succeeded.Store(0)
	l.failed.Store(0)
	l.retries.Store(0)
	l.queued.Store(0)
	l.log.Info("resilience layer reset")
}

// Shutdown stops the drain loop and new admissions, then keeps draining the
// queue until it is empty or ctx is done. A ctx without a deadline is bounded
// by the shutdown timeout. Requests still queued at that point fail with
// ErrQueueCleared. Operations already running are not interrupted.
func (l *Layer) Shutdown(ctx context.Context) error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	l.stopOnce.Do(func() { close(l.stop) })
	<-l.loopDone

	if !l.config.Enabled {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.shutdownTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(shutdownPoll)
	defer ticker.Stop()

wait:
	for !l.queue.IsEmpty() {
		l.safeDrain()
		select {
		case <-ctx.Done():
			break wait
		case <-ticker.C:
		}
	}

	if n := l.queue.Clear(); n > 0 {
		l.log.Warn("shutdown dropped queued requests", logger.Fields("dropped", n))
	}
	l.log.Info("resilience layer stopped")
	return nil
}

func (l *Layer) onThrottle(_ string, wait time.Duration) {
	l.metrics.RecordThrottle(context.Background(), l.config.Name, wait)
	if h := l.config.Hooks.OnThrottle; h != nil {
		l.callHook("on_throttle", func() { h(wait) })
	}
}

func (l *Layer) onStateChange(from, to State) {
	fields := logger.Fields("from", from.String(), logger.FieldState, to.String())
	if to == StateOpen {
		l.log.Warn("circuit opened", fields)
	} else {
		l.log.Debug("circuit state changed", fields)
	}
	l.metrics.RecordTransition(context.Background(), l.config.Name, to.String())

	var hook func(string)
	name := "on_circuit_" + to.String()
	switch to {
	case StateOpen:
		hook = l.config.Hooks.OnCircuitOpen
	case StateClosed:
		hook = l.config.Hooks.OnCircuitClose
	case StateHalfOpen:
		hook = l.config.Hooks.OnCircuitHalfOpen
	}
	if hook != nil {
		l.callHook(name, func() { hook(l.config.Name) })
	}
}

// callHook runs a monitoring hook, containing any panic.
func (l *Layer) callHook(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Warn("monitoring hook panicked", logger.Fields(
				logger.FieldHook, name,
				"panic", fmt.Sprint(r),
			))
		}
	}()
	fn()
}
