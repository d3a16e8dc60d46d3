package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/kbukum/loadguard/component"
)

// Metrics is a point-in-time view of a Layer and its parts.
type Metrics struct {
	Name      string    `json:"name"`
	Enabled   bool      `json:"enabled"`
	Timestamp time.Time `json:"timestamp"`

	RateLimiter    TokenBucketMetrics    `json:"rate_limiter"`
	Concurrency    SemaphoreMetrics      `json:"concurrency"`
	Queue          QueueMetrics          `json:"queue"`
	CircuitBreaker CircuitBreakerMetrics `json:"circuit_breaker"`

	Executions int64 `json:"executions"`
	Succeeded  int64 `json:"succeeded"`
	Failed     int64 `json:"failed"`
	Retries    int64 `json:"retries"`
	Queued     int64 `json:"queued"`
}

// Metrics returns a snapshot of the layer.
func (l *Layer) Metrics() Metrics {
	return Metrics{
		Name:           l.config.Name,
		Enabled:        l.config.Enabled,
		Timestamp:      time.Now(),
		RateLimiter:    l.bucket.Metrics(),
		Concurrency:    l.sem.Metrics(),
		Queue:          l.queue.Metrics(),
		CircuitBreaker: l.breaker.Metrics(),
		Executions:     l.executions.Load(),
		Succeeded:      l.succeeded.Load(),
		Failed:         l.failed.Load(),
		Retries:        l.retries.Load(),
		Queued:         l.queued.Load(),
	}
}

var (
	_ component.Component   = (*Layer)(nil)
	_ component.Describable = (*Layer)(nil)
)

// Name returns the component name.
func (l *Layer) Name() string { return "resilience:" + l.config.Name }

// Start is a no-op; NewLayer already started the drain loop.
func (l *Layer) Start(_ context.Context) error {
	if l.closed.Load() {
		return ErrLayerClosed
	}
	return nil
}

// Stop shuts the layer down.
func (l *Layer) Stop(ctx context.Context) error { return l.Shutdown(ctx) }

// Health maps the breaker state to component health.
func (l *Layer) Health(_ context.Context) component.Health {
	h := component.Health{Name: l.Name(), Status: component.StatusHealthy}
	if !l.config.Enabled {
		h.Message = "disabled"
		return h
	}

	switch l.breaker.State() {
	case StateOpen:
		h.Status = component.StatusUnhealthy
		h.Message = fmt.Sprintf("circuit open, retry in %s", l.breaker.RetryIn().Round(time.Millisecond))
	case StateHalfOpen:
		h.Status = component.StatusDegraded
		h.Message = "circuit half-open"
	}
	if n := l.queue.Size(); n > 0 && h.Status == component.StatusHealthy {
		h.Status = component.StatusDegraded
		h.Message = fmt.Sprintf("%d requests queued", n)
	}
	return h
}

// Describe summarizes the configuration for the startup log.
func (l *Layer) Describe() component.Description {
	return component.Description{
		Name: l.config.Name,
		Type: "resilience",
		Details: fmt.Sprintf("rate=%.0f/s burst=%d concurrency=%d breaker=%d/%s",
			l.config.RateLimit.RefillRate,
			l.config.RateLimit.BucketSize,
			l.config.Concurrency.MaxConcurrent,
			l.config.CircuitBreaker.FailureThreshold,
			l.config.CircuitBreaker.Timeout,
		),
	}
}
