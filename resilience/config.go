package resilience

import (
	"fmt"
	"time"

	"github.com/kbukum/loadguard/validation"
)

// Config is the static configuration of a Layer.
type Config struct {
	// Enabled turns the layer on. A disabled layer calls operations directly.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// Name identifies the protected backend in logs and metrics.
	Name string `yaml:"name" mapstructure:"name"`

	RateLimit      RateLimitConfig      `yaml:"rate_limit" mapstructure:"rate_limit"`
	Concurrency    ConcurrencyConfig    `yaml:"concurrency" mapstructure:"concurrency"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker" mapstructure:"circuit_breaker"`
	Queue          QueueConfig          `yaml:"queue" mapstructure:"queue"`
	Drain          DrainConfig          `yaml:"drain" mapstructure:"drain"`
	Retry          RetryConfig          `yaml:"retry" mapstructure:"retry"`

	// Hooks are monitoring callbacks. They are not loaded from files.
	Hooks Hooks `yaml:"-" mapstructure:"-"`
}

// RateLimitConfig configures the token bucket.
type RateLimitConfig struct {
	BucketSize int     `yaml:"bucket_size" mapstructure:"bucket_size" validate:"gte=1"`
	RefillRate float64 `yaml:"refill_rate" mapstructure:"refill_rate" validate:"gt=0"`
	// MaxWait bounds the wait for a token. Zero waits as long as needed.
	MaxWait time.Duration `yaml:"max_wait" mapstructure:"max_wait" validate:"gte=0"`
}

// ConcurrencyConfig configures the semaphore.
type ConcurrencyConfig struct {
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent" validate:"gte=1"`
	// QueueSize bounds the number of callers waiting for a permit.
	QueueSize int `yaml:"queue_size" mapstructure:"queue_size" validate:"gte=0"`
	// AcquireTimeout bounds the wait for a permit. Zero waits as long as needed.
	AcquireTimeout time.Duration `yaml:"acquire_timeout" mapstructure:"acquire_timeout" validate:"gte=0"`
}

// DrainConfig configures the background drain of queued work.
type DrainConfig struct {
	// Interval is the drain tick.
	Interval time.Duration `yaml:"interval" mapstructure:"interval" validate:"gte=0"`
	// MaxAge expires queued requests older than this on every tick. Zero disables expiry.
	MaxAge time.Duration `yaml:"max_age" mapstructure:"max_age" validate:"gte=0"`
}

// Hooks are synchronous, best-effort monitoring callbacks. A panicking hook is
// recovered and logged; it never affects the caller.
type Hooks struct {
	OnCircuitOpen     func(name string)
	OnCircuitClose    func(name string)
	OnCircuitHalfOpen func(name string)
	OnQueueFull       func(priority Priority, size int)
	OnThrottle        func(wait time.Duration)
	OnRetry           func(operation string, attempt int, err error, delay time.Duration)
	OnMetrics         func(Metrics)
	// MetricsInterval is how often OnMetrics fires from the drain loop.
	MetricsInterval time.Duration
}

// ApplyDefaults fills zero-valued settings from DefaultConfig. Enabled is left
// as configured.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.Name == "" {
		c.Name = d.Name
	}
	if c.RateLimit.BucketSize <= 0 {
		c.RateLimit.BucketSize = d.RateLimit.BucketSize
	}
	if c.RateLimit.RefillRate <= 0 {
		c.RateLimit.RefillRate = d.RateLimit.RefillRate
	}
	if c.Concurrency.MaxConcurrent <= 0 {
		c.Concurrency.MaxConcurrent = d.Concurrency.MaxConcurrent
	}
	if c.Concurrency.QueueSize <= 0 {
		c.Concurrency.QueueSize = d.Concurrency.QueueSize
	}
	if c.CircuitBreaker.FailureThreshold <= 0 {
		c.CircuitBreaker.FailureThreshold = d.CircuitBreaker.FailureThreshold
	}
	if c.CircuitBreaker.SuccessThreshold <= 0 {
		c.CircuitBreaker.SuccessThreshold = d.CircuitBreaker.SuccessThreshold
	}
	if c.CircuitBreaker.Timeout <= 0 {
		c.CircuitBreaker.Timeout = d.CircuitBreaker.Timeout
	}
	if c.CircuitBreaker.HalfOpenMax <= 0 {
		c.CircuitBreaker.HalfOpenMax = d.CircuitBreaker.HalfOpenMax
	}
	if c.Queue == (QueueConfig{}) {
		c.Queue = d.Queue
	}
	if c.Drain.Interval <= 0 {
		c.Drain.Interval = d.Drain.Interval
	}
	if c.Retry.BaseDelay <= 0 {
		c.Retry.BaseDelay = d.Retry.BaseDelay
	}
	if c.Retry.MaxDelay <= 0 {
		c.Retry.MaxDelay = d.Retry.MaxDelay
	}
	if c.Retry.ExponentialBase < 1 {
		c.Retry.ExponentialBase = d.Retry.ExponentialBase
	}
}

// Validate checks field bounds and the relations between fields.
func (c *Config) Validate() error {
	if err := validation.Validate(c); err != nil {
		return fmt.Errorf("resilience config: %w", err)
	}

	v := validation.New().
		Custom(c.Retry.MaxDelay >= c.Retry.BaseDelay, "retry.max_delay", "must not be below retry.base_delay").
		Custom(c.Queue != (QueueConfig{}), "queue", "at least one priority level needs capacity")
	if err := v.Validate(); err != nil {
		return fmt.Errorf("resilience config: %w", err)
	}
	return nil
}
