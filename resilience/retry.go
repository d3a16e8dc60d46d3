package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int `yaml:"max_retries" mapstructure:"max_retries" validate:"gte=0"`
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration `yaml:"base_delay" mapstructure:"base_delay" validate:"gte=0"`
	// MaxDelay caps the exponential delay before jitter is applied.
	MaxDelay time.Duration `yaml:"max_delay" mapstructure:"max_delay" validate:"gte=0"`
	// ExponentialBase is the multiplier between consecutive delays.
	ExponentialBase float64 `yaml:"exponential_base" mapstructure:"exponential_base" validate:"gte=1"`
	// Jitter multiplies each delay by a random factor in [0.5, 1.5).
	Jitter bool `yaml:"jitter" mapstructure:"jitter"`
	// RetryIf determines if an error should be retried.
	RetryIf func(error) bool `yaml:"-" mapstructure:"-"`
	// OnRetry is called before each retry sleep. attempt starts at 1.
	OnRetry func(attempt int, err error, delay time.Duration) `yaml:"-" mapstructure:"-"`
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		BaseDelay:       time.Second,
		MaxDelay:        30 * time.Second,
		ExponentialBase: 2,
		Jitter:          true,
		RetryIf:         IsRetryable,
	}
}

func (c *RetryConfig) applyDefaults() {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.ExponentialBase < 1 {
		c.ExponentialBase = 2
	}
	if c.RetryIf == nil {
		c.RetryIf = IsRetryable
	}
}

// Schedule returns the delay sequence for cfg:
// min(MaxDelay, BaseDelay * ExponentialBase^n), jittered when enabled.
// The returned backoff is not safe for concurrent use.
func Schedule(cfg RetryConfig) backoff.BackOff {
	cfg.applyDefaults()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = min(cfg.BaseDelay, cfg.MaxDelay)
	b.MaxInterval = cfg.MaxDelay
	b.Multiplier = cfg.ExponentialBase
	b.RandomizationFactor = 0
	if cfg.Jitter {
		b.RandomizationFactor = 0.5
	}
	b.Reset()
	return b
}

// Retry executes fn up to MaxRetries+1 times, sleeping between attempts
// according to Schedule. It stops early when RetryIf rejects the error or ctx
// is done, and returns the last error.
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	cfg.applyDefaults()
	delays := Schedule(cfg)

	for attempt := 0; ; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		if attempt >= cfg.MaxRetries || !cfg.RetryIf(err) {
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, err
		}

		delay := delays.NextBackOff()
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}

// RetryFunc executes a function that returns only an error.
func RetryFunc(ctx context.Context, cfg RetryConfig, fn func() error) error {
	_, err := Retry(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
