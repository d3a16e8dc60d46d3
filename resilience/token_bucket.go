package resilience

import (
	"context"
	"math"
	"sync"
	"time"
)

// TokenBucketConfig configures a token bucket.
type TokenBucketConfig struct {
	// Name identifies this bucket for metrics/logging.
	Name string
	// Capacity is the maximum number of tokens (the burst size).
	Capacity int
	// RefillRate is the number of tokens added per second.
	RefillRate float64
	// OnThrottle is called when a caller has to wait for a token.
	OnThrottle func(name string, wait time.Duration)
}

// DefaultTokenBucketConfig returns sensible defaults.
func DefaultTokenBucketConfig(name string) TokenBucketConfig {
	return TokenBucketConfig{
		Name:       name,
		Capacity:   10,
		RefillRate: 5,
	}
}

// TokenBucketMetrics is a point-in-time view of a token bucket.
type TokenBucketMetrics struct {
	Capacity      int           `json:"capacity"`
	RefillRate    float64       `json:"refill_rate"`
	Available     int           `json:"available"`
	TotalAcquired int64         `json:"total_acquired"`
	Throttled     int64         `json:"throttled"`
	AverageWait   time.Duration `json:"average_wait"`
}

// TokenBucket smooths bursts into a bounded sustained rate.
// Refill is lazy: tokens are recomputed from elapsed time on every check.
type TokenBucket struct {
	config TokenBucketConfig
	now    func() time.Time

	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
	acquired   int64
	throttled  int64
	totalWait  time.Duration
}

// NewTokenBucket creates a full token bucket.
func NewTokenBucket(config TokenBucketConfig) *TokenBucket {
	if config.Capacity <= 0 {
		config.Capacity = 10
	}
	if config.RefillRate <= 0 {
		config.RefillRate = 5
	}

	tb := &TokenBucket{config: config, now: time.Now}
	tb.tokens = float64(config.Capacity)
	tb.lastRefill = tb.now()
	return tb
}

// TryAcquire takes one token if available without waiting.
func (tb *TokenBucket) TryAcquire() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens >= 1 {
		tb.tokens--
		tb.acquired++
		return true
	}
	return false
}

// Acquire takes one token, waiting for a refill when the bucket is empty.
// With maxWait > 0, a wait longer than maxWait fails with *RateLimitExceededError
// instead of sleeping.
func (tb *TokenBucket) Acquire(ctx context.Context, maxWait time.Duration) error {
	var waited time.Duration
	for {
		tb.mu.Lock()
		tb.refill()
		if tb.tokens >= 1 {
			tb.tokens--
			tb.acquired++
			if waited > 0 {
				tb.throttled++
				tb.totalWait += waited
			}
			tb.mu.Unlock()
			return nil
		}

		wait := tb.waitTime()
		if maxWait > 0 && waited+wait > maxWait {
			err := &RateLimitExceededError{TokensAvailable: tb.tokens, RefillIn: wait}
			tb.mu.Unlock()
			return err
		}
		tb.mu.Unlock()

		if waited == 0 && tb.config.OnThrottle != nil {
			tb.config.OnThrottle(tb.config.Name, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		waited += wait
	}
}

// Available returns the number of whole tokens currently available.
func (tb *TokenBucket) Available() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	return int(math.Floor(tb.tokens))
}

// Metrics returns a snapshot of the bucket.
func (tb *TokenBucket) Metrics() TokenBucketMetrics {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()

	m := TokenBucketMetrics{
		Capacity:      tb.config.Capacity,
		RefillRate:    tb.config.RefillRate,
		Available:     int(math.Floor(tb.tokens)),
		TotalAcquired: tb.acquired,
		Throttled:     tb.throttled,
	}
	if tb.throttled > 0 {
		m.AverageWait = tb.totalWait / time.Duration(tb.throttled)
	}
	return m
}

// Reset refills the bucket to capacity and zeroes its metrics.
func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.tokens = float64(tb.config.Capacity)
	tb.lastRefill = tb.now()
	tb.acquired = 0
	tb.throttled = 0
	tb.totalWait = 0
}

// refill adds tokens for the time elapsed since the last refill. Caller holds mu.
func (tb *TokenBucket) refill() {
	now := tb.now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.lastRefill = now
	if elapsed <= 0 {
		return
	}
	tb.tokens = math.Min(float64(tb.config.Capacity), tb.tokens+elapsed*tb.config.RefillRate)
}

// waitTime is the time until one whole token is available. Caller holds mu.
func (tb *TokenBucket) waitTime() time.Duration {
	seconds := (1 - tb.tokens) / tb.config.RefillRate
	return time.Duration(math.Ceil(seconds * float64(time.Second)))
}
