package resilience

import (
	"fmt"
	"strings"
	"time"
)

// CapacityTier is the declared capacity of the protected backend.
type CapacityTier string

const (
	// TierMinimal is a small shared backend with tight limits.
	TierMinimal CapacityTier = "minimal"
	// TierStandard serves interactive traffic with moderate limits.
	TierStandard CapacityTier = "standard"
	// TierHigh is a dedicated backend sized for batch throughput.
	TierHigh CapacityTier = "high"
	// TierEnterprise is a very high concurrency, multi-tenant backend.
	TierEnterprise CapacityTier = "enterprise"
)

// Preset names accepted by PresetByName.
const (
	PresetDefault     = "default"
	PresetInteractive = "interactive"
	PresetBatch       = "batch"
	PresetMultiTenant = "multi-tenant"
)

// DefaultConfig is the tight, conservative preset.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Name:    "backend",
		RateLimit: RateLimitConfig{
			BucketSize: 10,
			RefillRate: 5,
		},
		Concurrency: ConcurrencyConfig{
			MaxConcurrent:  5,
			QueueSize:      100,
			AcquireTimeout: 30 * time.Second,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Timeout:          30 * time.Second,
			HalfOpenMax:      3,
		},
		Queue: QueueConfig{
			Critical:   50,
			High:       100,
			Normal:     200,
			Low:        300,
			Background: 500,
		},
		Drain: DrainConfig{
			Interval: 100 * time.Millisecond,
			MaxAge:   5 * time.Minute,
		},
		Retry: RetryConfig{
			MaxRetries:      3,
			BaseDelay:       time.Second,
			MaxDelay:        30 * time.Second,
			ExponentialBase: 2,
			Jitter:          true,
		},
	}
}

// InteractiveConfig favors latency: short waits, quick failure detection and
// few, fast retries.
func InteractiveConfig() Config {
	c := DefaultConfig()
	c.RateLimit = RateLimitConfig{BucketSize: 20, RefillRate: 10, MaxWait: 2 * time.Second}
	c.Concurrency = ConcurrencyConfig{MaxConcurrent: 10, QueueSize: 50, AcquireTimeout: 5 * time.Second}
	c.CircuitBreaker = CircuitBreakerConfig{FailureThreshold: 3, SuccessThreshold: 1, Timeout: 10 * time.Second, HalfOpenMax: 2}
	c.Queue = QueueConfig{Critical: 20, High: 50, Normal: 100, Low: 100, Background: 100}
	c.Drain.MaxAge = 30 * time.Second
	c.Retry = RetryConfig{MaxRetries: 2, BaseDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second, ExponentialBase: 2, Jitter: true}
	return c
}

// BatchConfig favors throughput: large bursts, long waits and patient retries.
func BatchConfig() Config {
	c := DefaultConfig()
	c.RateLimit = RateLimitConfig{BucketSize: 100, RefillRate: 50}
	c.Concurrency = ConcurrencyConfig{MaxConcurrent: 25, QueueSize: 500, AcquireTimeout: 2 * time.Minute}
	c.CircuitBreaker = CircuitBreakerConfig{FailureThreshold: 10, SuccessThreshold: 3, Timeout: time.Minute, HalfOpenMax: 5}
	c.Queue = QueueConfig{Critical: 100, High: 500, Normal: 1000, Low: 2000, Background: 5000}
	c.Drain.MaxAge = 30 * time.Minute
	c.Retry = RetryConfig{MaxRetries: 5, BaseDelay: 2 * time.Second, MaxDelay: time.Minute, ExponentialBase: 2, Jitter: true}
	return c
}

// MultiTenantConfig is sized for a very high concurrency backend shared by
// many tenants.
func MultiTenantConfig() Config {
	c := DefaultConfig()
	c.RateLimit = RateLimitConfig{BucketSize: 500, RefillRate: 250, MaxWait: 10 * time.Second}
	c.Concurrency = ConcurrencyConfig{MaxConcurrent: 100, QueueSize: 2000, AcquireTimeout: time.Minute}
	c.CircuitBreaker = CircuitBreakerConfig{FailureThreshold: 20, SuccessThreshold: 5, Timeout: 30 * time.Second, HalfOpenMax: 10}
	c.Queue = QueueConfig{Critical: 500, High: 2000, Normal: 5000, Low: 5000, Background: 10000}
	c.Drain.MaxAge = 10 * time.Minute
	c.Retry = RetryConfig{MaxRetries: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 15 * time.Second, ExponentialBase: 2, Jitter: true}
	return c
}

// ConfigForTier returns the preset matching the backend's declared capacity.
func ConfigForTier(tier CapacityTier) Config {
	switch tier {
	case TierStandard:
		return InteractiveConfig()
	case TierHigh:
		return BatchConfig()
	case TierEnterprise:
		return MultiTenantConfig()
	default:
		return DefaultConfig()
	}
}

// ParseCapacityTier parses a tier name.
func ParseCapacityTier(s string) (CapacityTier, error) {
	switch t := CapacityTier(strings.ToLower(strings.TrimSpace(s))); t {
	case TierMinimal, TierStandard, TierHigh, TierEnterprise:
		return t, nil
	default:
		return "", fmt.Errorf("unknown capacity tier %q", s)
	}
}

// PresetByName returns a preset by name.
func PresetByName(name string) (Config, error) {
	switch strings.ToLower(name) {
	case PresetDefault, "":
		return DefaultConfig(), nil
	case PresetInteractive:
		return InteractiveConfig(), nil
	case PresetBatch:
		return BatchConfig(), nil
	case PresetMultiTenant:
		return MultiTenantConfig(), nil
	default:
		return Config{}, fmt.Errorf("unknown preset %q", name)
	}
}
