package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kbukum/loadguard/logger"
	"github.com/kbukum/loadguard/resilience"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := defaultConfig(resilience.DefaultConfig())
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config to be valid, got %v", err)
	}
}

func TestConfig_ValidateRejectsBadPriority(t *testing.T) {
	cfg := defaultConfig(resilience.DefaultConfig())
	cfg.ApplyDefaults()
	cfg.Priorities["export"] = "urgent"

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "priorities") {
		t.Errorf("expected priorities error, got %v", err)
	}
}

func TestConfig_ValidateRejectsFailureRate(t *testing.T) {
	cfg := defaultConfig(resilience.DefaultConfig())
	cfg.ApplyDefaults()
	cfg.Simulation.FailureRate = 1.5

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "failure_rate") {
		t.Errorf("expected failure_rate error, got %v", err)
	}
}

func TestConfig_ValidateRequiresTelemetryEndpoint(t *testing.T) {
	cfg := defaultConfig(resilience.DefaultConfig())
	cfg.ApplyDefaults()
	cfg.Telemetry.Enabled = true
	cfg.Telemetry.Endpoint = " "

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "telemetry.endpoint") {
		t.Errorf("expected telemetry.endpoint error, got %v", err)
	}
}

func TestLoadConfig_TierFileAndFlags(t *testing.T) {
	path := writeConfig(t, `
name: loadguard
resilience:
  concurrency:
    max_concurrent: 7
simulation:
  requests: 50
`)
	fs, f, err := parseFlags([]string{"--config", path, "--tier", "high", "-n", "12", "--failure-rate", "0.2"})
	if err != nil {
		t.Fatalf("parseFlags failed: %v", err)
	}

	cfg, err := loadConfig(fs, f)
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}

	if cfg.Resilience.Concurrency.MaxConcurrent != 7 {
		t.Errorf("expected file override 7, got %d", cfg.Resilience.Concurrency.MaxConcurrent)
	}
	if cfg.Resilience.RateLimit.BucketSize != resilience.BatchConfig().RateLimit.BucketSize {
		t.Errorf("expected high tier bucket size, got %d", cfg.Resilience.RateLimit.BucketSize)
	}
	if cfg.Simulation.Requests != 12 {
		t.Errorf("expected flag override 12 requests, got %d", cfg.Simulation.Requests)
	}
	if cfg.Simulation.FailureRate != 0.2 {
		t.Errorf("expected failure rate 0.2, got %v", cfg.Simulation.FailureRate)
	}
}

func TestLoadConfig_UnknownTier(t *testing.T) {
	fs, f, err := parseFlags([]string{"--tier", "gigantic"})
	if err != nil {
		t.Fatalf("parseFlags failed: %v", err)
	}
	if _, err := loadConfig(fs, f); err == nil {
		t.Error("expected error for unknown tier")
	}
}

func TestBackend_Outcomes(t *testing.T) {
	ctx := context.Background()

	healthy := newBackend(SimulationConfig{}, 1)
	got, err := healthy.Call(ctx, "search")
	if err != nil || got != "ok:search" {
		t.Errorf("expected ok:search, got %q, %v", got, err)
	}

	healthy.outage.Store(true)
	_, err = healthy.Call(ctx, "search")
	if class := resilience.Classify(resilience.NormalizeError(err)); class != resilience.ClassTransient {
		t.Errorf("expected outage error to be transient, got %s", class)
	}

	missing := newBackend(SimulationConfig{NotFoundRate: 1}, 1)
	_, err = missing.Call(ctx, "lookup")
	if class := resilience.Classify(err); class != resilience.ClassNonSystem {
		t.Errorf("expected not found to be non-system, got %s", class)
	}

	failing := newBackend(SimulationConfig{FailureRate: 1}, 1)
	_, err = failing.Call(ctx, "search")
	if class := resilience.Classify(err); class != resilience.ClassTransient {
		t.Errorf("expected connection reset to be transient, got %s", class)
	}
}

func TestSimulate_RespectsConcurrencyLimit(t *testing.T) {
	rc := resilience.DefaultConfig()
	rc.RateLimit = resilience.RateLimitConfig{BucketSize: 1000, RefillRate: 1000}
	rc.Concurrency.MaxConcurrent = 3
	rc.Retry.BaseDelay = time.Millisecond
	rc.Retry.MaxDelay = 5 * time.Millisecond
	rc.Drain.Interval = 5 * time.Millisecond

	layer, err := resilience.NewLayer(rc, resilience.WithLogger(logger.Nop()))
	if err != nil {
		t.Fatalf("NewLayer failed: %v", err)
	}
	defer layer.Shutdown(context.Background())

	sim := SimulationConfig{
		Requests:   40,
		Workers:    10,
		Latency:    2 * time.Millisecond,
		Operations: []string{"search", "report"},
	}
	b := newBackend(sim, 7)
	r := simulate(context.Background(), layer, b, sim, logger.Nop())

	if r.BackendPeak > 3 {
		t.Errorf("expected backend peak concurrency <= 3, got %d", r.BackendPeak)
	}
	if r.Outcomes["none"] != 40 {
		t.Errorf("expected 40 successes, got %v", r.Outcomes)
	}
	if r.Calls != 40 {
		t.Errorf("expected 40 backend calls, got %d", r.Calls)
	}
}
