package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kbukum/loadguard/errors"
)

// backend is a synthetic remote service with random latency, a base failure
// rate and an optional full outage.
type backend struct {
	failureRate  float64
	notFoundRate float64
	latency      time.Duration

	mu  sync.Mutex
	rng *rand.Rand

	outage   atomic.Bool
	calls    atomic.Int64
	inFlight atomic.Int64
	peak     atomic.Int64
}

func newBackend(sim SimulationConfig, seed uint64) *backend {
	return &backend{
		failureRate:  sim.FailureRate,
		notFoundRate: sim.NotFoundRate,
		latency:      sim.Latency,
		rng:          rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

func (b *backend) roll() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rng.Float64()
}

// Call serves one request for operation.
func (b *backend) Call(ctx context.Context, operation string) (string, error) {
	b.calls.Add(1)
	n := b.inFlight.Add(1)
	defer b.inFlight.Add(-1)
	for {
		p := b.peak.Load()
		if n <= p || b.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if b.latency > 0 {
		wait := time.Duration(float64(b.latency) * (0.5 + b.roll()))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}

	switch r := b.roll(); {
	case b.outage.Load():
		return "", fmt.Errorf(`upstream call failed: {"error":{"code":"UNAVAILABLE","message":"503 service unavailable"}}`)
	case r < b.failureRate:
		return "", fmt.Errorf("upstream call failed: connection reset by peer")
	case operation == "lookup" && r < b.failureRate+b.notFoundRate:
		return "", errors.NotFound("record", operation)
	}
	return "ok:" + operation, nil
}
