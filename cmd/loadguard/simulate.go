package main

import (
	"context"
	"sync"
	"time"

	"github.com/kbukum/loadguard/logger"
	"github.com/kbukum/loadguard/resilience"
)

// report summarizes a simulation run.
type report struct {
	Requests    int
	Outcomes    map[string]int
	BackendPeak int64
	Calls       int64
	Elapsed     time.Duration
}

// simulate drives sim.Requests calls for the configured operations through
// layer against b, using sim.Workers concurrent callers.
func simulate(ctx context.Context, layer *resilience.Layer, b *backend, sim SimulationConfig, log *logger.Logger) report {
	start := time.Now()
	jobs := make(chan int)
	outageAt := sim.Requests / 3

	var (
		mu       sync.Mutex
		outcomes = make(map[string]int)
		wg       sync.WaitGroup
	)

	for w := 0; w < sim.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				operation := sim.Operations[i%len(sim.Operations)]
				_, err := resilience.Execute(ctx, layer, operation, func(ctx context.Context) (string, error) {
					return b.Call(ctx, operation)
				})

				class := resilience.Classify(err)
				mu.Lock()
				outcomes[class.String()]++
				mu.Unlock()

				if err != nil && class != resilience.ClassNonSystem {
					log.Debug("request failed", logger.Fields(
						logger.FieldOperation, operation,
						"class", class.String(),
						logger.FieldError, err.Error(),
					))
				}
			}
		}()
	}

	var outage *time.Timer
feed:
	for i := 0; i < sim.Requests; i++ {
		if i == outageAt && sim.Outage > 0 {
			b.outage.Store(true)
			log.Warn("backend outage started", logger.Fields("duration", sim.Outage.String()))
			outage = time.AfterFunc(sim.Outage, func() {
				b.outage.Store(false)
				log.Info("backend outage ended")
			})
		}
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	if outage != nil {
		outage.Stop()
		b.outage.Store(false)
	}

	return report{
		Requests:    sim.Requests,
		Outcomes:    outcomes,
		BackendPeak: b.peak.Load(),
		Calls:       b.calls.Load(),
		Elapsed:     time.Since(start),
	}
}
