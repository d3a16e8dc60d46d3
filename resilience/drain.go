package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/kbukum/loadguard/logger"
	"github.com/kbukum/loadguard/observability"
)

// loop is the background drain ticker. Each tick expires stale requests,
// drains what capacity allows and, when configured, reports metrics.
func (l *Layer) loop() {
	defer close(l.loopDone)

	ticker := time.NewTicker(l.config.Drain.Interval)
	defer ticker.Stop()
	lastReport := time.Now()

	for {
		select {
		case <-l.stop:
			return
		case now := <-ticker.C:
			l.expire()
			l.safeDrain()
			if h := l.config.Hooks.OnMetrics; h != nil && l.config.Hooks.MetricsInterval > 0 &&
				now.Sub(lastReport) >= l.config.Hooks.MetricsInterval {
				lastReport = now
				snapshot := l.Metrics()
				l.callHook("on_metrics", func() { h(snapshot) })
			}
		}
	}
}

func (l *Layer) expire() {
	if l.config.Drain.MaxAge <= 0 {
		return
	}
	if n := l.queue.RemoveExpired(l.config.Drain.MaxAge); n > 0 {
		l.metrics.RecordExpired(context.Background(), l.config.Name, n)
		l.log.Warn("expired queued requests", logger.Fields(
			"expired", n,
			"max_age", l.config.Drain.MaxAge.String(),
		))
	}
}

// triggerDrain drains opportunistically after a permit is released.
func (l *Layer) triggerDrain() {
	if l.queue.IsEmpty() {
		return
	}
	go l.safeDrain()
}

func (l *Layer) safeDrain() {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("queue drain panicked", logger.Fields("panic", fmt.Sprint(r)))
		}
	}()
	l.drain()
}

// drain starts queued requests, highest priority first, while the breaker
// admits, a permit is free and a token is available. It never waits for any of
// them. It returns the number of requests started.
func (l *Layer) drain() int {
	started := 0
	for !l.queue.IsEmpty() {
		permit, ok := l.sem.TryAcquire()
		if !ok {
			break
		}
		adm, ok := l.breaker.Admit()
		if !ok {
			permit.Release()
			break
		}
		if !l.bucket.TryAcquire() {
			adm.Ignore()
			permit.Release()
			break
		}
		req := l.queue.Dequeue()
		if req == nil {
			adm.Ignore()
			permit.Release()
			break
		}

		req.Attempts++
		started++
		go l.runQueued(req, permit, adm)
	}
	return started
}

// runQueued executes a drained request once, without retry, and delivers its
// outcome. A panicking operation is contained and reported as a failure.
func (l *Layer) runQueued(req *QueuedRequest, permit *Permit, adm *Admission) {
	ctx, span := observability.StartGuardSpan(req.ctx, observability.SpanQueued, l.config.Name, req.Operation, req.Priority.String())
	l.metrics.AddInFlight(ctx, l.config.Name, 1)

	err := l.call(ctx, req.Operation, req.run)
	l.record(req.ctx, adm, err)

	permit.Release()
	l.metrics.AddInFlight(ctx, l.config.Name, -1)
	observability.RecordOutcome(ctx, Classify(err).String(), err)
	span.End()

	req.complete(err)
	l.triggerDrain()
}
