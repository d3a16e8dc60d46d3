// Package resilience protects a rate-limited, failure-prone backend.
//
// The building blocks can be used on their own:
//   - TokenBucket: smooths bursts into a sustained rate
//   - Semaphore: caps concurrent operations with FIFO waiters
//   - PriorityQueue: parks deferred work in five priority levels
//   - CircuitBreaker: stops traffic to a failing backend and probes for recovery
//   - Retry: retries transient failures with exponential backoff
//
// Layer composes them. A call is admitted by the breaker, or parked in the
// priority queue while the breaker refuses, and each attempt then takes a token
// and a permit before the operation runs:
//
//	layer, err := resilience.NewLayer(resilience.ConfigForTier(resilience.TierStandard),
//	    resilience.WithPriorityTable(resilience.PriorityTable{
//	        "checkout": resilience.PriorityCritical,
//	    }))
//	if err != nil {
//	    return err
//	}
//	defer layer.Shutdown(ctx)
//
//	user, err := resilience.Execute(ctx, layer, "lookup", func(ctx context.Context) (*User, error) {
//	    return client.GetUser(ctx, id)
//	})
//
// Errors are classified by Classify. Only system failures count against the
// breaker; correct rejections such as not-found or validation errors do not.
package resilience
