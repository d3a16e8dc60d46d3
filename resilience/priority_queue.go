package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const queuePriority = "priority"

// QueuedRequest is deferred work waiting for capacity. Its outcome is delivered
// exactly once through Done.
type QueuedRequest struct {
	ID         string
	Priority   Priority
	Operation  string
	EnqueuedAt time.Time
	Attempts   int

	ctx  context.Context
	run  func(context.Context) error
	done chan error
	once sync.Once
}

// NewQueuedRequest wraps fn as deferred work for operation at priority p.
func NewQueuedRequest(ctx context.Context, operation string, p Priority, fn func(context.Context) error) *QueuedRequest {
	if ctx == nil {
		ctx = context.Background()
	}
	return &QueuedRequest{
		ID:         uuid.NewString(),
		Priority:   p,
		Operation:  operation,
		EnqueuedAt: time.Now(),
		ctx:        ctx,
		run:        fn,
		done:       make(chan error, 1),
	}
}

// Done delivers the outcome once the request is drained, expired, cancelled or cleared.
func (r *QueuedRequest) Done() <-chan error { return r.done }

// Age returns how long the request has been queued.
func (r *QueuedRequest) Age(now time.Time) time.Duration { return now.Sub(r.EnqueuedAt) }

// complete fulfils the request. Only the first call has an effect.
func (r *QueuedRequest) complete(err error) bool {
	fired := false
	r.once.Do(func() {
		r.done <- err
		fired = true
	})
	return fired
}

// QueueConfig sets the per-level capacity of a priority queue.
type QueueConfig struct {
	Critical   int `yaml:"critical" mapstructure:"critical" validate:"gte=0"`
	High       int `yaml:"high" mapstructure:"high" validate:"gte=0"`
	Normal     int `yaml:"normal" mapstructure:"normal" validate:"gte=0"`
	Low        int `yaml:"low" mapstructure:"low" validate:"gte=0"`
	Background int `yaml:"background" mapstructure:"background" validate:"gte=0"`
}

// Capacity returns the configured capacity for p.
func (c QueueConfig) Capacity(p Priority) int {
	switch p {
	case PriorityCritical:
		return c.Critical
	case PriorityHigh:
		return c.High
	case PriorityNormal:
		return c.Normal
	case PriorityLow:
		return c.Low
	case PriorityBackground:
		return c.Background
	default:
		return 0
	}
}

// QueueMetrics is a point-in-time view of a priority queue.
type QueueMetrics struct {
	Size           int              `json:"size"`
	SizeByPriority map[string]int   `json:"size_by_priority"`
	OldestAge      time.Duration    `json:"oldest_age"`
	Enqueued       int64            `json:"enqueued"`
	Dequeued       int64            `json:"dequeued"`
	Expired        int64            `json:"expired"`
	Cancelled      int64            `json:"cancelled"`
	Rejected       map[string]int64 `json:"rejected"`
}

// PriorityQueue holds deferred work in one FIFO list per priority level.
// Dequeue always serves the highest non-empty level first.
type PriorityQueue struct {
	config QueueConfig
	now    func() time.Time

	mu        sync.Mutex
	levels    [len(priorityNames)][]*QueuedRequest
	enqueued  int64
	dequeued  int64
	expired   int64
	cancelled int64
	rejected  [len(priorityNames)]int64
}

var priorityNames = [...]string{"critical", "high", "normal", "low", "background"}

// NewPriorityQueue creates an empty queue.
func NewPriorityQueue(config QueueConfig) *PriorityQueue {
	return &PriorityQueue{config: config, now: time.Now}
}

// Enqueue appends req to the tail of its level or fails with *QueueFullError.
func (q *PriorityQueue) Enqueue(req *QueuedRequest) error {
	if !req.Priority.Valid() {
		req.Priority = PriorityNormal
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	level := q.levels[req.Priority]
	if len(level) >= q.config.Capacity(req.Priority) {
		q.rejected[req.Priority]++
		return &QueueFullError{Queue: queuePriority, Priority: req.Priority, Size: len(level)}
	}
	q.levels[req.Priority] = append(level, req)
	q.enqueued++
	return nil
}

// TryEnqueue is Enqueue without the error.
func (q *PriorityQueue) TryEnqueue(req *QueuedRequest) bool {
	return q.Enqueue(req) == nil
}

// Dequeue removes and returns the oldest request of the highest non-empty level,
// or nil when the queue is empty.
func (q *PriorityQueue) Dequeue() *QueuedRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	for p := range q.levels {
		if len(q.levels[p]) == 0 {
			continue
		}
		req := q.levels[p][0]
		q.levels[p][0] = nil
		q.levels[p] = q.levels[p][1:]
		q.dequeued++
		return req
	}
	return nil
}

// Peek returns what Dequeue would return without removing it.
func (q *PriorityQueue) Peek() *QueuedRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	for p := range q.levels {
		if len(q.levels[p]) > 0 {
			return q.levels[p][0]
		}
	}
	return nil
}

// Size returns the total number of queued requests.
func (q *PriorityQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sizeLocked()
}

// IsEmpty reports whether nothing is queued.
func (q *PriorityQueue) IsEmpty() bool {
	return q.Size() == 0
}

// SizeByPriority returns the number of queued requests per level.
func (q *PriorityQueue) SizeByPriority() map[Priority]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	sizes := make(map[Priority]int, len(q.levels))
	for p := range q.levels {
		sizes[Priority(p)] = len(q.levels[p])
	}
	return sizes
}

// Remaining returns the free capacity of level p.
func (q *PriorityQueue) Remaining(p Priority) int {
	if !p.Valid() {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return max(0, q.config.Capacity(p)-len(q.levels[p]))
}

// OldestAge returns the age of the oldest queued request across all levels.
func (q *PriorityQueue) OldestAge() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.oldestAgeLocked(q.now())
}

// RemoveExpired removes every request older than maxAge and fails it with
// *ExpiredError. It returns the number removed.
func (q *PriorityQueue) RemoveExpired(maxAge time.Duration) int {
	now := q.now()
	var expired []*QueuedRequest

	q.mu.Lock()
	for p := range q.levels {
		kept := q.levels[p][:0]
		for _, req := range q.levels[p] {
			if req.Age(now) >= maxAge {
				expired = append(expired, req)
			} else {
				kept = append(kept, req)
			}
		}
		clear(q.levels[p][len(kept):])
		q.levels[p] = kept
	}
	q.expired += int64(len(expired))
	q.mu.Unlock()

	for _, req := range expired {
		req.complete(&ExpiredError{Age: req.Age(now)})
	}
	return len(expired)
}

// Cancel removes the request with id and fails it with ErrRequestCancelled.
// It returns false, changing nothing, when id is not queued.
func (q *PriorityQueue) Cancel(id string) bool {
	q.mu.Lock()
	var found *QueuedRequest
	for p := range q.levels {
		for i, req := range q.levels[p] {
			if req.ID == id {
				found = req
				q.levels[p] = append(q.levels[p][:i], q.levels[p][i+1:]...)
				break
			}
		}
		if found != nil {
			break
		}
	}
	if found != nil {
		q.cancelled++
	}
	q.mu.Unlock()

	if found == nil {
		return false
	}
	found.complete(ErrRequestCancelled)
	return true
}

// Clear removes every request and fails it with ErrQueueCleared.
// It returns the number removed.
func (q *PriorityQueue) Clear() int {
	var drained []*QueuedRequest

	q.mu.Lock()
	for p := range q.levels {
		drained = append(drained, q.levels[p]...)
		q.levels[p] = nil
	}
	q.mu.Unlock()

	for _, req := range drained {
		req.complete(ErrQueueCleared)
	}
	return len(drained)
}

// Metrics returns a snapshot of the queue.
func (q *PriorityQueue) Metrics() QueueMetrics {
	q.mu.Lock()
	defer q.mu.Unlock()

	m := QueueMetrics{
		Size:           q.sizeLocked(),
		SizeByPriority: make(map[string]int, len(q.levels)),
		OldestAge:      q.oldestAgeLocked(q.now()),
		Enqueued:       q.enqueued,
		Dequeued:       q.dequeued,
		Expired:        q.expired,
		Cancelled:      q.cancelled,
		Rejected:       make(map[string]int64, len(q.levels)),
	}
	for p := range q.levels {
		m.SizeByPriority[priorityNames[p]] = len(q.levels[p])
		m.Rejected[priorityNames[p]] = q.rejected[p]
	}
	return m
}

// ResetMetrics zeroes the counters without touching queued requests.
func (q *PriorityQueue) ResetMetrics() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueued, q.dequeued, q.expired, q.cancelled = 0, 0, 0, 0
	q.rejected = [len(priorityNames)]int64{}
}

func (q *PriorityQueue) sizeLocked() int {
	n := 0
	for p := range q.levels {
		n += len(q.levels[p])
	}
	return n
}

func (q *PriorityQueue) oldestAgeLocked(now time.Time) time.Duration {
	var oldest time.Duration
	for p := range q.levels {
		if len(q.levels[p]) > 0 {
			if age := q.levels[p][0].Age(now); age > oldest {
				oldest = age
			}
		}
	}
	return oldest
}
