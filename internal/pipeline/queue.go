package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/alanyoungcy/lobfeed/internal/domain"
	"github.com/alanyoungcy/lobfeed/internal/metrics"
)

// OverflowPolicy defines queue behavior when full.
type OverflowPolicy string

const (
	// PolicyBlock suspends the producer until space is available.
	PolicyBlock OverflowPolicy = "block"
	// PolicyDropOldest evicts the oldest item to make room.
	PolicyDropOldest OverflowPolicy = "drop_oldest"
)

// ParsePolicy validates a configured policy name.
func ParsePolicy(s string) (OverflowPolicy, error) {
	switch p := OverflowPolicy(s); p {
	case PolicyBlock, PolicyDropOldest:
		return p, nil
	default:
		return "", fmt.Errorf("pipeline: unknown overflow policy %q", s)
	}
}

// Queue is a FIFO queue with cancellable waits on both ends. A capacity of
// zero makes it unbounded and the policy irrelevant.
type Queue[T any] struct {
	name     string
	capacity int
	policy   OverflowPolicy
	metrics  *metrics.Metrics

	mu      sync.Mutex
	items   []T
	closed  bool
	dropped uint64

	// ready and space each hold at most one pending wake-up. A woken waiter
	// passes the signal on if the condition still holds for others.
	ready chan struct{}
	space chan struct{}
	done  chan struct{}
}

// NewQueue creates a queue. m may be nil.
func NewQueue[T any](name string, capacity int, policy OverflowPolicy, m *metrics.Metrics) *Queue[T] {
	if capacity < 0 {
		capacity = 0
	}
	if policy == "" {
		policy = PolicyBlock
	}
	return &Queue[T]{
		name:     name,
		capacity: capacity,
		policy:   policy,
		metrics:  m,
		ready:    make(chan struct{}, 1),
		space:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Name returns the queue label used in logs and metrics.
func (q *Queue[T]) Name() string { return q.name }

// Put appends v. On a full queue it either waits for space (block) or
// evicts the oldest item (drop_oldest). It returns domain.ErrQueueClosed
// once Close has been called, or ctx.Err() if cancelled while waiting.
func (q *Queue[T]) Put(ctx context.Context, v T) error {
	return q.put(ctx, v, true)
}

// TryPut appends v without waiting. A full block-policy queue returns
// domain.ErrQueueFull.
func (q *Queue[T]) TryPut(v T) error {
	return q.put(context.Background(), v, false)
}

func (q *Queue[T]) put(ctx context.Context, v T, wait bool) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return fmt.Errorf("pipeline: put %s: %w", q.name, domain.ErrQueueClosed)
		}
		if q.capacity == 0 || len(q.items) < q.capacity {
			q.push(v)
			if q.capacity > 0 && len(q.items) < q.capacity {
				signal(q.space)
			}
			q.mu.Unlock()
			return nil
		}
		if q.policy == PolicyDropOldest {
			var zero T
			q.items[0] = zero
			q.items = q.items[1:]
			q.dropped++
			q.push(v)
			q.mu.Unlock()
			q.metrics.QueueDropped(q.name)
			return nil
		}
		q.mu.Unlock()

		if !wait {
			return fmt.Errorf("pipeline: put %s: %w", q.name, domain.ErrQueueFull)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.done:
		case <-q.space:
		}
	}
}

// push appends under q.mu and wakes one consumer.
func (q *Queue[T]) push(v T) {
	q.items = append(q.items, v)
	q.metrics.QueueDepth(q.name, len(q.items))
	signal(q.ready)
}

// Get removes the oldest item, waiting until one is available. After Close
// the remaining items are still delivered; then domain.ErrQueueClosed is
// returned.
func (q *Queue[T]) Get(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if n := len(q.items); n > 0 {
			v := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			if n > 1 {
				signal(q.ready)
			}
			q.metrics.QueueDepth(q.name, n-1)
			q.mu.Unlock()
			signal(q.space)
			return v, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return zero, fmt.Errorf("pipeline: get %s: %w", q.name, domain.ErrQueueClosed)
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-q.done:
		case <-q.ready:
		}
	}
}

// Close stops the queue from accepting new items and releases all waiters.
// It is safe to call more than once.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many items drop_oldest has evicted.
func (q *Queue[T]) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
