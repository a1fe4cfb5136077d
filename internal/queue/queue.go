// Package queue holds not-yet-delivered events in enqueue order.
package queue

import (
	"sync"

	"github.com/outlithq/outlit-go/internal/event"
	"github.com/outlithq/outlit-go/pkg/telemetry"
)

// Queue is a bounded FIFO with a drop-oldest overflow policy. Enqueue is safe
// for concurrent producers; Drain is called by the single flusher goroutine.
type Queue struct {
	mu       sync.Mutex
	items    []event.Event
	capacity int
	metrics  *telemetry.Metrics
	closed   bool
}

// New returns a queue bounded at capacity events.
func New(capacity int, metrics *telemetry.Metrics) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		items:    make([]event.Event, 0, capacity),
		capacity: capacity,
		metrics:  metrics,
	}
}

// Enqueue appends ev, evicting the oldest unsent event when at capacity.
// Overflow is a metric, never an error: tracking must not interrupt the host.
func (q *Queue) Enqueue(ev event.Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	if len(q.items) >= q.capacity {
		over := len(q.items) - q.capacity + 1
		q.items = q.items[over:]
		for i := 0; i < over; i++ {
			q.metrics.QueueOverflow()
		}
	}
	q.items = append(q.items, ev)
	q.metrics.SetQueueDepth(len(q.items))
	return true
}

// Drain removes and returns up to max events from the head, atomically, so no
// event is ever drained twice.
func (q *Queue) Drain(max int) []event.Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	if max <= 0 || len(q.items) == 0 {
		return nil
	}
	if max > len(q.items) {
		max = len(q.items)
	}

	drained := make([]event.Event, max)
	copy(drained, q.items[:max])
	q.items = append(q.items[:0], q.items[max:]...)
	q.metrics.SetQueueDepth(len(q.items))
	return drained
}

// Requeue prepends a failed batch so it stays ahead of newer events. If the
// combined length exceeds capacity, the oldest requeued events are evicted
// first, preserving the drop-oldest policy.
func (q *Queue) Requeue(events []event.Event) {
	if len(events) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	combined := make([]event.Event, 0, len(events)+len(q.items))
	combined = append(combined, events...)
	combined = append(combined, q.items...)
	if over := len(combined) - q.capacity; over > 0 {
		combined = combined[over:]
		for i := 0; i < over; i++ {
			q.metrics.QueueOverflow()
		}
	}
	q.items = combined
	q.metrics.SetQueueDepth(len(q.items))
}

// Len reports the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects further enqueues. Drain keeps working so a final flush can
// empty the queue.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}
