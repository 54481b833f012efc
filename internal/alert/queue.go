package alert

import (
	"context"
	"fmt"
	"sync"

	"github.com/coachpo/spreadwatch/internal/schema"
)

// Queue is a bounded in-memory alert buffer. When full, the oldest event is
// dropped to make room, so a stalled outbound channel never blocks the engine.
type Queue struct {
	mu       sync.Mutex
	capacity int
	events   []schema.AlertEvent
	dropped  uint64
}

var _ Sink = (*Queue)(nil)

// NewQueue creates a queue with the provided capacity. Capacity <= 0 implies
// unbounded.
func NewQueue(capacity int) *Queue {
	queue := new(Queue)
	queue.capacity = capacity
	queue.events = make([]schema.AlertEvent, 0)
	return queue
}

// Enqueue appends the event, evicting the oldest entry when at capacity.
func (q *Queue) Enqueue(ctx context.Context, event schema.AlertEvent) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return fmt.Errorf("alert queue enqueue context: %w", ctx.Err())
		default:
		}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.capacity > 0 && len(q.events) >= q.capacity {
		copy(q.events[0:], q.events[1:])
		q.events[len(q.events)-1] = event
		q.dropped++
		return nil
	}
	q.events = append(q.events, event)
	return nil
}

// Drain retrieves and clears all queued events in production order.
func (q *Queue) Drain() []schema.AlertEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	drained := make([]schema.AlertEvent, len(q.events))
	copy(drained, q.events)
	q.events = q.events[:0]
	return drained
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Dropped returns how many events were evicted to make room.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
