package queue

import (
	"context"
	"sync/atomic"

	"github.com/ppiankov/sniffer/internal/event"
)

// DefaultCapacity is the number of events buffered between producers and
// the writer when no capacity is configured.
const DefaultCapacity = 1024

// Queue is a bounded FIFO of events with many producers and one consumer.
// Offer never blocks; Take blocks until an event arrives or ctx is done.
type Queue struct {
	ch       chan event.Event
	accepted atomic.Uint64
	dropped  atomic.Uint64
}

// New creates a queue holding at most capacity events.
// A capacity below 1 uses DefaultCapacity.
func New(capacity int) *Queue {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Queue{ch: make(chan event.Event, capacity)}
}

// Offer enqueues e if there is room and reports whether it was accepted.
// A full queue discards e.
func (q *Queue) Offer(e event.Event) bool {
	select {
	case q.ch <- e:
		q.accepted.Add(1)
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Take removes the oldest event. It returns ctx.Err() once ctx is done,
// even if events remain queued.
func (q *Queue) Take(ctx context.Context) (event.Event, error) {
	if err := ctx.Err(); err != nil {
		return event.Event{}, err
	}
	select {
	case e := <-q.ch:
		return e, nil
	case <-ctx.Done():
		return event.Event{}, ctx.Err()
	}
}

// Len is the number of events waiting.
func (q *Queue) Len() int { return len(q.ch) }

// Cap is the fixed capacity.
func (q *Queue) Cap() int { return cap(q.ch) }

// Accepted counts events that Offer enqueued.
func (q *Queue) Accepted() uint64 { return q.accepted.Load() }

// Dropped counts events that Offer discarded.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

// Discard counts an event rejected before it reached the queue, so drop
// statistics cover every producer-side loss.
func (q *Queue) Discard() { q.dropped.Add(1) }
