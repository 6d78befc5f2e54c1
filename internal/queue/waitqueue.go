// SPDX-License-Identifier: MIT

package queue

import (
	"errors"
	"sync"

	"github.com/smartqueue/smartqueue/internal/metrics"
)

// ErrClosed is returned by Dequeue once the queue has been closed and
// drained.
var ErrClosed = errors.New("queue: closed")

// WaitQueue is a bounded FIFO of WorkItem. Size never exceeds maxSize;
// enqueue is totally ordered; dequeue yields items in enqueue order.
// TryReserve offers a cheap non-blocking size observation for the
// admission decision.
type WaitQueue struct {
	items   chan *WorkItem
	maxSize int

	mu     sync.Mutex
	size   int
	closed bool
}

// NewWaitQueue constructs a queue with the given capacity. Capacity is
// clamped to at least 1; callers validate this at config construction.
func NewWaitQueue(maxSize int) *WaitQueue {
	if maxSize < 1 {
		maxSize = 1
	}
	return &WaitQueue{
		items:   make(chan *WorkItem, maxSize),
		maxSize: maxSize,
	}
}

// TryReserve returns the current queue size without blocking. The
// admission controller uses this to decide reject-vs-enqueue; the
// returned size is advisory (see Enqueue for the reservation race).
func (q *WaitQueue) TryReserve() (size int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Enqueue appends item to the queue. It must only be called after the
// caller has observed size < maxSize via TryReserve. If the queue
// momentarily fills between observation and enqueue (a benign race under
// concurrent admission), Enqueue blocks briefly until space is
// available rather than rejecting — the earlier TryReserve check
// already bounds total pending work, so a transient block here is
// preferable to losing a request we already committed to admit.
func (q *WaitQueue) Enqueue(item *WorkItem) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.size++
	q.mu.Unlock()

	q.items <- item
	metrics.SetQueueSize(float64(q.TryReserve()))
	return nil
}

// Dequeue blocks until an item is available, returning ErrClosed once
// the queue has been closed and fully drained.
func (q *WaitQueue) Dequeue() (*WorkItem, error) {
	item, ok := <-q.items
	if !ok {
		return nil, ErrClosed
	}
	q.mu.Lock()
	q.size--
	q.mu.Unlock()
	metrics.SetQueueSize(float64(q.TryReserve()))
	return item, nil
}

// Close permits the dispatcher to exit once the queue drains. Used only
// at shutdown.
func (q *WaitQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	close(q.items)
}

// MaxSize returns the queue's configured capacity.
func (q *WaitQueue) MaxSize() int {
	return q.maxSize
}
