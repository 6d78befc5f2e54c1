// SPDX-License-Identifier: MIT

// Package dispatcher drains the admission controller's wait queue and
// launches each work item under a permit on its own goroutine, so a slow
// handler never stalls the dequeue loop.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/smartqueue/smartqueue/internal/log"
	"github.com/smartqueue/smartqueue/internal/metrics"
	"github.com/smartqueue/smartqueue/internal/queue"
)

// Dispatcher is a single long-lived loop draining a WaitQueue. It holds
// borrowed references to the pool and queue it serves; it owns no
// resources of its own beyond its goroutine.
type Dispatcher struct {
	pool       *queue.PermitPool
	wq         *queue.WaitQueue
	logEnabled bool
	done       chan struct{}
}

// New constructs a dispatcher bound to pool and wq. Callers call Start
// to launch its loop and Wait to join it after closing wq.
func New(pool *queue.PermitPool, wq *queue.WaitQueue, logEnabled bool) *Dispatcher {
	return &Dispatcher{
		pool:       pool,
		wq:         wq,
		logEnabled: logEnabled,
		done:       make(chan struct{}),
	}
}

// Start launches the dispatch loop on its own goroutine. It returns
// immediately.
func (d *Dispatcher) Start(ctx context.Context) {
	go d.run(ctx)
}

// Wait blocks until the dispatch loop has exited, which happens once the
// bound WaitQueue is closed and drained.
func (d *Dispatcher) Wait() {
	<-d.done
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)

	logger := log.WithComponent("dispatcher")

	for {
		item, err := d.wq.Dequeue()
		if err != nil {
			return
		}

		waitTime := time.Since(item.EnqueuedAt)
		metrics.ObserveQueueWait(waitTime.Seconds())
		if d.logEnabled {
			logger.Debug().
				Dur("wait", waitTime).
				Msg("dequeued work item")
		}

		// The permit is taken here, before launching, so that while every
		// permit is busy the loop stops dequeuing and later items stay in
		// the wait queue, where the admission controller's size check sees them.
		if err := d.pool.Acquire(ctx); err != nil {
			// Permit acquisition failed (e.g. context cancelled at
			// shutdown): unblock any controller still waiting.
			item.Completion.Resolve(queue.StateFailed, fmt.Errorf("dispatcher: acquire permit: %w", err))
			continue
		}

		go d.launch(item)
	}
}

// launch runs one item's execution under the permit the dispatch loop
// acquired for it, and releases that permit when the item returns. It
// tolerates items whose completion is already StateTimedOut: the work
// still runs under a permit to preserve concurrency accounting, and any
// result it tries to resolve is silently dropped by the already-settled
// completion.
func (d *Dispatcher) launch(item *queue.WorkItem) {
	defer d.pool.Release()

	item.Run()
}
