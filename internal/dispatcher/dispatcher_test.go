// SPDX-License-Identifier: MIT

package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/smartqueue/smartqueue/internal/queue"
)

func TestDispatcher_RunsEnqueuedItemsUnderPermit(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	pool := queue.NewPermitPool(1)
	wq := queue.NewWaitQueue(4)
	d := New(pool, wq, false)

	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)

	var mu sync.Mutex
	var ran []int
	var wg sync.WaitGroup

	for i := 0; i < 3; i++ {
		i := i
		wg.Add(1)
		item := queue.NewWorkItem(func() {
			defer wg.Done()
			mu.Lock()
			ran = append(ran, i)
			mu.Unlock()
		})
		if err := wq.Enqueue(item); err != nil {
			t.Fatalf("Enqueue(%d): %v", i, err)
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not run all enqueued items in time")
	}

	mu.Lock()
	n := len(ran)
	mu.Unlock()
	if n != 3 {
		t.Fatalf("ran %d items, want 3", n)
	}

	wq.Close()
	d.Wait()
	cancel()
}

func TestDispatcher_ToleratesAlreadyTimedOutCompletion(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	pool := queue.NewPermitPool(1)
	wq := queue.NewWaitQueue(1)
	d := New(pool, wq, false)

	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)

	ran := make(chan struct{})
	item := queue.NewWorkItem(func() { close(ran) })
	if !item.Completion.Resolve(queue.StateTimedOut, nil) {
		t.Fatal("Resolve should succeed on a fresh completion")
	}

	if err := wq.Enqueue(item); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("dispatcher should still run an item whose completion is already timed out")
	}

	if resolved := item.Completion.Resolve(queue.StateDone, nil); resolved {
		t.Fatal("Resolve after the work ran should be a no-op; completion was already settled")
	}

	wq.Close()
	d.Wait()
	cancel()
}

func TestDispatcher_AcquireFailureSettlesFailed(t *testing.T) {
	pool := queue.NewPermitPool(1)
	wq := queue.NewWaitQueue(1)
	d := New(pool, wq, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // already-cancelled: Acquire fails immediately
	d.Start(ctx)

	item := queue.NewWorkItem(func() {})
	if err := wq.Enqueue(item); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case <-item.Completion.Done():
	case <-time.After(time.Second):
		t.Fatal("completion should settle even when permit acquisition fails")
	}

	state, err := item.Completion.Result()
	if state != queue.StateFailed || err == nil {
		t.Fatalf("Result() = (%v, %v), want (StateFailed, non-nil)", state, err)
	}

	wq.Close()
	d.Wait()
}
