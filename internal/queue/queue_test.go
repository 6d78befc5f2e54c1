// SPDX-License-Identifier: MIT

package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestPermitPool_BoundsConcurrency(t *testing.T) {
	pool := NewPermitPool(2)

	ctx := context.Background()
	if err := pool.Acquire(ctx); err != nil {
		t.Fatalf("Acquire 1: %v", err)
	}
	if err := pool.Acquire(ctx); err != nil {
		t.Fatalf("Acquire 2: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		_ = pool.Acquire(context.Background())
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("third Acquire should have blocked while pool is saturated")
	case <-time.After(50 * time.Millisecond):
	}

	pool.Release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("third Acquire did not unblock after Release")
	}

	pool.Release()
}

func TestPermitPool_AcquireRespectsContextCancellation(t *testing.T) {
	pool := NewPermitPool(1)
	if err := pool.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := pool.Acquire(ctx); err == nil {
		t.Fatal("expected Acquire to fail once ctx deadline passes")
	}
}

func TestPermitPool_ClampsBelowOne(t *testing.T) {
	pool := NewPermitPool(0)
	if pool.Max() != 1 {
		t.Fatalf("Max() = %d, want clamped to 1", pool.Max())
	}
}

func TestCompletion_ResolveIsAtMostOnce(t *testing.T) {
	c := NewCompletion()

	if !c.Resolve(StateDone, nil) {
		t.Fatal("first Resolve should succeed")
	}
	if c.Resolve(StateTimedOut, nil) {
		t.Fatal("second Resolve should be a no-op")
	}

	state, err := c.Result()
	if state != StateDone || err != nil {
		t.Fatalf("Result() = (%v, %v), want (StateDone, nil)", state, err)
	}

	select {
	case <-c.Done():
	default:
		t.Fatal("Done() channel should be closed after Resolve")
	}
}

func TestCompletion_ConcurrentResolveExactlyOneWinner(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c := NewCompletion()
	const n = 50
	wins := make(chan bool, n)

	for i := 0; i < n; i++ {
		go func() {
			wins <- c.Resolve(StateDone, nil)
		}()
	}

	winners := 0
	for i := 0; i < n; i++ {
		if <-wins {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}
}

func TestWaitQueue_FIFOOrder(t *testing.T) {
	q := NewWaitQueue(10)
	defer q.Close()

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		item := NewWorkItem(func() { order = append(order, i) })
		if err := q.Enqueue(item); err != nil {
			t.Fatalf("Enqueue(%d): %v", i, err)
		}
	}

	for i := 0; i < 5; i++ {
		item, err := q.Dequeue()
		if err != nil {
			t.Fatalf("Dequeue: %v", err)
		}
		item.Run()
	}

	for i, v := range order {
		if v != i {
			t.Fatalf("order[%d] = %d, want %d (FIFO violated)", i, v, i)
		}
	}
}

func TestWaitQueue_TryReserveTracksSize(t *testing.T) {
	q := NewWaitQueue(3)
	defer q.Close()

	if got := q.TryReserve(); got != 0 {
		t.Fatalf("TryReserve() = %d, want 0", got)
	}

	if err := q.Enqueue(NewWorkItem(func() {})); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if got := q.TryReserve(); got != 1 {
		t.Fatalf("TryReserve() = %d, want 1", got)
	}

	if _, err := q.Dequeue(); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if got := q.TryReserve(); got != 0 {
		t.Fatalf("TryReserve() = %d, want 0 after dequeue", got)
	}
}

func TestWaitQueue_NeverExceedsMaxSize(t *testing.T) {
	q := NewWaitQueue(2)
	defer q.Close()

	if err := q.Enqueue(NewWorkItem(func() {})); err != nil {
		t.Fatalf("Enqueue 1: %v", err)
	}
	if err := q.Enqueue(NewWorkItem(func() {})); err != nil {
		t.Fatalf("Enqueue 2: %v", err)
	}

	blocked := make(chan error, 1)
	go func() {
		blocked <- q.Enqueue(NewWorkItem(func() {}))
	}()

	select {
	case <-blocked:
		t.Fatal("third Enqueue should block while queue is at capacity")
	case <-time.After(50 * time.Millisecond):
	}

	if _, err := q.Dequeue(); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}

	select {
	case err := <-blocked:
		if err != nil {
			t.Fatalf("third Enqueue: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("third Enqueue did not unblock after a Dequeue freed capacity")
	}
}

func TestWaitQueue_CloseDrainsThenErrClosed(t *testing.T) {
	q := NewWaitQueue(2)
	if err := q.Enqueue(NewWorkItem(func() {})); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	q.Close()

	if _, err := q.Dequeue(); err != nil {
		t.Fatalf("Dequeue of buffered item after Close: %v", err)
	}
	if _, err := q.Dequeue(); !errors.Is(err, ErrClosed) {
		t.Fatalf("Dequeue after drain: got %v, want ErrClosed", err)
	}

	if err := q.Enqueue(NewWorkItem(func() {})); !errors.Is(err, ErrClosed) {
		t.Fatalf("Enqueue after Close: got %v, want ErrClosed", err)
	}
}

func TestWaitQueue_CloseIsIdempotent(t *testing.T) {
	q := NewWaitQueue(1)
	q.Close()
	q.Close()
}
