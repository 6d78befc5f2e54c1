// SPDX-License-Identifier: MIT

// Package queue provides the bounded wait queue and global permit pool
// the admission controller coordinates between.
package queue

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/smartqueue/smartqueue/internal/metrics"
)

// PermitPool is a counted semaphore limiting the number of downstream
// handler invocations executing at once. Acquire is cancellable by the
// caller's context, so an aborted request does not hold a dispatcher
// goroutine hostage.
type PermitPool struct {
	sem *semaphore.Weighted
	max int64
}

// NewPermitPool constructs a pool with maxConcurrent permits. A
// maxConcurrent below 1 is clamped to 1; callers validate this at config
// construction time.
func NewPermitPool(maxConcurrent int64) *PermitPool {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &PermitPool{
		sem: semaphore.NewWeighted(maxConcurrent),
		max: maxConcurrent,
	}
}

// Acquire blocks until a permit is available or ctx is cancelled.
func (p *PermitPool) Acquire(ctx context.Context) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	metrics.PermitsInUse.Inc()
	return nil
}

// Release returns one permit to the pool. Every successful Acquire must
// be paired with exactly one Release, including on panic/error paths
// (callers should `defer pool.Release()` immediately after Acquire
// succeeds).
func (p *PermitPool) Release() {
	p.sem.Release(1)
	metrics.PermitsInUse.Dec()
}

// Max returns the pool's configured capacity.
func (p *PermitPool) Max() int64 {
	return p.max
}
