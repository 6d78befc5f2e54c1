// SPDX-License-Identifier: MIT

package queue

import "time"

// WorkItem is an opaque deferred-invocation record. The admission
// controller owns the response handle until the completion resolves as
// StateDone or StateTimedOut; the dispatcher drives Run to completion.
// Exactly one of the two goroutines writes the response body.
type WorkItem struct {
	// Run executes the downstream handler. It must resolve Completion
	// exactly once (via its own bookkeeping, not WorkItem's) before
	// returning, and must not panic past its own boundary — callers
	// wrap Run so a panic still resolves Completion as StateFailed.
	Run func()

	// Completion is the one-shot terminal-state signal for this item.
	Completion *Completion

	// EnqueuedAt is the monotonic time the item entered the wait queue,
	// used only for wait-time logging/metrics.
	EnqueuedAt time.Time
}

// NewWorkItem constructs a WorkItem with a fresh completion signal and
// the current enqueue timestamp.
func NewWorkItem(run func()) *WorkItem {
	return &WorkItem{
		Run:        run,
		Completion: NewCompletion(),
		EnqueuedAt: time.Now(),
	}
}
