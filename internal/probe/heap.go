// SPDX-License-Identifier: MIT

package probe

import "runtime"

// runtimeHeapBytes reports the Go runtime's current heap allocation.
// Platform-independent: every memSampler implementation defers to this
// for the RuntimeHeapBytes field rather than reading it from the OS.
func runtimeHeapBytes() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}
