// SPDX-License-Identifier: MIT

// Package probe provides cross-platform CPU and memory utilisation
// sampling for the admission controller. Each probe samples on its own
// ~1Hz timer and publishes a snapshot with a single atomic swap;
// CurrentPercent and Detail are O(1), lock-free reads of the last
// published snapshot and never block on I/O.
package probe

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/smartqueue/smartqueue/internal/log"
	"github.com/smartqueue/smartqueue/internal/metrics"
)

const defaultInterval = time.Second

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// deltaU64 returns curr-prev, or 0 on counter wrap (curr < prev).
func deltaU64(prev, curr uint64) uint64 {
	if curr < prev {
		return 0
	}
	return curr - prev
}

// cpuSampler produces one CPU utilisation reading. Implementations are
// stateful: they track the previous tick's counters to compute a delta.
type cpuSampler interface {
	sample() (percent int, err error)
}

// CPU periodically samples CPU utilisation and publishes the last value
// for lock-free reads.
type CPU struct {
	sampler    cpuSampler
	current    atomic.Int64
	interval   time.Duration
	logEnabled bool
	sfg        singleflight.Group
}

// NewCPU constructs a CPU probe using the platform-appropriate sampler.
// logEnabled gates failure logging only; sampling and publication are
// unconditional.
func NewCPU(logEnabled bool) *CPU {
	c := &CPU{
		sampler:    newCPUSampler(),
		interval:   defaultInterval,
		logEnabled: logEnabled,
	}
	c.current.Store(0)
	return c
}

// Start launches the sampling timer. It returns immediately; sampling
// continues on its own goroutine until ctx is cancelled.
func (c *CPU) Start(ctx context.Context) {
	go c.run(ctx)
}

func (c *CPU) run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick()
		}
	}
}

func (c *CPU) tick() {
	pct, err := c.sampler.sample()
	if err != nil {
		if c.logEnabled {
			log.WithComponent("probe.cpu").Warn().Err(err).Msg("cpu sample failed, reusing last value")
		}
		return
	}
	c.current.Store(int64(pct))
	metrics.SetCPUPercent(float64(pct))
}

// CurrentPercent returns the last-published CPU utilisation, 0-100.
// O(1), lock-free, never blocks.
func (c *CPU) CurrentPercent() int {
	return int(c.current.Load())
}

// Refresh forces an out-of-band sample, collapsing concurrent callers
// into a single underlying read, for callers that want a fresher value
// than the next tick. The admission decision path and cmd/demo's
// diagnostic endpoints never call this; they read the last published value.
func (c *CPU) Refresh(_ context.Context) (int, error) {
	v, err, _ := c.sfg.Do("cpu", func() (interface{}, error) {
		pct, err := c.sampler.sample()
		if err != nil {
			return c.CurrentPercent(), err
		}
		c.current.Store(int64(pct))
		metrics.SetCPUPercent(float64(pct))
		return pct, nil
	})
	return v.(int), err
}

// memReading is a platform sampler's raw output before the runtime heap
// figure (which is platform-independent) is folded in.
type memReading struct {
	Percent        int
	TotalBytes     uint64
	UsedBytes      uint64
	AvailableBytes uint64
}

type memSampler interface {
	sample() (memReading, error)
}

// MemorySample is an immutable snapshot published atomically by Memory.
type MemorySample struct {
	Percent          int
	TotalBytes       uint64
	UsedBytes        uint64
	AvailableBytes   uint64
	RuntimeHeapBytes uint64
}

// Memory periodically samples memory utilisation and publishes the last
// snapshot for lock-free reads.
type Memory struct {
	sampler    memSampler
	current    atomic.Pointer[MemorySample]
	interval   time.Duration
	logEnabled bool
	sfg        singleflight.Group
}

// NewMemory constructs a Memory probe using the platform-appropriate sampler.
func NewMemory(logEnabled bool) *Memory {
	m := &Memory{
		sampler:    newMemSampler(),
		interval:   defaultInterval,
		logEnabled: logEnabled,
	}
	m.current.Store(&MemorySample{})
	return m
}

// Start launches the sampling timer.
func (m *Memory) Start(ctx context.Context) {
	go m.run(ctx)
}

func (m *Memory) run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

func (m *Memory) tick() {
	snap, err := m.sampleSnapshot()
	if err != nil {
		if m.logEnabled {
			log.WithComponent("probe.memory").Warn().Err(err).Msg("memory sample failed, reusing last value")
		}
		return
	}
	m.current.Store(snap)
	metrics.SetMemoryPercent(float64(snap.Percent))
}

func (m *Memory) sampleSnapshot() (*MemorySample, error) {
	r, err := m.sampler.sample()
	if err != nil {
		return nil, err
	}
	return &MemorySample{
		Percent:          clampPercent(r.Percent),
		TotalBytes:       r.TotalBytes,
		UsedBytes:        r.UsedBytes,
		AvailableBytes:   r.AvailableBytes,
		RuntimeHeapBytes: runtimeHeapBytes(),
	}, nil
}

// CurrentPercent returns the last-published memory utilisation, 0-100.
func (m *Memory) CurrentPercent() int {
	return m.current.Load().Percent
}

// Detail returns the full last-published snapshot, in bytes.
func (m *Memory) Detail() MemorySample {
	return *m.current.Load()
}

// MemoryDetail is the MB-denominated view of a MemorySample exposed to the
// auxiliary diagnostic interface (spec §4.2/§6): totalMB, usedMB,
// availableMB, heapMB.
type MemoryDetail struct {
	TotalMB     uint64
	UsedMB      uint64
	AvailableMB uint64
	HeapMB      uint64
}

const bytesPerMiB = 1024 * 1024

// DetailMB returns the last-published snapshot converted to whole MiB.
func (m *Memory) DetailMB() MemoryDetail {
	s := m.Detail()
	return MemoryDetail{
		TotalMB:     s.TotalBytes / bytesPerMiB,
		UsedMB:      s.UsedBytes / bytesPerMiB,
		AvailableMB: s.AvailableBytes / bytesPerMiB,
		HeapMB:      s.RuntimeHeapBytes / bytesPerMiB,
	}
}

// Refresh forces an out-of-band sample, collapsing concurrent callers
// into a single underlying read.
func (m *Memory) Refresh(_ context.Context) (MemorySample, error) {
	v, err, _ := m.sfg.Do("memory", func() (interface{}, error) {
		snap, err := m.sampleSnapshot()
		if err != nil {
			return *m.current.Load(), err
		}
		m.current.Store(snap)
		metrics.SetMemoryPercent(float64(snap.Percent))
		return *snap, nil
	})
	return v.(MemorySample), err
}
