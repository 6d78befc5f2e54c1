// SPDX-License-Identifier: MIT

//go:build !linux && !darwin && !windows

package probe

import (
	"math"
	"runtime"
	"syscall"
	"time"
)

// otherCPUSampler falls back to the self-process CPU fraction over a short
// sample window: (Δprocess_cpu_time / (cpus · Δwall)) · 100.
type otherCPUSampler struct {
	havePrev    bool
	prevCPUTime time.Duration
	prevWall    time.Time
	lastPercent int
}

func newCPUSampler() cpuSampler {
	return &otherCPUSampler{}
}

func processCPUTime() (time.Duration, error) {
	var ru syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &ru); err != nil {
		return 0, err
	}
	user := time.Duration(ru.Utime.Sec)*time.Second + time.Duration(ru.Utime.Usec)*time.Microsecond
	sys := time.Duration(ru.Stime.Sec)*time.Second + time.Duration(ru.Stime.Usec)*time.Microsecond
	return user + sys, nil
}

func (s *otherCPUSampler) sample() (int, error) {
	now := time.Now()
	cpuTime, err := processCPUTime()
	if err != nil {
		return s.lastPercent, err
	}

	if !s.havePrev {
		s.prevCPUTime, s.prevWall = cpuTime, now
		s.havePrev = true
		s.lastPercent = 0
		return 0, nil
	}

	dCPU := cpuTime - s.prevCPUTime
	dWall := now.Sub(s.prevWall)
	s.prevCPUTime, s.prevWall = cpuTime, now

	if dWall <= 0 {
		return s.lastPercent, nil
	}

	cpus := float64(runtime.NumCPU())
	pct := int(math.Round(100 * dCPU.Seconds() / (cpus * dWall.Seconds())))
	s.lastPercent = clampPercent(pct)
	return s.lastPercent, nil
}
