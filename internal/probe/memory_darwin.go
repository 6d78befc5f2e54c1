// SPDX-License-Identifier: MIT

//go:build darwin

package probe

import (
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

func sysctlUint64(name string) (uint64, error) {
	out, err := exec.Command("sysctl", "-n", name).Output()
	if err != nil {
		return 0, fmt.Errorf("sysctl -n %s: %w", name, err)
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(out)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("sysctl -n %s: parse %q: %w", name, out, err)
	}
	return v, nil
}

type darwinMemSampler struct{}

func newMemSampler() memSampler {
	return darwinMemSampler{}
}

func (darwinMemSampler) sample() (memReading, error) {
	total, err := sysctlUint64("hw.memsize")
	if err != nil {
		return memReading{}, err
	}
	freePages, err := sysctlUint64("vm.page_free_count")
	if err != nil {
		return memReading{}, err
	}
	pageSize, err := sysctlUint64("vm.page_size")
	if err != nil {
		return memReading{}, err
	}

	free := freePages * pageSize
	if free > total {
		free = total
	}
	used := total - free

	var pct int
	if total > 0 {
		pct = int(math.Round(100 * float64(used) / float64(total)))
	}

	return memReading{
		Percent:        clampPercent(pct),
		TotalBytes:     total,
		UsedBytes:      used,
		AvailableBytes: free,
	}, nil
}
