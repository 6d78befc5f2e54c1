// SPDX-License-Identifier: MIT

//go:build linux

package probe

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// procMeminfoPath is a var so tests can point it at a synthetic fixture.
var procMeminfoPath = "/proc/meminfo"

func parseMeminfo(path string) (map[string]uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	out := make(map[string]uint64)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		val = strings.TrimSuffix(val, "kB")
		val = strings.TrimSpace(val)
		n, _ := strconv.ParseUint(val, 10, 64)
		out[key] = n * 1024 // meminfo values are in kB
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	return out, nil
}

type linuxMemSampler struct{}

func newMemSampler() memSampler {
	return &linuxMemSampler{}
}

func (linuxMemSampler) sample() (memReading, error) {
	kv, err := parseMeminfo(procMeminfoPath)
	if err != nil {
		return memReading{}, err
	}

	total, ok := kv["MemTotal"]
	if !ok {
		return memReading{}, fmt.Errorf("%s: missing MemTotal", procMeminfoPath)
	}

	available, ok := kv["MemAvailable"]
	if !ok {
		available = kv["MemFree"] + kv["Buffers"] + kv["Cached"]
	}
	if available > total {
		available = total
	}

	used := total - available

	var pct int
	if total > 0 {
		pct = int(math.Round(100 * float64(used) / float64(total)))
	}

	return memReading{
		Percent:        clampPercent(pct),
		TotalBytes:     total,
		UsedBytes:      used,
		AvailableBytes: available,
	}, nil
}
