// SPDX-License-Identifier: MIT

//go:build linux

package probe

import (
	"os"
	"path/filepath"
	"testing"
)

func writeMeminfoFixture(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "meminfo")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestLinuxMemSampler_WithMemAvailable(t *testing.T) {
	path := writeMeminfoFixture(t, ""+
		"MemTotal:       10000000 kB\n"+
		"MemFree:         2000000 kB\n"+
		"MemAvailable:    4000000 kB\n"+
		"Buffers:          500000 kB\n"+
		"Cached:          1000000 kB\n",
	)
	orig := procMeminfoPath
	procMeminfoPath = path
	defer func() { procMeminfoPath = orig }()

	s := linuxMemSampler{}
	r, err := s.sample()
	if err != nil {
		t.Fatalf("sample: %v", err)
	}

	wantTotal := uint64(10000000 * 1024)
	wantAvail := uint64(4000000 * 1024)
	wantUsed := wantTotal - wantAvail

	if r.TotalBytes != wantTotal {
		t.Errorf("TotalBytes = %d, want %d", r.TotalBytes, wantTotal)
	}
	if r.AvailableBytes != wantAvail {
		t.Errorf("AvailableBytes = %d, want %d", r.AvailableBytes, wantAvail)
	}
	if r.UsedBytes != wantUsed {
		t.Errorf("UsedBytes = %d, want %d", r.UsedBytes, wantUsed)
	}
	wantPct := int(float64(wantUsed) / float64(wantTotal) * 100)
	if r.Percent < wantPct-1 || r.Percent > wantPct+1 {
		t.Errorf("Percent = %d, want ~%d", r.Percent, wantPct)
	}
}

func TestLinuxMemSampler_FallsBackWithoutMemAvailable(t *testing.T) {
	path := writeMeminfoFixture(t, ""+
		"MemTotal:       10000000 kB\n"+
		"MemFree:         2000000 kB\n"+
		"Buffers:          500000 kB\n"+
		"Cached:          1000000 kB\n",
	)
	orig := procMeminfoPath
	procMeminfoPath = path
	defer func() { procMeminfoPath = orig }()

	s := linuxMemSampler{}
	r, err := s.sample()
	if err != nil {
		t.Fatalf("sample: %v", err)
	}

	wantAvail := uint64((2000000 + 500000 + 1000000) * 1024)
	if r.AvailableBytes != wantAvail {
		t.Errorf("AvailableBytes = %d, want %d", r.AvailableBytes, wantAvail)
	}
}

func TestLinuxMemSampler_MissingTotalErrors(t *testing.T) {
	path := writeMeminfoFixture(t, "MemFree: 2000000 kB\n")
	orig := procMeminfoPath
	procMeminfoPath = path
	defer func() { procMeminfoPath = orig }()

	s := linuxMemSampler{}
	if _, err := s.sample(); err == nil {
		t.Error("expected error when MemTotal is missing")
	}
}
