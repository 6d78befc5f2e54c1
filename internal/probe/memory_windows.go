// SPDX-License-Identifier: MIT

//go:build windows

package probe

import (
	"fmt"
	"unsafe"
)

var procGlobalMemoryStatusEx = modkernel32.NewProc("GlobalMemoryStatusEx")

// memoryStatusEx mirrors the Win32 MEMORYSTATUSEX structure.
type memoryStatusEx struct {
	dwLength                uint32
	dwMemoryLoad            uint32
	ullTotalPhys            uint64
	ullAvailPhys            uint64
	ullTotalPageFile        uint64
	ullAvailPageFile        uint64
	ullTotalVirtual         uint64
	ullAvailVirtual         uint64
	ullAvailExtendedVirtual uint64
}

type windowsMemSampler struct{}

func newMemSampler() memSampler {
	return windowsMemSampler{}
}

func (windowsMemSampler) sample() (memReading, error) {
	var m memoryStatusEx
	m.dwLength = uint32(unsafe.Sizeof(m))

	r1, _, e1 := procGlobalMemoryStatusEx.Call(uintptr(unsafe.Pointer(&m)))
	if r1 == 0 {
		return memReading{}, fmt.Errorf("GlobalMemoryStatusEx: %w", e1)
	}

	return memReading{
		Percent:        clampPercent(int(m.dwMemoryLoad)),
		TotalBytes:     m.ullTotalPhys,
		UsedBytes:      m.ullTotalPhys - m.ullAvailPhys,
		AvailableBytes: m.ullAvailPhys,
	}, nil
}
