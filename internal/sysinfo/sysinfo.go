// Package sysinfo provides host introspection for scheduling decisions.
package sysinfo

import (
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// HostInfo contains information about the host system.
type HostInfo struct {
	Hostname      string
	LogicalCores  int
	PhysicalCores int
	TotalMemory   uint64
	OS            string
	Arch          string
}

// GetHostInfo collects host information for the hardware event.
func GetHostInfo() HostInfo {
	hostname, _ := os.Hostname()

	physical := runtime.NumCPU()
	if counts, err := cpu.Counts(false); err == nil && counts > 0 {
		physical = counts
	}

	var total uint64
	if vm, err := mem.VirtualMemory(); err == nil {
		total = vm.Total
	}

	return HostInfo{
		Hostname:      hostname,
		LogicalCores:  runtime.NumCPU(),
		PhysicalCores: physical,
		TotalMemory:   total,
		OS:            runtime.GOOS,
		Arch:          runtime.GOARCH,
	}
}

// AvailableMemoryBytes returns the memory currently available for new
// allocations, or 0 if it cannot be determined.
func AvailableMemoryBytes() uint64 {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0
	}
	return vm.Available
}

// MaxTokensForMemory calculates how many memory tokens of tokenBytes each
// fit in memFraction of available memory. Returns at least 1 so encoding
// can always make progress on constrained hosts.
func MaxTokensForMemory(tokenBytes uint64, memFraction float64) int64 {
	if tokenBytes == 0 {
		return 1
	}
	available := AvailableMemoryBytes()
	if available == 0 {
		return 1
	}

	usable := uint64(float64(available) * memFraction)
	if usable < tokenBytes {
		return 1
	}
	return int64(usable / tokenBytes)
}

// DefaultWorkers returns the default parallel job count.
func DefaultWorkers() int {
	return runtime.NumCPU()
}
