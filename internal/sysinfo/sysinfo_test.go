package sysinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetHostInfo(t *testing.T) {
	info := GetHostInfo()
	assert.Greater(t, info.LogicalCores, 0)
	assert.Greater(t, info.PhysicalCores, 0)
	assert.NotEmpty(t, info.OS)
}

func TestMaxTokensForMemory(t *testing.T) {
	// Zero-cost tokens always admit at least one.
	assert.Equal(t, int64(1), MaxTokensForMemory(0, 0.5))

	// A token bigger than all memory still admits one.
	assert.Equal(t, int64(1), MaxTokensForMemory(1<<62, 0.5))

	// A tiny token admits many.
	if AvailableMemoryBytes() > 0 {
		assert.Greater(t, MaxTokensForMemory(1<<20, 0.5), int64(1))
	}
}

func TestDefaultWorkers(t *testing.T) {
	assert.Greater(t, DefaultWorkers(), 0)
}
