package sched

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/five82/lathe/internal/analysis"
	"github.com/five82/lathe/internal/config"
	"github.com/five82/lathe/internal/sysinfo"
)

// tierMemoryScale scales the configured per-job memory cost by
// resolution tier. UHD encodes hold far larger working sets.
func tierMemoryScale(tier analysis.ResolutionTier) float64 {
	switch tier {
	case analysis.TierUHD:
		return 2.0
	case analysis.TierHD:
		return 1.0
	default:
		return 0.5
	}
}

// MemoryTokens is the admission gate limiting concurrent encodes by
// estimated memory footprint. Capacity and costs are in bytes, enforced
// with a weighted semaphore.
type MemoryTokens struct {
	sem      *semaphore.Weighted
	jobBytes int64
	capacity int64
}

// NewMemoryTokens sizes the token pool from available memory and the
// per-job estimate for the source's resolution tier. Capacity always
// admits at least one job so encoding can proceed on small hosts.
func NewMemoryTokens(cfg *config.Config, tier analysis.ResolutionTier, workers int) *MemoryTokens {
	jobBytes := int64(float64(cfg.MemoryPerJobMB<<20) * tierMemoryScale(tier))
	if jobBytes < 1 {
		jobBytes = 1
	}

	capacity := int64(float64(sysinfo.AvailableMemoryBytes()) * cfg.MemoryFraction)
	// Never allow more in-flight jobs than workers, and never fewer
	// than one.
	if maxUseful := jobBytes * int64(workers); capacity > maxUseful {
		capacity = maxUseful
	}
	if capacity < jobBytes {
		capacity = jobBytes
	}

	return &MemoryTokens{
		sem:      semaphore.NewWeighted(capacity),
		jobBytes: jobBytes,
		capacity: capacity,
	}
}

// Acquire blocks until one job's worth of memory tokens is available or
// the context is cancelled.
func (t *MemoryTokens) Acquire(ctx context.Context) error {
	return t.sem.Acquire(ctx, t.jobBytes)
}

// Release returns one job's tokens to the pool.
func (t *MemoryTokens) Release() {
	t.sem.Release(t.jobBytes)
}

// MaxInFlight returns how many jobs the pool can admit concurrently.
func (t *MemoryTokens) MaxInFlight() int {
	return int(t.capacity / t.jobBytes)
}
