// Package sched coordinates the parallel segment-encoding pipeline:
// worker pool, memory admission, retry policy, and completion ordering.
package sched

import (
	"sync"

	"github.com/five82/lathe/internal/segment"
)

// Dispatcher tracks segment state and picks the next segment to encode.
// It prefers segments adjacent to already-completed ones so the CRF
// predictor has warm neighbors to work from.
type Dispatcher struct {
	mu        sync.Mutex
	ready     map[int]segment.Segment
	completed map[int]bool
}

// NewDispatcher creates a dispatcher over the not-yet-completed segments.
func NewDispatcher(segments []segment.Segment, done map[int]bool) *Dispatcher {
	ready := make(map[int]segment.Segment, len(segments))
	completed := make(map[int]bool, len(done))
	for _, seg := range segments {
		if done[seg.Index] {
			completed[seg.Index] = true
			continue
		}
		ready[seg.Index] = seg
	}
	return &Dispatcher{ready: ready, completed: completed}
}

// Next returns the next segment to process: the one nearest to any
// completed segment, or the lowest index when nothing has completed.
// Returns false when no segments remain.
func (d *Dispatcher) Next() (segment.Segment, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.ready) == 0 {
		return segment.Segment{}, false
	}

	if len(d.completed) == 0 {
		return d.pickLowestLocked(), true
	}

	var best segment.Segment
	bestDist := -1
	for _, seg := range d.ready {
		dist := d.minDistToCompletedLocked(seg.Index)
		if bestDist < 0 || dist < bestDist || (dist == bestDist && seg.Index < best.Index) {
			best = seg
			bestDist = dist
		}
	}

	delete(d.ready, best.Index)
	return best, true
}

// Requeue returns a segment to the ready pool after a retryable failure.
func (d *Dispatcher) Requeue(seg segment.Segment) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ready[seg.Index] = seg
}

// MarkComplete records a segment as completed.
func (d *Dispatcher) MarkComplete(idx int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.completed[idx] = true
	delete(d.ready, idx)
}

// Remaining returns the count of unstarted segments.
func (d *Dispatcher) Remaining() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.ready)
}

func (d *Dispatcher) pickLowestLocked() segment.Segment {
	lowestIdx := -1
	var lowest segment.Segment
	for idx, seg := range d.ready {
		if lowestIdx < 0 || idx < lowestIdx {
			lowestIdx = idx
			lowest = seg
		}
	}
	delete(d.ready, lowestIdx)
	return lowest
}

func (d *Dispatcher) minDistToCompletedLocked(idx int) int {
	minDist := -1
	for c := range d.completed {
		dist := idx - c
		if dist < 0 {
			dist = -dist
		}
		if minDist < 0 || dist < minDist {
			minDist = dist
		}
	}
	return minDist
}
