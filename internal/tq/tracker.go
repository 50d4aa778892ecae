package tq

import "sync"

// predictorNeighbors is how many completed segments feed a prediction.
const predictorNeighbors = 4

// CRFTracker records completed segment CRF values and predicts starting
// CRFs for new segments from their nearest completed neighbors.
// Recording is order-independent: any permutation of the same
// completions yields the same predictions.
type CRFTracker struct {
	mu      sync.RWMutex
	results map[int]float64 // segment index -> final CRF
}

// NewTracker creates a CRF tracker.
func NewTracker() *CRFTracker {
	return &CRFTracker{results: make(map[int]float64)}
}

// Record stores the final CRF value for a completed segment.
func (t *CRFTracker) Record(segmentIdx int, crf float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.results[segmentIdx] = crf
}

// Predict returns a predicted CRF for the given segment index as a
// 1/distance weighted average of up to four nearest completed segments,
// rounded to the nearest integer CRF. Returns nil when no completions
// exist yet.
func (t *CRFTracker) Predict(segmentIdx int) *float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.results) == 0 {
		return nil
	}

	type neighbor struct {
		idx  int
		dist int
		crf  float64
	}

	neighbors := make([]neighbor, 0, len(t.results))
	for idx, crf := range t.results {
		dist := segmentIdx - idx
		if dist < 0 {
			dist = -dist
		}
		neighbors = append(neighbors, neighbor{idx, dist, crf})
	}

	// Insertion sort by distance, index as tiebreak for determinism.
	closer := func(a, b neighbor) bool {
		if a.dist != b.dist {
			return a.dist < b.dist
		}
		return a.idx < b.idx
	}
	for i := 1; i < len(neighbors); i++ {
		for j := i; j > 0 && closer(neighbors[j], neighbors[j-1]); j-- {
			neighbors[j], neighbors[j-1] = neighbors[j-1], neighbors[j]
		}
	}

	if len(neighbors) > predictorNeighbors {
		neighbors = neighbors[:predictorNeighbors]
	}

	var weightedSum, weightSum float64
	for _, n := range neighbors {
		if n.dist == 0 {
			crf := n.crf
			return &crf
		}
		weight := 1.0 / float64(n.dist)
		weightedSum += n.crf * weight
		weightSum += weight
	}

	if weightSum == 0 {
		return nil
	}
	result := roundCRF(weightedSum / weightSum)
	return &result
}

// Count returns the number of recorded results.
func (t *CRFTracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.results)
}

// Snapshot returns a copy of the recorded results, used when
// checkpointing predictor state.
func (t *CRFTracker) Snapshot() map[int]float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[int]float64, len(t.results))
	for k, v := range t.results {
		out[k] = v
	}
	return out
}

// Restore replaces tracker state from a checkpoint snapshot.
func (t *CRFTracker) Restore(results map[int]float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.results = make(map[int]float64, len(results))
	for k, v := range results {
		t.results[k] = v
	}
}
