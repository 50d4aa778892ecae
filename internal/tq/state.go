package tq

import "math"

// predictionSpread is how far search bounds extend around a predicted CRF.
const predictionSpread = 5.0

// boundExpansionStep is how far a crossed bound is pushed outward.
const boundExpansionStep = 5.0

// Probe represents a single encoding attempt at a specific CRF value.
type Probe struct {
	// CRF is the quality parameter used for this probe.
	CRF float64

	// Score is the aggregated perceptual score for this probe.
	Score float64

	// FrameScores contains the measured per-frame scores.
	FrameScores []float64

	// Size is the probe output size in bytes.
	Size uint64
}

// State tracks the iterative CRF search state for a single segment.
type State struct {
	// Probes contains all completed encoding attempts, append-only.
	Probes []Probe

	// SearchMin and SearchMax define the current CRF search bounds.
	SearchMin float64
	SearchMax float64

	// QPMin and QPMax are the original (hard) CRF bounds that cannot be
	// exceeded.
	QPMin float64
	QPMax float64

	// Round is the current iteration number (1-indexed).
	Round int

	// Target is the desired perceptual score.
	Target float64

	// LastCRF is the CRF value used in the most recent probe.
	LastCRF float64

	// Expansions counts bound expansions performed so far.
	Expansions int
}

// NewState creates a new TQ state for a segment. If predictedCRF is
// non-nil, the search bounds narrow to [predicted-5, predicted+5]
// clamped to [qpMin, qpMax]. Otherwise the full range is used.
func NewState(target, qpMin, qpMax float64, predictedCRF *float64) *State {
	searchMin := qpMin
	searchMax := qpMax

	if predictedCRF != nil {
		searchMin = math.Max(qpMin, *predictedCRF-predictionSpread)
		searchMax = math.Min(qpMax, *predictedCRF+predictionSpread)
	}

	return &State{
		Probes:    make([]Probe, 0, 8),
		SearchMin: searchMin,
		SearchMax: searchMax,
		QPMin:     qpMin,
		QPMax:     qpMax,
		Target:    target,
	}
}

// AddProbe records a completed probe result.
func (s *State) AddProbe(crf, score float64, frameScores []float64, size uint64) {
	s.Probes = append(s.Probes, Probe{
		CRF:         crf,
		Score:       score,
		FrameScores: frameScores,
		Size:        size,
	})
}

// BestProbe returns the probe whose score is closest to the target,
// breaking ties toward the higher CRF (smaller output).
func (s *State) BestProbe() *Probe {
	if len(s.Probes) == 0 {
		return nil
	}

	best := &s.Probes[0]
	bestDiff := math.Abs(best.Score - s.Target)

	for i := 1; i < len(s.Probes); i++ {
		diff := math.Abs(s.Probes[i].Score - s.Target)
		if diff < bestDiff || (diff == bestDiff && s.Probes[i].CRF > best.CRF) {
			best = &s.Probes[i]
			bestDiff = diff
		}
	}

	return best
}

// ProbeEntry is a compact probe record for logging and statistics.
type ProbeEntry struct {
	CRF   float64
	Score float64
	Size  uint64
}

// ProbeEntries returns compact records of all probes in order.
func (s *State) ProbeEntries() []ProbeEntry {
	entries := make([]ProbeEntry, len(s.Probes))
	for i, p := range s.Probes {
		entries[i] = ProbeEntry{CRF: p.CRF, Score: p.Score, Size: p.Size}
	}
	return entries
}
