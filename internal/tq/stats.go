package tq

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Stats aggregates search behavior across a job's segments.
type Stats struct {
	// Rounds
	AvgRounds float64
	MinRounds int
	MaxRounds int

	// Prediction accuracy
	AvgPredictionDelta float64
	MaxPredictionDelta float64
	PredictedChunks    int

	// CRF distribution
	CRFMin    float64
	CRFMax    float64
	CRFMean   float64
	CRFStdDev float64

	// RoundsBreakdown counts segments by rounds used (4+ grouped).
	RoundsBreakdown map[int]int

	// SampledChunks counts segments that used sample probing.
	SampledChunks int

	// BoundExpansions counts expansion events across all segments.
	BoundExpansions int

	// Unconverged lists segments whose final score lies outside the
	// target window.
	Unconverged []int

	NumChunks int
}

// ComputeStats aggregates statistics from completed chunk results.
// Returns nil for an empty input.
func ComputeStats(results []*ChunkResult, target, tolerance float64) *Stats {
	if len(results) == 0 {
		return nil
	}

	stats := &Stats{
		RoundsBreakdown: make(map[int]int),
		MinRounds:       math.MaxInt,
		CRFMin:          math.MaxFloat64,
	}

	var totalRounds int
	var crfSum, predDeltaSum float64
	var crfValues []float64

	for _, r := range results {
		if r == nil || r.Status != StatusSucceeded {
			continue
		}
		stats.NumChunks++

		totalRounds += r.RoundsUsed
		stats.MinRounds = min(stats.MinRounds, r.RoundsUsed)
		stats.MaxRounds = max(stats.MaxRounds, r.RoundsUsed)
		stats.RoundsBreakdown[min(r.RoundsUsed, 4)]++

		crfValues = append(crfValues, r.FinalCRF)
		crfSum += r.FinalCRF
		stats.CRFMin = math.Min(stats.CRFMin, r.FinalCRF)
		stats.CRFMax = math.Max(stats.CRFMax, r.FinalCRF)

		if r.PredictedCRF != nil {
			delta := math.Abs(*r.PredictedCRF - r.FinalCRF)
			predDeltaSum += delta
			stats.MaxPredictionDelta = math.Max(stats.MaxPredictionDelta, delta)
			stats.PredictedChunks++
		}
		if r.UsedSampling {
			stats.SampledChunks++
		}
		stats.BoundExpansions += r.Expansions

		if math.Abs(r.FinalScore-target) > tolerance {
			stats.Unconverged = append(stats.Unconverged, r.Index)
		}
	}

	if stats.NumChunks == 0 {
		return nil
	}

	stats.AvgRounds = float64(totalRounds) / float64(stats.NumChunks)
	stats.CRFMean = crfSum / float64(stats.NumChunks)
	if stats.PredictedChunks > 0 {
		stats.AvgPredictionDelta = predDeltaSum / float64(stats.PredictedChunks)
	}

	var variance float64
	for _, v := range crfValues {
		variance += (v - stats.CRFMean) * (v - stats.CRFMean)
	}
	stats.CRFStdDev = math.Sqrt(variance / float64(stats.NumChunks))

	sort.Ints(stats.Unconverged)
	return stats
}

// Summary formats the stats for logs and the verbose reporter.
func (s *Stats) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "segments=%d rounds avg=%.1f min=%d max=%d",
		s.NumChunks, s.AvgRounds, s.MinRounds, s.MaxRounds)
	fmt.Fprintf(&b, " crf mean=%.1f sd=%.1f range=[%.0f, %.0f]",
		s.CRFMean, s.CRFStdDev, s.CRFMin, s.CRFMax)
	if s.PredictedChunks > 0 {
		fmt.Fprintf(&b, " prediction delta avg=%.1f max=%.1f (%d predicted)",
			s.AvgPredictionDelta, s.MaxPredictionDelta, s.PredictedChunks)
	}
	if s.BoundExpansions > 0 {
		fmt.Fprintf(&b, " expansions=%d", s.BoundExpansions)
	}
	if len(s.Unconverged) > 0 {
		fmt.Fprintf(&b, " unconverged=%v", s.Unconverged)
	}
	return b.String()
}
