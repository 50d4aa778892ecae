// Package tq provides target quality encoding support with iterative CRF search.
package tq

import (
	"math"
	"sort"

	"github.com/five82/lathe/internal/config"
)

// Config holds target quality search configuration.
type Config struct {
	// Target is the desired perceptual score.
	Target float64

	// Tolerance is the acceptable deviation from Target.
	Tolerance float64

	// QPMin and QPMax define the hard CRF search bounds.
	QPMin float64
	QPMax float64

	// MaxRounds is the maximum number of iterations before accepting the
	// best result so far.
	MaxRounds int

	// Metric aggregates per-frame scores.
	Metric config.MetricMode

	// SampleDuration is the probe sample slice length in seconds.
	SampleDuration float64

	// SampleMinChunk is the minimum segment duration for sample probing.
	SampleMinChunk float64

	// SampleWarmup is the warmup lead-in discarded from probe scoring.
	SampleWarmup float64
}

// FromAppConfig builds the search configuration from the application config.
func FromAppConfig(cfg *config.Config) *Config {
	metric, _ := config.ParseMetricMode(cfg.MetricMode)
	return &Config{
		Target:         cfg.TargetScore(),
		Tolerance:      cfg.ScoreTolerance(),
		QPMin:          cfg.QPMin,
		QPMax:          cfg.QPMax,
		MaxRounds:      cfg.MaxRounds,
		Metric:         metric,
		SampleDuration: cfg.SampleDuration,
		SampleMinChunk: cfg.SampleMinChunk,
		SampleWarmup:   cfg.SampleWarmup,
	}
}

// SampleWindow describes which slice of a segment a probe encodes and
// measures.
type SampleWindow struct {
	// Offset is the slice start relative to the segment start, in seconds.
	Offset float64
	// Duration is the encoded slice length including warmup.
	Duration float64
	// Warmup is the leading portion excluded from scoring.
	Warmup float64
	// Full is true when the probe covers the whole segment.
	Full bool
}

// CalculateSample decides the probe window for a segment. Segments
// shorter than SampleMinChunk are probed whole; longer segments probe a
// middle slice with a warmup lead-in discarded from scoring.
func (c *Config) CalculateSample(segmentDuration float64) SampleWindow {
	if segmentDuration < c.SampleMinChunk {
		return SampleWindow{Duration: segmentDuration, Full: true}
	}

	sliceDur := c.SampleDuration + c.SampleWarmup
	if sliceDur >= segmentDuration {
		return SampleWindow{Duration: segmentDuration, Full: true}
	}

	offset := (segmentDuration - sliceDur) / 2
	return SampleWindow{
		Offset:   offset,
		Duration: sliceDur,
		Warmup:   c.SampleWarmup,
	}
}

// Aggregate reduces per-frame scores to a single value using the
// configured metric. Returns NaN for empty input.
func (c *Config) Aggregate(frameScores []float64) float64 {
	if len(frameScores) == 0 {
		return math.NaN()
	}

	if c.Metric.IsMean() {
		var total float64
		for _, s := range frameScores {
			total += s
		}
		return total / float64(len(frameScores))
	}

	sorted := make([]float64, len(frameScores))
	copy(sorted, frameScores)
	sort.Float64s(sorted)

	rank := c.Metric.Percentile / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
