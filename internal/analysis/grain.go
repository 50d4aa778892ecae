package analysis

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/five82/lathe/internal/proc"
)

// Grain analysis constants
const (
	// grainSampleDuration is the length of each analysis sample in seconds.
	grainSampleDuration = 10.0

	// grainSampleWindowStart and grainSampleWindowEnd bound sample
	// placement within the source duration.
	grainSampleWindowStart = 0.15
	grainSampleWindowEnd   = 0.85

	// grainMinSamples and grainMaxSamples bound the sample count.
	grainMinSamples = 3
	grainMaxSamples = 9

	// grainSecsPerSample scales duration into sample count.
	grainSecsPerSample = 600.0

	// grainRefineStdDev triggers the interpolated refinement pass when the
	// spread of per-sample estimates reaches half a ladder step.
	grainRefineStdDev = 0.25

	// grainProbePreset is the fast SVT-AV1 preset used for analysis encodes.
	grainProbePreset = 10

	// grainProbeCRF is the fixed CRF used for analysis encodes.
	grainProbeCRF = 35
)

// grainCandidate is one denoise setting tested during analysis.
type grainCandidate struct {
	strength float64 // hqdn3d luma-spatial strength; knee weighting scalar
	filter   string  // full hqdn3d filter string, empty for baseline
}

// ladderCandidates returns the predefined denoise ladder.
func ladderCandidates() []grainCandidate {
	out := make([]grainCandidate, 0, len(denoiseLadder))
	for _, level := range denoiseLadder {
		out = append(out, grainCandidate{strength: level.strength(), filter: level.DenoiseFilter()})
	}
	return out
}

// interpolatedCandidates returns hqdn3d parameter sets midway between
// neighboring ladder levels.
func interpolatedCandidates() []grainCandidate {
	type params struct{ ls, cs, lt, ct float64 }
	ladder := []params{
		{0.5, 0.3, 3, 3},
		{1, 0.7, 4, 4},
		{1.5, 1.0, 6, 6},
		{2, 1.3, 8, 8},
	}

	var out []grainCandidate
	for i := 0; i < len(ladder)-1; i++ {
		a, b := ladder[i], ladder[i+1]
		mid := params{
			ls: (a.ls + b.ls) / 2,
			cs: (a.cs + b.cs) / 2,
			lt: (a.lt + b.lt) / 2,
			ct: (a.ct + b.ct) / 2,
		}
		out = append(out, grainCandidate{
			strength: mid.ls,
			filter:   fmt.Sprintf("hqdn3d=%g:%g:%g:%g", mid.ls, mid.cs, mid.lt, mid.ct),
		})
	}
	return out
}

// grainEncoder produces the encoded size of one denoise-test sample.
// Swappable for tests.
type grainEncoder func(ctx context.Context, inputPath string, start, duration float64, filter string) (uint64, error)

// grainSamplePositions spreads n sample start times evenly within the
// analysis window.
func grainSamplePositions(duration float64, n int) []float64 {
	start := duration * grainSampleWindowStart
	end := duration*grainSampleWindowEnd - grainSampleDuration
	if end <= start {
		return []float64{duration * 0.5}
	}

	positions := make([]float64, 0, n)
	if n == 1 {
		return append(positions, (start+end)/2)
	}
	for i := 0; i < n; i++ {
		positions = append(positions, start+(end-start)*float64(i)/float64(n-1))
	}
	return positions
}

// grainSampleCount derives the number of samples from duration:
// clamp(duration/600, 3, 9), rounded up to odd.
func grainSampleCount(duration float64) int {
	n := int(math.Ceil(duration / grainSecsPerSample))
	if n < grainMinSamples {
		n = grainMinSamples
	}
	if n > grainMaxSamples {
		n = grainMaxSamples
	}
	if n%2 == 0 {
		n++
	}
	return n
}

// kneePoint selects the smallest strength whose efficiency reaches
// kneeThreshold of the best observed efficiency, where efficiency is
// size reduction over sqrt(strength). Returns 0 when no candidate
// produces a positive reduction.
func kneePoint(baseSize uint64, results map[float64]uint64, kneeThreshold float64) float64 {
	if baseSize == 0 {
		return 0
	}

	type eff struct {
		strength   float64
		efficiency float64
	}
	var effs []eff
	maxEff := 0.0
	for strength, size := range results {
		if size >= baseSize || strength <= 0 {
			continue
		}
		reduction := float64(baseSize-size) / float64(baseSize)
		e := reduction / math.Sqrt(strength)
		effs = append(effs, eff{strength, e})
		if e > maxEff {
			maxEff = e
		}
	}

	if len(effs) == 0 || maxEff == 0 {
		return 0
	}

	sort.Slice(effs, func(i, j int) bool { return effs[i].strength < effs[j].strength })
	for _, e := range effs {
		if e.efficiency >= kneeThreshold*maxEff {
			return e.strength
		}
	}
	return effs[len(effs)-1].strength
}

// levelForStrength maps a strength scalar back onto the nearest ladder level.
func levelForStrength(strength float64) GrainLevel {
	if strength <= 0 {
		return GrainVeryClean
	}
	best := GrainVeryLight
	bestDist := math.Abs(strength - best.strength())
	for _, level := range denoiseLadder[1:] {
		d := math.Abs(strength - level.strength())
		if d < bestDist {
			best = level
			bestDist = d
		}
	}
	return best
}

// median returns the median of values. Values are sorted in place.
func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sort.Float64s(values)
	mid := len(values) / 2
	if len(values)%2 == 1 {
		return values[mid]
	}
	return (values[mid-1] + values[mid]) / 2
}

// stdDev returns the population standard deviation of values.
func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	return math.Sqrt(variance / float64(len(values)))
}

// AnalyzeGrain runs the four-phase grain analysis and returns the detected
// level. Any sample failure degrades to GrainVeryClean with a warning.
func (a *Analyzer) AnalyzeGrain(ctx context.Context, source *SourceMedia) GrainLevel {
	encoder := a.grainEncode
	if encoder == nil {
		encoder = a.ffmpegGrainEncode
	}

	n := grainSampleCount(source.Duration)
	positions := grainSamplePositions(source.Duration, n)
	knee := a.cfg.GrainKneeThreshold

	ladder := ladderCandidates()

	// Phase 1+2: per-sample baseline and ladder encodes, then knee point.
	type sampleData struct {
		base    uint64
		results map[float64]uint64
	}
	samples := make([]sampleData, 0, len(positions))
	estimates := make([]float64, 0, len(positions))

	for _, pos := range positions {
		base, err := encoder(ctx, source.Path, pos, grainSampleDuration, "")
		if err != nil {
			a.logger.Warn().Err(err).Float64("position", pos).Msg("grain baseline encode failed")
			return GrainVeryClean
		}

		results := make(map[float64]uint64, len(ladder))
		failed := false
		for _, cand := range ladder {
			size, err := encoder(ctx, source.Path, pos, grainSampleDuration, cand.filter)
			if err != nil {
				a.logger.Warn().Err(err).Str("filter", cand.filter).Msg("grain probe encode failed")
				failed = true
				break
			}
			results[cand.strength] = size
		}
		if failed {
			return GrainVeryClean
		}

		samples = append(samples, sampleData{base: base, results: results})
		estimates = append(estimates, kneePoint(base, results, knee))
	}

	// Phase 3: adaptive refinement when sample estimates disagree.
	spread := stdDev(append([]float64(nil), estimates...))
	if spread >= grainRefineStdDev {
		a.logger.Debug().Float64("stddev", spread).Msg("grain estimates diverge; refining with interpolated levels")
		refined := interpolatedCandidates()
		for i, pos := range positions {
			for _, cand := range refined {
				size, err := encoder(ctx, source.Path, pos, grainSampleDuration, cand.filter)
				if err != nil {
					a.logger.Warn().Err(err).Str("filter", cand.filter).Msg("grain refinement encode failed")
					continue
				}
				samples[i].results[cand.strength] = size
			}
			estimates[i] = kneePoint(samples[i].base, samples[i].results, knee)
		}
	}

	// Phase 4: median of per-sample estimates.
	level := levelForStrength(median(estimates))
	a.logger.Debug().
		Int("samples", len(positions)).
		Str("level", level.String()).
		Msg("grain analysis complete")
	return level
}

// ffmpegGrainEncode encodes one denoise-test sample with a fast preset
// and returns the output size.
func (a *Analyzer) ffmpegGrainEncode(ctx context.Context, inputPath string, start, duration float64, filter string) (uint64, error) {
	outPath := a.tempFile(fmt.Sprintf("grain_%d_%s.ivf", int(start), sanitizeFilter(filter)))

	args := []string{
		"-hide_banner", "-y",
		"-ss", fmt.Sprintf("%.2f", start),
		"-i", inputPath,
		"-t", fmt.Sprintf("%.2f", duration),
		"-an", "-sn",
	}
	if filter != "" {
		args = append(args, "-vf", filter)
	}
	args = append(args,
		"-c:v", "libsvtav1",
		"-preset", fmt.Sprintf("%d", grainProbePreset),
		"-crf", fmt.Sprintf("%d", grainProbeCRF),
		"-pix_fmt", "yuv420p10le",
		outPath,
	)

	if _, err := a.runner.Run(ctx, proc.Cmd{Tool: "ffmpeg", Args: args}); err != nil {
		return 0, err
	}
	return fileSize(outPath)
}

// sanitizeFilter makes a filter string safe for use in a filename.
func sanitizeFilter(filter string) string {
	if filter == "" {
		return "none"
	}
	out := make([]rune, 0, len(filter))
	for _, r := range filter {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
