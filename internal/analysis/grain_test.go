package analysis

import (
	"context"
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/five82/lathe/internal/config"
)

func TestGrainSampleCount(t *testing.T) {
	tests := []struct {
		duration float64
		want     int
	}{
		{300, 3},   // clamped to minimum
		{1800, 3},  // 3 exactly
		{2400, 5},  // 4 rounded up to odd
		{3000, 5},  // 5 exactly
		{4200, 7},  // 7 exactly
		{36000, 9}, // clamped to maximum
	}

	for _, tt := range tests {
		got := grainSampleCount(tt.duration)
		assert.Equal(t, tt.want, got, "duration %.0f", tt.duration)
		assert.Equal(t, 1, got%2, "sample count must be odd")
	}
}

func TestGrainSamplePositionsWindow(t *testing.T) {
	positions := grainSamplePositions(6000, 5)
	require.Len(t, positions, 5)
	for _, p := range positions {
		assert.GreaterOrEqual(t, p, 6000*grainSampleWindowStart)
		assert.LessOrEqual(t, p+grainSampleDuration, 6000*grainSampleWindowEnd+1e-9)
	}
}

func TestKneePointPicksSmallestEfficientLevel(t *testing.T) {
	// Strong reduction at VeryLight already; heavier levels give
	// diminishing returns per sqrt(strength).
	base := uint64(1000)
	results := map[float64]uint64{
		0.5: 800, // reduction 0.20, eff 0.283
		1.0: 760, // reduction 0.24, eff 0.240
		1.5: 740, // reduction 0.26, eff 0.212
		2.0: 730, // reduction 0.27, eff 0.191
	}

	got := kneePoint(base, results, 0.8)
	assert.InDelta(t, 0.5, got, 1e-9)
}

func TestKneePointPrefersHeavierWhenItPays(t *testing.T) {
	// Reductions keep growing fast enough that only the heaviest level
	// reaches 80% of max efficiency.
	base := uint64(1000)
	results := map[float64]uint64{
		0.5: 995, // eff 0.007
		1.0: 950, // eff 0.050
		1.5: 850, // eff 0.122
		2.0: 700, // eff 0.212
	}

	got := kneePoint(base, results, 0.8)
	assert.InDelta(t, 2.0, got, 1e-9)
}

func TestKneePointNoReduction(t *testing.T) {
	base := uint64(1000)
	results := map[float64]uint64{
		0.5: 1000,
		1.0: 1005,
		2.0: 1100,
	}
	assert.Zero(t, kneePoint(base, results, 0.8))
	assert.Zero(t, kneePoint(0, results, 0.8))
}

func TestLevelForStrength(t *testing.T) {
	assert.Equal(t, GrainVeryClean, levelForStrength(0))
	assert.Equal(t, GrainVeryLight, levelForStrength(0.5))
	assert.Equal(t, GrainVeryLight, levelForStrength(0.6))
	assert.Equal(t, GrainLight, levelForStrength(1.1))
	assert.Equal(t, GrainVisible, levelForStrength(1.5))
	assert.Equal(t, GrainMedium, levelForStrength(2.4))
}

func TestMedianAndStdDev(t *testing.T) {
	assert.InDelta(t, 2.0, median([]float64{3, 1, 2}), 1e-9)
	assert.InDelta(t, 1.5, median([]float64{1, 2}), 1e-9)
	assert.Zero(t, median(nil))

	assert.Zero(t, stdDev([]float64{1}))
	assert.InDelta(t, 0, stdDev([]float64{2, 2, 2}), 1e-9)
	assert.Greater(t, stdDev([]float64{0.5, 2.0, 0.5}), 0.5)
}

func TestInterpolatedCandidatesBetweenLadderSteps(t *testing.T) {
	cands := interpolatedCandidates()
	require.Len(t, cands, 3)
	assert.InDelta(t, 0.75, cands[0].strength, 1e-9)
	assert.Contains(t, cands[0].filter, "hqdn3d=0.75:0.5:3.5:3.5")
	assert.InDelta(t, 1.25, cands[1].strength, 1e-9)
	assert.InDelta(t, 1.75, cands[2].strength, 1e-9)
}

func newTestAnalyzer(t *testing.T, encode grainEncoder) *Analyzer {
	t.Helper()
	cfg := config.NewConfig(".", t.TempDir(), ".")
	a := NewAnalyzer(cfg, nil, t.TempDir(), zerolog.Nop())
	a.grainEncode = encode
	return a
}

func TestAnalyzeGrainConsistentSamples(t *testing.T) {
	// Every sample agrees: Light is the knee.
	encode := func(_ context.Context, _ string, _, _ float64, filter string) (uint64, error) {
		switch filter {
		case "":
			return 1000, nil
		case GrainVeryLight.DenoiseFilter():
			return 970, nil // eff 0.042
		case GrainLight.DenoiseFilter():
			return 850, nil // eff 0.150
		case GrainVisible.DenoiseFilter():
			return 830, nil // eff 0.139
		case GrainMedium.DenoiseFilter():
			return 820, nil // eff 0.127
		default:
			return 900, nil
		}
	}

	a := newTestAnalyzer(t, encode)
	source := &SourceMedia{Duration: 1800}
	level := a.AnalyzeGrain(context.Background(), source)
	assert.Equal(t, GrainLight, level)
}

func TestAnalyzeGrainCleanSource(t *testing.T) {
	// Denoising never shrinks the output: clean digital source.
	encode := func(_ context.Context, _ string, _, _ float64, filter string) (uint64, error) {
		if filter == "" {
			return 1000, nil
		}
		return 1001, nil
	}

	a := newTestAnalyzer(t, encode)
	level := a.AnalyzeGrain(context.Background(), &SourceMedia{Duration: 1800})
	assert.Equal(t, GrainVeryClean, level)
}

func TestAnalyzeGrainEncodeFailureDefaultsClean(t *testing.T) {
	encode := func(_ context.Context, _ string, _, _ float64, _ string) (uint64, error) {
		return 0, assert.AnError
	}

	a := newTestAnalyzer(t, encode)
	level := a.AnalyzeGrain(context.Background(), &SourceMedia{Duration: 1800})
	assert.Equal(t, GrainVeryClean, level)
}

func TestAnalyzeGrainRefinementConverges(t *testing.T) {
	// Sample knees spread from VeryLight to Visible (std-dev above the
	// refinement trigger), so refinement adds interpolated-level encodes
	// on top of the baseline and ladder encodes.
	call := 0
	encode := func(_ context.Context, _ string, pos, _ float64, filter string) (uint64, error) {
		call++
		base := uint64(1000)
		if filter == "" {
			return base, nil
		}
		// Derive a strength-dependent size: heavier = smaller, with
		// sample position nudging the knee around.
		var strength float64
		switch {
		case filter == GrainVeryLight.DenoiseFilter():
			strength = 0.5
		case filter == GrainLight.DenoiseFilter():
			strength = 1.0
		case filter == GrainVisible.DenoiseFilter():
			strength = 1.5
		case filter == GrainMedium.DenoiseFilter():
			strength = 2.0
		default:
			strength = 1.25 // interpolated sets
		}
		bias := math.Mod(pos, 3) * 40
		size := float64(base) - strength*90 - bias
		return uint64(size), nil
	}

	a := newTestAnalyzer(t, encode)
	level := a.AnalyzeGrain(context.Background(), &SourceMedia{Duration: 3000})
	assert.NotEqual(t, GrainVeryClean, level)
	assert.Greater(t, call, 5*(1+len(denoiseLadder)))
}
