package segment

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/five82/lathe/internal/config"
)

// checkPlanInvariants asserts the tiling invariant: strictly ordered,
// gapless, non-overlapping segments summing to the source duration.
func checkPlanInvariants(t *testing.T, plan *Plan, duration, minLen, maxLen float64) {
	t.Helper()
	require.NotEmpty(t, plan.Segments)

	assert.InDelta(t, 0.0, plan.Segments[0].Start, 1e-9)
	for i, seg := range plan.Segments {
		assert.Equal(t, i, seg.Index)
		assert.Greater(t, seg.Duration, 0.0)
		if i > 0 {
			prev := plan.Segments[i-1]
			assert.InDelta(t, prev.End(), seg.Start, 1e-9, "segment %d must start where %d ends", i, i-1)
		}
		if i < len(plan.Segments)-1 {
			assert.GreaterOrEqual(t, seg.Duration, minLen-1e-9)
			assert.LessOrEqual(t, seg.Duration, maxLen+1e-9)
		}
	}
	assert.InDelta(t, duration, plan.TotalDuration(), 1e-6)
}

func TestBuildPlanFromCutsUsesSceneBoundaries(t *testing.T) {
	cuts := []float64{2.0, 7.5, 12.0, 19.0, 26.0, 33.0, 41.0}
	plan := BuildPlanFromCuts(cuts, 45.0, 5.0, 15.0, 0.5)

	checkPlanInvariants(t, plan, 45.0, 5.0, 15.0)

	// First boundary after 0 must be the first cut >= min_len: 7.5.
	require.Greater(t, plan.Count(), 1)
	assert.InDelta(t, 7.5, plan.Segments[1].Start, 1e-9)
	assert.True(t, plan.Segments[1].SceneCut)
}

func TestBuildPlanFromCutsForcedSplit(t *testing.T) {
	// No cuts in range anywhere: every boundary is forced at max_len.
	plan := BuildPlanFromCuts(nil, 61.0, 5.0, 15.0, 0.5)

	checkPlanInvariants(t, plan, 61.0, 5.0, 15.0)
	for _, seg := range plan.Segments[1:] {
		assert.False(t, seg.SceneCut)
	}
	// 61 s at 15 s chunks: 15,15,15,16 (final 1 s merged into previous).
	assert.Equal(t, 4, plan.Count())
	assert.InDelta(t, 16.0, plan.Segments[3].Duration, 1e-9)
}

func TestBuildPlanMergesShortFinalSegment(t *testing.T) {
	plan := BuildPlanFromCuts(nil, 32.0, 5.0, 15.0, 0.5)
	checkPlanInvariants(t, plan, 32.0, 5.0, 15.0)

	// 15 + 15 + 2 -> final 2 s merges into previous -> 15 + 17.
	require.Equal(t, 2, plan.Count())
	assert.InDelta(t, 17.0, plan.Segments[1].Duration, 1e-9)
}

func TestBuildPlanShortSource(t *testing.T) {
	plan := BuildPlanFromCuts([]float64{1.0}, 8.0, 5.0, 15.0, 0.5)
	checkPlanInvariants(t, plan, 8.0, 5.0, 15.0)
	assert.Equal(t, 1, plan.Count())
}

func TestBuildPlanForcedSplitNearCutMarksScene(t *testing.T) {
	// A cut at 15.3 is outside [5, 15] from 0, so the split is forced at
	// 15.0, but the cut lies within the 0.5 s tolerance.
	cuts := []float64{15.3, 22.0}
	plan := BuildPlanFromCuts(cuts, 40.0, 5.0, 15.0, 0.5)

	checkPlanInvariants(t, plan, 40.0, 5.0, 15.0)
	require.Greater(t, plan.Count(), 1)
	assert.InDelta(t, 15.0, plan.Segments[1].Start, 1e-9)
	assert.True(t, plan.Segments[1].SceneCut)
}

func TestBuildPlanLongMovie(t *testing.T) {
	// Two-hour movie with cuts every ~8 s.
	var cuts []float64
	for tcut := 8.0; tcut < 7200; tcut += 8.0 {
		cuts = append(cuts, tcut)
	}
	plan := BuildPlanFromCuts(cuts, 7200, 5.0, 15.0, 0.5)
	checkPlanInvariants(t, plan, 7200, 5.0, 15.0)
	assert.Greater(t, plan.Count(), 400)
	for _, seg := range plan.Segments[1:] {
		assert.True(t, seg.SceneCut)
	}
}

func TestBuildPlanEightMinuteHD(t *testing.T) {
	// Spec scenario S1: 8-minute source yields a few dozen segments in
	// the [5, 15] band.
	var cuts []float64
	for tcut := 6.0; tcut < 480; tcut += 6.0 {
		cuts = append(cuts, tcut)
	}
	plan := BuildPlanFromCuts(cuts, 480, 5.0, 15.0, 0.5)
	checkPlanInvariants(t, plan, 480, 5.0, 15.0)
	assert.GreaterOrEqual(t, plan.Count(), 32)
	assert.LessOrEqual(t, plan.Count(), 96)
}

func TestBuildPlanViaSegmenterFallback(t *testing.T) {
	cfg := config.NewConfig(".", ".", ".")
	s := NewSegmenter(cfg, nil, zerolog.Nop())
	s.detectScenes = func(context.Context, string, float64) ([]float64, error) {
		return nil, assert.AnError
	}

	plan, err := s.BuildPlan(context.Background(), "in.mkv", 60.0, false)
	require.NoError(t, err)
	checkPlanInvariants(t, plan, 60.0, cfg.MinSegmentLength, cfg.MaxSegmentLength)
}

func TestBuildPlanUsesHDRThreshold(t *testing.T) {
	cfg := config.NewConfig(".", ".", ".")
	var gotThreshold float64
	s := NewSegmenter(cfg, nil, zerolog.Nop())
	s.detectScenes = func(_ context.Context, _ string, threshold float64) ([]float64, error) {
		gotThreshold = threshold
		return []float64{10, 20, 30}, nil
	}

	_, err := s.BuildPlan(context.Background(), "in.mkv", 60.0, true)
	require.NoError(t, err)
	assert.InDelta(t, cfg.HDRSceneThreshold, gotThreshold, 1e-9)

	_, err = s.BuildPlan(context.Background(), "in.mkv", 60.0, false)
	require.NoError(t, err)
	assert.InDelta(t, cfg.SceneThreshold, gotThreshold, 1e-9)
}

func TestBuildPlanZeroDuration(t *testing.T) {
	cfg := config.NewConfig(".", ".", ".")
	s := NewSegmenter(cfg, nil, zerolog.Nop())
	_, err := s.BuildPlan(context.Background(), "in.mkv", 0, false)
	assert.Error(t, err)
}
