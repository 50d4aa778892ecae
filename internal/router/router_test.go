package router

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/five82/lathe/internal/analysis"
	"github.com/five82/lathe/internal/config"
	"github.com/five82/lathe/internal/ffprobe"
)

func testSource(width uint32, duration float64) *analysis.SourceMedia {
	return &analysis.SourceMedia{
		Duration: duration,
		Video:    ffprobe.VideoStream{Width: width, Height: width * 9 / 16},
	}
}

func TestRouteDolbyVisionNeverChunked(t *testing.T) {
	cfg := config.NewConfig(".", ".", ".")
	source := testSource(3840, 7200)
	class := &analysis.ContentClassification{
		Tier:          analysis.TierUHD,
		IsHDR:         true,
		IsDolbyVision: true,
		DVProfile:     7,
		Crop:          &analysis.CropRect{Width: 3840, Height: 1600, X: 0, Y: 280},
		DenoiseFilter: "hqdn3d=1:0.7:4:4",
	}

	plan := Route(cfg, source, class)
	assert.Equal(t, ModeDolbyVisionPassthrough, plan.Mode)
	assert.False(t, plan.IsChunked())
	assert.Equal(t, cfg.CRFUHD, plan.CRF)
	// DV passthrough must not filter the stream.
	assert.Empty(t, plan.CropFilter)
	assert.Empty(t, plan.DenoiseFilter)
}

func TestRouteShortSourceDirectCRF(t *testing.T) {
	cfg := config.NewConfig(".", ".", ".")
	// 3-minute SD source is far above 2x min segment length -- but an
	// 8-second one is not.
	source := testSource(720, 8)
	class := &analysis.ContentClassification{Tier: analysis.TierSD}

	plan := Route(cfg, source, class)
	assert.Equal(t, ModeDirectCRF, plan.Mode)
	assert.Equal(t, cfg.CRFSD, plan.CRF)
}

func TestRouteBoundaryAtTwiceMinSegment(t *testing.T) {
	cfg := config.NewConfig(".", ".", ".")
	class := &analysis.ContentClassification{Tier: analysis.TierHD}

	below := Route(cfg, testSource(1920, 2*cfg.MinSegmentLength-0.1), class)
	assert.Equal(t, ModeDirectCRF, below.Mode)

	at := Route(cfg, testSource(1920, 2*cfg.MinSegmentLength), class)
	assert.Equal(t, ModeChunkedTQ, at.Mode)
}

func TestRouteQuickPresetDisablesTQ(t *testing.T) {
	cfg := config.NewConfig(".", ".", ".")
	cfg.ApplyPreset(config.PresetQuick)
	source := testSource(1920, 3600)
	class := &analysis.ContentClassification{Tier: analysis.TierHD}

	plan := Route(cfg, source, class)
	assert.Equal(t, ModeDirectCRF, plan.Mode)
	assert.Equal(t, uint8(8), plan.SVTPreset)
}

func TestRouteChunkedTQ(t *testing.T) {
	cfg := config.NewConfig(".", ".", ".")
	source := testSource(1920, 480)
	class := &analysis.ContentClassification{
		Tier:          analysis.TierHD,
		Grain:         analysis.GrainLight,
		DenoiseFilter: analysis.GrainLight.DenoiseFilter(),
		GrainSynth:    8,
		Crop:          &analysis.CropRect{Width: 1920, Height: 800, X: 0, Y: 140},
	}

	plan := Route(cfg, source, class)
	assert.Equal(t, ModeChunkedTQ, plan.Mode)
	assert.True(t, plan.IsChunked())
	assert.InDelta(t, cfg.TargetScore(), plan.TargetScore, 1e-9)
	assert.InDelta(t, cfg.ScoreTolerance(), plan.ScoreTolerance, 1e-9)
	assert.Equal(t, "hqdn3d=1:0.7:4:4", plan.DenoiseFilter)
	assert.Equal(t, "crop=1920:800:0:140", plan.CropFilter)
	assert.Equal(t, uint8(8), plan.FilmGrain)
	assert.Equal(t, "yuv420p10le", plan.PixelFormat)
}

func TestQualityLabel(t *testing.T) {
	assert.Contains(t, Plan{Mode: ModeDirectCRF, CRF: 25}.QualityLabel(), "CRF 25")
	assert.Contains(t, Plan{Mode: ModeChunkedTQ, TargetScore: 75, ScoreTolerance: 2}.QualityLabel(), "75.0")
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "direct-crf", ModeDirectCRF.String())
	assert.Equal(t, "chunked-target-quality", ModeChunkedTQ.String())
	assert.Equal(t, "dolby-vision-passthrough", ModeDolbyVisionPassthrough.String())
}
