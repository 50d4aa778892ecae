package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/five82/lathe/internal/ffprobe"
	"github.com/five82/lathe/internal/mediainfo"
)

func TestTierForWidth(t *testing.T) {
	assert.Equal(t, TierSD, TierForWidth(720))
	assert.Equal(t, TierSD, TierForWidth(1279))
	assert.Equal(t, TierHD, TierForWidth(1280))
	assert.Equal(t, TierHD, TierForWidth(1920))
	assert.Equal(t, TierHD, TierForWidth(3839))
	assert.Equal(t, TierUHD, TierForWidth(3840))
}

func TestGrainLevelFilters(t *testing.T) {
	assert.Empty(t, GrainVeryClean.DenoiseFilter())
	assert.Equal(t, "hqdn3d=0.5:0.3:3:3", GrainVeryLight.DenoiseFilter())
	assert.Equal(t, "hqdn3d=1:0.7:4:4", GrainLight.DenoiseFilter())
	assert.Equal(t, "hqdn3d=1.5:1.0:6:6", GrainVisible.DenoiseFilter())
	assert.Equal(t, "hqdn3d=2:1.3:8:8", GrainMedium.DenoiseFilter())
}

func TestCropRectFilter(t *testing.T) {
	crop := CropRect{Width: 1920, Height: 800, X: 0, Y: 140}
	assert.Equal(t, "crop=1920:800:0:140", crop.Filter())
}

func TestClassificationDisplay(t *testing.T) {
	c := ContentClassification{}
	assert.Equal(t, "SDR", c.DynamicRange())
	assert.Empty(t, c.CropFilter())

	c.IsHDR = true
	assert.Equal(t, "HDR", c.DynamicRange())

	c.IsDolbyVision = true
	assert.Equal(t, "Dolby Vision", c.DynamicRange())

	c.Crop = &CropRect{Width: 1920, Height: 800}
	assert.Equal(t, "crop=1920:800:0:0", c.CropFilter())
}

func TestSourceMediaTotalFrames(t *testing.T) {
	s := &SourceMedia{
		Duration: 10,
		Video:    ffprobe.VideoStream{FPSNum: 24, FPSDen: 1, TotalFrames: 250},
		HDR:      mediainfo.HDRInfo{},
	}
	assert.Equal(t, uint64(250), s.TotalFrames())

	s.Video.TotalFrames = 0
	assert.Equal(t, uint64(240), s.TotalFrames())

	s.Video.FPSNum = 0
	assert.Equal(t, uint64(0), s.TotalFrames())
}
