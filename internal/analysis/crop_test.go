package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreditSkipSecs(t *testing.T) {
	assert.Equal(t, 180.0, creditSkipSecs(7200))
	assert.Equal(t, 60.0, creditSkipSecs(1800))
	assert.Equal(t, 30.0, creditSkipSecs(600))
	assert.Equal(t, 0.0, creditSkipSecs(180))
}

func TestCropSamplePositionsWithinWindow(t *testing.T) {
	duration := 7200.0
	positions := cropSamplePositions(duration)
	require.NotEmpty(t, positions)
	assert.LessOrEqual(t, len(positions), cropMaxSamples)
	assert.GreaterOrEqual(t, len(positions), cropMinSamples)

	lo := duration*0.15 + 180
	hi := duration*0.85 - 180
	for _, p := range positions {
		assert.GreaterOrEqual(t, p, lo)
		assert.Less(t, p, hi)
	}
	for i := 1; i < len(positions); i++ {
		assert.Greater(t, positions[i], positions[i-1])
	}
}

func TestCropSamplePositionsShortContent(t *testing.T) {
	positions := cropSamplePositions(120)
	require.NotEmpty(t, positions)
	for _, p := range positions {
		assert.GreaterOrEqual(t, p, 120*0.25)
		assert.LessOrEqual(t, p, 120*0.75)
	}
}

func TestParseCropLine(t *testing.T) {
	crop, ok := parseCropLine("[Parsed_cropdetect_0 @ 0x5] x1:0 x2:1919 y1:138 y2:941 w:1920 h:800 x:0 y:140 pts:143 t:0.1 crop=1920:800:0:140")
	require.True(t, ok)
	assert.Equal(t, CropRect{Width: 1920, Height: 800, X: 0, Y: 140}, crop)

	_, ok = parseCropLine("frame= 10 fps=0.0")
	assert.False(t, ok)

	_, ok = parseCropLine("crop=0:0:0:0")
	assert.False(t, ok)
}

func TestAggregateCropsDominant(t *testing.T) {
	counts := map[CropRect]int{
		{Width: 1920, Height: 800, X: 0, Y: 140}: 40,
		{Width: 1920, Height: 1080, X: 0, Y: 0}:  2,
	}

	out := aggregateCrops(counts, 1920, 1080, 100, 1.0)
	require.NotNil(t, out.Crop)
	assert.Equal(t, uint32(800), out.Crop.Height)
	assert.Equal(t, "crop=1920:800:0:140", out.Crop.Filter())
	assert.Equal(t, 42, out.TotalSamples)
	assert.Len(t, out.Candidates, 2)
	assert.Greater(t, out.Candidates[0].Percent, out.Candidates[1].Percent)
}

func TestAggregateCropsClearWinnerWithNoise(t *testing.T) {
	// 70% winner, 3% noise each from dark-scene misdetections.
	counts := map[CropRect]int{
		{Width: 3840, Height: 1600, X: 0, Y: 280}: 70,
		{Width: 3840, Height: 1596, X: 0, Y: 282}: 3,
		{Width: 3840, Height: 2160, X: 0, Y: 0}:   3,
		{Width: 3838, Height: 1600, X: 2, Y: 280}: 3,
		{Width: 3840, Height: 1604, X: 0, Y: 278}: 3,
		{Width: 3840, Height: 1610, X: 0, Y: 276}: 3,
		{Width: 3836, Height: 1600, X: 4, Y: 280}: 3,
		{Width: 3840, Height: 1590, X: 0, Y: 284}: 3,
		{Width: 3840, Height: 1620, X: 0, Y: 270}: 3,
		{Width: 3840, Height: 1580, X: 0, Y: 290}: 3,
		{Width: 3840, Height: 1570, X: 0, Y: 294}: 3,
	}

	out := aggregateCrops(counts, 3840, 2160, 100, 1.0)
	require.NotNil(t, out.Crop)
	assert.Equal(t, uint32(1600), out.Crop.Height)
}

func TestAggregateCropsMultipleRatios(t *testing.T) {
	counts := map[CropRect]int{
		{Width: 1920, Height: 800, X: 0, Y: 140}: 25,
		{Width: 1920, Height: 1040, X: 0, Y: 20}: 20,
		{Width: 1920, Height: 1080, X: 0, Y: 0}:  15,
	}

	out := aggregateCrops(counts, 1920, 1080, 100, 1.0)
	assert.Nil(t, out.Crop)
	assert.True(t, out.MultipleRatios)
}

func TestAggregateCropsRejectsIneffective(t *testing.T) {
	counts := map[CropRect]int{
		{Width: 1920, Height: 1080, X: 0, Y: 0}: 40,
	}
	out := aggregateCrops(counts, 1920, 1080, 100, 1.0)
	assert.Nil(t, out.Crop)
}

func TestAggregateCropsRejectsTooShort(t *testing.T) {
	counts := map[CropRect]int{
		{Width: 720, Height: 80, X: 0, Y: 200}: 40,
	}
	out := aggregateCrops(counts, 720, 480, 100, 1.0)
	assert.Nil(t, out.Crop)
	assert.Contains(t, out.Message, "height")
}

func TestAggregateCropsRejectsTinyBars(t *testing.T) {
	// Four-pixel bars on 1080p are below a 1% minimum.
	counts := map[CropRect]int{
		{Width: 1920, Height: 1076, X: 0, Y: 2}: 40,
	}
	out := aggregateCrops(counts, 1920, 1080, 100, 1.0)
	assert.Nil(t, out.Crop)
	assert.Contains(t, out.Message, "bars")
}

func TestAggregateCropsEmpty(t *testing.T) {
	out := aggregateCrops(nil, 1920, 1080, 100, 1.0)
	assert.Nil(t, out.Crop)
}

func TestOutputDimensions(t *testing.T) {
	w, h := OutputDimensions(1920, 1080, "crop=1920:800:0:140")
	assert.Equal(t, uint32(1920), w)
	assert.Equal(t, uint32(800), h)

	w, h = OutputDimensions(1920, 1080, "")
	assert.Equal(t, uint32(1920), w)
	assert.Equal(t, uint32(1080), h)

	w, h = OutputDimensions(1920, 1080, "crop=bogus")
	assert.Equal(t, uint32(1920), w)
	assert.Equal(t, uint32(1080), h)
}
