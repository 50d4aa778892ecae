package util

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.00 KiB", FormatBytes(1024))
	assert.Equal(t, "2.50 MiB", FormatBytes(2621440))
	assert.Equal(t, "1.00 GiB", FormatBytes(1073741824))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "00:00:30", FormatDuration(30))
	assert.Equal(t, "00:08:00", FormatDuration(480))
	assert.Equal(t, "02:00:01", FormatDuration(7201))
	assert.Equal(t, "??:??:??", FormatDuration(-1))
	assert.Equal(t, "??:??:??", FormatDuration(math.NaN()))
}

func TestCalculateSizeReduction(t *testing.T) {
	assert.InDelta(t, 60.0, CalculateSizeReduction(1000, 400), 1e-9)
	assert.InDelta(t, 0.0, CalculateSizeReduction(0, 400), 1e-9)
	assert.InDelta(t, -10.0, CalculateSizeReduction(1000, 1100), 1e-9)
}

func TestParseFFmpegTime(t *testing.T) {
	secs, ok := ParseFFmpegTime("00:00:20.00")
	require.True(t, ok)
	assert.InDelta(t, 20.0, secs, 1e-9)

	secs, ok = ParseFFmpegTime("01:30:15.500")
	require.True(t, ok)
	assert.InDelta(t, 5415.5, secs, 1e-9)

	_, ok = ParseFFmpegTime("90:15")
	assert.False(t, ok)
	_, ok = ParseFFmpegTime("aa:bb:cc")
	assert.False(t, ok)
}

func TestFormatTimestamp(t *testing.T) {
	assert.Equal(t, "12.500", FormatTimestamp(12.5))
	assert.Equal(t, "0.000", FormatTimestamp(0))
}
