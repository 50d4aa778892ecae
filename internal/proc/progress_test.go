package proc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEncoderProgress(t *testing.T) {
	line := "frame=  480 fps= 24 q=30.0 size=    2048KiB time=00:00:20.00 bitrate= 838.9kbits/s speed=0.8x"

	p := ParseEncoderProgress(line, 100.0, 2400)
	require.NotNil(t, p)

	assert.Equal(t, uint64(480), p.CurrentFrame)
	assert.Equal(t, uint64(2400), p.TotalFrames)
	assert.InDelta(t, 20.0, p.ElapsedSecs, 1e-9)
	assert.InDelta(t, 20.0, float64(p.Percent), 0.01)
	assert.InDelta(t, 24.0, float64(p.FPS), 0.01)
	assert.InDelta(t, 0.8, float64(p.Speed), 0.01)
	assert.Equal(t, "838.9kbits/s", p.Bitrate)
	// 80 s remaining at 0.8x -> 100 s ETA
	assert.Equal(t, 100*time.Second, p.ETA)
}

func TestParseEncoderProgressNonProgressLine(t *testing.T) {
	assert.Nil(t, ParseEncoderProgress("Stream mapping:", 100, 0))
	assert.Nil(t, ParseEncoderProgress("", 100, 0))
}

func TestParseEncoderProgressCapsPercent(t *testing.T) {
	line := "frame= 999 fps=30 time=00:02:30.00 speed=1.0x"
	p := ParseEncoderProgress(line, 100.0, 0)
	require.NotNil(t, p)
	assert.InDelta(t, 100.0, float64(p.Percent), 1e-6)
}

func TestParseScorerFrame(t *testing.T) {
	f, ok := ParseScorerFrame("42: 78.351204")
	require.True(t, ok)
	assert.Equal(t, 42, f.Index)
	assert.InDelta(t, 78.351204, f.Score, 1e-9)

	f, ok = ParseScorerFrame("0: -12.5")
	require.True(t, ok)
	assert.Equal(t, 0, f.Index)
	assert.InDelta(t, -12.5, f.Score, 1e-9)

	_, ok = ParseScorerFrame("Mean: 75.2")
	assert.False(t, ok)
	_, ok = ParseScorerFrame("garbage")
	assert.False(t, ok)
}

func TestParseScorerFrameNaN(t *testing.T) {
	f, ok := ParseScorerFrame("7: NaN")
	require.True(t, ok)
	assert.True(t, f.Score != f.Score)
}

func TestParseScorerProgress(t *testing.T) {
	p := ParseScorerProgress("Processing frame 50/200 (31.5 fps)")
	require.NotNil(t, p)
	assert.Equal(t, uint64(50), p.CurrentFrame)
	assert.Equal(t, uint64(200), p.TotalFrames)
	assert.InDelta(t, 25.0, float64(p.Percent), 0.01)
	assert.InDelta(t, 31.5, float64(p.FPS), 0.01)

	assert.Nil(t, ParseScorerProgress("50: 78.2"))
	assert.Nil(t, ParseScorerProgress("Processing frame x/y"))
}
