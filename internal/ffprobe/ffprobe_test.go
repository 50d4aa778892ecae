package ffprobe

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	latheerrors "github.com/five82/lathe/internal/errors"
)

const sampleProbeJSON = `{
  "format": {"format_name": "matroska,webm", "duration": "480.064000"},
  "streams": [
    {
      "index": 0, "codec_type": "video", "codec_name": "h264",
      "width": 1920, "height": 1080, "r_frame_rate": "24000/1001",
      "pix_fmt": "yuv420p", "color_primaries": "bt709",
      "color_transfer": "bt709", "color_space": "bt709",
      "bits_per_raw_sample": "8", "nb_frames": "11510"
    },
    {
      "index": 1, "codec_type": "audio", "codec_name": "ac3",
      "channels": 6, "channel_layout": "5.1",
      "tags": {"language": "eng"}, "disposition": {"default": 1}
    },
    {
      "index": 2, "codec_type": "audio", "codec_name": "aac",
      "channels": 2, "channel_layout": "stereo",
      "tags": {"language": "fra"}
    },
    {
      "index": 3, "codec_type": "subtitle", "codec_name": "subrip",
      "tags": {"language": "eng"}, "disposition": {"forced": 1}
    }
  ],
  "chapters": [
    {"start_time": "0.000000", "end_time": "300.000000", "tags": {"title": "Opening"}},
    {"start_time": "300.000000", "end_time": "480.064000", "tags": {"title": "Finale"}}
  ]
}`

func parseSample(t *testing.T, data string) (*MediaProbe, error) {
	t.Helper()
	var raw ffprobeOutput
	require.NoError(t, json.Unmarshal([]byte(data), &raw))
	return buildProbe("test.mkv", &raw)
}

func TestBuildProbe(t *testing.T) {
	probe, err := parseSample(t, sampleProbeJSON)
	require.NoError(t, err)

	assert.Equal(t, "matroska,webm", probe.Container)
	assert.InDelta(t, 480.064, probe.Duration, 1e-6)

	require.Len(t, probe.VideoStreams, 1)
	v := probe.PrimaryVideo()
	assert.Equal(t, "h264", v.CodecName)
	assert.Equal(t, uint32(1920), v.Width)
	assert.Equal(t, uint32(1080), v.Height)
	assert.InDelta(t, 23.976, v.FPS(), 0.001)
	assert.Equal(t, uint64(11510), v.TotalFrames)
	require.NotNil(t, v.BitDepth)
	assert.Equal(t, uint8(8), *v.BitDepth)

	require.Len(t, probe.AudioStreams, 2)
	assert.Equal(t, uint32(6), probe.AudioStreams[0].Channels)
	assert.Equal(t, "eng", probe.AudioStreams[0].Language)
	assert.True(t, probe.AudioStreams[0].Default)
	assert.Equal(t, 1, probe.AudioStreams[1].Index)
	assert.Equal(t, 2, probe.AudioStreams[1].StreamIndex)

	require.Len(t, probe.SubtitleStreams, 1)
	assert.True(t, probe.SubtitleStreams[0].Forced)

	require.Len(t, probe.Chapters, 2)
	assert.Equal(t, "Opening", probe.Chapters[0].Title)
	assert.InDelta(t, 300.0, probe.Chapters[1].Start, 1e-9)
}

func TestBuildProbeRejectsMissingStreams(t *testing.T) {
	noVideo := `{
	  "format": {"duration": "100.0"},
	  "streams": [{"index": 0, "codec_type": "audio", "codec_name": "ac3", "channels": 2}]
	}`
	_, err := parseSample(t, noVideo)
	require.Error(t, err)
	assert.True(t, latheerrors.IsKind(err, latheerrors.KindInputValidation))

	noAudio := `{
	  "format": {"duration": "100.0"},
	  "streams": [{"index": 0, "codec_type": "video", "codec_name": "h264", "width": 1280, "height": 720, "r_frame_rate": "24/1"}]
	}`
	_, err = parseSample(t, noAudio)
	require.Error(t, err)
	assert.True(t, latheerrors.IsKind(err, latheerrors.KindInputValidation))
}

func TestBuildProbeRejectsZeroDuration(t *testing.T) {
	data := `{"format": {"duration": "0"}, "streams": []}`
	_, err := parseSample(t, data)
	require.Error(t, err)
	assert.True(t, latheerrors.IsKind(err, latheerrors.KindInputValidation))
}

func TestBuildProbeSkipsCoverArt(t *testing.T) {
	data := `{
	  "format": {"duration": "60.0"},
	  "streams": [
	    {"index": 0, "codec_type": "video", "codec_name": "mjpeg", "width": 0, "height": 0},
	    {"index": 1, "codec_type": "video", "codec_name": "h264", "width": 1280, "height": 720, "r_frame_rate": "30/1"},
	    {"index": 2, "codec_type": "audio", "codec_name": "flac", "channels": 2}
	  ]
	}`
	probe, err := parseSample(t, data)
	require.NoError(t, err)
	require.Len(t, probe.VideoStreams, 1)
	assert.Equal(t, "h264", probe.PrimaryVideo().CodecName)
}

func TestParseFrameRate(t *testing.T) {
	num, den := parseFrameRate("24000/1001")
	assert.Equal(t, uint32(24000), num)
	assert.Equal(t, uint32(1001), den)

	num, den = parseFrameRate("0/0")
	assert.Equal(t, uint32(0), num)
	assert.Equal(t, uint32(0), den)

	num, den = parseFrameRate("garbage")
	assert.Equal(t, uint32(0), num)
	assert.Equal(t, uint32(0), den)
}
