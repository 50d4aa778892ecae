package assemble

import (
	"fmt"
	"strings"

	"github.com/five82/lathe/internal/ffprobe"
)

// OpusBitrateKbps returns the Opus bitrate in kbps for a channel count.
func OpusBitrateKbps(channels uint32) uint32 {
	switch channels {
	case 1:
		return 64 // Mono
	case 2:
		return 128 // Stereo
	case 6:
		return 256 // 5.1 surround
	case 8:
		return 384 // 7.1 surround
	default:
		return channels * 48 // ~48 kbps per channel for unusual layouts
	}
}

// NormalizedLayout maps a source channel count onto the Opus layouts
// lathe emits. Unknown layouts normalize to stereo.
func NormalizedLayout(channels uint32) (layout string, outChannels uint32) {
	switch channels {
	case 1:
		return "mono", 1
	case 2:
		return "stereo", 2
	case 6:
		return "5.1", 6
	case 8:
		return "7.1", 8
	default:
		return "stereo", 2
	}
}

// audioEncodeArgs builds the per-stream Opus encode arguments for the
// mux invocation. streamPos is the output audio stream position.
func audioEncodeArgs(streamPos int, stream ffprobe.AudioStream) []string {
	layout, outChannels := NormalizedLayout(stream.Channels)
	bitrate := OpusBitrateKbps(outChannels)

	spec := fmt.Sprintf("a:%d", streamPos)
	return []string{
		fmt.Sprintf("-c:%s", spec), "libopus",
		fmt.Sprintf("-b:%s", spec), fmt.Sprintf("%dk", bitrate),
		fmt.Sprintf("-ac:%s", spec), fmt.Sprintf("%d", outChannels),
		fmt.Sprintf("-filter:%s", spec), fmt.Sprintf("aformat=channel_layouts=%s", layout),
		fmt.Sprintf("-application:%s", spec), "audio",
		fmt.Sprintf("-compression_level:%s", spec), "10",
		fmt.Sprintf("-frame_duration:%s", spec), "20",
		fmt.Sprintf("-vbr:%s", spec), "on",
	}
}

// DescribeAudio formats the audio transform summary for events and logs.
func DescribeAudio(streams []ffprobe.AudioStream) string {
	if len(streams) == 0 {
		return "No audio"
	}

	if len(streams) == 1 {
		_, out := NormalizedLayout(streams[0].Channels)
		return fmt.Sprintf("Opus %dch @ %dkbps", out, OpusBitrateKbps(out))
	}

	parts := make([]string, 0, len(streams))
	for _, s := range streams {
		_, out := NormalizedLayout(s.Channels)
		parts = append(parts, fmt.Sprintf("%dch@%dk", out, OpusBitrateKbps(out)))
	}
	return fmt.Sprintf("Opus (%s)", strings.Join(parts, ", "))
}
