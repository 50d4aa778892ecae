// Package ffprobe provides media stream probing via the ffprobe tool.
package ffprobe

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/five82/lathe/internal/errors"
	"github.com/five82/lathe/internal/proc"
)

// VideoStream describes a probed video stream.
type VideoStream struct {
	Index          int
	CodecName      string
	Width          uint32
	Height         uint32
	FPSNum         uint32
	FPSDen         uint32
	PixelFormat    string
	ColorPrimaries string
	ColorTransfer  string
	ColorSpace     string
	BitDepth       *uint8
	TotalFrames    uint64
}

// FPS returns the frame rate as a float, or 0 when unknown.
func (v VideoStream) FPS() float64 {
	if v.FPSDen == 0 {
		return 0
	}
	return float64(v.FPSNum) / float64(v.FPSDen)
}

// AudioStream describes a probed audio stream.
type AudioStream struct {
	Index         int // Position among audio streams, 0-based
	StreamIndex   int // Absolute stream index in the container
	CodecName     string
	Profile       string
	Channels      uint32
	ChannelLayout string
	Language      string
	Default       bool
}

// SubtitleStream describes a probed subtitle stream.
type SubtitleStream struct {
	Index       int // Position among subtitle streams, 0-based
	StreamIndex int
	CodecName   string
	Language    string
	Forced      bool
}

// Chapter describes a container chapter.
type Chapter struct {
	Start float64
	End   float64
	Title string
}

// MediaProbe is the full result of probing one file.
type MediaProbe struct {
	Path            string
	Container       string
	Duration        float64
	VideoStreams    []VideoStream
	AudioStreams    []AudioStream
	SubtitleStreams []SubtitleStream
	Chapters        []Chapter
}

// PrimaryVideo returns the first video stream.
// Probe guarantees at least one exists.
func (m *MediaProbe) PrimaryVideo() *VideoStream {
	return &m.VideoStreams[0]
}

// ffprobeOutput mirrors the ffprobe JSON document.
type ffprobeOutput struct {
	Format   ffprobeFormat    `json:"format"`
	Streams  []ffprobeStream  `json:"streams"`
	Chapters []ffprobeChapter `json:"chapters"`
}

type ffprobeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
}

type ffprobeStream struct {
	Index            int               `json:"index"`
	CodecType        string            `json:"codec_type"`
	CodecName        string            `json:"codec_name"`
	Profile          string            `json:"profile"`
	Width            int64             `json:"width"`
	Height           int64             `json:"height"`
	RFrameRate       string            `json:"r_frame_rate"`
	Channels         int               `json:"channels"`
	ChannelLayout    string            `json:"channel_layout"`
	NbFrames         string            `json:"nb_frames"`
	PixFmt           string            `json:"pix_fmt"`
	ColorPrimaries   string            `json:"color_primaries"`
	ColorTransfer    string            `json:"color_transfer"`
	ColorSpace       string            `json:"color_space"`
	BitsPerRawSample string            `json:"bits_per_raw_sample"`
	Tags             map[string]string `json:"tags"`
	Disposition      struct {
		Default int `json:"default"`
		Forced  int `json:"forced"`
	} `json:"disposition"`
}

type ffprobeChapter struct {
	StartTime string            `json:"start_time"`
	EndTime   string            `json:"end_time"`
	Tags      map[string]string `json:"tags"`
}

// Prober runs ffprobe invocations.
type Prober struct {
	runner *proc.Runner
}

// NewProber creates a Prober using the given process runner.
func NewProber(runner *proc.Runner) *Prober {
	return &Prober{runner: runner}
}

// Probe runs one ffprobe invocation and parses the full stream, format,
// and chapter picture. Failure is fatal for the input per the analyzer
// contract.
func (p *Prober) Probe(ctx context.Context, inputPath string) (*MediaProbe, error) {
	out, _, err := p.runner.RunCollect(ctx, proc.Cmd{
		Tool: "ffprobe",
		Args: []string{
			"-v", "quiet",
			"-print_format", "json",
			"-show_format",
			"-show_streams",
			"-show_chapters",
			inputPath,
		},
	})
	if err != nil {
		return nil, err
	}

	var raw ffprobeOutput
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, errors.NewParseError("failed to parse ffprobe output", err)
	}

	return buildProbe(inputPath, &raw)
}

// buildProbe converts raw ffprobe JSON into a validated MediaProbe.
func buildProbe(inputPath string, raw *ffprobeOutput) (*MediaProbe, error) {
	probe := &MediaProbe{
		Path:      inputPath,
		Container: raw.Format.FormatName,
	}

	if raw.Format.Duration != "" {
		if d, err := strconv.ParseFloat(raw.Format.Duration, 64); err == nil {
			probe.Duration = d
		}
	}
	if probe.Duration <= 0 {
		return nil, errors.NewInputValidationError(
			fmt.Sprintf("%s has no usable duration", inputPath))
	}

	audioIdx := 0
	subIdx := 0
	for _, s := range raw.Streams {
		switch s.CodecType {
		case "video":
			// Cover art shows up as a video stream; skip streams with no
			// real dimensions.
			if s.Width <= 0 || s.Height <= 0 {
				continue
			}
			vs := VideoStream{
				Index:          s.Index,
				CodecName:      s.CodecName,
				Width:          uint32(s.Width),
				Height:         uint32(s.Height),
				PixelFormat:    s.PixFmt,
				ColorPrimaries: s.ColorPrimaries,
				ColorTransfer:  s.ColorTransfer,
				ColorSpace:     s.ColorSpace,
			}
			vs.FPSNum, vs.FPSDen = parseFrameRate(s.RFrameRate)
			if s.NbFrames != "" {
				if frames, err := strconv.ParseUint(s.NbFrames, 10, 64); err == nil {
					vs.TotalFrames = frames
				}
			}
			if s.BitsPerRawSample != "" {
				if bd, err := strconv.ParseUint(s.BitsPerRawSample, 10, 8); err == nil {
					v := uint8(bd)
					vs.BitDepth = &v
				}
			}
			probe.VideoStreams = append(probe.VideoStreams, vs)

		case "audio":
			if s.Channels <= 0 {
				continue
			}
			probe.AudioStreams = append(probe.AudioStreams, AudioStream{
				Index:         audioIdx,
				StreamIndex:   s.Index,
				CodecName:     s.CodecName,
				Profile:       s.Profile,
				Channels:      uint32(s.Channels),
				ChannelLayout: s.ChannelLayout,
				Language:      s.Tags["language"],
				Default:       s.Disposition.Default == 1,
			})
			audioIdx++

		case "subtitle":
			probe.SubtitleStreams = append(probe.SubtitleStreams, SubtitleStream{
				Index:       subIdx,
				StreamIndex: s.Index,
				CodecName:   s.CodecName,
				Language:    s.Tags["language"],
				Forced:      s.Disposition.Forced == 1,
			})
			subIdx++
		}
	}

	if len(probe.VideoStreams) == 0 {
		return nil, errors.NewInputValidationError(
			fmt.Sprintf("no video stream found in %s", inputPath))
	}
	if len(probe.AudioStreams) == 0 {
		return nil, errors.NewInputValidationError(
			fmt.Sprintf("no audio stream found in %s", inputPath))
	}

	for _, c := range raw.Chapters {
		start, _ := strconv.ParseFloat(c.StartTime, 64)
		end, _ := strconv.ParseFloat(c.EndTime, 64)
		probe.Chapters = append(probe.Chapters, Chapter{
			Start: start,
			End:   end,
			Title: c.Tags["title"],
		})
	}

	return probe, nil
}

// parseFrameRate parses an ffprobe rational like "24000/1001".
func parseFrameRate(s string) (num, den uint32) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return 0, 0
	}
	n, err1 := strconv.ParseUint(parts[0], 10, 32)
	d, err2 := strconv.ParseUint(parts[1], 10, 32)
	if err1 != nil || err2 != nil || d == 0 {
		return 0, 0
	}
	return uint32(n), uint32(d)
}
