package tq

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/five82/lathe/internal/errors"
	"github.com/five82/lathe/internal/proc"
)

// EncodeSettings carries the encoder parameters shared by every probe
// and final encode of a segment.
type EncodeSettings struct {
	Preset      uint8
	Tune        uint8
	PixelFormat string
	SVTParams   string // extra key=value pairs for -svtav1-params
	FilmGrain   uint8
	FPS         float64
	LowPriority bool

	// TimeoutFactor scales expected duration into a process timeout.
	TimeoutFactor float64
}

// svtParamString assembles the -svtav1-params argument for a CRF.
func (s EncodeSettings) svtParamString() string {
	parts := []string{fmt.Sprintf("tune=%d", s.Tune)}
	if s.FilmGrain > 0 {
		parts = append(parts, fmt.Sprintf("film-grain=%d", s.FilmGrain))
	}
	if s.SVTParams != "" {
		parts = append(parts, s.SVTParams)
	}
	return strings.Join(parts, ":")
}

// processTimeout bounds an encode of the given content duration.
// Expected wall time scales with preset speed; the configured factor
// provides the safety margin.
func (s EncodeSettings) processTimeout(contentDuration float64) time.Duration {
	if s.TimeoutFactor <= 0 {
		return 0
	}
	// Slower presets encode fewer frames per second of content.
	speedPenalty := float64(14-int(s.Preset)) / 2
	if speedPenalty < 1 {
		speedPenalty = 1
	}
	expected := contentDuration * speedPenalty
	if expected < 60 {
		expected = 60
	}
	return time.Duration(s.TimeoutFactor * expected * float64(time.Second))
}

// FFmpegExecutor drives probe encodes and scoring for one segment using
// the external encoder and scorer binaries. Probes read from a lossless
// reference extraction of the segment so the scorer measures exactly
// what the encoder saw.
type FFmpegExecutor struct {
	runner     *proc.Runner
	settings   EncodeSettings
	refPath    string // lossless segment reference
	probeDir   string
	finalPath  string
	scorerTool string
	logger     zerolog.Logger

	segmentIndex    int
	segmentDuration float64
	lastProbe       map[float64]string // crf -> probe path
	refSlices       map[string]string  // window key -> reference slice path
}

// NewFFmpegExecutor creates an executor for one segment.
func NewFFmpegExecutor(
	runner *proc.Runner,
	settings EncodeSettings,
	segmentIndex int,
	segmentDuration float64,
	refPath, probeDir, finalPath string,
	logger zerolog.Logger,
) *FFmpegExecutor {
	return &FFmpegExecutor{
		runner:          runner,
		settings:        settings,
		refPath:         refPath,
		probeDir:        probeDir,
		finalPath:       finalPath,
		scorerTool:      "ssimulacra2_rs",
		segmentIndex:    segmentIndex,
		segmentDuration: segmentDuration,
		lastProbe:       make(map[float64]string),
		refSlices:       make(map[string]string),
		logger:          logger.With().Int("segment", segmentIndex).Logger(),
	}
}

// probePath names the probe file for a CRF.
func (e *FFmpegExecutor) probePath(crf float64) string {
	return filepath.Join(e.probeDir, fmt.Sprintf("%04d_crf%02.0f.ivf", e.segmentIndex, crf))
}

// referenceFor returns the reference file a probe window should encode
// from, extracting a slice of the segment reference when sampling.
func (e *FFmpegExecutor) referenceFor(ctx context.Context, window SampleWindow) (string, error) {
	if window.Full {
		return e.refPath, nil
	}

	key := fmt.Sprintf("%.3f_%.3f", window.Offset, window.Duration)
	if path, ok := e.refSlices[key]; ok {
		return path, nil
	}

	slicePath := filepath.Join(e.probeDir, fmt.Sprintf("%04d_ref_slice.mkv", e.segmentIndex))
	_, err := e.runner.Run(ctx, proc.Cmd{
		Tool: "ffmpeg",
		Args: []string{
			"-hide_banner", "-y",
			"-ss", fmt.Sprintf("%.3f", window.Offset),
			"-i", e.refPath,
			"-t", fmt.Sprintf("%.3f", window.Duration),
			"-c", "copy",
			slicePath,
		},
		Timeout: e.settings.processTimeout(window.Duration),
	})
	if err != nil {
		return "", err
	}

	e.refSlices[key] = slicePath
	return slicePath, nil
}

// EncodeProbe encodes the probe window at the given CRF.
func (e *FFmpegExecutor) EncodeProbe(ctx context.Context, crf float64, window SampleWindow) (ProbeOutput, error) {
	ref, err := e.referenceFor(ctx, window)
	if err != nil {
		return ProbeOutput{}, err
	}

	outPath := e.probePath(crf)
	if err := e.encode(ctx, ref, outPath, crf, window.Duration); err != nil {
		return ProbeOutput{}, err
	}

	info, err := os.Stat(outPath)
	if err != nil {
		return ProbeOutput{}, errors.NewIOError("probe output missing", err)
	}

	e.lastProbe[crf] = outPath
	return ProbeOutput{Path: outPath, Size: uint64(info.Size())}, nil
}

// Score runs the perceptual scorer over the probe against its reference
// and returns per-frame scores with warmup frames discarded.
func (e *FFmpegExecutor) Score(ctx context.Context, probe ProbeOutput, window SampleWindow) ([]float64, error) {
	ref, err := e.referenceFor(ctx, window)
	if err != nil {
		return nil, err
	}

	var frameScores []float64
	_, err = e.runner.Run(ctx, proc.Cmd{
		Tool: e.scorerTool,
		Args: []string{"video", ref, probe.Path},
		OnStdout: func(line string) {
			if frame, ok := proc.ParseScorerFrame(line); ok {
				frameScores = append(frameScores, frame.Score)
			}
		},
		Timeout: e.settings.processTimeout(window.Duration),
	})
	if err != nil {
		return nil, err
	}

	if len(frameScores) == 0 {
		return nil, errors.NewRetryableEncodeError("scorer produced no frame scores", nil)
	}

	// Warmup frames lead the slice and are excluded from measurement.
	if window.Warmup > 0 && e.settings.FPS > 0 {
		skip := int(math.Round(window.Warmup * e.settings.FPS))
		if skip >= len(frameScores) {
			skip = len(frameScores) - 1
		}
		frameScores = frameScores[skip:]
	}

	return frameScores, nil
}

// EncodeFinal produces the full-segment output. A full-segment winning
// probe is promoted in place of a redundant re-encode.
func (e *FFmpegExecutor) EncodeFinal(ctx context.Context, crf float64, probeIsFull bool) (ProbeOutput, error) {
	if probeIsFull {
		if probePath, ok := e.lastProbe[crf]; ok {
			if err := os.Rename(probePath, e.finalPath); err != nil {
				return ProbeOutput{}, errors.NewIOError("failed to promote probe to final output", err)
			}
			info, err := os.Stat(e.finalPath)
			if err != nil {
				return ProbeOutput{}, errors.NewIOError("final output missing", err)
			}
			return ProbeOutput{Path: e.finalPath, Size: uint64(info.Size())}, nil
		}
	}

	if err := e.encode(ctx, e.refPath, e.finalPath, crf, e.segmentDuration); err != nil {
		return ProbeOutput{}, err
	}

	info, err := os.Stat(e.finalPath)
	if err != nil {
		return ProbeOutput{}, errors.NewIOError("final output missing", err)
	}
	return ProbeOutput{Path: e.finalPath, Size: uint64(info.Size())}, nil
}

// encode runs one SVT-AV1 encode via ffmpeg.
func (e *FFmpegExecutor) encode(ctx context.Context, inputPath, outputPath string, crf, contentDuration float64) error {
	args := []string{
		"-hide_banner", "-y",
		"-i", inputPath,
		"-an", "-sn",
		"-c:v", "libsvtav1",
		"-preset", fmt.Sprintf("%d", e.settings.Preset),
		"-crf", fmt.Sprintf("%.0f", crf),
		"-pix_fmt", e.settings.PixelFormat,
		"-svtav1-params", e.settings.svtParamString(),
		outputPath,
	}

	_, err := e.runner.Run(ctx, proc.Cmd{
		Tool:        "ffmpeg",
		Args:        args,
		Timeout:     e.settings.processTimeout(contentDuration),
		LowPriority: e.settings.LowPriority,
	})
	return err
}
