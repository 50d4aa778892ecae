// Package validation checks encoded output against the container contract.
package validation

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/five82/lathe/internal/config"
	"github.com/five82/lathe/internal/errors"
	"github.com/five82/lathe/internal/ffprobe"
)

// Step is a single validation check result.
type Step struct {
	Name    string
	Passed  bool
	Details string
}

// Result aggregates validation steps for one output file.
type Result struct {
	Steps []Step
}

// Passed reports whether every step passed.
func (r *Result) Passed() bool {
	for _, s := range r.Steps {
		if !s.Passed {
			return false
		}
	}
	return true
}

// FailedSteps returns the failing steps.
func (r *Result) FailedSteps() []Step {
	var failed []Step
	for _, s := range r.Steps {
		if !s.Passed {
			failed = append(failed, s)
		}
	}
	return failed
}

// Err converts a failed result into a ValidationError, or nil.
func (r *Result) Err() error {
	failed := r.FailedSteps()
	if len(failed) == 0 {
		return nil
	}
	parts := make([]string, len(failed))
	for i, s := range failed {
		parts[i] = fmt.Sprintf("%s: %s", s.Name, s.Details)
	}
	return errors.NewValidationError(strings.Join(parts, "; "))
}

// Expectation describes what the output must contain.
type Expectation struct {
	Duration            float64
	AudioStreamCount    int
	SubtitleStreamCount int
	Width               uint32
	Height              uint32
}

// MediaProber abstracts the output probe for testing.
type MediaProber interface {
	Probe(ctx context.Context, path string) (*ffprobe.MediaProbe, error)
}

// Validator checks encoded outputs.
type Validator struct {
	cfg    *config.Config
	prober MediaProber
}

// NewValidator creates a Validator.
func NewValidator(cfg *config.Config, prober MediaProber) *Validator {
	return &Validator{cfg: cfg, prober: prober}
}

// Validate probes the output and checks it against the expectation.
func (v *Validator) Validate(ctx context.Context, outputPath string, expect Expectation) (*Result, error) {
	probe, err := v.prober.Probe(ctx, outputPath)
	if err != nil {
		return nil, err
	}
	return Check(probe, expect, v.cfg.DurationAbsTolerance, v.cfg.DurationRelTolerance), nil
}

// Check runs the validation steps over a probed output.
func Check(probe *ffprobe.MediaProbe, expect Expectation, absTol, relTol float64) *Result {
	result := &Result{}
	add := func(name string, passed bool, details string) {
		result.Steps = append(result.Steps, Step{Name: name, Passed: passed, Details: details})
	}

	// Exactly one AV1 video stream.
	switch {
	case len(probe.VideoStreams) != 1:
		add("Video codec", false, fmt.Sprintf("expected exactly one video stream, got %d", len(probe.VideoStreams)))
	case !isAV1(probe.PrimaryVideo().CodecName):
		add("Video codec", false, fmt.Sprintf("expected AV1, got %s", probe.PrimaryVideo().CodecName))
	default:
		add("Video codec", true, "AV1")
	}

	// All audio streams are Opus and the count matches the source.
	audioOK := true
	for _, s := range probe.AudioStreams {
		if !strings.EqualFold(s.CodecName, "opus") {
			add("Audio codec", false, fmt.Sprintf("stream %d is %s, expected Opus", s.Index, s.CodecName))
			audioOK = false
			break
		}
	}
	if audioOK {
		add("Audio codec", true, fmt.Sprintf("%d Opus streams", len(probe.AudioStreams)))
	}
	add("Audio stream count", len(probe.AudioStreams) == expect.AudioStreamCount,
		fmt.Sprintf("got %d, expected %d", len(probe.AudioStreams), expect.AudioStreamCount))

	// Subtitle preservation.
	add("Subtitle streams", len(probe.SubtitleStreams) == expect.SubtitleStreamCount,
		fmt.Sprintf("got %d, expected %d", len(probe.SubtitleStreams), expect.SubtitleStreamCount))

	// Duration within max(absolute, relative) tolerance.
	tolerance := math.Max(absTol, expect.Duration*relTol)
	diff := math.Abs(probe.Duration - expect.Duration)
	add("Duration", diff <= tolerance,
		fmt.Sprintf("got %.2fs, expected %.2fs (tolerance %.2fs)", probe.Duration, expect.Duration, tolerance))

	// Frame geometry after cropping.
	if expect.Width > 0 && expect.Height > 0 && len(probe.VideoStreams) == 1 {
		video := probe.PrimaryVideo()
		add("Dimensions", video.Width == expect.Width && video.Height == expect.Height,
			fmt.Sprintf("got %dx%d, expected %dx%d", video.Width, video.Height, expect.Width, expect.Height))
	}

	return result
}

// isAV1 matches the codec names ffprobe reports for AV1.
func isAV1(codecName string) bool {
	lower := strings.ToLower(codecName)
	return strings.Contains(lower, "av1") || strings.Contains(lower, "av01")
}
