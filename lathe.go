// Package lathe provides a Go library for quality-targeted AV1 video
// encoding with SVT-AV1 and Opus audio.
//
// Lathe is an opinionated FFmpeg wrapper that segments sources at scene
// boundaries, searches for the CRF matching a perceptual quality target
// per segment, and reassembles a validated MKV.
//
// Basic usage:
//
//	encoder, err := lathe.New(
//	    lathe.WithPreset(lathe.PresetGrain),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := encoder.Encode(ctx, "input.mkv", "output/", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Printf("Encoded: %s, reduction: %.1f%%\n",
//	    result.OutputFile, result.SizeReductionPercent)
package lathe

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/five82/lathe/internal/config"
	"github.com/five82/lathe/internal/discovery"
	"github.com/five82/lathe/internal/processing"
	"github.com/five82/lathe/internal/reporter"
	"github.com/five82/lathe/internal/util"
)

// Preset re-exports the config preset type.
type Preset = config.Preset

const (
	PresetGrain = config.PresetGrain
	PresetClean = config.PresetClean
	PresetQuick = config.PresetQuick
)

// ParsePreset converts a preset string to a Preset value.
// Valid values are "grain", "clean", and "quick" (case-insensitive).
func ParsePreset(s string) (Preset, error) {
	return config.ParsePreset(s)
}

// ParseCRF parses a CRF argument: a single value or an SD,HD,UHD triple.
func ParseCRF(s string) (sd, hd, uhd uint8, err error) {
	return config.ParseCRF(s)
}

// Encoder is the main entry point for video encoding.
type Encoder struct {
	config *config.Config
}

// Result contains the result of a single file encode.
type Result struct {
	OutputFile           string
	OriginalSize         uint64
	EncodedSize          uint64
	SizeReductionPercent float64
	ValidationPassed     bool
	EncodingSpeed        float32
}

// BatchResult contains the result of a batch encode.
type BatchResult struct {
	Results               []Result
	SuccessfulCount       int
	TotalFiles            int
	TotalSizeReduction    float64
	ValidationPassedCount int
}

// Option configures the encoder.
type Option func(*config.Config)

// New creates a new Encoder with the given options.
func New(opts ...Option) (*Encoder, error) {
	cfg := config.NewConfig(".", ".", ".")

	for _, opt := range opts {
		opt(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Encoder{config: cfg}, nil
}

// WithPreset applies a lathe preset.
func WithPreset(p Preset) Option {
	return func(c *config.Config) {
		c.ApplyPreset(p)
	}
}

// WithCRF sets the per-tier CRF values used by the direct paths.
func WithCRF(sd, hd, uhd uint8) Option {
	return func(c *config.Config) {
		c.CRFSD = sd
		c.CRFHD = hd
		c.CRFUHD = uhd
	}
}

// WithTargetScore sets the perceptual quality window for TQ encoding.
func WithTargetScore(min, max float64) Option {
	return func(c *config.Config) {
		c.TargetScoreMin = min
		c.TargetScoreMax = max
	}
}

// WithParallelJobs sets the worker pool size (0 = auto-detect).
func WithParallelJobs(n int) Option {
	return func(c *config.Config) {
		c.ParallelJobs = n
	}
}

// WithDisableAutocrop disables automatic black bar detection.
func WithDisableAutocrop() Option {
	return func(c *config.Config) {
		c.CropMode = "none"
	}
}

// WithDisableDenoise disables grain analysis and denoising.
func WithDisableDenoise() Option {
	return func(c *config.Config) {
		c.DenoiseEnabled = false
	}
}

// WithDisablePrediction disables cross-segment CRF prediction, so every
// segment searches the full QP range.
func WithDisablePrediction() Option {
	return func(c *config.Config) {
		c.DisablePredict = true
	}
}

// WithResponsive enables responsive encoding (lower process priority).
func WithResponsive() Option {
	return func(c *config.Config) {
		c.ResponsiveEncoding = true
	}
}

// EncodeWithReporter encodes a single video file using a custom
// Reporter, giving the host direct access to all encoding events.
func (e *Encoder) EncodeWithReporter(ctx context.Context, input, outputDir string, rep Reporter) (*Result, error) {
	cfg := *e.config
	cfg.OutputDir = outputDir

	if err := util.EnsureDirectory(outputDir); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	if rep == nil {
		rep = reporter.NullReporter{}
	}

	results, err := processing.ProcessVideos(ctx, &cfg, []string{input}, "", rep, zerolog.Nop())
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("no files were encoded")
	}

	return toResult(input, outputDir, results[0]), nil
}

// Encode encodes a single video file, delivering events to handler when
// one is provided.
func (e *Encoder) Encode(ctx context.Context, input, outputDir string, handler EventHandler) (*Result, error) {
	var rep Reporter = reporter.NullReporter{}
	if handler != nil {
		rep = newEventReporter(handler)
	}
	return e.EncodeWithReporter(ctx, input, outputDir, rep)
}

// EncodeBatch encodes multiple video files.
func (e *Encoder) EncodeBatch(ctx context.Context, inputs []string, outputDir string, handler EventHandler) (*BatchResult, error) {
	cfg := *e.config
	cfg.OutputDir = outputDir

	if err := util.EnsureDirectory(outputDir); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	var rep Reporter = reporter.NullReporter{}
	if handler != nil {
		rep = newEventReporter(handler)
	}

	results, err := processing.ProcessVideos(ctx, &cfg, inputs, "", rep, zerolog.Nop())
	if err != nil {
		return nil, err
	}

	batch := &BatchResult{TotalFiles: len(inputs)}
	var totalInput, totalOutput uint64
	for _, r := range results {
		res := toResult(r.Filename, outputDir, r)
		batch.Results = append(batch.Results, *res)
		batch.SuccessfulCount++
		totalInput += r.InputSize
		totalOutput += r.OutputSize
		if r.ValidationPassed {
			batch.ValidationPassedCount++
		}
	}
	batch.TotalSizeReduction = util.CalculateSizeReduction(totalInput, totalOutput)

	return batch, nil
}

// FindVideos finds video files in a directory.
func FindVideos(dir string) ([]string, error) {
	return discovery.FindVideoFiles(dir)
}

func toResult(input, outputDir string, r processing.EncodeResult) *Result {
	return &Result{
		OutputFile:           util.ResolveOutputPath(input, outputDir, ""),
		OriginalSize:         r.InputSize,
		EncodedSize:          r.OutputSize,
		SizeReductionPercent: util.CalculateSizeReduction(r.InputSize, r.OutputSize),
		ValidationPassed:     r.ValidationPassed,
		EncodingSpeed:        r.EncodingSpeed,
	}
}
