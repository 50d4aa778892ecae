// Package config provides configuration types and defaults for lathe.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/five82/lathe/internal/errors"
)

// Default constants
const (
	// DefaultCRFSD is the default CRF quality setting for SD content (<1280 width).
	DefaultCRFSD uint8 = 25

	// DefaultCRFHD is the default CRF quality setting for HD content (>=1280, <3840 width).
	DefaultCRFHD uint8 = 25

	// DefaultCRFUHD is the default CRF quality setting for UHD content (>=3840 width).
	DefaultCRFUHD uint8 = 29

	// SDWidthThreshold is the maximum exclusive width for SD resolution.
	SDWidthThreshold uint32 = 1280

	// UHDWidthThreshold is the minimum width for UHD resolution.
	UHDWidthThreshold uint32 = 3840

	// DefaultSVTAV1Preset is the SVT-AV1 preset (0-13, lower is slower/better).
	DefaultSVTAV1Preset uint8 = 6

	// DefaultSVTAV1Tune is the SVT-AV1 tune parameter.
	DefaultSVTAV1Tune uint8 = 0

	// DefaultTargetScoreMin is the lower bound of the target quality window.
	DefaultTargetScoreMin float64 = 73.0

	// DefaultTargetScoreMax is the upper bound of the target quality window.
	DefaultTargetScoreMax float64 = 77.0

	// DefaultQPMin is the hard lower CRF search bound.
	DefaultQPMin float64 = 8

	// DefaultQPMax is the hard upper CRF search bound.
	DefaultQPMax float64 = 48

	// DefaultMaxRounds is the maximum TQ probe rounds per segment.
	DefaultMaxRounds int = 10

	// DefaultMetricMode aggregates per-frame scores ("mean" or "pN").
	DefaultMetricMode string = "mean"

	// DefaultSampleDuration is the probe sample slice length in seconds.
	DefaultSampleDuration float64 = 3.0

	// DefaultSampleMinChunk is the minimum segment duration for sample probing.
	DefaultSampleMinChunk float64 = 6.0

	// DefaultSampleWarmup is the warmup lead-in discarded from probe scoring.
	DefaultSampleWarmup float64 = 0.5

	// DefaultMinSegmentLength is the minimum segment duration in seconds.
	DefaultMinSegmentLength float64 = 5.0

	// DefaultMaxSegmentLength is the maximum segment duration in seconds.
	DefaultMaxSegmentLength float64 = 15.0

	// DefaultSceneThreshold is the scene-cut score threshold for SDR content.
	DefaultSceneThreshold float64 = 0.3

	// DefaultHDRSceneThreshold is the scene-cut score threshold for HDR content.
	DefaultHDRSceneThreshold float64 = 0.2

	// DefaultSceneTolerance is the boundary-to-cut match tolerance in seconds.
	DefaultSceneTolerance float64 = 0.5

	// DefaultMaxRetries is the per-segment retry budget.
	DefaultMaxRetries int = 2

	// DefaultForceQualityDrop is subtracted from the target score on the
	// final retry of a failing segment.
	DefaultForceQualityDrop float64 = 5.0

	// DefaultMemoryPerJobMB is the memory token cost of an HD encode job.
	DefaultMemoryPerJobMB uint64 = 2048

	// DefaultMemoryFraction caps token capacity to this share of available memory.
	DefaultMemoryFraction float64 = 0.5

	// DefaultWorkerStaggerMS delays successive worker startups to avoid
	// thundering-herd I/O on spinning storage.
	DefaultWorkerStaggerMS int = 250

	// DefaultProcessTimeoutFactor scales expected duration into a wall-clock
	// timeout for external processes.
	DefaultProcessTimeoutFactor float64 = 4.0

	// DefaultCropMinHeight rejects crops producing frames shorter than this.
	DefaultCropMinHeight uint32 = 100

	// DefaultCropMinBarPercent rejects crops removing less than this share
	// of frame height.
	DefaultCropMinBarPercent float64 = 1.0

	// DefaultGrainKneeThreshold selects the smallest denoise level whose
	// efficiency reaches this fraction of the maximum.
	DefaultGrainKneeThreshold float64 = 0.8

	// DefaultEncodeCooldownSecs is the cooldown period between batch encodes.
	DefaultEncodeCooldownSecs uint64 = 3

	// DefaultDurationAbsTolerance is the absolute output duration tolerance.
	DefaultDurationAbsTolerance float64 = 0.2

	// DefaultDurationRelTolerance is the relative output duration tolerance.
	DefaultDurationRelTolerance float64 = 0.05

	// MinChunkFileBytes is the minimum plausible size for an encoded segment.
	MinChunkFileBytes uint64 = 1024
)

// GrainSynthTable maps detected grain levels to SVT-AV1 film-grain
// synthesis strengths. Overridable via the [video] config section.
var GrainSynthTable = map[string]uint8{
	"veryclean": 0,
	"verylight": 4,
	"light":     8,
	"visible":   12,
	"medium":    16,
}

// Config holds all configuration for video processing. It is assembled by
// the boundary layer (flags > env > file > defaults) and treated as
// immutable once validated.
type Config struct {
	// Input/output paths
	InputDir  string
	OutputDir string
	LogDir    string
	TempDir   string // Optional, defaults to OutputDir

	// SVT-AV1 parameters
	SVTAV1Preset uint8
	SVTAV1Tune   uint8
	SVTAV1Params string // Extra key=value params appended to -svtav1-params

	// Quality settings (CRF value 0-63) by resolution tier
	CRFSD  uint8
	CRFHD  uint8
	CRFUHD uint8

	// Target quality search
	TargetScoreMin float64
	TargetScoreMax float64
	QPMin          float64
	QPMax          float64
	MaxRounds      int
	MetricMode     string // "mean" or "pN" (e.g. "p5")
	SampleDuration float64
	SampleMinChunk float64
	SampleWarmup   float64
	DisableTQ      bool // Force direct CRF encoding
	DisablePredict bool // Disable cross-segment CRF prediction

	// Segmentation
	MinSegmentLength  float64
	MaxSegmentLength  float64
	SceneThreshold    float64
	HDRSceneThreshold float64
	SceneTolerance    float64

	// Scheduling
	ParallelJobs       int
	MemoryPerJobMB     uint64
	MemoryFraction     float64
	MaxRetries         int
	ForceQualityDrop   float64
	WorkerStaggerMS    int
	ProcTimeoutFactor  float64
	ResponsiveEncoding bool

	// Analysis
	CropMode            string // "auto" or "none"
	CropMinHeight       uint32
	CropMinBarPercent   float64
	DenoiseEnabled      bool
	GrainKneeThreshold  float64
	GrainSynthOverrides map[string]uint8

	// Validation
	DurationAbsTolerance float64
	DurationRelTolerance float64

	// Batch behavior
	EncodeCooldownSecs uint64

	// Applied preset, if any
	Preset *Preset

	// Debug options
	Verbose bool
	NoColor bool

	// ProgressJSONPath receives the NDJSON event stream ("-" for stdout).
	ProgressJSONPath string
}

// NewConfig creates a new Config with default values.
func NewConfig(inputDir, outputDir, logDir string) *Config {
	return &Config{
		InputDir:             inputDir,
		OutputDir:            outputDir,
		LogDir:               logDir,
		SVTAV1Preset:         DefaultSVTAV1Preset,
		SVTAV1Tune:           DefaultSVTAV1Tune,
		CRFSD:                DefaultCRFSD,
		CRFHD:                DefaultCRFHD,
		CRFUHD:               DefaultCRFUHD,
		TargetScoreMin:       DefaultTargetScoreMin,
		TargetScoreMax:       DefaultTargetScoreMax,
		QPMin:                DefaultQPMin,
		QPMax:                DefaultQPMax,
		MaxRounds:            DefaultMaxRounds,
		MetricMode:           DefaultMetricMode,
		SampleDuration:       DefaultSampleDuration,
		SampleMinChunk:       DefaultSampleMinChunk,
		SampleWarmup:         DefaultSampleWarmup,
		MinSegmentLength:     DefaultMinSegmentLength,
		MaxSegmentLength:     DefaultMaxSegmentLength,
		SceneThreshold:       DefaultSceneThreshold,
		HDRSceneThreshold:    DefaultHDRSceneThreshold,
		SceneTolerance:       DefaultSceneTolerance,
		ParallelJobs:         0, // 0 = auto-detect at schedule time
		MemoryPerJobMB:       DefaultMemoryPerJobMB,
		MemoryFraction:       DefaultMemoryFraction,
		MaxRetries:           DefaultMaxRetries,
		ForceQualityDrop:     DefaultForceQualityDrop,
		WorkerStaggerMS:      DefaultWorkerStaggerMS,
		ProcTimeoutFactor:    DefaultProcessTimeoutFactor,
		CropMode:             "auto",
		CropMinHeight:        DefaultCropMinHeight,
		CropMinBarPercent:    DefaultCropMinBarPercent,
		DenoiseEnabled:       true,
		GrainKneeThreshold:   DefaultGrainKneeThreshold,
		DurationAbsTolerance: DefaultDurationAbsTolerance,
		DurationRelTolerance: DefaultDurationRelTolerance,
		EncodeCooldownSecs:   DefaultEncodeCooldownSecs,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.SVTAV1Preset > 13 {
		return errors.NewConfigError(fmt.Sprintf("svt_av1_preset must be 0-13, got %d", c.SVTAV1Preset))
	}
	for name, crf := range map[string]uint8{"crf-sd": c.CRFSD, "crf-hd": c.CRFHD, "crf-uhd": c.CRFUHD} {
		if crf > 63 {
			return errors.NewConfigError(fmt.Sprintf("%s must be 0-63, got %d", name, crf))
		}
	}

	if c.TargetScoreMin >= c.TargetScoreMax {
		return errors.NewConfigError(fmt.Sprintf("target score min (%g) must be less than max (%g)",
			c.TargetScoreMin, c.TargetScoreMax))
	}
	if c.QPMin >= c.QPMax {
		return errors.NewConfigError(fmt.Sprintf("qp-min (%g) must be less than qp-max (%g)", c.QPMin, c.QPMax))
	}
	if c.QPMin < 0 || c.QPMax > 63 {
		return errors.NewConfigError(fmt.Sprintf("qp range [%g, %g] outside valid CRF range 0-63", c.QPMin, c.QPMax))
	}
	if c.MaxRounds < 1 {
		return errors.NewConfigError(fmt.Sprintf("max-rounds must be at least 1, got %d", c.MaxRounds))
	}
	if _, err := ParseMetricMode(c.MetricMode); err != nil {
		return err
	}

	if c.MinSegmentLength <= 0 || c.MinSegmentLength >= c.MaxSegmentLength {
		return errors.NewConfigError(fmt.Sprintf("segment length range [%g, %g] invalid",
			c.MinSegmentLength, c.MaxSegmentLength))
	}

	if c.ParallelJobs < 0 {
		return errors.NewConfigError(fmt.Sprintf("parallel-jobs must be non-negative, got %d", c.ParallelJobs))
	}
	if c.MaxRetries < 0 {
		return errors.NewConfigError(fmt.Sprintf("max-retries must be non-negative, got %d", c.MaxRetries))
	}
	if c.MemoryFraction <= 0 || c.MemoryFraction > 1 {
		return errors.NewConfigError(fmt.Sprintf("memory fraction must be in (0, 1], got %g", c.MemoryFraction))
	}

	if c.CropMode != "auto" && c.CropMode != "none" {
		return errors.NewConfigError(fmt.Sprintf("crop mode must be auto or none, got %q", c.CropMode))
	}
	if c.GrainKneeThreshold <= 0 || c.GrainKneeThreshold > 1 {
		return errors.NewConfigError(fmt.Sprintf("grain knee threshold must be in (0, 1], got %g", c.GrainKneeThreshold))
	}

	return nil
}

// TargetScore returns the midpoint of the target quality window.
func (c *Config) TargetScore() float64 {
	return (c.TargetScoreMin + c.TargetScoreMax) / 2
}

// ScoreTolerance returns half the target quality window width.
func (c *Config) ScoreTolerance() float64 {
	return (c.TargetScoreMax - c.TargetScoreMin) / 2
}

// CRFForWidth returns the appropriate CRF value based on video width.
func (c *Config) CRFForWidth(width uint32) uint8 {
	if width >= UHDWidthThreshold {
		return c.CRFUHD
	}
	if width >= SDWidthThreshold {
		return c.CRFHD
	}
	return c.CRFSD
}

// GrainSynthFor resolves the film-grain synthesis strength for a grain
// level name, honoring configured overrides.
func (c *Config) GrainSynthFor(level string) uint8 {
	key := strings.ToLower(level)
	if c.GrainSynthOverrides != nil {
		if v, ok := c.GrainSynthOverrides[key]; ok {
			return v
		}
	}
	return GrainSynthTable[key]
}

// GetTempDir returns the temp directory, falling back to OutputDir.
func (c *Config) GetTempDir() string {
	if c.TempDir != "" {
		return c.TempDir
	}
	return c.OutputDir
}

// ParseCRF parses a CRF argument: either a single value applied to all
// tiers or an SD,HD,UHD triple.
func ParseCRF(s string) (sd, hd, uhd uint8, err error) {
	parse := func(part string) (uint8, error) {
		v, err := strconv.ParseUint(strings.TrimSpace(part), 10, 8)
		if err != nil || v > 63 {
			return 0, errors.NewConfigError(fmt.Sprintf("CRF value %q must be 0-63", part))
		}
		return uint8(v), nil
	}

	parts := strings.Split(s, ",")
	switch len(parts) {
	case 1:
		v, err := parse(parts[0])
		if err != nil {
			return 0, 0, 0, err
		}
		return v, v, v, nil
	case 3:
		sd, err = parse(parts[0])
		if err != nil {
			return 0, 0, 0, err
		}
		hd, err = parse(parts[1])
		if err != nil {
			return 0, 0, 0, err
		}
		uhd, err = parse(parts[2])
		if err != nil {
			return 0, 0, 0, err
		}
		return sd, hd, uhd, nil
	default:
		return 0, 0, 0, errors.NewConfigError(
			fmt.Sprintf("CRF must be a single value or SD,HD,UHD triple, got %q", s))
	}
}

// MetricMode describes per-frame score aggregation.
type MetricMode struct {
	// Percentile is -1 for mean, otherwise the pN percentile (0-100).
	Percentile float64
}

// IsMean reports whether the mode is mean aggregation.
func (m MetricMode) IsMean() bool { return m.Percentile < 0 }

// ParseMetricMode parses "mean" or "pN" (e.g. "p5", "p25").
func ParseMetricMode(s string) (MetricMode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "mean" {
		return MetricMode{Percentile: -1}, nil
	}
	if strings.HasPrefix(s, "p") {
		n, err := strconv.ParseFloat(s[1:], 64)
		if err == nil && n > 0 && n <= 100 {
			return MetricMode{Percentile: n}, nil
		}
	}
	return MetricMode{}, errors.NewConfigError(fmt.Sprintf("metric mode must be mean or pN, got %q", s))
}
