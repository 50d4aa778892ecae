package analysis

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/five82/lathe/internal/config"
	"github.com/five82/lathe/internal/ffprobe"
	"github.com/five82/lathe/internal/mediainfo"
	"github.com/five82/lathe/internal/proc"
)

// Analyzer probes a source file and derives its content classification.
type Analyzer struct {
	cfg    *config.Config
	runner *proc.Runner
	prober *ffprobe.Prober
	reader *mediainfo.Reader
	logger zerolog.Logger

	// workDir receives analysis scratch files (grain probe encodes).
	workDir string

	// grainEncode overrides the grain probe encoder; nil uses ffmpeg.
	grainEncode grainEncoder
}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer(cfg *config.Config, runner *proc.Runner, workDir string, logger zerolog.Logger) *Analyzer {
	return &Analyzer{
		cfg:     cfg,
		runner:  runner,
		prober:  ffprobe.NewProber(runner),
		reader:  mediainfo.NewReader(runner),
		logger:  logger.With().Str("component", "analyzer").Logger(),
		workDir: workDir,
	}
}

// AnalyzeFile probes the source and classifies its content. The stream
// probe is fatal on failure; HDR, crop, and grain sub-probes degrade to
// safe defaults with a warning.
func (a *Analyzer) AnalyzeFile(ctx context.Context, inputPath string) (*SourceMedia, *ContentClassification, CropOutcome, error) {
	return a.analyze(ctx, inputPath)
}

func (a *Analyzer) analyze(ctx context.Context, inputPath string) (*SourceMedia, *ContentClassification, CropOutcome, error) {
	probe, err := a.prober.Probe(ctx, inputPath)
	if err != nil {
		return nil, nil, CropOutcome{}, err
	}

	source := &SourceMedia{
		Path:            probe.Path,
		Container:       probe.Container,
		Duration:        probe.Duration,
		Video:           *probe.PrimaryVideo(),
		AudioStreams:    probe.AudioStreams,
		SubtitleStreams: probe.SubtitleStreams,
		Chapters:        probe.Chapters,
	}

	// HDR/DV detection degrades to SDR when MediaInfo is unusable.
	if miData, err := a.reader.Read(ctx, inputPath); err != nil {
		a.logger.Warn().Err(err).Msg("mediainfo probe failed; assuming SDR")
		source.HDR = mediainfo.HDRInfo{Format: mediainfo.FormatSDR}
	} else {
		source.HDR = mediainfo.DetectHDR(miData)
	}

	classification := &ContentClassification{
		Tier:          TierForWidth(source.Video.Width),
		IsHDR:         source.HDR.IsHDR(),
		IsDolbyVision: source.HDR.IsDolbyVision(),
		DVProfile:     source.HDR.DVProfile,
		Grain:         GrainVeryClean,
	}

	// Crop detection.
	var cropOutcome CropOutcome
	if a.cfg.CropMode == "none" {
		cropOutcome = CropOutcome{Message: "Skipped"}
	} else {
		cropOutcome = a.DetectCrop(ctx, source, classification.IsHDR)
		classification.Crop = cropOutcome.Crop
	}

	// Grain analysis runs only when denoising is enabled and the content
	// is not Dolby Vision (DV passes through untouched).
	if a.cfg.DenoiseEnabled && !classification.IsDolbyVision {
		classification.Grain = a.AnalyzeGrain(ctx, source)
	}
	classification.DenoiseFilter = classification.Grain.DenoiseFilter()
	classification.GrainSynth = a.cfg.GrainSynthFor(classification.Grain.String())

	a.logger.Info().
		Str("tier", classification.Tier.String()).
		Str("dynamic_range", classification.DynamicRange()).
		Str("grain", classification.Grain.String()).
		Str("crop", classification.CropFilter()).
		Msg("analysis complete")

	return source, classification, cropOutcome, nil
}

// tempFile returns a scratch path inside the analyzer work directory.
func (a *Analyzer) tempFile(name string) string {
	if a.workDir == "" {
		return filepath.Join(os.TempDir(), name)
	}
	return filepath.Join(a.workDir, name)
}

// fileSize returns the size of a file in bytes.
func fileSize(path string) (uint64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return uint64(info.Size()), nil
}
