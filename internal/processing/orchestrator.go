// Package processing orchestrates the per-file encoding pipeline:
// analyze, route, segment, schedule, assemble, validate.
package processing

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/five82/lathe/internal/analysis"
	"github.com/five82/lathe/internal/assemble"
	"github.com/five82/lathe/internal/config"
	"github.com/five82/lathe/internal/errors"
	"github.com/five82/lathe/internal/ffprobe"
	"github.com/five82/lathe/internal/proc"
	"github.com/five82/lathe/internal/reporter"
	"github.com/five82/lathe/internal/router"
	"github.com/five82/lathe/internal/sched"
	"github.com/five82/lathe/internal/segment"
	"github.com/five82/lathe/internal/state"
	"github.com/five82/lathe/internal/sysinfo"
	"github.com/five82/lathe/internal/tq"
	"github.com/five82/lathe/internal/util"
	"github.com/five82/lathe/internal/validation"
)

// RequiredTools are the external binaries the pipeline depends on.
var RequiredTools = []string{"ffmpeg", "ffprobe", "mediainfo", "ssimulacra2_rs"}

// EncodeResult contains the result of a single file encode.
type EncodeResult struct {
	Filename          string
	Duration          time.Duration
	InputSize         uint64
	OutputSize        uint64
	VideoDurationSecs float64
	EncodingSpeed     float32
	ValidationPassed  bool
	ValidationSteps   []validation.Step
}

// ProcessVideos orchestrates encoding for a list of video files.
func ProcessVideos(
	ctx context.Context,
	cfg *config.Config,
	filesToProcess []string,
	targetFilenameOverride string,
	rep reporter.Reporter,
	logger zerolog.Logger,
) ([]EncodeResult, error) {
	if rep == nil {
		rep = reporter.NullReporter{}
	}

	if err := proc.CheckTools(RequiredTools...); err != nil {
		return nil, err
	}

	host := sysinfo.GetHostInfo()
	rep.Hardware(reporter.HardwareSummary{
		Hostname:      host.Hostname,
		LogicalCores:  host.LogicalCores,
		PhysicalCores: host.PhysicalCores,
		TotalMemory:   host.TotalMemory,
	})

	if len(filesToProcess) > 1 {
		var fileNames []string
		for _, f := range filesToProcess {
			fileNames = append(fileNames, util.GetFilename(f))
		}
		rep.BatchStarted(reporter.BatchStartInfo{
			TotalFiles: len(filesToProcess),
			FileList:   fileNames,
			OutputDir:  cfg.OutputDir,
		})
	}

	var results []EncodeResult
	var lastErr error

	for fileIdx, inputPath := range filesToProcess {
		if err := ctx.Err(); err != nil {
			rep.Warning("encoding cancelled")
			return results, errors.NewCancelledError()
		}

		if len(filesToProcess) > 1 {
			rep.FileProgress(reporter.FileProgressContext{
				CurrentFile: fileIdx + 1,
				TotalFiles:  len(filesToProcess),
				Filename:    util.GetFilename(inputPath),
			})
		}

		override := ""
		if len(filesToProcess) == 1 && targetFilenameOverride != "" {
			override = targetFilenameOverride
		}
		outputPath := util.ResolveOutputPath(inputPath, cfg.OutputDir, override)

		if util.FileExists(outputPath) {
			rep.Warning(fmt.Sprintf("Output file already exists: %s. Skipping encode.", outputPath))
			continue
		}

		result, err := processOne(ctx, cfg, inputPath, outputPath, rep, logger)
		if err != nil {
			if errors.IsCancelled(err) {
				return results, err
			}
			lastErr = err
			rep.Error(reporter.ReporterError{
				Title:      "Encoding Error",
				Message:    err.Error(),
				Context:    fmt.Sprintf("File: %s", inputPath),
				Suggestion: errors.Suggestion(err),
			})
			continue
		}
		results = append(results, *result)

		if len(filesToProcess) > 1 && fileIdx < len(filesToProcess)-1 && cfg.EncodeCooldownSecs > 0 {
			select {
			case <-time.After(time.Duration(cfg.EncodeCooldownSecs) * time.Second):
			case <-ctx.Done():
				return results, errors.NewCancelledError()
			}
		}
	}

	emitSummary(rep, results, len(filesToProcess))

	if len(results) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return results, nil
}

// processOne runs the full pipeline for a single file.
func processOne(
	ctx context.Context,
	cfg *config.Config,
	inputPath, outputPath string,
	rep reporter.Reporter,
	logger zerolog.Logger,
) (*EncodeResult, error) {
	fileStart := time.Now()
	runner := proc.NewRunner(logger)

	mgr, err := state.NewManager(cfg.GetTempDir(), inputPath, outputPath, logger)
	if err != nil {
		return nil, err
	}
	dirs := mgr.Dirs()

	// Resume: adopt a prior checkpoint when one survives validation.
	resumed := false
	if prior, err := state.Load(cfg.GetTempDir(), inputPath); err == nil && prior != nil {
		dropped := state.ValidateResults(prior)
		state.RebuildPredictor(prior)
		phase := state.ResumePhase(prior, len(dropped) > 0)
		if phase != state.PhaseAnalyzing && prior.Source != nil && prior.Classification != nil && prior.Plan != nil {
			mgr.Restore(prior)
			resumed = true
			rep.StageProgress(reporter.StageProgress{
				Stage: "resume",
				Message: fmt.Sprintf("resuming from checkpoint: %d/%d segments done, %d invalidated",
					len(prior.ChunkResults), planCount(prior), len(dropped)),
			})
		}
	}

	job := mgr.Job()

	var source *analysis.SourceMedia
	var class *analysis.ContentClassification
	var plan router.Plan

	if resumed {
		source = job.Source
		class = job.Classification
		plan = *job.Plan
	} else {
		rep.StageProgress(reporter.StageProgress{Stage: "analysis", Message: "probing source"})

		analyzer := analysis.NewAnalyzer(cfg, runner, dirs.Working, logger)
		var cropOutcome analysis.CropOutcome
		source, class, cropOutcome, err = analyzer.AnalyzeFile(ctx, inputPath)
		if err != nil {
			mgr.PreserveFailure()
			return nil, err
		}

		rep.Initialization(reporter.InitializationSummary{
			InputFile:        util.GetFilename(inputPath),
			OutputFile:       util.GetFilename(outputPath),
			Duration:         util.FormatDuration(source.Duration),
			Resolution:       fmt.Sprintf("%dx%d", source.Video.Width, source.Video.Height),
			Category:         class.Tier.String(),
			DynamicRange:     class.DynamicRange(),
			AudioDescription: assemble.DescribeAudio(source.AudioStreams),
		})
		rep.CropResult(reporter.CropSummary{
			Message:  cropOutcome.Message,
			Crop:     class.CropFilter(),
			Required: class.Crop != nil,
			Disabled: cfg.CropMode == "none",
		})

		plan = router.Route(cfg, source, class)
		if err := mgr.Update(func(js *state.JobState) {
			js.Source = source
			js.Classification = class
			js.Plan = &plan
		}); err != nil {
			return nil, err
		}
	}

	rep.EncodingConfig(reporter.EncodingConfigSummary{
		Encoder:          "SVT-AV1",
		Mode:             plan.Mode.String(),
		Preset:           fmt.Sprintf("%d", plan.SVTPreset),
		Tune:             fmt.Sprintf("%d", plan.SVTTune),
		Quality:          plan.QualityLabel(),
		PixelFormat:      plan.PixelFormat,
		AudioCodec:       "Opus",
		AudioDescription: assemble.DescribeAudio(source.AudioStreams),
		GrainLevel:       class.Grain.String(),
		DenoiseFilter:    plan.DenoiseFilter,
		LathePreset:      presetName(cfg),
		SVTAV1Params:     plan.SVTParams,
	})

	// Encode the video track by the routed path.
	videoOnly := filepath.Join(dirs.Working, "video.mkv")
	assembler := assemble.NewAssembler(cfg, runner, logger)

	var failure error
	if plan.IsChunked() {
		failure = encodeChunked(ctx, cfg, mgr, runner, source, class, plan, rep, logger)
		if failure == nil {
			if err := mgr.SetPhase(state.PhaseAssembling); err != nil {
				failure = err
			} else {
				rep.StageProgress(reporter.StageProgress{Stage: "assembly", Message: "concatenating segments"})
				failure = assembler.Assemble(ctx, source, mgr.Job().ChunkResults, dirs.Working, outputPath)
			}
		}
	} else {
		failure = encodeDirect(ctx, cfg, mgr, runner, source, plan, videoOnly, rep)
		if failure == nil {
			if err := mgr.SetPhase(state.PhaseAssembling); err != nil {
				failure = err
			} else {
				rep.StageProgress(reporter.StageProgress{Stage: "assembly", Message: "muxing audio and subtitles"})
				failure = assembler.Mux(ctx, source, videoOnly, outputPath)
			}
		}
	}

	if failure != nil {
		_ = mgr.SetPhase(state.PhaseFailed)
		mgr.PreserveFailure()
		return nil, failure
	}

	// Validation.
	if err := mgr.SetPhase(state.PhaseValidating); err != nil {
		return nil, err
	}
	expectW, expectH := analysis.OutputDimensions(source.Video.Width, source.Video.Height, plan.CropFilter)
	validator := validation.NewValidator(cfg, ffprobe.NewProber(runner))
	valResult, err := validator.Validate(ctx, outputPath, validation.Expectation{
		Duration:            source.Duration,
		AudioStreamCount:    len(source.AudioStreams),
		SubtitleStreamCount: len(source.SubtitleStreams),
		Width:               expectW,
		Height:              expectH,
	})
	if err != nil {
		_ = mgr.SetPhase(state.PhaseFailed)
		mgr.PreserveFailure()
		return nil, err
	}

	var repSteps []reporter.ValidationStep
	for _, s := range valResult.Steps {
		repSteps = append(repSteps, reporter.ValidationStep{Name: s.Name, Passed: s.Passed, Details: s.Details})
	}
	rep.ValidationComplete(reporter.ValidationSummary{Passed: valResult.Passed(), Steps: repSteps})

	if verr := valResult.Err(); verr != nil {
		_ = mgr.SetPhase(state.PhaseFailed)
		mgr.PreserveFailure()
		return nil, verr
	}

	// Success: emit the outcome and clean the temp tree.
	elapsed := time.Since(fileStart)
	inputSize, _ := util.GetFileSize(inputPath)
	outputSize, _ := util.GetFileSize(outputPath)
	speed := float32(0)
	if elapsed.Seconds() > 0 {
		speed = float32(source.Duration / elapsed.Seconds())
	}

	rep.EncodingComplete(reporter.EncodingOutcome{
		InputFile:    util.GetFilename(inputPath),
		OutputFile:   util.GetFilename(outputPath),
		OriginalSize: inputSize,
		EncodedSize:  outputSize,
		VideoStream:  fmt.Sprintf("AV1 (libsvtav1), %dx%d", expectW, expectH),
		AudioStream:  assemble.DescribeAudio(source.AudioStreams),
		TotalTime:    elapsed,
		AverageSpeed: speed,
		OutputPath:   outputPath,
	})

	_ = mgr.SetPhase(state.PhaseDone)
	mgr.CleanupSuccess()

	return &EncodeResult{
		Filename:          util.GetFilename(inputPath),
		Duration:          elapsed,
		InputSize:         inputSize,
		OutputSize:        outputSize,
		VideoDurationSecs: source.Duration,
		EncodingSpeed:     speed,
		ValidationPassed:  valResult.Passed(),
		ValidationSteps:   valResult.Steps,
	}, nil
}

// encodeChunked runs segmentation plus the scheduler-driven TQ pipeline.
func encodeChunked(
	ctx context.Context,
	cfg *config.Config,
	mgr *state.Manager,
	runner *proc.Runner,
	source *analysis.SourceMedia,
	class *analysis.ContentClassification,
	plan router.Plan,
	rep reporter.Reporter,
	logger zerolog.Logger,
) error {
	job := mgr.Job()
	dirs := mgr.Dirs()

	// Segmentation plan: reuse the checkpointed one so resume reproduces
	// identical boundaries.
	chunkPlan := job.ChunkPlan
	if chunkPlan == nil {
		if err := mgr.SetPhase(state.PhaseSegmenting); err != nil {
			return err
		}
		rep.StageProgress(reporter.StageProgress{Stage: "segmentation", Message: "detecting scene boundaries"})

		segmenter := segment.NewSegmenter(cfg, runner, logger)
		var err error
		chunkPlan, err = segmenter.BuildPlan(ctx, source.Path, source.Duration, class.IsHDR)
		if err != nil {
			return err
		}
		if err := mgr.Update(func(js *state.JobState) {
			js.ChunkPlan = chunkPlan
		}); err != nil {
			return err
		}
	}

	rep.StageProgress(reporter.StageProgress{
		Stage:   "segmentation",
		Message: fmt.Sprintf("%d segments planned", chunkPlan.Count()),
	})

	if err := mgr.SetPhase(state.PhaseEncoding); err != nil {
		return err
	}
	rep.EncodingStarted(source.TotalFrames())

	tracker := tq.NewTracker()
	tracker.Restore(mgr.Job().Predictor)

	done := make(map[int]bool)
	for idx := range mgr.Job().ChunkResults {
		done[idx] = true
	}

	encoder := sched.NewTQSegmentEncoder(cfg, plan, runner, dirs, source.Path, source.FPS(), logger)
	scheduler := sched.New(cfg, encoder, tracker, logger)

	err := scheduler.Run(ctx, chunkPlan.Segments, done, sched.Options{
		Tier: class.Tier,
		OnResult: func(result *tq.ChunkResult) {
			if err := mgr.ApplyResult(result); err != nil {
				logger.Warn().Err(err).Int("segment", result.Index).Msg("failed to checkpoint result")
			}
		},
		OnProgress: func(p sched.Progress) {
			rep.EncodingProgress(reporter.ProgressSnapshot{
				Percent:        p.Percent(),
				ChunksComplete: p.ChunksComplete,
				ChunksTotal:    p.ChunksTotal,
			})
		},
	})
	if err != nil {
		return err
	}

	var completed []*tq.ChunkResult
	for _, r := range mgr.Job().ChunkResults {
		completed = append(completed, r)
	}
	if stats := tq.ComputeStats(completed, cfg.TargetScore(), cfg.ScoreTolerance()); stats != nil {
		logger.Info().Msg("target quality summary: " + stats.Summary())
		rep.Verbose("TQ " + stats.Summary())
	}

	return nil
}

// encodeDirect runs the single-pass encode used by the direct-CRF and
// Dolby Vision passthrough paths.
func encodeDirect(
	ctx context.Context,
	cfg *config.Config,
	mgr *state.Manager,
	runner *proc.Runner,
	source *analysis.SourceMedia,
	plan router.Plan,
	videoOnly string,
	rep reporter.Reporter,
) error {
	if err := mgr.SetPhase(state.PhaseEncoding); err != nil {
		return err
	}
	rep.EncodingStarted(source.TotalFrames())

	args := []string{
		"-hide_banner", "-y",
		"-i", source.Path,
		"-an", "-sn", "-map_chapters", "-1",
	}

	var filters []string
	if plan.CropFilter != "" {
		filters = append(filters, plan.CropFilter)
	}
	if plan.DenoiseFilter != "" {
		filters = append(filters, plan.DenoiseFilter)
	}
	if len(filters) > 0 {
		vf := filters[0]
		for _, f := range filters[1:] {
			vf += "," + f
		}
		args = append(args, "-vf", vf)
	}

	svtParams := fmt.Sprintf("tune=%d", plan.SVTTune)
	if plan.FilmGrain > 0 {
		svtParams += fmt.Sprintf(":film-grain=%d", plan.FilmGrain)
	}
	if plan.Mode == router.ModeDolbyVisionPassthrough {
		// Carry the source's DV RPU through the encode.
		args = append(args, "-map_metadata", "0")
	}
	if plan.SVTParams != "" {
		svtParams += ":" + plan.SVTParams
	}

	args = append(args,
		"-c:v", "libsvtav1",
		"-preset", fmt.Sprintf("%d", plan.SVTPreset),
		"-crf", fmt.Sprintf("%d", plan.CRF),
		"-pix_fmt", plan.PixelFormat,
		"-svtav1-params", svtParams,
		videoOnly,
	)

	_, err := runner.Run(ctx, proc.Cmd{
		Tool:        "ffmpeg",
		Args:        args,
		LowPriority: cfg.ResponsiveEncoding,
		OnStderr: func(line string) {
			if p := proc.ParseEncoderProgress(line, source.Duration, source.TotalFrames()); p != nil {
				rep.EncodingProgress(reporter.ProgressSnapshot{
					CurrentFrame: p.CurrentFrame,
					TotalFrames:  p.TotalFrames,
					Percent:      p.Percent,
					Speed:        p.Speed,
					FPS:          p.FPS,
					ETA:          p.ETA,
					Bitrate:      p.Bitrate,
				})
			}
		},
	})
	return err
}

// emitSummary reports the batch outcome.
func emitSummary(rep reporter.Reporter, results []EncodeResult, totalFiles int) {
	switch len(results) {
	case 0:
		rep.Warning("No files were successfully encoded")
	case 1:
		rep.OperationComplete(fmt.Sprintf("Successfully encoded %s", results[0].Filename))
	default:
		var totalDuration time.Duration
		var totalOriginal, totalEncoded uint64
		var totalVideoDuration float64
		var fileResults []reporter.FileResult
		validationPassed := 0

		for _, r := range results {
			totalDuration += r.Duration
			totalOriginal += r.InputSize
			totalEncoded += r.OutputSize
			totalVideoDuration += r.VideoDurationSecs
			fileResults = append(fileResults, reporter.FileResult{
				Filename:  r.Filename,
				Reduction: util.CalculateSizeReduction(r.InputSize, r.OutputSize),
			})
			if r.ValidationPassed {
				validationPassed++
			}
		}

		avgSpeed := float32(0)
		if totalDuration.Seconds() > 0 {
			avgSpeed = float32(totalVideoDuration / totalDuration.Seconds())
		}

		rep.BatchComplete(reporter.BatchSummary{
			SuccessfulCount:       len(results),
			TotalFiles:            totalFiles,
			TotalOriginalSize:     totalOriginal,
			TotalEncodedSize:      totalEncoded,
			TotalDuration:         totalDuration,
			AverageSpeed:          avgSpeed,
			FileResults:           fileResults,
			ValidationPassedCount: validationPassed,
			ValidationFailedCount: len(results) - validationPassed,
		})
	}
}

// presetName formats the applied preset for display.
func presetName(cfg *config.Config) string {
	if cfg.Preset == nil {
		return ""
	}
	return cfg.Preset.String()
}

// planCount returns the chunk count of a job's plan, 0 when unplanned.
func planCount(js *state.JobState) int {
	if js.ChunkPlan == nil {
		return 0
	}
	return js.ChunkPlan.Count()
}
