package sched

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/five82/lathe/internal/config"
	"github.com/five82/lathe/internal/errors"
	"github.com/five82/lathe/internal/proc"
	"github.com/five82/lathe/internal/router"
	"github.com/five82/lathe/internal/segment"
	"github.com/five82/lathe/internal/state"
	"github.com/five82/lathe/internal/tq"
	"github.com/five82/lathe/internal/util"
)

// TQSegmentEncoder is the production SegmentEncoder: it extracts a
// lossless reference for the segment, runs the target-quality search
// over it, and leaves the final encode under the encoded directory.
type TQSegmentEncoder struct {
	cfg       *config.Config
	plan      router.Plan
	searchCfg *tq.Config
	runner    *proc.Runner
	dirs      state.Dirs
	sourceFPS float64
	source    string
	logger    zerolog.Logger
}

// NewTQSegmentEncoder creates the production segment encoder.
func NewTQSegmentEncoder(
	cfg *config.Config,
	plan router.Plan,
	runner *proc.Runner,
	dirs state.Dirs,
	sourcePath string,
	sourceFPS float64,
	logger zerolog.Logger,
) *TQSegmentEncoder {
	return &TQSegmentEncoder{
		cfg:       cfg,
		plan:      plan,
		searchCfg: tq.FromAppConfig(cfg),
		runner:    runner,
		dirs:      dirs,
		source:    sourcePath,
		sourceFPS: sourceFPS,
		logger:    logger,
	}
}

// EncodedPath names the final output for a segment index.
func EncodedPath(encodedDir string, idx int) string {
	return filepath.Join(encodedDir, fmt.Sprintf("%04d.ivf", idx))
}

// referencePath names the lossless segment extraction.
func (e *TQSegmentEncoder) referencePath(idx int) string {
	return filepath.Join(e.dirs.Segments, fmt.Sprintf("%04d_ref.mkv", idx))
}

// EncodeSegment implements SegmentEncoder.
func (e *TQSegmentEncoder) EncodeSegment(
	ctx context.Context,
	seg segment.Segment,
	predictedCRF *float64,
	targetDrop float64,
) (*tq.ChunkResult, error) {
	refPath := e.referencePath(seg.Index)
	if !util.FileExists(refPath) {
		if err := e.extractReference(ctx, seg, refPath); err != nil {
			return nil, err
		}
	}

	settings := tq.EncodeSettings{
		Preset:        e.plan.SVTPreset,
		Tune:          e.plan.SVTTune,
		PixelFormat:   e.plan.PixelFormat,
		SVTParams:     e.plan.SVTParams,
		FilmGrain:     e.plan.FilmGrain,
		FPS:           e.sourceFPS,
		LowPriority:   e.cfg.ResponsiveEncoding,
		TimeoutFactor: e.cfg.ProcTimeoutFactor,
	}

	searchCfg := e.searchCfg
	if targetDrop > 0 {
		// Forced-quality final attempt: aim lower so a stubborn segment
		// can land inside the window.
		adjusted := *searchCfg
		adjusted.Target -= targetDrop
		searchCfg = &adjusted
	}

	exec := tq.NewFFmpegExecutor(
		e.runner,
		settings,
		seg.Index,
		seg.Duration,
		refPath,
		e.dirs.Working,
		EncodedPath(e.dirs.Encoded, seg.Index),
		e.logger,
	)

	searcher := tq.NewSearcher(searchCfg, e.logger)
	result, err := searcher.Search(ctx, seg.Index, seg.Duration, exec, predictedCRF)
	if err != nil {
		return nil, err
	}

	if result.EncodedBytes < config.MinChunkFileBytes {
		return nil, errors.NewRetryableEncodeError(
			fmt.Sprintf("segment %d output suspiciously small (%d bytes)", seg.Index, result.EncodedBytes), nil)
	}
	return result, nil
}

// extractReference cuts the segment from the source into a lossless
// intra-only intermediate with the plan's crop and denoise filters
// applied, so probes and the final encode see identical frames.
func (e *TQSegmentEncoder) extractReference(ctx context.Context, seg segment.Segment, refPath string) error {
	args := []string{
		"-hide_banner", "-y",
		"-ss", util.FormatTimestamp(seg.Start),
		"-i", e.source,
		"-t", util.FormatTimestamp(seg.Duration),
		"-an", "-sn", "-map_chapters", "-1",
	}

	var filters []string
	if e.plan.CropFilter != "" {
		filters = append(filters, e.plan.CropFilter)
	}
	if e.plan.DenoiseFilter != "" {
		filters = append(filters, e.plan.DenoiseFilter)
	}
	if len(filters) > 0 {
		args = append(args, "-vf", joinFilters(filters))
	}

	args = append(args,
		"-c:v", "ffv1",
		"-level", "3",
		"-pix_fmt", e.plan.PixelFormat,
		refPath,
	)

	_, err := e.runner.Run(ctx, proc.Cmd{
		Tool:        "ffmpeg",
		Args:        args,
		LowPriority: e.cfg.ResponsiveEncoding,
	})
	return err
}

func joinFilters(filters []string) string {
	out := filters[0]
	for _, f := range filters[1:] {
		out += "," + f
	}
	return out
}
