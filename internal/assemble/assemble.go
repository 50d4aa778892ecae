// Package assemble reconstructs the final MKV from encoded segments:
// concat, audio re-encode, subtitle copy, and container mux.
package assemble

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"

	"github.com/five82/lathe/internal/analysis"
	"github.com/five82/lathe/internal/config"
	"github.com/five82/lathe/internal/errors"
	"github.com/five82/lathe/internal/proc"
	"github.com/five82/lathe/internal/tq"
	"github.com/five82/lathe/internal/util"
)

// Assembler builds the final output container.
type Assembler struct {
	cfg    *config.Config
	runner *proc.Runner
	logger zerolog.Logger
}

// NewAssembler creates an Assembler.
func NewAssembler(cfg *config.Config, runner *proc.Runner, logger zerolog.Logger) *Assembler {
	return &Assembler{
		cfg:    cfg,
		runner: runner,
		logger: logger.With().Str("component", "assembler").Logger(),
	}
}

// Assemble concatenates chunk results in segment order, re-encodes the
// audio to Opus, copies subtitles, and muxes everything with chapters
// and metadata preserved into outputPath.
func (a *Assembler) Assemble(
	ctx context.Context,
	source *analysis.SourceMedia,
	results map[int]*tq.ChunkResult,
	workDir, outputPath string,
) error {
	ordered, err := orderedResults(results)
	if err != nil {
		return err
	}

	// Chunk files below the sanity floor mean a broken encode slipped
	// through; refuse to assemble garbage.
	for _, r := range ordered {
		size, err := util.GetFileSize(r.OutputPath)
		if err != nil {
			return errors.NewValidationError(
				fmt.Sprintf("chunk %d output missing: %s", r.Index, r.OutputPath))
		}
		if size < config.MinChunkFileBytes {
			return errors.NewValidationError(
				fmt.Sprintf("chunk %d output too small: %d bytes", r.Index, size))
		}
	}

	concatList := filepath.Join(workDir, "concat.txt")
	if err := writeConcatManifest(concatList, ordered); err != nil {
		return err
	}
	defer func() { _ = os.Remove(concatList) }()

	videoOnly := filepath.Join(workDir, "video.mkv")
	if err := a.concatVideo(ctx, concatList, videoOnly, source.FPS()); err != nil {
		return err
	}
	defer func() { _ = os.Remove(videoOnly) }()

	return a.Mux(ctx, source, videoOnly, outputPath)
}

// orderedResults sorts chunk results by segment index and verifies the
// set is gapless.
func orderedResults(results map[int]*tq.ChunkResult) ([]*tq.ChunkResult, error) {
	if len(results) == 0 {
		return nil, errors.NewValidationError("no chunk results to assemble")
	}

	ordered := make([]*tq.ChunkResult, 0, len(results))
	for _, r := range results {
		ordered = append(ordered, r)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	for i, r := range ordered {
		if r.Index != i {
			return nil, errors.NewValidationError(
				fmt.Sprintf("chunk results are not gapless: missing segment %d", i))
		}
		if r.Status != tq.StatusSucceeded {
			return nil, errors.NewValidationError(
				fmt.Sprintf("segment %d did not succeed", r.Index))
		}
	}
	return ordered, nil
}

// writeConcatManifest writes the FFmpeg concat-demuxer list.
func writeConcatManifest(path string, ordered []*tq.ChunkResult) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.NewIOError("failed to create concat manifest", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = errors.NewIOError("failed to close concat manifest", cerr)
		}
	}()

	for _, r := range ordered {
		abs, aerr := filepath.Abs(r.OutputPath)
		if aerr != nil {
			return errors.NewIOError("failed to resolve chunk path", aerr)
		}
		if _, werr := fmt.Fprintf(f, "file '%s'\n", abs); werr != nil {
			return errors.NewIOError("failed to write concat manifest", werr)
		}
	}
	return nil
}

// concatVideo stream-copies the encoded chunks into one video-only MKV.
func (a *Assembler) concatVideo(ctx context.Context, concatList, outPath string, fps float64) error {
	args := []string{
		"-hide_banner", "-y",
		"-f", "concat",
		"-safe", "0",
		"-i", concatList,
		"-c", "copy",
	}
	if fps > 0 {
		args = append(args, "-r", fmt.Sprintf("%.6f", fps))
	}
	args = append(args,
		"-fflags", "+genpts+igndts",
		"-avoid_negative_ts", "make_zero",
		outPath,
	)

	_, err := a.runner.Run(ctx, proc.Cmd{Tool: "ffmpeg", Args: args})
	if err != nil {
		return err
	}
	a.logger.Debug().Str("path", outPath).Msg("video concatenation complete")
	return nil
}

// Mux combines an encoded video-only file with re-encoded audio, copied
// subtitles, and the source's chapters and global metadata. The direct
// and DV paths call this without a concat step.
func (a *Assembler) Mux(ctx context.Context, source *analysis.SourceMedia, videoPath, outputPath string) error {
	args := []string{
		"-hide_banner", "-y",
		"-i", videoPath,
		"-i", source.Path,
		// Video from the concat output; audio and subtitles from the
		// source; chapters and global metadata carried over.
		"-map", "0:v:0",
		"-map", "1:a",
	}
	if len(source.SubtitleStreams) > 0 {
		args = append(args, "-map", "1:s")
	}
	args = append(args,
		"-map_metadata", "1",
		"-map_chapters", "1",
		"-c:v", "copy",
		"-c:s", "copy",
	)

	for i, stream := range source.AudioStreams {
		args = append(args, audioEncodeArgs(i, stream)...)
	}

	args = append(args, outputPath)

	_, err := a.runner.Run(ctx, proc.Cmd{Tool: "ffmpeg", Args: args})
	if err != nil {
		return err
	}

	a.logger.Info().
		Str("output", outputPath).
		Str("audio", DescribeAudio(source.AudioStreams)).
		Int("subtitles", len(source.SubtitleStreams)).
		Msg("mux complete")
	return nil
}
