// Package segment partitions sources into independently encodable chunks
// on keyframe-aligned scene boundaries.
package segment

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/five82/lathe/internal/config"
	"github.com/five82/lathe/internal/proc"
)

// Segment is one time-contiguous slice of the source.
type Segment struct {
	// Index is the 0-based position in the plan.
	Index int
	// Start is the segment start in seconds.
	Start float64
	// Duration is the segment length in seconds.
	Duration float64
	// SceneCut is true when the leading boundary matched a detected
	// scene cut within tolerance.
	SceneCut bool
}

// End returns the exclusive end timestamp.
func (s Segment) End() float64 {
	return s.Start + s.Duration
}

// Plan is an ordered list of segments tiling the source duration.
type Plan struct {
	Segments []Segment
	// SceneCuts is the raw candidate cut list, retained for diagnostics.
	SceneCuts []float64
}

// Count returns the number of segments.
func (p *Plan) Count() int {
	return len(p.Segments)
}

// TotalDuration returns the summed segment durations.
func (p *Plan) TotalDuration() float64 {
	var total float64
	for _, s := range p.Segments {
		total += s.Duration
	}
	return total
}

// Segmenter builds chunk plans from scene detection.
type Segmenter struct {
	cfg    *config.Config
	runner *proc.Runner
	logger zerolog.Logger

	// detectScenes overrides scene detection; nil uses ffmpeg.
	detectScenes func(ctx context.Context, inputPath string, threshold float64) ([]float64, error)
}

// NewSegmenter creates a Segmenter.
func NewSegmenter(cfg *config.Config, runner *proc.Runner, logger zerolog.Logger) *Segmenter {
	return &Segmenter{
		cfg:    cfg,
		runner: runner,
		logger: logger.With().Str("component", "segmenter").Logger(),
	}
}

var ptsTimeRegex = regexp.MustCompile(`pts_time:(\d+\.?\d*)`)

// BuildPlan detects scene cuts and partitions [0, duration) into
// segments honoring the configured length constraints. When scene
// detection fails or finds nothing, the plan falls back to a uniform
// partition at the maximum segment length.
func (s *Segmenter) BuildPlan(ctx context.Context, inputPath string, duration float64, isHDR bool) (*Plan, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("cannot segment zero-duration source")
	}

	threshold := s.cfg.SceneThreshold
	if isHDR {
		threshold = s.cfg.HDRSceneThreshold
	}

	detect := s.detectScenes
	if detect == nil {
		detect = s.ffmpegSceneDetect
	}

	cuts, err := detect(ctx, inputPath, threshold)
	if err != nil {
		s.logger.Warn().Err(err).Msg("scene detection failed; using uniform partition")
		cuts = nil
	}

	plan := BuildPlanFromCuts(cuts, duration, s.cfg.MinSegmentLength, s.cfg.MaxSegmentLength, s.cfg.SceneTolerance)
	s.logger.Info().
		Int("segments", plan.Count()).
		Int("scene_cuts", len(cuts)).
		Float64("threshold", threshold).
		Msg("chunk plan built")
	return plan, nil
}

// BuildPlanFromCuts runs the greedy boundary walk over candidate cut
// timestamps. Exported for the planner tests and resume validation.
func BuildPlanFromCuts(cuts []float64, duration, minLen, maxLen, tolerance float64) *Plan {
	boundaries, sceneFlags := walkBoundaries(cuts, duration, minLen, maxLen, tolerance)

	segments := make([]Segment, 0, len(boundaries))
	for i, start := range boundaries {
		end := duration
		if i+1 < len(boundaries) {
			end = boundaries[i+1]
		}
		segments = append(segments, Segment{
			Index:    i,
			Start:    start,
			Duration: end - start,
			SceneCut: sceneFlags[i],
		})
	}

	// Final segment shorter than the minimum merges into its predecessor.
	if n := len(segments); n > 1 && segments[n-1].Duration < minLen {
		segments[n-2].Duration += segments[n-1].Duration
		segments = segments[:n-1]
	}

	return &Plan{Segments: segments, SceneCuts: cuts}
}

// walkBoundaries produces strictly increasing boundary timestamps.
// From each boundary, the first candidate cut landing in
// [min_len, max_len] wins; otherwise a forced split at max_len.
func walkBoundaries(cuts []float64, duration, minLen, maxLen, tolerance float64) ([]float64, []bool) {
	boundaries := []float64{0}
	sceneFlags := []bool{false}

	cutIdx := 0
	last := 0.0
	for duration-last > maxLen {
		// Skip candidates at or behind the window start.
		for cutIdx < len(cuts) && cuts[cutIdx]-last < minLen {
			cutIdx++
		}

		next := last + maxLen
		isScene := false
		if cutIdx < len(cuts) && cuts[cutIdx]-last <= maxLen {
			next = cuts[cutIdx]
			isScene = true
			cutIdx++
		} else {
			// Forced split; mark as a scene boundary anyway if a cut sits
			// within tolerance of it.
			isScene = cutNear(cuts, next, tolerance)
		}

		boundaries = append(boundaries, next)
		sceneFlags = append(sceneFlags, isScene)
		last = next
	}

	return boundaries, sceneFlags
}

// cutNear reports whether any candidate cut lies within tolerance of t.
func cutNear(cuts []float64, t, tolerance float64) bool {
	for _, c := range cuts {
		if math.Abs(c-t) <= tolerance {
			return true
		}
	}
	return false
}

// ffmpegSceneDetect runs an FFmpeg scene-score pass and returns candidate
// cut timestamps in ascending order.
func (s *Segmenter) ffmpegSceneDetect(ctx context.Context, inputPath string, threshold float64) ([]float64, error) {
	var cuts []float64

	collect := func(line string) {
		if m := ptsTimeRegex.FindStringSubmatch(line); len(m) == 2 {
			if t, err := strconv.ParseFloat(m[1], 64); err == nil && t > 0 {
				cuts = append(cuts, t)
			}
		}
	}

	_, err := s.runner.Run(ctx, proc.Cmd{
		Tool: "ffmpeg",
		Args: []string{
			"-hide_banner",
			"-i", inputPath,
			"-vf", fmt.Sprintf("select='gt(scene,%g)',metadata=print:file=-", threshold),
			"-an", "-sn",
			"-f", "null", "-",
		},
		OnStdout: collect,
		OnStderr: collect,
	})
	if err != nil {
		return nil, err
	}

	// metadata=print emits frames in order, but be defensive about ties.
	for i := 1; i < len(cuts); i++ {
		if cuts[i] <= cuts[i-1] {
			cuts = append(cuts[:i], cuts[i+1:]...)
			i--
		}
	}
	return cuts, nil
}
