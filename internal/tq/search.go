package tq

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/five82/lathe/internal/errors"
)

// ProbeOutput is the result of one probe encode.
type ProbeOutput struct {
	Path string
	Size uint64
}

// Executor performs the external encode and score operations the search
// drives. Implementations run FFmpeg and the perceptual scorer.
type Executor interface {
	// EncodeProbe encodes the window of the segment at the given CRF and
	// returns the probe output location and size.
	EncodeProbe(ctx context.Context, crf float64, window SampleWindow) (ProbeOutput, error)

	// Score compares a probe output against the reference slice and
	// returns the measured per-frame scores, excluding warmup frames.
	Score(ctx context.Context, probe ProbeOutput, window SampleWindow) ([]float64, error)

	// EncodeFinal produces the full-segment output at the chosen CRF.
	// When probeIsFull is true the winning probe already covers the full
	// segment and may be promoted instead of re-encoded.
	EncodeFinal(ctx context.Context, crf float64, probeIsFull bool) (ProbeOutput, error)
}

// ChunkStatus describes how a segment finished.
type ChunkStatus int

const (
	// StatusSucceeded means the segment produced a validated output file.
	StatusSucceeded ChunkStatus = iota
	// StatusFailedAfterRetries means the scheduler exhausted its retry budget.
	StatusFailedAfterRetries
)

// ChunkResult is the outcome of one segment search, created exactly once
// per segment upon completion.
type ChunkResult struct {
	Index        int
	FinalCRF     float64
	FinalScore   float64
	OutputPath   string
	EncodedBytes uint64
	RoundsUsed   int
	Status       ChunkStatus
	Probes       []ProbeEntry
	PredictedCRF *float64
	UsedSampling bool
	Expansions   int
}

// NextCRF determines the next CRF value to try. The first two rounds,
// or any round with fewer than two probes, bisect the current bounds;
// later rounds interpolate the score-CRF curve at the target. The result
// is clamped to the current bounds; a clamp that collapses the range
// reverts to bisection.
func NextCRF(state *State) float64 {
	state.Round++

	crf := bisect(state.SearchMin, state.SearchMax)
	if state.Round > 2 && len(state.Probes) >= 2 {
		if interpolated := InterpolateCRF(state.Probes, state.Target); interpolated != nil {
			clamped := clamp(*interpolated, state.SearchMin, state.SearchMax)
			// A clamp collapsing onto a bound we already probed adds no
			// information; keep the bisection value instead.
			if clamped > state.SearchMin && clamped < state.SearchMax {
				crf = clamped
			}
		}
	}

	state.LastCRF = crf
	return crf
}

// bisect returns the integer-rounded midpoint of the bounds.
func bisect(min, max float64) float64 {
	return roundCRF((min + max) / 2)
}

// clamp restricts v to [min, max].
func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// Converged checks if the score is within tolerance of the target.
func Converged(score, target, tolerance float64) bool {
	return math.Abs(score-target) <= tolerance
}

// UpdateBounds narrows the search bounds from the latest score.
// A score below the window caps the CRF ceiling; a score above raises
// the floor. Returns true if the bounds have crossed.
func UpdateBounds(state *State, score, target, tolerance float64) bool {
	if score < target-tolerance {
		state.SearchMax = state.LastCRF - 1
	} else if score > target+tolerance {
		state.SearchMin = state.LastCRF + 1
	}
	return state.SearchMin > state.SearchMax
}

// ExpandBounds attempts one expansion of crossed bounds in the direction
// the last score demands, clamped to the hard QP range. A score below
// the target reopens territory below the current ceiling; a score above
// reopens territory above the current floor. Returns false when no
// headroom remains.
func ExpandBounds(state *State, score, target float64) bool {
	if score < target {
		if state.SearchMax < state.QPMin {
			return false
		}
		state.SearchMin = math.Max(state.QPMin, state.SearchMax-boundExpansionStep)
	} else {
		if state.SearchMin > state.QPMax {
			return false
		}
		state.SearchMax = math.Min(state.QPMax, state.SearchMin+boundExpansionStep)
	}

	if state.SearchMin > state.SearchMax {
		return false
	}
	state.Expansions++
	return true
}

// Searcher runs the per-segment probe loop.
type Searcher struct {
	cfg    *Config
	logger zerolog.Logger
}

// NewSearcher creates a Searcher.
func NewSearcher(cfg *Config, logger zerolog.Logger) *Searcher {
	return &Searcher{cfg: cfg, logger: logger.With().Str("component", "tq").Logger()}
}

// Search finds a CRF meeting the target score for one segment and
// produces its final output. predictedCRF narrows the initial bounds
// when non-nil.
func (s *Searcher) Search(
	ctx context.Context,
	segmentIndex int,
	segmentDuration float64,
	exec Executor,
	predictedCRF *float64,
) (*ChunkResult, error) {
	target := s.cfg.Target
	tolerance := s.cfg.Tolerance

	state := NewState(target, s.cfg.QPMin, s.cfg.QPMax, predictedCRF)
	window := s.cfg.CalculateSample(segmentDuration)

	logger := s.logger.With().Int("segment", segmentIndex).Logger()
	logger.Debug().
		Float64("search_min", state.SearchMin).
		Float64("search_max", state.SearchMax).
		Bool("sampling", !window.Full).
		Msg("starting quality search")

	for {
		if err := ctx.Err(); err != nil {
			return nil, errors.NewCancelledError()
		}

		crf := NextCRF(state)

		score, frameScores, size, err := s.probeOnce(ctx, exec, crf, window)
		if err != nil {
			return nil, err
		}

		state.AddProbe(crf, score, frameScores, size)
		logger.Debug().
			Int("round", state.Round).
			Float64("crf", crf).
			Float64("score", score).
			Uint64("size", size).
			Msg("probe complete")

		if Converged(score, target, tolerance) {
			break
		}
		if state.Round >= s.cfg.MaxRounds {
			logger.Debug().Msg("max rounds reached; accepting best probe")
			break
		}
		if UpdateBounds(state, score, target, tolerance) {
			if !ExpandBounds(state, score, target) {
				logger.Debug().Msg("search bounds exhausted; accepting best probe")
				break
			}
			logger.Debug().
				Float64("search_min", state.SearchMin).
				Float64("search_max", state.SearchMax).
				Msg("expanded search bounds")
		}
	}

	best := state.BestProbe()
	if best == nil {
		return nil, errors.NewRetryableEncodeError(
			fmt.Sprintf("segment %d produced no usable probes", segmentIndex), nil)
	}

	final, err := exec.EncodeFinal(ctx, best.CRF, window.Full)
	if err != nil {
		return nil, err
	}

	return &ChunkResult{
		Index:        segmentIndex,
		FinalCRF:     best.CRF,
		FinalScore:   best.Score,
		OutputPath:   final.Path,
		EncodedBytes: final.Size,
		RoundsUsed:   state.Round,
		Status:       StatusSucceeded,
		Probes:       state.ProbeEntries(),
		PredictedCRF: predictedCRF,
		UsedSampling: !window.Full,
		Expansions:   state.Expansions,
	}, nil
}

// probeOnce encodes and scores one probe, retrying a NaN score once at
// the same CRF before giving up.
func (s *Searcher) probeOnce(
	ctx context.Context,
	exec Executor,
	crf float64,
	window SampleWindow,
) (score float64, frameScores []float64, size uint64, err error) {
	for attempt := 0; attempt < 2; attempt++ {
		probe, encErr := exec.EncodeProbe(ctx, crf, window)
		if encErr != nil {
			return 0, nil, 0, encErr
		}

		frameScores, err = exec.Score(ctx, probe, window)
		if err != nil {
			return 0, nil, 0, err
		}

		score = s.cfg.Aggregate(frameScores)
		if !math.IsNaN(score) {
			return score, frameScores, probe.Size, nil
		}

		s.logger.Warn().
			Float64("crf", crf).
			Int("attempt", attempt+1).
			Msg("scorer returned NaN; retrying probe")
	}

	return 0, nil, 0, errors.NewRetryableEncodeError(
		fmt.Sprintf("scorer returned NaN twice at CRF %.0f", crf), nil)
}
