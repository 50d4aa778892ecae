package sched

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/five82/lathe/internal/analysis"
	"github.com/five82/lathe/internal/config"
	"github.com/five82/lathe/internal/errors"
	"github.com/five82/lathe/internal/segment"
	"github.com/five82/lathe/internal/sysinfo"
	"github.com/five82/lathe/internal/tq"
)

// SegmentEncoder runs the quality search and final encode for one
// segment. targetDrop lowers the quality target on the final forced
// retry; it is zero otherwise.
type SegmentEncoder interface {
	EncodeSegment(ctx context.Context, seg segment.Segment, predictedCRF *float64, targetDrop float64) (*tq.ChunkResult, error)
}

// Progress is a snapshot of scheduler completion state.
type Progress struct {
	ChunksComplete int
	ChunksTotal    int
	BytesComplete  uint64
}

// Percent returns completion as a percentage of chunks.
func (p Progress) Percent() float32 {
	if p.ChunksTotal == 0 {
		return 0
	}
	return float32(p.ChunksComplete) / float32(p.ChunksTotal) * 100
}

// Options configures a scheduler run.
type Options struct {
	Workers int
	Tier    analysis.ResolutionTier

	// OnResult is invoked on the coordinator goroutine for every
	// completed segment, in completion order. It is the single writer
	// for downstream state.
	OnResult func(*tq.ChunkResult)

	// OnProgress is invoked on the coordinator after each completion.
	OnProgress func(Progress)
}

// result pairs a segment with its attempt outcome.
type result struct {
	seg   segment.Segment
	chunk *tq.ChunkResult
	err   error
}

// Scheduler drives the worker pool over a chunk plan.
type Scheduler struct {
	cfg     *config.Config
	encoder SegmentEncoder
	tracker *tq.CRFTracker
	logger  zerolog.Logger

	mu     sync.Mutex
	forced map[int]bool // segments on their forced-quality final attempt
}

// New creates a Scheduler.
func New(cfg *config.Config, encoder SegmentEncoder, tracker *tq.CRFTracker, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		encoder: encoder,
		tracker: tracker,
		logger:  logger.With().Str("component", "scheduler").Logger(),
		forced:  make(map[int]bool),
	}
}

// Run encodes every segment not already in done. It returns once all
// segments have a terminal outcome, a fatal error occurs, or the
// context is cancelled. Retryable failures are re-queued up to the
// configured retry budget; the final attempt runs with a reduced
// quality target. The coordinator owns the work channel: it alone
// decides dispatch, retry, and completion.
func (s *Scheduler) Run(ctx context.Context, segments []segment.Segment, done map[int]bool, opts Options) error {
	dispatcher := NewDispatcher(segments, done)
	remaining := dispatcher.Remaining()
	if remaining == 0 {
		return nil
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = s.cfg.ParallelJobs
	}
	if workers <= 0 {
		workers = sysinfo.DefaultWorkers()
	}
	if workers > remaining {
		workers = remaining
	}

	tokens := NewMemoryTokens(s.cfg, opts.Tier, workers)
	s.logger.Info().
		Int("workers", workers).
		Int("segments", remaining).
		Int("max_in_flight", tokens.MaxInFlight()).
		Msg("starting encode pool")

	workCh := make(chan segment.Segment)
	results := make(chan result, workers)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	g, gctx := errgroup.WithContext(runCtx)
	for i := 0; i < workers; i++ {
		stagger := time.Duration(i*s.cfg.WorkerStaggerMS) * time.Millisecond
		g.Go(func() error {
			if stagger > 0 {
				select {
				case <-time.After(stagger):
				case <-gctx.Done():
					return nil
				}
			}
			s.worker(gctx, workCh, tokens, results)
			return nil
		})
	}

	coordErr := s.coordinate(gctx, dispatcher, workCh, results, remaining, len(segments), opts)
	if coordErr != nil {
		// Abort in-flight encodes; their scoped process handles release
		// on cancellation.
		cancelRun()
	}

	// workCh is closed by coordinate on every exit path; workers drain
	// and stop. Their result sends fit the channel buffer.
	_ = g.Wait()

	if coordErr != nil {
		return coordErr
	}
	if err := ctx.Err(); err != nil {
		return errors.NewCancelledError()
	}
	return nil
}

// worker encodes segments from the work channel until it closes.
func (s *Scheduler) worker(
	ctx context.Context,
	workCh <-chan segment.Segment,
	tokens *MemoryTokens,
	results chan<- result,
) {
	for seg := range workCh {
		if err := tokens.Acquire(ctx); err != nil {
			return
		}

		chunk, err := s.encodeOne(ctx, seg)
		tokens.Release()

		select {
		case results <- result{seg: seg, chunk: chunk, err: err}:
		case <-ctx.Done():
			return
		}
	}
}

// encodeOne runs a single attempt for a segment.
func (s *Scheduler) encodeOne(ctx context.Context, seg segment.Segment) (*tq.ChunkResult, error) {
	var predicted *float64
	if !s.cfg.DisablePredict {
		predicted = s.tracker.Predict(seg.Index)
	}
	return s.encoder.EncodeSegment(ctx, seg, predicted, s.targetDropFor(seg.Index))
}

func (s *Scheduler) targetDropFor(idx int) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.forced[idx] {
		return s.cfg.ForceQualityDrop
	}
	return 0
}

func (s *Scheduler) setForced(idx int, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if on {
		s.forced[idx] = true
	} else {
		delete(s.forced, idx)
	}
}

// coordinate owns dispatch and completion. It interleaves feeding the
// work channel with consuming results so requeued segments can never
// strand: the channel closes only after every segment is terminal.
func (s *Scheduler) coordinate(
	ctx context.Context,
	dispatcher *Dispatcher,
	workCh chan segment.Segment,
	results <-chan result,
	remaining, total int,
	opts Options,
) error {
	defer close(workCh)

	attempts := make(map[int]int, remaining)
	progress := Progress{
		ChunksTotal:    total,
		ChunksComplete: total - remaining,
	}

	var pending *segment.Segment
	completed := 0

	for completed < remaining {
		if pending == nil {
			if seg, ok := dispatcher.Next(); ok {
				pending = &seg
			}
		}

		var sendCh chan segment.Segment
		var sendSeg segment.Segment
		if pending != nil {
			sendCh = workCh
			sendSeg = *pending
		}

		select {
		case <-ctx.Done():
			return errors.NewCancelledError()

		case sendCh <- sendSeg:
			pending = nil

		case res := <-results:
			idx := res.seg.Index

			if res.err != nil {
				if errors.IsCancelled(res.err) {
					return errors.NewCancelledError()
				}
				if !errors.IsRetryable(res.err) {
					return fmt.Errorf("segment %d: %w", idx, res.err)
				}

				attempts[idx]++
				if attempts[idx] > s.cfg.MaxRetries {
					s.setForced(idx, false)
					return fmt.Errorf("segment %d failed after %d retries: %w",
						idx, s.cfg.MaxRetries, res.err)
				}

				if attempts[idx] == s.cfg.MaxRetries {
					// Last chance: relax the quality target.
					s.setForced(idx, true)
					s.logger.Warn().Int("segment", idx).
						Float64("target_drop", s.cfg.ForceQualityDrop).
						Msg("final retry with reduced quality target")
				} else {
					s.logger.Warn().Int("segment", idx).Err(res.err).
						Int("attempt", attempts[idx]).
						Msg("segment failed; requeueing")
				}
				dispatcher.Requeue(res.seg)
				continue
			}

			s.setForced(idx, false)
			completed++
			dispatcher.MarkComplete(idx)
			s.tracker.Record(idx, res.chunk.FinalCRF)

			if opts.OnResult != nil {
				opts.OnResult(res.chunk)
			}

			progress.ChunksComplete++
			progress.BytesComplete += res.chunk.EncodedBytes
			if opts.OnProgress != nil {
				opts.OnProgress(progress)
			}

			s.logger.Debug().
				Int("segment", idx).
				Float64("crf", res.chunk.FinalCRF).
				Float64("score", res.chunk.FinalScore).
				Int("rounds", res.chunk.RoundsUsed).
				Msg("segment complete")
		}
	}

	return nil
}
