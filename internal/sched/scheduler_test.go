package sched

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/five82/lathe/internal/analysis"
	"github.com/five82/lathe/internal/config"
	latheerrors "github.com/five82/lathe/internal/errors"
	"github.com/five82/lathe/internal/segment"
	"github.com/five82/lathe/internal/tq"
)

func testSegments(n int) []segment.Segment {
	segs := make([]segment.Segment, n)
	for i := range segs {
		segs[i] = segment.Segment{Index: i, Start: float64(i) * 10, Duration: 10}
	}
	return segs
}

// fakeSegEncoder records calls and fails configured segments.
type fakeSegEncoder struct {
	mu        sync.Mutex
	calls     map[int]int
	failTimes map[int]int // segment -> number of retryable failures before success
	fatalOn   map[int]bool
	drops     map[int][]float64
	predicted map[int][]*float64
	delay     time.Duration
}

func newFakeSegEncoder() *fakeSegEncoder {
	return &fakeSegEncoder{
		calls:     make(map[int]int),
		failTimes: make(map[int]int),
		fatalOn:   make(map[int]bool),
		drops:     make(map[int][]float64),
		predicted: make(map[int][]*float64),
	}
}

func (f *fakeSegEncoder) EncodeSegment(ctx context.Context, seg segment.Segment, predictedCRF *float64, targetDrop float64) (*tq.ChunkResult, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, latheerrors.NewCancelledError()
		}
	}

	f.mu.Lock()
	f.calls[seg.Index]++
	f.drops[seg.Index] = append(f.drops[seg.Index], targetDrop)
	f.predicted[seg.Index] = append(f.predicted[seg.Index], predictedCRF)
	fatal := f.fatalOn[seg.Index]
	failuresLeft := f.failTimes[seg.Index]
	if failuresLeft > 0 {
		f.failTimes[seg.Index]--
	}
	f.mu.Unlock()

	if fatal {
		return nil, latheerrors.NewProcessLaunchError("ffmpeg", nil)
	}
	if failuresLeft > 0 {
		return nil, latheerrors.NewRetryableEncodeError("scorer flaked", nil)
	}

	return &tq.ChunkResult{
		Index:        seg.Index,
		FinalCRF:     25 + float64(seg.Index%3),
		FinalScore:   75,
		OutputPath:   "out.ivf",
		EncodedBytes: 100000,
		RoundsUsed:   2,
		Status:       tq.StatusSucceeded,
	}, nil
}

func testCfg() *config.Config {
	cfg := config.NewConfig(".", ".", ".")
	cfg.WorkerStaggerMS = 0
	cfg.ParallelJobs = 4
	return cfg
}

func runScheduler(t *testing.T, cfg *config.Config, enc SegmentEncoder, segs []segment.Segment, done map[int]bool) ([]int, error) {
	t.Helper()
	tracker := tq.NewTracker()
	s := New(cfg, enc, tracker, zerolog.Nop())

	var mu sync.Mutex
	var completedOrder []int
	err := s.Run(context.Background(), segs, done, Options{
		Tier: analysis.TierHD,
		OnResult: func(r *tq.ChunkResult) {
			mu.Lock()
			completedOrder = append(completedOrder, r.Index)
			mu.Unlock()
		},
	})
	return completedOrder, err
}

func TestRunCompletesAllSegments(t *testing.T) {
	enc := newFakeSegEncoder()
	completed, err := runScheduler(t, testCfg(), enc, testSegments(12), nil)
	require.NoError(t, err)
	assert.Len(t, completed, 12)

	seen := make(map[int]bool)
	for _, idx := range completed {
		assert.False(t, seen[idx], "segment %d completed twice", idx)
		seen[idx] = true
	}
}

func TestRunSkipsAlreadyDone(t *testing.T) {
	enc := newFakeSegEncoder()
	done := map[int]bool{0: true, 1: true, 2: true}

	completed, err := runScheduler(t, testCfg(), enc, testSegments(10), done)
	require.NoError(t, err)
	assert.Len(t, completed, 7)
	for idx := range done {
		assert.Zero(t, enc.calls[idx], "done segment %d must not re-encode", idx)
	}
}

func TestRunRetriesThenSucceeds(t *testing.T) {
	enc := newFakeSegEncoder()
	enc.failTimes[4] = 1 // fails once, succeeds on retry

	completed, err := runScheduler(t, testCfg(), enc, testSegments(8), nil)
	require.NoError(t, err)
	assert.Len(t, completed, 8)
	assert.Equal(t, 2, enc.calls[4])
}

func TestRunForceQualityOnFinalRetry(t *testing.T) {
	cfg := testCfg()
	cfg.MaxRetries = 2
	enc := newFakeSegEncoder()
	enc.failTimes[0] = 2 // succeed only on the third (forced) attempt

	completed, err := runScheduler(t, cfg, enc, testSegments(1), nil)
	require.NoError(t, err)
	assert.Len(t, completed, 1)

	drops := enc.drops[0]
	require.Len(t, drops, 3)
	assert.Zero(t, drops[0])
	assert.Zero(t, drops[1])
	assert.InDelta(t, cfg.ForceQualityDrop, drops[2], 1e-9, "final attempt must reduce the target")
}

func TestRunExhaustedRetriesFails(t *testing.T) {
	cfg := testCfg()
	cfg.MaxRetries = 2
	enc := newFakeSegEncoder()
	enc.failTimes[3] = 10

	_, err := runScheduler(t, cfg, enc, testSegments(6), nil)
	require.Error(t, err)
	assert.Equal(t, 3, enc.calls[3], "initial attempt plus two retries")
}

func TestRunFatalErrorPropagates(t *testing.T) {
	enc := newFakeSegEncoder()
	enc.fatalOn[2] = true

	_, err := runScheduler(t, testCfg(), enc, testSegments(6), nil)
	require.Error(t, err)
	assert.True(t, latheerrors.IsKind(err, latheerrors.KindProcessLaunch))
	assert.Equal(t, 1, enc.calls[2], "launch errors are not retried")
}

func TestRunCancellation(t *testing.T) {
	cfg := testCfg()
	enc := newFakeSegEncoder()
	enc.delay = 50 * time.Millisecond

	tracker := tq.NewTracker()
	s := New(cfg, enc, tracker, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(75 * time.Millisecond)
		cancel()
	}()

	err := s.Run(ctx, testSegments(50), nil, Options{Tier: analysis.TierHD})
	require.Error(t, err)
	assert.True(t, latheerrors.IsCancelled(err))
}

func TestRunFeedsPredictor(t *testing.T) {
	cfg := testCfg()
	cfg.ParallelJobs = 1 // deterministic order
	enc := newFakeSegEncoder()

	tracker := tq.NewTracker()
	s := New(cfg, enc, tracker, zerolog.Nop())
	err := s.Run(context.Background(), testSegments(5), nil, Options{Tier: analysis.TierHD})
	require.NoError(t, err)

	assert.Equal(t, 5, tracker.Count())
	// Later segments must have seen predictions.
	later := enc.predicted[4]
	require.NotEmpty(t, later)
	assert.NotNil(t, later[0])
}

func TestRunPredictionDisabled(t *testing.T) {
	cfg := testCfg()
	cfg.ParallelJobs = 1
	cfg.DisablePredict = true
	enc := newFakeSegEncoder()

	tracker := tq.NewTracker()
	s := New(cfg, enc, tracker, zerolog.Nop())
	err := s.Run(context.Background(), testSegments(5), nil, Options{Tier: analysis.TierHD})
	require.NoError(t, err)

	for idx, preds := range enc.predicted {
		for _, p := range preds {
			assert.Nil(t, p, "segment %d saw a prediction with prediction disabled", idx)
		}
	}
}

func TestDispatcherPrefersNeighborsOfCompleted(t *testing.T) {
	d := NewDispatcher(testSegments(10), nil)

	first, ok := d.Next()
	require.True(t, ok)
	assert.Equal(t, 0, first.Index, "no completions yet: lowest index first")

	d.MarkComplete(0)
	// Grab a far segment and complete it.
	d.MarkComplete(7)

	next, ok := d.Next()
	require.True(t, ok)
	// 1 is adjacent to completed 0; 6 and 8 are adjacent to 7. All have
	// distance 1; the tiebreak picks the lowest index.
	assert.Equal(t, 1, next.Index)
}

func TestDispatcherRequeue(t *testing.T) {
	d := NewDispatcher(testSegments(2), nil)

	seg, ok := d.Next()
	require.True(t, ok)
	_, ok = d.Next()
	require.True(t, ok)
	_, ok = d.Next()
	assert.False(t, ok)

	d.Requeue(seg)
	again, ok := d.Next()
	require.True(t, ok)
	assert.Equal(t, seg.Index, again.Index)
}

func TestMemoryTokensAdmitAtLeastOne(t *testing.T) {
	cfg := testCfg()
	cfg.MemoryPerJobMB = 1 << 30 // absurdly large per-job cost
	tokens := NewMemoryTokens(cfg, analysis.TierUHD, 8)
	assert.GreaterOrEqual(t, tokens.MaxInFlight(), 1)

	require.NoError(t, tokens.Acquire(context.Background()))
	tokens.Release()
}

func TestMemoryTokensTierScaling(t *testing.T) {
	assert.Greater(t, tierMemoryScale(analysis.TierUHD), tierMemoryScale(analysis.TierHD))
	assert.Greater(t, tierMemoryScale(analysis.TierHD), tierMemoryScale(analysis.TierSD))
}
