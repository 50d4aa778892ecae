package analysis

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/five82/lathe/internal/proc"
)

// Crop detection constants
const (
	// cropSampleConcurrency is the maximum number of concurrent crop probes.
	cropSampleConcurrency = 8

	// cropSampleFrames is the number of frames examined at each position.
	cropSampleFrames = 10

	// cropSampleInterval is the nominal spacing between samples in seconds.
	cropSampleInterval = 30.0

	// cropMinSamples and cropMaxSamples bound the sample count.
	cropMinSamples = 8
	cropMaxSamples = 48

	// cropDominantRatio is the minimum ratio for a crop to win outright.
	cropDominantRatio = 0.8

	// cropClearWinnerRatio with cropNoiseThreshold identifies a winner
	// whose only competition is noise from dark scenes.
	cropClearWinnerRatio = 0.6
	cropNoiseThreshold   = 0.05

	// cropThresholdSDR is the cropdetect black threshold for SDR content.
	cropThresholdSDR = 16

	// cropThresholdMin and cropThresholdMax clamp the HDR threshold.
	cropThresholdMin = 16
	cropThresholdMax = 256

	// blackLevelFactor scales the measured black level into a threshold.
	blackLevelFactor = 1.5
)

// CropCandidate is a detected crop value and its sample frequency.
type CropCandidate struct {
	Crop    CropRect
	Count   int
	Percent float64
}

// CropOutcome is the result of crop detection.
type CropOutcome struct {
	Crop           *CropRect
	MultipleRatios bool
	Message        string
	Candidates     []CropCandidate
	TotalSamples   int
	Threshold      uint32
}

var (
	cropRegex = regexp.MustCompile(`crop=(\d+):(\d+):(\d+):(\d+)`)
	yminRegex = regexp.MustCompile(`YMIN:\s*(\d+)`)
)

// creditSkipSecs returns how much lead-in and lead-out to exclude from
// crop sampling so credits and studio cards don't pollute detection.
func creditSkipSecs(duration float64) float64 {
	switch {
	case duration > 3600:
		return 180
	case duration > 1200:
		return 60
	case duration > 300:
		return 30
	default:
		return 0
	}
}

// cropSamplePositions spreads sample timestamps across the middle of the
// video, bounded away from credit windows.
func cropSamplePositions(duration float64) []float64 {
	skip := creditSkipSecs(duration)
	start := duration*0.15 + skip
	end := duration*0.85 - skip
	if end <= start {
		// Short content: sample the middle half.
		start = duration * 0.25
		end = duration * 0.75
	}

	window := end - start
	n := int(window / cropSampleInterval)
	if n < cropMinSamples {
		n = cropMinSamples
	}
	if n > cropMaxSamples {
		n = cropMaxSamples
	}

	positions := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		positions = append(positions, start+window*float64(i)/float64(n))
	}
	return positions
}

// DetectCrop samples the source for black bars and returns the most
// frequent valid rectangle. Failures in individual samples are ignored;
// an empty result means no crop.
func (a *Analyzer) DetectCrop(ctx context.Context, source *SourceMedia, isHDR bool) CropOutcome {
	threshold := uint32(cropThresholdSDR)
	if isHDR {
		threshold = a.hdrCropThreshold(ctx, source)
	}

	positions := cropSamplePositions(source.Duration)

	var mu sync.Mutex
	cropCounts := make(map[CropRect]int)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cropSampleConcurrency)
	for _, position := range positions {
		g.Go(func() error {
			crop, ok := a.sampleCropAt(gctx, source.Path, position, threshold)
			if ok {
				mu.Lock()
				cropCounts[crop]++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	outcome := aggregateCrops(cropCounts, source.Video.Width, source.Video.Height,
		a.cfg.CropMinHeight, a.cfg.CropMinBarPercent)
	outcome.Threshold = threshold
	if outcome.Message == "" {
		outcome.Message = fmt.Sprintf("Analyzed %d samples", len(positions))
	}
	return outcome
}

// hdrCropThreshold derives the cropdetect threshold from the measured
// black level of a few mid-video frames.
func (a *Analyzer) hdrCropThreshold(ctx context.Context, source *SourceMedia) uint32 {
	level, ok := a.measureBlackLevel(ctx, source)
	if !ok {
		return cropThresholdMax / 2 // No measurement; conservative HDR default
	}

	threshold := uint32(blackLevelFactor * float64(level))
	if threshold < cropThresholdMin {
		threshold = cropThresholdMin
	}
	if threshold > cropThresholdMax {
		threshold = cropThresholdMax
	}
	return threshold
}

// measureBlackLevel samples signalstats YMIN at three positions and
// returns the median.
func (a *Analyzer) measureBlackLevel(ctx context.Context, source *SourceMedia) (uint32, bool) {
	var levels []uint32
	for _, frac := range []float64{0.25, 0.5, 0.75} {
		pos := source.Duration * frac
		var mins []uint32

		_, err := a.runner.Run(ctx, proc.Cmd{
			Tool: "ffmpeg",
			Args: []string{
				"-hide_banner",
				"-ss", fmt.Sprintf("%.2f", pos),
				"-i", source.Path,
				"-vframes", strconv.Itoa(cropSampleFrames),
				"-vf", "signalstats,metadata=print",
				"-f", "null", "-",
			},
			OnStderr: func(line string) {
				if m := yminRegex.FindStringSubmatch(line); len(m) == 2 {
					if v, err := strconv.ParseUint(m[1], 10, 32); err == nil {
						mins = append(mins, uint32(v))
					}
				}
			},
		})
		if err != nil || len(mins) == 0 {
			continue
		}
		sort.Slice(mins, func(i, j int) bool { return mins[i] < mins[j] })
		levels = append(levels, mins[len(mins)/2])
	}

	if len(levels) == 0 {
		return 0, false
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i] < levels[j] })
	return levels[len(levels)/2], true
}

// sampleCropAt runs a cropdetect pass at one position and returns the
// most frequent rectangle the filter reports there.
func (a *Analyzer) sampleCropAt(ctx context.Context, inputPath string, startTime float64, threshold uint32) (CropRect, bool) {
	counts := make(map[CropRect]int)

	_, err := a.runner.Run(ctx, proc.Cmd{
		Tool: "ffmpeg",
		Args: []string{
			"-hide_banner",
			"-ss", fmt.Sprintf("%.2f", startTime),
			"-i", inputPath,
			"-vframes", strconv.Itoa(cropSampleFrames),
			"-vf", fmt.Sprintf("cropdetect=limit=%d:round=2:reset=1", threshold),
			"-f", "null", "-",
		},
		OnStderr: func(line string) {
			if crop, ok := parseCropLine(line); ok {
				counts[crop]++
			}
		},
	})
	if err != nil || len(counts) == 0 {
		return CropRect{}, false
	}

	var best CropRect
	bestCount := 0
	for crop, count := range counts {
		if count > bestCount {
			best = crop
			bestCount = count
		}
	}
	return best, true
}

// parseCropLine extracts a crop rectangle from a cropdetect output line.
func parseCropLine(line string) (CropRect, bool) {
	m := cropRegex.FindStringSubmatch(line)
	if len(m) != 5 {
		return CropRect{}, false
	}

	vals := make([]uint32, 4)
	for i, s := range m[1:] {
		v, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return CropRect{}, false
		}
		vals[i] = uint32(v)
	}
	if vals[0] == 0 || vals[1] == 0 {
		return CropRect{}, false
	}
	return CropRect{Width: vals[0], Height: vals[1], X: vals[2], Y: vals[3]}, true
}

// aggregateCrops picks the winning rectangle from per-sample results,
// applying dominance rules and crop sanity limits.
func aggregateCrops(cropCounts map[CropRect]int, srcWidth, srcHeight, minHeight uint32, minBarPercent float64) CropOutcome {
	if len(cropCounts) == 0 {
		return CropOutcome{Message: "No crop detected"}
	}

	type cropCount struct {
		crop  CropRect
		count int
	}
	var sorted []cropCount
	totalSamples := 0
	for crop, count := range cropCounts {
		sorted = append(sorted, cropCount{crop, count})
		totalSamples += count
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].count != sorted[j].count {
			return sorted[i].count > sorted[j].count
		}
		// Stable order for equal counts: larger active area first.
		return sorted[i].crop.Height > sorted[j].crop.Height
	})

	candidates := make([]CropCandidate, 0, len(sorted))
	for _, cc := range sorted {
		candidates = append(candidates, CropCandidate{
			Crop:    cc.crop,
			Count:   cc.count,
			Percent: float64(cc.count) / float64(totalSamples) * 100,
		})
	}

	rejected := func(msg string) CropOutcome {
		return CropOutcome{
			Message:      msg,
			Candidates:   candidates,
			TotalSamples: totalSamples,
		}
	}

	winner := sorted[0]
	ratio := float64(winner.count) / float64(totalSamples)

	accept := ratio > cropDominantRatio || len(sorted) == 1
	if !accept && ratio > cropClearWinnerRatio && len(sorted) > 1 {
		secondRatio := float64(sorted[1].count) / float64(totalSamples)
		accept = secondRatio < cropNoiseThreshold
	}
	if !accept {
		out := rejected("Multiple aspect ratios detected")
		out.MultipleRatios = true
		return out
	}

	crop := winner.crop
	if crop.Width == srcWidth && crop.Height == srcHeight {
		return rejected("No black bars present")
	}
	if crop.Height < minHeight {
		return rejected(fmt.Sprintf("Crop rejected: height %d below minimum %d", crop.Height, minHeight))
	}
	if srcHeight > 0 {
		barPercent := float64(srcHeight-crop.Height) / float64(srcHeight) * 100
		if crop.Height < srcHeight && barPercent < minBarPercent {
			return rejected(fmt.Sprintf("Crop rejected: bars %.1f%% below minimum %.1f%%", barPercent, minBarPercent))
		}
	}

	return CropOutcome{
		Crop:         &crop,
		Message:      "Black bars detected",
		Candidates:   candidates,
		TotalSamples: totalSamples,
	}
}

// cropDims parses a crop filter string back into dimensions, used when
// validating output geometry.
func cropDims(filter string) (w, h uint32, ok bool) {
	params := strings.TrimPrefix(filter, "crop=")
	parts := strings.Split(params, ":")
	if len(parts) < 2 {
		return 0, 0, false
	}
	wv, err1 := strconv.ParseUint(parts[0], 10, 32)
	hv, err2 := strconv.ParseUint(parts[1], 10, 32)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return uint32(wv), uint32(hv), true
}

// OutputDimensions returns the post-crop frame geometry.
func OutputDimensions(width, height uint32, cropFilter string) (uint32, uint32) {
	if cropFilter == "" {
		return width, height
	}
	if w, h, ok := cropDims(cropFilter); ok {
		return w, h
	}
	return width, height
}
