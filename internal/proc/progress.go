package proc

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/five82/lathe/internal/util"
)

// Progress represents parsed progress information from a child process.
type Progress struct {
	CurrentFrame uint64
	TotalFrames  uint64
	Percent      float32
	Speed        float32
	FPS          float32
	ETA          time.Duration
	Bitrate      string
	ElapsedSecs  float64
}

// ProgressCallback is called with progress updates during an operation.
type ProgressCallback func(Progress)

var timeRegex = regexp.MustCompile(`time=(\d{2}:\d{2}:\d{2}\.?\d*)`)

// ParseEncoderProgress extracts progress from an FFmpeg status line
// (frame= ... fps= ... time= ... speed= ...). Returns nil for lines that
// carry no progress.
func ParseEncoderProgress(line string, duration float64, totalFrames uint64) *Progress {
	if !strings.Contains(line, "frame=") {
		return nil
	}

	var elapsedSecs float64
	if matches := timeRegex.FindStringSubmatch(line); len(matches) >= 2 {
		if secs, ok := util.ParseFFmpegTime(matches[1]); ok {
			elapsedSecs = secs
		}
	}

	frame, _ := parseUintField(line, "frame=")
	fps := parseFloatField(line, "fps=")
	bitrate := parseStringField(line, "bitrate=")
	speed := parseSpeedField(line)

	var percent float32
	if duration > 0 {
		percent = float32((elapsedSecs / duration) * 100)
		if percent > 100 {
			percent = 100
		}
	}

	var eta time.Duration
	if speed > 0 && duration > 0 {
		remaining := duration - elapsedSecs
		eta = time.Duration(math.Round(remaining/float64(speed))) * time.Second
	}

	return &Progress{
		CurrentFrame: frame,
		TotalFrames:  totalFrames,
		Percent:      percent,
		Speed:        speed,
		FPS:          fps,
		ETA:          eta,
		Bitrate:      bitrate,
		ElapsedSecs:  elapsedSecs,
	}
}

// ScorerFrame is one per-frame score line from the perceptual scorer.
type ScorerFrame struct {
	Index int
	Score float64
}

// ParseScorerFrame extracts a per-frame score from a scorer stdout line of
// the form "<index>: <score>". Returns false for summary or status lines.
func ParseScorerFrame(line string) (ScorerFrame, bool) {
	idx := strings.IndexByte(line, ':')
	if idx <= 0 {
		return ScorerFrame{}, false
	}

	frameNum, err := strconv.Atoi(strings.TrimSpace(line[:idx]))
	if err != nil {
		return ScorerFrame{}, false
	}

	score, err := strconv.ParseFloat(strings.TrimSpace(line[idx+1:]), 64)
	if err != nil {
		return ScorerFrame{}, false
	}

	return ScorerFrame{Index: frameNum, Score: score}, true
}

// ParseScorerProgress extracts progress from a scorer status line of the
// form "Processing frame N/M (X fps)". Returns nil for other lines.
func ParseScorerProgress(line string) *Progress {
	if !strings.HasPrefix(line, "Processing frame ") {
		return nil
	}

	rest := strings.TrimPrefix(line, "Processing frame ")
	slash := strings.IndexByte(rest, '/')
	if slash <= 0 {
		return nil
	}

	current, err := strconv.ParseUint(rest[:slash], 10, 64)
	if err != nil {
		return nil
	}

	rest = rest[slash+1:]
	end := strings.IndexAny(rest, " \t")
	if end < 0 {
		end = len(rest)
	}
	total, err := strconv.ParseUint(rest[:end], 10, 64)
	if err != nil || total == 0 {
		return nil
	}

	p := &Progress{
		CurrentFrame: current,
		TotalFrames:  total,
		Percent:      float32(current) / float32(total) * 100,
	}

	if open := strings.IndexByte(rest, '('); open >= 0 {
		fpsStr := rest[open+1:]
		if sp := strings.IndexAny(fpsStr, " )"); sp > 0 {
			if fps, err := strconv.ParseFloat(fpsStr[:sp], 32); err == nil {
				p.FPS = float32(fps)
			}
		}
	}

	return p
}

func parseUintField(line, key string) (uint64, bool) {
	raw, ok := rawField(line, key)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	return v, err == nil
}

func parseFloatField(line, key string) float32 {
	raw, ok := rawField(line, key)
	if !ok {
		return 0
	}
	v, err := strconv.ParseFloat(raw, 32)
	if err != nil {
		return 0
	}
	return float32(v)
}

func parseStringField(line, key string) string {
	raw, _ := rawField(line, key)
	return raw
}

func parseSpeedField(line string) float32 {
	raw, ok := rawField(line, "speed=")
	if !ok {
		return 0
	}
	raw = strings.TrimSuffix(raw, "x")
	v, err := strconv.ParseFloat(raw, 32)
	if err != nil {
		return 0
	}
	return float32(v)
}

// rawField extracts the whitespace-delimited value following key in line.
func rawField(line, key string) (string, bool) {
	idx := strings.Index(line, key)
	if idx < 0 {
		return "", false
	}
	rest := strings.TrimLeft(line[idx+len(key):], " ")
	if rest == "" {
		return "", false
	}
	if end := strings.IndexAny(rest, " \t"); end >= 0 {
		rest = rest[:end]
	}
	return rest, rest != ""
}
