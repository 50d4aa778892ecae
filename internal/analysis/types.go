// Package analysis probes source media and classifies content for routing.
package analysis

import (
	"fmt"

	"github.com/five82/lathe/internal/ffprobe"
	"github.com/five82/lathe/internal/mediainfo"
)

// ResolutionTier buckets sources by width for CRF and memory decisions.
type ResolutionTier int

const (
	// TierSD covers widths below 1280.
	TierSD ResolutionTier = iota
	// TierHD covers widths from 1280 up to (but excluding) 3840.
	TierHD
	// TierUHD covers widths of 3840 and above.
	TierUHD
)

// String returns the tier name.
func (t ResolutionTier) String() string {
	switch t {
	case TierSD:
		return "SD"
	case TierHD:
		return "HD"
	case TierUHD:
		return "UHD"
	default:
		return "unknown"
	}
}

// TierForWidth classifies a video width into a resolution tier.
func TierForWidth(width uint32) ResolutionTier {
	switch {
	case width >= 3840:
		return TierUHD
	case width >= 1280:
		return TierHD
	default:
		return TierSD
	}
}

// GrainLevel is the detected noise/grain strength of a source.
type GrainLevel int

const (
	// GrainVeryClean means no denoising is worthwhile.
	GrainVeryClean GrainLevel = iota
	// GrainVeryLight applies minimal denoising.
	GrainVeryLight
	// GrainLight applies light denoising.
	GrainLight
	// GrainVisible applies moderate denoising.
	GrainVisible
	// GrainMedium applies the strongest denoising lathe will use.
	GrainMedium
)

// String returns the grain level name used in config tables and events.
func (g GrainLevel) String() string {
	switch g {
	case GrainVeryClean:
		return "VeryClean"
	case GrainVeryLight:
		return "VeryLight"
	case GrainLight:
		return "Light"
	case GrainVisible:
		return "Visible"
	case GrainMedium:
		return "Medium"
	default:
		return "unknown"
	}
}

// DenoiseFilter returns the hqdn3d parameter string for the level, or
// empty when no filtering applies.
func (g GrainLevel) DenoiseFilter() string {
	switch g {
	case GrainVeryLight:
		return "hqdn3d=0.5:0.3:3:3"
	case GrainLight:
		return "hqdn3d=1:0.7:4:4"
	case GrainVisible:
		return "hqdn3d=1.5:1.0:6:6"
	case GrainMedium:
		return "hqdn3d=2:1.3:8:8"
	default:
		return ""
	}
}

// strength returns the level's luma-spatial strength, the scalar used in
// knee-point efficiency weighting.
func (g GrainLevel) strength() float64 {
	switch g {
	case GrainVeryLight:
		return 0.5
	case GrainLight:
		return 1.0
	case GrainVisible:
		return 1.5
	case GrainMedium:
		return 2.0
	default:
		return 0
	}
}

// denoiseLadder is the ordered set of levels tested during grain analysis.
var denoiseLadder = []GrainLevel{
	GrainVeryLight, GrainLight, GrainVisible, GrainMedium,
}

// CropRect is a detected active-picture rectangle in crop-filter form.
type CropRect struct {
	Width  uint32
	Height uint32
	X      uint32
	Y      uint32
}

// Filter returns the FFmpeg crop filter string.
func (c CropRect) Filter() string {
	return fmt.Sprintf("crop=%d:%d:%d:%d", c.Width, c.Height, c.X, c.Y)
}

// SourceMedia identifies an input file. Immutable once populated.
type SourceMedia struct {
	Path            string
	Container       string
	Duration        float64
	Video           ffprobe.VideoStream
	AudioStreams    []ffprobe.AudioStream
	SubtitleStreams []ffprobe.SubtitleStream
	Chapters        []ffprobe.Chapter
	HDR             mediainfo.HDRInfo
}

// FPS returns the primary video stream frame rate.
func (s *SourceMedia) FPS() float64 {
	return s.Video.FPS()
}

// TotalFrames estimates the frame count when the container does not
// record it.
func (s *SourceMedia) TotalFrames() uint64 {
	if s.Video.TotalFrames > 0 {
		return s.Video.TotalFrames
	}
	if fps := s.FPS(); fps > 0 {
		return uint64(s.Duration * fps)
	}
	return 0
}

// ContentClassification is the routing-relevant view of a source.
// Immutable once derived.
type ContentClassification struct {
	Tier          ResolutionTier
	IsHDR         bool
	IsDolbyVision bool
	DVProfile     uint8
	Grain         GrainLevel
	DenoiseFilter string
	GrainSynth    uint8
	Crop          *CropRect // nil means no crop
}

// CropFilter returns the crop filter string, or empty when no crop applies.
func (c ContentClassification) CropFilter() string {
	if c.Crop == nil {
		return ""
	}
	return c.Crop.Filter()
}

// DynamicRange returns a display string for events and logs.
func (c ContentClassification) DynamicRange() string {
	switch {
	case c.IsDolbyVision:
		return "Dolby Vision"
	case c.IsHDR:
		return "HDR"
	default:
		return "SDR"
	}
}
