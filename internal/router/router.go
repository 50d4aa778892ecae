// Package router selects the encoding path for a classified source.
package router

import (
	"fmt"

	"github.com/five82/lathe/internal/analysis"
	"github.com/five82/lathe/internal/config"
)

// Mode is the encoding path tag.
type Mode int

const (
	// ModeDirectCRF encodes the whole file in one pass at a fixed CRF.
	ModeDirectCRF Mode = iota
	// ModeChunkedTQ encodes scene-aligned chunks with a per-chunk
	// target-quality search.
	ModeChunkedTQ
	// ModeDolbyVisionPassthrough encodes Dolby Vision sources in one
	// pass, preserving the DV configuration. Never chunked.
	ModeDolbyVisionPassthrough
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeDirectCRF:
		return "direct-crf"
	case ModeChunkedTQ:
		return "chunked-target-quality"
	case ModeDolbyVisionPassthrough:
		return "dolby-vision-passthrough"
	default:
		return "unknown"
	}
}

// Plan is the routing decision plus the shared encode parameters every
// path consumes.
type Plan struct {
	Mode Mode

	// CRF is set for the direct and DV paths.
	CRF uint8

	// TargetScore and ScoreTolerance are set for the chunked-TQ path.
	TargetScore    float64
	ScoreTolerance float64

	// Shared encoder parameters.
	SVTPreset     uint8
	SVTTune       uint8
	SVTParams     string
	PixelFormat   string
	DenoiseFilter string
	CropFilter    string
	FilmGrain     uint8
}

// IsChunked reports whether the plan uses segment-parallel encoding.
func (p Plan) IsChunked() bool {
	return p.Mode == ModeChunkedTQ
}

// QualityLabel returns a display string for the plan's quality setting.
func (p Plan) QualityLabel() string {
	if p.Mode == ModeChunkedTQ {
		return fmt.Sprintf("target %.1f ±%.1f", p.TargetScore, p.ScoreTolerance)
	}
	return fmt.Sprintf("CRF %d", p.CRF)
}

// Route applies the decision table:
//  1. Dolby Vision sources must never be chunked; they take the
//     passthrough path at the tier CRF.
//  2. A profile that disables TQ, or a source too short to yield at
//     least two segments, takes direct CRF at the tier CRF.
//  3. Everything else gets the chunked target-quality search.
func Route(cfg *config.Config, source *analysis.SourceMedia, class *analysis.ContentClassification) Plan {
	plan := Plan{
		SVTPreset:     cfg.SVTAV1Preset,
		SVTTune:       cfg.SVTAV1Tune,
		SVTParams:     cfg.SVTAV1Params,
		PixelFormat:   "yuv420p10le",
		DenoiseFilter: class.DenoiseFilter,
		CropFilter:    class.CropFilter(),
		FilmGrain:     class.GrainSynth,
	}

	tierCRF := cfg.CRFForWidth(source.Video.Width)

	switch {
	case class.IsDolbyVision:
		plan.Mode = ModeDolbyVisionPassthrough
		plan.CRF = tierCRF
		// DV streams pass through untouched: no filtering that would
		// invalidate the RPU metadata.
		plan.DenoiseFilter = ""
		plan.CropFilter = ""
	case cfg.DisableTQ || source.Duration < 2*cfg.MinSegmentLength:
		plan.Mode = ModeDirectCRF
		plan.CRF = tierCRF
	default:
		plan.Mode = ModeChunkedTQ
		plan.TargetScore = cfg.TargetScore()
		plan.ScoreTolerance = cfg.ScoreTolerance()
	}

	return plan
}
