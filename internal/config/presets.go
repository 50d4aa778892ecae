package config

import (
	"fmt"
	"strings"

	"github.com/five82/lathe/internal/errors"
)

// Preset is a named bundle of encoding defaults.
type Preset int

const (
	// PresetGrain keeps film grain: denoise analysis enabled, grain
	// synthesis re-applies what denoising removed.
	PresetGrain Preset = iota
	// PresetClean targets digital/animated sources: grain analysis and
	// denoising are disabled, so no denoise filter and no grain synthesis
	// are applied.
	PresetClean
	// PresetQuick trades quality for speed: faster SVT preset and direct
	// CRF encoding instead of target-quality search.
	PresetQuick
)

// String returns the preset name.
func (p Preset) String() string {
	switch p {
	case PresetGrain:
		return "grain"
	case PresetClean:
		return "clean"
	case PresetQuick:
		return "quick"
	default:
		return "unknown"
	}
}

// ParsePreset converts a preset string to a Preset value.
// Valid values are "grain", "clean", and "quick" (case-insensitive).
func ParsePreset(s string) (Preset, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "grain":
		return PresetGrain, nil
	case "clean":
		return PresetClean, nil
	case "quick":
		return PresetQuick, nil
	default:
		return 0, errors.NewConfigError(
			fmt.Sprintf("invalid preset %q (valid: grain, clean, quick)", s))
	}
}

// ApplyPreset applies grouped defaults to the config. Explicit CLI flags
// are applied after presets, so they win.
func (c *Config) ApplyPreset(p Preset) {
	preset := p
	c.Preset = &preset

	switch p {
	case PresetGrain:
		c.DenoiseEnabled = true
		c.SVTAV1Preset = DefaultSVTAV1Preset
		c.DisableTQ = false
	case PresetClean:
		c.DenoiseEnabled = false
		c.SVTAV1Preset = DefaultSVTAV1Preset
		c.DisableTQ = false
	case PresetQuick:
		c.DenoiseEnabled = false
		c.SVTAV1Preset = 8
		c.DisableTQ = true
	}
}
