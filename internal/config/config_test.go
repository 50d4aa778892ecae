package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig("in", "out", "log")

	assert.Equal(t, DefaultCRFSD, cfg.CRFSD)
	assert.Equal(t, DefaultCRFUHD, cfg.CRFUHD)
	assert.Equal(t, DefaultQPMin, cfg.QPMin)
	assert.Equal(t, DefaultQPMax, cfg.QPMax)
	assert.Equal(t, DefaultMaxRounds, cfg.MaxRounds)
	assert.InDelta(t, 75.0, cfg.TargetScore(), 1e-9)
	assert.InDelta(t, 2.0, cfg.ScoreTolerance(), 1e-9)
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"svt preset too high", func(c *Config) { c.SVTAV1Preset = 14 }},
		{"crf too high", func(c *Config) { c.CRFHD = 64 }},
		{"target range inverted", func(c *Config) { c.TargetScoreMin = 80; c.TargetScoreMax = 70 }},
		{"qp range inverted", func(c *Config) { c.QPMin = 48; c.QPMax = 8 }},
		{"qp out of range", func(c *Config) { c.QPMax = 70 }},
		{"zero rounds", func(c *Config) { c.MaxRounds = 0 }},
		{"bad metric mode", func(c *Config) { c.MetricMode = "median" }},
		{"segment range inverted", func(c *Config) { c.MinSegmentLength = 20 }},
		{"negative jobs", func(c *Config) { c.ParallelJobs = -1 }},
		{"bad crop mode", func(c *Config) { c.CropMode = "maybe" }},
		{"memory fraction", func(c *Config) { c.MemoryFraction = 1.5 }},
		{"knee threshold", func(c *Config) { c.GrainKneeThreshold = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig(".", ".", ".")
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestCRFForWidth(t *testing.T) {
	cfg := NewConfig(".", ".", ".")
	cfg.CRFSD = 20
	cfg.CRFHD = 24
	cfg.CRFUHD = 28

	assert.Equal(t, uint8(20), cfg.CRFForWidth(720))
	assert.Equal(t, uint8(20), cfg.CRFForWidth(1279))
	assert.Equal(t, uint8(24), cfg.CRFForWidth(1280))
	assert.Equal(t, uint8(24), cfg.CRFForWidth(1920))
	assert.Equal(t, uint8(24), cfg.CRFForWidth(3839))
	assert.Equal(t, uint8(28), cfg.CRFForWidth(3840))
}

func TestParseCRF(t *testing.T) {
	sd, hd, uhd, err := ParseCRF("27")
	require.NoError(t, err)
	assert.Equal(t, [3]uint8{27, 27, 27}, [3]uint8{sd, hd, uhd})

	sd, hd, uhd, err = ParseCRF("22, 25, 29")
	require.NoError(t, err)
	assert.Equal(t, [3]uint8{22, 25, 29}, [3]uint8{sd, hd, uhd})

	_, _, _, err = ParseCRF("22,25")
	assert.Error(t, err)

	_, _, _, err = ParseCRF("99")
	assert.Error(t, err)
}

func TestParseMetricMode(t *testing.T) {
	m, err := ParseMetricMode("mean")
	require.NoError(t, err)
	assert.True(t, m.IsMean())

	m, err = ParseMetricMode("p5")
	require.NoError(t, err)
	assert.False(t, m.IsMean())
	assert.InDelta(t, 5.0, m.Percentile, 1e-9)

	_, err = ParseMetricMode("p0")
	assert.Error(t, err)
	_, err = ParseMetricMode("q5")
	assert.Error(t, err)
}

func TestApplyPreset(t *testing.T) {
	cfg := NewConfig(".", ".", ".")
	cfg.ApplyPreset(PresetQuick)
	assert.True(t, cfg.DisableTQ)
	assert.Equal(t, uint8(8), cfg.SVTAV1Preset)
	require.NotNil(t, cfg.Preset)
	assert.Equal(t, PresetQuick, *cfg.Preset)

	cfg = NewConfig(".", ".", ".")
	cfg.ApplyPreset(PresetGrain)
	assert.True(t, cfg.DenoiseEnabled)
	assert.False(t, cfg.DisableTQ)
}

func TestParsePreset(t *testing.T) {
	p, err := ParsePreset("GRAIN")
	require.NoError(t, err)
	assert.Equal(t, PresetGrain, p)

	_, err = ParsePreset("fast")
	assert.Error(t, err)
}

func TestGrainSynthFor(t *testing.T) {
	cfg := NewConfig(".", ".", ".")
	assert.Equal(t, uint8(0), cfg.GrainSynthFor("VeryClean"))
	assert.Equal(t, uint8(8), cfg.GrainSynthFor("light"))
	assert.Equal(t, uint8(16), cfg.GrainSynthFor("Medium"))

	cfg.GrainSynthOverrides = map[string]uint8{"light": 10}
	assert.Equal(t, uint8(10), cfg.GrainSynthFor("Light"))
}

func TestLoadTOMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lathe.toml")
	toml := `
[video]
crf_uhd = 31
target_score_min = 70.0
target_score_max = 80.0

[scene_detection]
scene_threshold = 0.4

[resources]
parallel_jobs = 4
`
	require.NoError(t, os.WriteFile(path, []byte(toml), 0o644))

	t.Setenv("LATHE_SCENE_DETECTION_SCENE_THRESHOLD", "0.55")
	t.Setenv("LATHE_VIDEO_MAX_ROUNDS", "6")

	cfg := NewConfig(".", ".", ".")
	require.NoError(t, Load(cfg, path))

	assert.Equal(t, uint8(31), cfg.CRFUHD)
	assert.InDelta(t, 75.0, cfg.TargetScore(), 1e-9)
	assert.Equal(t, 4, cfg.ParallelJobs)
	// Env overrides file.
	assert.InDelta(t, 0.55, cfg.SceneThreshold, 1e-9)
	// Env alone.
	assert.Equal(t, 6, cfg.MaxRounds)
	// Untouched keys keep defaults.
	assert.Equal(t, DefaultCRFSD, cfg.CRFSD)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	cfg := NewConfig(".", ".", ".")
	err := Load(cfg, filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}
