package config

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/five82/lathe/internal/errors"
)

// EnvPrefix is the prefix for environment variable overrides, e.g.
// LATHE_SCENE_DETECTION_SCENE_THRESHOLD for scene_detection.scene_threshold.
const EnvPrefix = "LATHE"

// Load merges the TOML config file (if present) and environment variables
// into cfg. Precedence below CLI flags: env var > file > built-in default.
// CLI flags are applied by the caller after Load returns.
func Load(cfg *Config, configFile string) error {
	v := viper.New()
	v.SetConfigType("toml")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("lathe")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/lathe")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// An explicitly named file must load; the implicit lookup may miss.
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" {
			return errors.NewConfigError(fmt.Sprintf("cannot read config file: %v", err))
		}
		if !stderrors.As(err, &notFound) {
			return errors.NewConfigError(fmt.Sprintf("cannot parse config file: %v", err))
		}
	}

	apply(cfg, v)
	return nil
}

// apply copies known keys from viper into the config, section by section.
func apply(cfg *Config, v *viper.Viper) {
	setString(v, "directories.output", &cfg.OutputDir)
	setString(v, "directories.log", &cfg.LogDir)
	setString(v, "directories.temp", &cfg.TempDir)

	setUint8(v, "video.preset", &cfg.SVTAV1Preset)
	setUint8(v, "video.tune", &cfg.SVTAV1Tune)
	setString(v, "video.svtav1_params", &cfg.SVTAV1Params)
	setUint8(v, "video.crf_sd", &cfg.CRFSD)
	setUint8(v, "video.crf_hd", &cfg.CRFHD)
	setUint8(v, "video.crf_uhd", &cfg.CRFUHD)
	setFloat(v, "video.target_score_min", &cfg.TargetScoreMin)
	setFloat(v, "video.target_score_max", &cfg.TargetScoreMax)
	setFloat(v, "video.qp_min", &cfg.QPMin)
	setFloat(v, "video.qp_max", &cfg.QPMax)
	setInt(v, "video.max_rounds", &cfg.MaxRounds)
	setString(v, "video.metric_mode", &cfg.MetricMode)
	setFloat(v, "video.sample_duration", &cfg.SampleDuration)
	setFloat(v, "video.sample_min_chunk", &cfg.SampleMinChunk)
	setBool(v, "video.disable_tq", &cfg.DisableTQ)
	setBool(v, "video.disable_tq_prediction", &cfg.DisablePredict)
	setBool(v, "video.denoise", &cfg.DenoiseEnabled)
	setFloat(v, "video.grain_knee_threshold", &cfg.GrainKneeThreshold)
	if v.IsSet("video.grain_synth") {
		overrides := make(map[string]uint8)
		for level := range v.GetStringMap("video.grain_synth") {
			overrides[strings.ToLower(level)] = uint8(v.GetUint32("video.grain_synth." + level))
		}
		cfg.GrainSynthOverrides = overrides
	}

	setFloat(v, "scene_detection.min_segment_length", &cfg.MinSegmentLength)
	setFloat(v, "scene_detection.max_segment_length", &cfg.MaxSegmentLength)
	setFloat(v, "scene_detection.scene_threshold", &cfg.SceneThreshold)
	setFloat(v, "scene_detection.hdr_scene_threshold", &cfg.HDRSceneThreshold)
	setFloat(v, "scene_detection.tolerance", &cfg.SceneTolerance)

	setString(v, "crop_detection.mode", &cfg.CropMode)
	setUint32(v, "crop_detection.min_height", &cfg.CropMinHeight)
	setFloat(v, "crop_detection.min_black_bar_percent", &cfg.CropMinBarPercent)

	setFloat(v, "validation.duration_abs_tolerance", &cfg.DurationAbsTolerance)
	setFloat(v, "validation.duration_rel_tolerance", &cfg.DurationRelTolerance)

	setInt(v, "resources.parallel_jobs", &cfg.ParallelJobs)
	setUint64(v, "resources.memory_per_job_mb", &cfg.MemoryPerJobMB)
	setFloat(v, "resources.memory_fraction", &cfg.MemoryFraction)
	setInt(v, "resources.max_retries", &cfg.MaxRetries)
	setFloat(v, "resources.force_quality_drop", &cfg.ForceQualityDrop)
	setInt(v, "resources.worker_stagger_ms", &cfg.WorkerStaggerMS)
	setFloat(v, "resources.process_timeout_factor", &cfg.ProcTimeoutFactor)
	setBool(v, "resources.responsive", &cfg.ResponsiveEncoding)

	setBool(v, "logging.verbose", &cfg.Verbose)
	setBool(v, "logging.no_color", &cfg.NoColor)
	setString(v, "logging.progress_json", &cfg.ProgressJSONPath)
}

func setString(v *viper.Viper, key string, dst *string) {
	_ = v.BindEnv(key)
	if v.IsSet(key) {
		*dst = v.GetString(key)
	}
}

func setBool(v *viper.Viper, key string, dst *bool) {
	_ = v.BindEnv(key)
	if v.IsSet(key) {
		*dst = v.GetBool(key)
	}
}

func setInt(v *viper.Viper, key string, dst *int) {
	_ = v.BindEnv(key)
	if v.IsSet(key) {
		*dst = v.GetInt(key)
	}
}

func setUint8(v *viper.Viper, key string, dst *uint8) {
	_ = v.BindEnv(key)
	if v.IsSet(key) {
		*dst = uint8(v.GetUint32(key))
	}
}

func setUint32(v *viper.Viper, key string, dst *uint32) {
	_ = v.BindEnv(key)
	if v.IsSet(key) {
		*dst = v.GetUint32(key)
	}
}

func setUint64(v *viper.Viper, key string, dst *uint64) {
	_ = v.BindEnv(key)
	if v.IsSet(key) {
		*dst = v.GetUint64(key)
	}
}

func setFloat(v *viper.Viper, key string, dst *float64) {
	_ = v.BindEnv(key)
	if v.IsSet(key) {
		*dst = v.GetFloat64(key)
	}
}
