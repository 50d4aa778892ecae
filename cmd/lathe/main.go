// Package main provides the CLI entry point for lathe.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/five82/lathe/internal/config"
	"github.com/five82/lathe/internal/discovery"
	"github.com/five82/lathe/internal/errors"
	"github.com/five82/lathe/internal/logging"
	"github.com/five82/lathe/internal/processing"
	"github.com/five82/lathe/internal/reporter"
	"github.com/five82/lathe/internal/util"
)

const (
	appName    = "lathe"
	appVersion = "0.3.1"
)

// flagValues collects raw flag state before it is merged into the config.
type flagValues struct {
	output         string
	configFile     string
	logDir         string
	preset         string
	crf            string
	targetScore    float64
	scoreTolerance float64
	qpMin          int
	qpMax          int
	maxRounds      int
	parallelJobs   int
	memoryPerJob   uint64
	disableCrop    bool
	noDenoise      bool
	noPrediction   bool
	progressJSON   string
	noColor        bool
	verbose        bool
	responsive     bool
}

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if hint := errors.Suggestion(err); hint != "" {
			fmt.Fprintf(os.Stderr, "Hint: %s\n", hint)
		}
		os.Exit(errors.ExitCode(err))
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           appName,
		Short:         "Quality-targeted AV1 video encoder",
		Long:          "Lathe converts MKV sources into AV1/Opus MKVs using a chunk-parallel, quality-targeted SVT-AV1 pipeline.",
		Version:       appVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	fv := &flagValues{}

	encode := &cobra.Command{
		Use:   "encode <inputs...>",
		Short: "Encode one or more video files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, fv, args, false)
		},
	}

	batch := &cobra.Command{
		Use:   "batch <dir>",
		Short: "Encode every video file in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, fv, args, true)
		},
	}

	for _, cmd := range []*cobra.Command{encode, batch} {
		f := cmd.Flags()
		f.StringVarP(&fv.output, "output", "o", "", "Output directory (or filename for a single input)")
		f.StringVar(&fv.configFile, "config", "", "TOML config file path")
		f.StringVar(&fv.logDir, "log-dir", "", "Log directory")
		f.StringVar(&fv.preset, "preset", "", "Lathe preset (grain, clean, quick)")
		f.StringVar(&fv.crf, "crf", "", "CRF quality: single value or SD,HD,UHD triple")
		f.Float64Var(&fv.targetScore, "target-score", 0, "Target perceptual quality score")
		f.Float64Var(&fv.scoreTolerance, "score-tolerance", 0, "Acceptable deviation from the target score")
		f.IntVar(&fv.qpMin, "qp-min", -1, "Hard lower CRF search bound")
		f.IntVar(&fv.qpMax, "qp-max", -1, "Hard upper CRF search bound")
		f.IntVar(&fv.maxRounds, "max-rounds", 0, "Maximum quality-search rounds per segment")
		f.IntVar(&fv.parallelJobs, "parallel-jobs", 0, "Worker pool size (0 = auto)")
		f.Uint64Var(&fv.memoryPerJob, "memory-per-job", 0, "Estimated memory per encode job in MB")
		f.BoolVar(&fv.disableCrop, "disable-autocrop", false, "Disable automatic black bar crop detection")
		f.BoolVar(&fv.noDenoise, "no-denoise", false, "Disable grain analysis and denoising")
		f.BoolVar(&fv.noPrediction, "no-tq-prediction", false, "Disable cross-segment CRF prediction")
		f.StringVar(&fv.progressJSON, "progress-json", "", "Write NDJSON progress events to a path, or - for stdout")
		f.BoolVar(&fv.noColor, "no-color", false, "Disable colored terminal output")
		f.BoolVarP(&fv.verbose, "verbose", "v", false, "Enable verbose output")
		f.BoolVar(&fv.responsive, "responsive", false, "Reserve CPU headroom for system responsiveness")
	}

	root.AddCommand(encode, batch)
	return root
}

// run executes the encode or batch command.
func run(cmd *cobra.Command, fv *flagValues, args []string, isBatch bool) error {
	inputs, outputDir, targetFilename, err := resolveInputs(fv, args, isBatch)
	if err != nil {
		return err
	}

	cfg, err := buildConfig(cmd, fv, inputs[0], outputDir)
	if err != nil {
		return err
	}

	if err := util.EnsureDirectory(outputDir); err != nil {
		return errors.NewIOError("failed to create output directory", err)
	}

	logger, closeLog, err := logging.Setup(logging.Options{
		LogDir:  cfg.LogDir,
		Verbose: cfg.Verbose,
		NoColor: cfg.NoColor,
	})
	if err != nil {
		return errors.NewIOError("failed to set up logging", err)
	}
	defer func() { _ = closeLog() }()

	rep, closeRep, err := buildReporter(cfg)
	if err != nil {
		return err
	}
	defer closeRep()

	// Signals cancel cooperatively: in-flight workers stop, a checkpoint
	// is written, and the process exits 130.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_, err = processing.ProcessVideos(ctx, cfg, inputs, targetFilename, rep, logger)
	return err
}

// resolveInputs expands the positional arguments into input files and an
// output location.
func resolveInputs(fv *flagValues, args []string, isBatch bool) (inputs []string, outputDir, targetFilename string, err error) {
	if fv.output == "" {
		return nil, "", "", errors.NewConfigError("output is required (-o/--output)")
	}

	if isBatch {
		dir, err := filepath.Abs(args[0])
		if err != nil {
			return nil, "", "", errors.NewConfigError("invalid batch directory")
		}
		inputs, err = discovery.FindVideoFiles(dir)
		if err != nil {
			return nil, "", "", err
		}
		outputDir, err = filepath.Abs(fv.output)
		if err != nil {
			return nil, "", "", errors.NewConfigError("invalid output path")
		}
		return inputs, outputDir, "", nil
	}

	for _, arg := range args {
		abs, aerr := filepath.Abs(arg)
		if aerr != nil {
			return nil, "", "", errors.NewConfigError("invalid input path: " + arg)
		}
		if !util.FileExists(abs) {
			return nil, "", "", errors.NewInputValidationError("input does not exist: " + abs)
		}
		inputs = append(inputs, abs)
	}

	// A single input with a .mkv output is treated as a target filename.
	if len(inputs) == 1 {
		info, perr := util.ResolveOutputArg(inputs[0], fv.output)
		if perr != nil {
			return nil, "", "", errors.NewConfigError("output must be a directory or .mkv filename")
		}
		outputDir, err = filepath.Abs(info.OutputDir)
		if err != nil {
			return nil, "", "", errors.NewConfigError("invalid output path")
		}
		return inputs, outputDir, info.FilenameOverride, nil
	}

	outputDir, err = filepath.Abs(fv.output)
	if err != nil {
		return nil, "", "", errors.NewConfigError("invalid output path")
	}
	return inputs, outputDir, "", nil
}

// buildConfig merges defaults, config file, environment, and flags, in
// ascending precedence.
func buildConfig(cmd *cobra.Command, fv *flagValues, firstInput, outputDir string) (*config.Config, error) {
	logDir := fv.logDir
	if logDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			logDir = filepath.Join(home, ".local", "state", "lathe", "logs")
		}
	}

	cfg := config.NewConfig(filepath.Dir(firstInput), outputDir, logDir)

	// File and environment.
	if err := config.Load(cfg, fv.configFile); err != nil {
		return nil, err
	}
	cfg.OutputDir = outputDir
	if fv.logDir != "" {
		cfg.LogDir = fv.logDir
	}

	// Preset before explicit flags, so flags win.
	if fv.preset != "" {
		preset, err := config.ParsePreset(fv.preset)
		if err != nil {
			return nil, err
		}
		cfg.ApplyPreset(preset)
	}

	flags := cmd.Flags()
	if fv.crf != "" {
		sd, hd, uhd, err := config.ParseCRF(fv.crf)
		if err != nil {
			return nil, err
		}
		cfg.CRFSD, cfg.CRFHD, cfg.CRFUHD = sd, hd, uhd
	}
	if flags.Changed("target-score") || flags.Changed("score-tolerance") {
		target := cfg.TargetScore()
		tolerance := cfg.ScoreTolerance()
		if flags.Changed("target-score") {
			target = fv.targetScore
		}
		if flags.Changed("score-tolerance") {
			tolerance = fv.scoreTolerance
		}
		cfg.TargetScoreMin = target - tolerance
		cfg.TargetScoreMax = target + tolerance
	}
	if fv.qpMin >= 0 {
		cfg.QPMin = float64(fv.qpMin)
	}
	if fv.qpMax >= 0 {
		cfg.QPMax = float64(fv.qpMax)
	}
	if fv.maxRounds > 0 {
		cfg.MaxRounds = fv.maxRounds
	}
	if fv.parallelJobs > 0 {
		cfg.ParallelJobs = fv.parallelJobs
	}
	if fv.memoryPerJob > 0 {
		cfg.MemoryPerJobMB = fv.memoryPerJob
	}
	if fv.disableCrop {
		cfg.CropMode = "none"
	}
	if fv.noDenoise {
		cfg.DenoiseEnabled = false
	}
	if fv.noPrediction {
		cfg.DisablePredict = true
	}
	if fv.progressJSON != "" {
		cfg.ProgressJSONPath = fv.progressJSON
	}
	if fv.noColor {
		cfg.NoColor = true
	}
	if fv.verbose {
		cfg.Verbose = true
	}
	if fv.responsive {
		cfg.ResponsiveEncoding = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildReporter assembles the terminal reporter plus the optional NDJSON
// sink.
func buildReporter(cfg *config.Config) (reporter.Reporter, func(), error) {
	term := reporter.NewTerminalReporter(cfg.Verbose, cfg.NoColor)
	if cfg.ProgressJSONPath == "" {
		return term, func() {}, nil
	}

	jsonRep, err := reporter.NewJSONReporterForPath(cfg.ProgressJSONPath)
	if err != nil {
		return nil, nil, errors.NewConfigError(err.Error())
	}

	if cfg.ProgressJSONPath == "-" {
		// NDJSON owns stdout; keep the terminal noise off it.
		return jsonRep, func() { _ = jsonRep.Close() }, nil
	}
	return reporter.NewCompositeReporter(term, jsonRep), func() { _ = jsonRep.Close() }, nil
}
