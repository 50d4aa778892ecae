package reporter

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/five82/lathe/internal/util"
)

// TerminalReporter outputs human-friendly text to the terminal.
type TerminalReporter struct {
	mu        sync.Mutex
	progress  *progressbar.ProgressBar
	lastStage string
	verbose   bool
	cyan      *color.Color
	green     *color.Color
	yellow    *color.Color
	red       *color.Color
	magenta   *color.Color
	bold      *color.Color
}

// NewTerminalReporter creates a terminal reporter. noColor disables ANSI
// styling globally.
func NewTerminalReporter(verbose, noColor bool) *TerminalReporter {
	if noColor {
		color.NoColor = true
	}
	return &TerminalReporter{
		verbose: verbose,
		cyan:    color.New(color.FgCyan, color.Bold),
		green:   color.New(color.FgGreen),
		yellow:  color.New(color.FgYellow, color.Bold),
		red:     color.New(color.FgRed, color.Bold),
		magenta: color.New(color.FgMagenta),
		bold:    color.New(color.Bold),
	}
}

func (r *TerminalReporter) finishProgress() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.progress != nil {
		_ = r.progress.Finish()
		fmt.Fprintln(os.Stderr)
		r.progress = nil
	}
}

// printLabel prints a bold label with fixed width padding and a value.
func (r *TerminalReporter) printLabel(width int, label, value string) {
	paddedLabel := fmt.Sprintf("%-*s", width, label)
	fmt.Printf("  %s %s\n", r.bold.Sprint(paddedLabel), value)
}

func (r *TerminalReporter) Hardware(summary HardwareSummary) {
	fmt.Println()
	_, _ = r.cyan.Println("HARDWARE")
	r.printLabel(10, "Hostname:", summary.Hostname)
	r.printLabel(10, "Cores:", fmt.Sprintf("%d logical / %d physical", summary.LogicalCores, summary.PhysicalCores))
	if summary.TotalMemory > 0 {
		r.printLabel(10, "Memory:", util.FormatBytes(summary.TotalMemory))
	}
}

func (r *TerminalReporter) Initialization(summary InitializationSummary) {
	fmt.Println()
	_, _ = r.cyan.Println("VIDEO")
	r.printLabel(10, "File:", summary.InputFile)
	r.printLabel(10, "Output:", summary.OutputFile)
	r.printLabel(10, "Duration:", summary.Duration)
	r.printLabel(10, "Resolution:", fmt.Sprintf("%s (%s)", summary.Resolution, summary.Category))
	r.printLabel(10, "Dynamic:", summary.DynamicRange)
	r.printLabel(10, "Audio:", summary.AudioDescription)
}

func (r *TerminalReporter) StageProgress(update StageProgress) {
	r.mu.Lock()
	newStage := r.lastStage != update.Stage
	if newStage {
		r.lastStage = update.Stage
	}
	r.mu.Unlock()

	if newStage {
		fmt.Println()
		_, _ = r.cyan.Println(strings.ToUpper(update.Stage))
	}
	fmt.Printf("  %s %s\n", r.magenta.Sprint("›"), update.Message)
}

func (r *TerminalReporter) CropResult(summary CropSummary) {
	var status string
	switch {
	case summary.Disabled:
		status = color.New(color.Faint).Sprint("auto-crop disabled")
	case summary.Required:
		status = r.green.Sprint(summary.Crop)
	default:
		status = color.New(color.Faint).Sprint("no crop needed")
	}
	fmt.Printf("  %s %s (%s)\n", r.bold.Sprint("Crop detection:"), summary.Message, status)
}

func (r *TerminalReporter) EncodingConfig(summary EncodingConfigSummary) {
	fmt.Println()
	_, _ = r.cyan.Println("ENCODING")
	const w = 14
	r.printLabel(w, "Encoder:", summary.Encoder)
	r.printLabel(w, "Mode:", summary.Mode)
	r.printLabel(w, "Preset:", summary.Preset)
	r.printLabel(w, "Tune:", summary.Tune)
	r.printLabel(w, "Quality:", summary.Quality)
	r.printLabel(w, "Pixel format:", summary.PixelFormat)
	r.printLabel(w, "Audio codec:", summary.AudioCodec)
	r.printLabel(w, "Audio:", summary.AudioDescription)
	if summary.GrainLevel != "" {
		r.printLabel(w, "Grain:", summary.GrainLevel)
	}
	if summary.DenoiseFilter != "" {
		r.printLabel(w, "Denoise:", summary.DenoiseFilter)
	}
	if summary.LathePreset != "" {
		r.printLabel(w, "Lathe preset:", summary.LathePreset)
	}
	if summary.Segments > 0 {
		r.printLabel(w, "Segments:", fmt.Sprintf("%d", summary.Segments))
	}
	if summary.SVTAV1Params != "" {
		r.printLabel(w, "SVT params:", summary.SVTAV1Params)
	}
}

func (r *TerminalReporter) EncodingStarted(totalFrames uint64) {
	r.finishProgress()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.progress = progressbar.NewOptions64(
		100,
		progressbar.OptionSetDescription(""),
		progressbar.OptionSetWidth(40),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionShowDescriptionAtLineEnd(),
		progressbar.OptionSetElapsedTime(false),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
	fmt.Println()
}

func (r *TerminalReporter) EncodingProgress(progress ProgressSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.progress == nil {
		return
	}

	desc := fmt.Sprintf(" %.1f%%", progress.Percent)
	if progress.ChunksTotal > 0 {
		desc = fmt.Sprintf(" %.1f%% (%d/%d chunks)", progress.Percent, progress.ChunksComplete, progress.ChunksTotal)
	}
	if progress.Speed > 0 {
		desc += fmt.Sprintf(" %.2fx", progress.Speed)
	}
	if progress.ETA > 0 {
		desc += fmt.Sprintf(" ETA %s", util.FormatDuration(progress.ETA.Seconds()))
	}

	r.progress.Describe(desc)
	_ = r.progress.Set(int(progress.Percent))
}

func (r *TerminalReporter) ValidationComplete(summary ValidationSummary) {
	r.finishProgress()

	fmt.Println()
	_, _ = r.cyan.Println("VALIDATION")
	for _, step := range summary.Steps {
		marker := r.green.Sprint("✓")
		if !step.Passed {
			marker = r.red.Sprint("✗")
		}
		fmt.Printf("  %s %s: %s\n", marker, step.Name, step.Details)
	}
}

func (r *TerminalReporter) EncodingComplete(summary EncodingOutcome) {
	r.finishProgress()

	fmt.Println()
	_, _ = r.cyan.Println("COMPLETE")
	const w = 12
	r.printLabel(w, "Output:", summary.OutputPath)
	r.printLabel(w, "Video:", summary.VideoStream)
	r.printLabel(w, "Audio:", summary.AudioStream)
	r.printLabel(w, "Original:", util.FormatBytes(summary.OriginalSize))
	r.printLabel(w, "Encoded:", util.FormatBytes(summary.EncodedSize))
	reduction := util.CalculateSizeReduction(summary.OriginalSize, summary.EncodedSize)
	r.printLabel(w, "Reduction:", r.green.Sprintf("%.1f%%", reduction))
	r.printLabel(w, "Time:", util.FormatDuration(summary.TotalTime.Seconds()))
	if summary.AverageSpeed > 0 {
		r.printLabel(w, "Speed:", fmt.Sprintf("%.2fx", summary.AverageSpeed))
	}
}

func (r *TerminalReporter) Warning(message string) {
	fmt.Printf("  %s %s\n", r.yellow.Sprint("warning:"), message)
}

func (r *TerminalReporter) Error(err ReporterError) {
	r.finishProgress()

	fmt.Println()
	_, _ = r.red.Printf("ERROR: %s\n", err.Title)
	fmt.Printf("  %s\n", err.Message)
	if err.Context != "" {
		fmt.Printf("  %s\n", color.New(color.Faint).Sprint(err.Context))
	}
	if err.Suggestion != "" {
		fmt.Printf("  %s %s\n", r.bold.Sprint("Suggestion:"), err.Suggestion)
	}
}

func (r *TerminalReporter) OperationComplete(message string) {
	fmt.Println()
	_, _ = r.green.Printf("✓ %s\n", message)
}

func (r *TerminalReporter) BatchStarted(info BatchStartInfo) {
	fmt.Println()
	_, _ = r.cyan.Println("BATCH")
	r.printLabel(10, "Files:", fmt.Sprintf("%d", info.TotalFiles))
	r.printLabel(10, "Output:", info.OutputDir)
	if r.verbose {
		for i, f := range info.FileList {
			fmt.Printf("    %2d. %s\n", i+1, f)
		}
	}
}

func (r *TerminalReporter) FileProgress(context FileProgressContext) {
	fmt.Println()
	_, _ = r.bold.Printf("[%d/%d] %s\n", context.CurrentFile, context.TotalFiles, context.Filename)
}

func (r *TerminalReporter) BatchComplete(summary BatchSummary) {
	r.finishProgress()

	fmt.Println()
	_, _ = r.cyan.Println("BATCH COMPLETE")
	const w = 12
	r.printLabel(w, "Succeeded:", fmt.Sprintf("%d/%d", summary.SuccessfulCount, summary.TotalFiles))
	r.printLabel(w, "Validated:", fmt.Sprintf("%d passed, %d failed",
		summary.ValidationPassedCount, summary.ValidationFailedCount))
	r.printLabel(w, "Original:", util.FormatBytes(summary.TotalOriginalSize))
	r.printLabel(w, "Encoded:", util.FormatBytes(summary.TotalEncodedSize))
	reduction := util.CalculateSizeReduction(summary.TotalOriginalSize, summary.TotalEncodedSize)
	r.printLabel(w, "Reduction:", r.green.Sprintf("%.1f%%", reduction))
	r.printLabel(w, "Time:", util.FormatDuration(summary.TotalDuration.Seconds()))

	for _, fr := range summary.FileResults {
		fmt.Printf("    %s %.1f%%\n", fr.Filename, fr.Reduction)
	}
}

func (r *TerminalReporter) Verbose(message string) {
	if r.verbose {
		fmt.Printf("  %s %s\n", color.New(color.Faint).Sprint("·"), message)
	}
}
