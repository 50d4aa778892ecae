package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/five82/lathe/internal/util"
)

// progressMinInterval is the floor between progress emissions when the
// percent bucket has not advanced.
const progressMinInterval = 5 * time.Second

// JSONReporter emits the NDJSON event stream for embedding hosts. Every
// line is one JSON object carrying at least "type" and an ISO-8601
// "timestamp". Progress events are throttled to whole-percent bucket
// changes or the minimum interval.
type JSONReporter struct {
	writer             io.Writer
	closer             io.Closer
	mu                 sync.Mutex
	lastProgressBucket int
	lastProgressTime   time.Time
	now                func() time.Time
}

// NewJSONReporter creates a JSON reporter writing to stdout.
func NewJSONReporter() *JSONReporter {
	return NewJSONReporterWithWriter(os.Stdout)
}

// NewJSONReporterWithWriter creates a JSON reporter with a custom writer.
func NewJSONReporterWithWriter(w io.Writer) *JSONReporter {
	return &JSONReporter{
		writer:             w,
		lastProgressBucket: -1,
		now:                time.Now,
	}
}

// NewJSONReporterForPath creates a JSON reporter for a file path, with
// "-" meaning stdout.
func NewJSONReporterForPath(path string) (*JSONReporter, error) {
	if path == "-" {
		return NewJSONReporter(), nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("cannot open progress sink %s: %w", path, err)
	}
	r := NewJSONReporterWithWriter(f)
	r.closer = f
	return r, nil
}

// Close releases the underlying sink if the reporter owns one.
func (r *JSONReporter) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

func (r *JSONReporter) timestamp() string {
	return r.now().UTC().Format(time.RFC3339)
}

func (r *JSONReporter) write(v map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintln(r.writer, string(data))
}

func (r *JSONReporter) Hardware(summary HardwareSummary) {
	r.write(map[string]interface{}{
		"type":           "hardware",
		"hostname":       summary.Hostname,
		"logical_cores":  summary.LogicalCores,
		"physical_cores": summary.PhysicalCores,
		"total_memory":   summary.TotalMemory,
		"timestamp":      r.timestamp(),
	})
}

func (r *JSONReporter) Initialization(summary InitializationSummary) {
	r.write(map[string]interface{}{
		"type":              "initialization",
		"input_file":        summary.InputFile,
		"output_file":       summary.OutputFile,
		"duration":          summary.Duration,
		"resolution":        summary.Resolution,
		"category":          summary.Category,
		"dynamic_range":     summary.DynamicRange,
		"audio_description": summary.AudioDescription,
		"timestamp":         r.timestamp(),
	})
}

func (r *JSONReporter) StageProgress(update StageProgress) {
	event := map[string]interface{}{
		"type":      "stage_progress",
		"stage":     update.Stage,
		"percent":   update.Percent,
		"message":   update.Message,
		"timestamp": r.timestamp(),
	}
	if update.ETA != nil {
		event["eta_seconds"] = int64(update.ETA.Seconds())
	}
	r.write(event)
}

func (r *JSONReporter) CropResult(summary CropSummary) {
	r.write(map[string]interface{}{
		"type":      "crop_result",
		"message":   summary.Message,
		"crop":      summary.Crop,
		"required":  summary.Required,
		"disabled":  summary.Disabled,
		"timestamp": r.timestamp(),
	})
}

func (r *JSONReporter) EncodingConfig(summary EncodingConfigSummary) {
	r.write(map[string]interface{}{
		"type":              "encoding_config",
		"encoder":           summary.Encoder,
		"mode":              summary.Mode,
		"preset":            summary.Preset,
		"tune":              summary.Tune,
		"quality":           summary.Quality,
		"pixel_format":      summary.PixelFormat,
		"audio_codec":       summary.AudioCodec,
		"audio_description": summary.AudioDescription,
		"grain_level":       summary.GrainLevel,
		"denoise_filter":    summary.DenoiseFilter,
		"lathe_preset":      summary.LathePreset,
		"svtav1_params":     summary.SVTAV1Params,
		"segments":          summary.Segments,
		"timestamp":         r.timestamp(),
	})
}

func (r *JSONReporter) EncodingStarted(totalFrames uint64) {
	r.mu.Lock()
	r.lastProgressBucket = -1
	r.lastProgressTime = time.Time{}
	r.mu.Unlock()

	r.write(map[string]interface{}{
		"type":         "encoding_started",
		"total_frames": totalFrames,
		"timestamp":    r.timestamp(),
	})
}

func (r *JSONReporter) EncodingProgress(progress ProgressSnapshot) {
	bucket := int(progress.Percent)
	now := r.now()

	r.mu.Lock()
	intervalElapsed := r.lastProgressTime.IsZero() || now.Sub(r.lastProgressTime) >= progressMinInterval
	shouldEmit := bucket > r.lastProgressBucket || intervalElapsed

	if !shouldEmit {
		r.mu.Unlock()
		return
	}
	if bucket > r.lastProgressBucket {
		r.lastProgressBucket = bucket
	}
	r.lastProgressTime = now
	r.mu.Unlock()

	r.write(map[string]interface{}{
		"type":            "encoding_progress",
		"stage":           "encoding",
		"current_frame":   progress.CurrentFrame,
		"total_frames":    progress.TotalFrames,
		"percent":         progress.Percent,
		"speed":           progress.Speed,
		"fps":             progress.FPS,
		"eta_seconds":     int64(progress.ETA.Seconds()),
		"bitrate":         progress.Bitrate,
		"chunks_complete": progress.ChunksComplete,
		"chunks_total":    progress.ChunksTotal,
		"timestamp":       r.timestamp(),
	})
}

func (r *JSONReporter) ValidationComplete(summary ValidationSummary) {
	steps := make([]map[string]interface{}, len(summary.Steps))
	for i, step := range summary.Steps {
		steps[i] = map[string]interface{}{
			"step":    step.Name,
			"passed":  step.Passed,
			"details": step.Details,
		}
	}

	r.write(map[string]interface{}{
		"type":              "validation_complete",
		"validation_passed": summary.Passed,
		"validation_steps":  steps,
		"timestamp":         r.timestamp(),
	})
}

func (r *JSONReporter) EncodingComplete(summary EncodingOutcome) {
	r.write(map[string]interface{}{
		"type":                   "encoding_complete",
		"input_file":             summary.InputFile,
		"output_file":            summary.OutputFile,
		"original_size":          summary.OriginalSize,
		"encoded_size":           summary.EncodedSize,
		"video_stream":           summary.VideoStream,
		"audio_stream":           summary.AudioStream,
		"average_speed":          summary.AverageSpeed,
		"output_path":            summary.OutputPath,
		"duration_seconds":       int64(summary.TotalTime.Seconds()),
		"size_reduction_percent": util.CalculateSizeReduction(summary.OriginalSize, summary.EncodedSize),
		"timestamp":              r.timestamp(),
	})
}

func (r *JSONReporter) Warning(message string) {
	r.write(map[string]interface{}{
		"type":      "warning",
		"message":   message,
		"timestamp": r.timestamp(),
	})
}

func (r *JSONReporter) Error(err ReporterError) {
	r.write(map[string]interface{}{
		"type":       "error",
		"title":      err.Title,
		"message":    err.Message,
		"context":    err.Context,
		"suggestion": err.Suggestion,
		"timestamp":  r.timestamp(),
	})
}

func (r *JSONReporter) OperationComplete(message string) {
	r.write(map[string]interface{}{
		"type":      "operation_complete",
		"message":   message,
		"timestamp": r.timestamp(),
	})
}

func (r *JSONReporter) BatchStarted(info BatchStartInfo) {
	r.write(map[string]interface{}{
		"type":        "batch_started",
		"total_files": info.TotalFiles,
		"file_list":   info.FileList,
		"output_dir":  info.OutputDir,
		"timestamp":   r.timestamp(),
	})
}

func (r *JSONReporter) FileProgress(context FileProgressContext) {
	r.write(map[string]interface{}{
		"type":         "file_progress",
		"current_file": context.CurrentFile,
		"total_files":  context.TotalFiles,
		"filename":     context.Filename,
		"timestamp":    r.timestamp(),
	})
}

func (r *JSONReporter) BatchComplete(summary BatchSummary) {
	r.write(map[string]interface{}{
		"type":                         "batch_complete",
		"successful_count":             summary.SuccessfulCount,
		"total_files":                  summary.TotalFiles,
		"total_original_size":          summary.TotalOriginalSize,
		"total_encoded_size":           summary.TotalEncodedSize,
		"total_duration_seconds":       int64(summary.TotalDuration.Seconds()),
		"total_size_reduction_percent": util.CalculateSizeReduction(summary.TotalOriginalSize, summary.TotalEncodedSize),
		"timestamp":                    r.timestamp(),
	})
}

func (r *JSONReporter) Verbose(string) {}
