package lathe

import (
	"github.com/five82/lathe/internal/reporter"
	"github.com/five82/lathe/internal/util"
)

// Reporter re-exports the internal reporter interface for embedding
// hosts that want full event access.
type Reporter = reporter.Reporter

// NewJSONReporter returns a reporter writing the NDJSON event stream to
// stdout.
func NewJSONReporter() Reporter {
	return reporter.NewJSONReporter()
}

// NewTerminalReporter returns the human-readable terminal reporter.
func NewTerminalReporter(verbose, noColor bool) Reporter {
	return reporter.NewTerminalReporter(verbose, noColor)
}

// eventReporter adapts EventHandler to the Reporter interface.
type eventReporter struct {
	reporter.NullReporter
	handler EventHandler
}

func newEventReporter(handler EventHandler) *eventReporter {
	return &eventReporter{handler: handler}
}

func (r *eventReporter) EncodingProgress(p reporter.ProgressSnapshot) {
	_ = r.handler(EncodingProgressEvent{
		BaseEvent:  BaseEvent{EventType: EventTypeEncodingProgress, Time: NewTimestamp()},
		Percent:    p.Percent,
		Speed:      p.Speed,
		FPS:        p.FPS,
		ETASeconds: int64(p.ETA.Seconds()),
	})
}

func (r *eventReporter) ValidationComplete(s reporter.ValidationSummary) {
	steps := make([]ValidationStep, len(s.Steps))
	for i, step := range s.Steps {
		steps[i] = ValidationStep{
			Step:    step.Name,
			Passed:  step.Passed,
			Details: step.Details,
		}
	}
	_ = r.handler(ValidationCompleteEvent{
		BaseEvent:        BaseEvent{EventType: EventTypeValidationComplete, Time: NewTimestamp()},
		ValidationPassed: s.Passed,
		ValidationSteps:  steps,
	})
}

func (r *eventReporter) EncodingComplete(s reporter.EncodingOutcome) {
	_ = r.handler(EncodingCompleteEvent{
		BaseEvent:            BaseEvent{EventType: EventTypeEncodingComplete, Time: NewTimestamp()},
		OutputFile:           s.OutputFile,
		OriginalSize:         s.OriginalSize,
		EncodedSize:          s.EncodedSize,
		SizeReductionPercent: util.CalculateSizeReduction(s.OriginalSize, s.EncodedSize),
	})
}

func (r *eventReporter) Warning(message string) {
	_ = r.handler(WarningEvent{
		BaseEvent: BaseEvent{EventType: EventTypeWarning, Time: NewTimestamp()},
		Message:   message,
	})
}

func (r *eventReporter) Error(e reporter.ReporterError) {
	_ = r.handler(ErrorEvent{
		BaseEvent:  BaseEvent{EventType: EventTypeError, Time: NewTimestamp()},
		Title:      e.Title,
		Message:    e.Message,
		Context:    e.Context,
		Suggestion: e.Suggestion,
	})
}

func (r *eventReporter) BatchComplete(s reporter.BatchSummary) {
	_ = r.handler(BatchCompleteEvent{
		BaseEvent:                 BaseEvent{EventType: EventTypeBatchComplete, Time: NewTimestamp()},
		SuccessfulCount:           s.SuccessfulCount,
		TotalFiles:                s.TotalFiles,
		TotalSizeReductionPercent: util.CalculateSizeReduction(s.TotalOriginalSize, s.TotalEncodedSize),
	})
}
