package state

import (
	"os"

	"github.com/five82/lathe/internal/tq"
)

// ValidateResults drops chunk results whose output files are missing or
// whose sizes no longer match the recorded values, so the scheduler
// re-queues those segments. Returns the indices that were dropped.
func ValidateResults(js *JobState) []int {
	var dropped []int

	for idx, result := range js.ChunkResults {
		if result == nil || result.Status != tq.StatusSucceeded {
			dropped = append(dropped, idx)
			delete(js.ChunkResults, idx)
			delete(js.Predictor, idx)
			continue
		}

		info, err := os.Stat(result.OutputPath)
		if err != nil || uint64(info.Size()) != result.EncodedBytes {
			dropped = append(dropped, idx)
			delete(js.ChunkResults, idx)
			delete(js.Predictor, idx)
		}
	}

	return dropped
}

// RebuildPredictor recomputes predictor state from surviving chunk
// results, discarding anything stale.
func RebuildPredictor(js *JobState) {
	js.Predictor = make(map[int]float64, len(js.ChunkResults))
	for idx, result := range js.ChunkResults {
		if result != nil && result.Status == tq.StatusSucceeded {
			js.Predictor[idx] = result.FinalCRF
		}
	}
}

// ResumePhase returns the earliest incomplete phase to resume from.
// Anything at or past assembly restarts at encoding when chunk results
// were invalidated, since assembly needs the full set.
func ResumePhase(js *JobState, droppedAny bool) Phase {
	switch js.Phase {
	case PhaseDone:
		return PhaseDone
	case PhaseAnalyzing, PhaseSegmenting:
		// Analysis is cheap and derived state may be stale; redo it.
		return PhaseAnalyzing
	case PhaseEncoding:
		return PhaseEncoding
	case PhaseAssembling, PhaseValidating, PhaseFailed:
		if droppedAny {
			return PhaseEncoding
		}
		if js.ChunkPlan != nil && len(js.ChunkResults) < js.ChunkPlan.Count() {
			return PhaseEncoding
		}
		return PhaseAssembling
	default:
		return PhaseAnalyzing
	}
}
