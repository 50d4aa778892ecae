// Package state owns job persistence: the temp-directory tree, atomic
// checkpoints, and resume validation.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/five82/lathe/internal/analysis"
	"github.com/five82/lathe/internal/errors"
	"github.com/five82/lathe/internal/router"
	"github.com/five82/lathe/internal/segment"
	"github.com/five82/lathe/internal/tq"
	"github.com/five82/lathe/internal/util"
)

// Phase is the pipeline stage a job is in.
type Phase string

const (
	PhaseAnalyzing  Phase = "analyzing"
	PhaseSegmenting Phase = "segmenting"
	PhaseEncoding   Phase = "encoding"
	PhaseAssembling Phase = "assembling"
	PhaseValidating Phase = "validating"
	PhaseDone       Phase = "done"
	PhaseFailed     Phase = "failed"
)

// maxCheckpoints is how many rolling checkpoint files are retained.
const maxCheckpoints = 5

// JobState is the persisted root of one encode job.
type JobState struct {
	SourcePath string `json:"source_path"`
	OutputPath string `json:"output_path"`
	Phase      Phase  `json:"phase"`

	Source         *analysis.SourceMedia           `json:"source,omitempty"`
	Classification *analysis.ContentClassification `json:"classification,omitempty"`
	Plan           *router.Plan                    `json:"plan,omitempty"`
	ChunkPlan      *segment.Plan                   `json:"chunk_plan,omitempty"`
	ChunkResults   map[int]*tq.ChunkResult         `json:"chunk_results,omitempty"`
	Predictor      map[int]float64                 `json:"predictor,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// NewJobState creates the initial state for a source file.
func NewJobState(sourcePath, outputPath string) *JobState {
	return &JobState{
		SourcePath:   sourcePath,
		OutputPath:   outputPath,
		Phase:        PhaseAnalyzing,
		ChunkResults: make(map[int]*tq.ChunkResult),
		Predictor:    make(map[int]float64),
	}
}

// Dirs names the temp-tree subdirectories a job owns.
type Dirs struct {
	Root        string
	Working     string
	Segments    string
	Encoded     string
	Logs        string
	State       string
	Checkpoints string
}

// Manager owns the temp tree and checkpoint persistence for one job.
// Mutations pass through the manager under a single-writer lock.
type Manager struct {
	mu     sync.Mutex
	dirs   Dirs
	job    *JobState
	logger zerolog.Logger
}

// NewManager creates the temp tree for a job and returns its manager.
func NewManager(tempBase, inputPath, outputPath string, logger zerolog.Logger) (*Manager, error) {
	root := filepath.Join(tempBase, fmt.Sprintf(".lathe-%s", util.GetFileStem(inputPath)))
	dirs := Dirs{
		Root:        root,
		Working:     filepath.Join(root, "working"),
		Segments:    filepath.Join(root, "segments"),
		Encoded:     filepath.Join(root, "encoded"),
		Logs:        filepath.Join(root, "logs"),
		State:       filepath.Join(root, "state"),
		Checkpoints: filepath.Join(root, "state", "checkpoints"),
	}

	for _, dir := range []string{dirs.Working, dirs.Segments, dirs.Encoded, dirs.Logs, dirs.Checkpoints} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.NewIOError(fmt.Sprintf("failed to create temp directory %s", dir), err)
		}
	}

	return &Manager{
		dirs:   dirs,
		job:    NewJobState(inputPath, outputPath),
		logger: logger.With().Str("component", "state").Logger(),
	}, nil
}

// Dirs returns the temp tree layout.
func (m *Manager) Dirs() Dirs {
	return m.dirs
}

// Job returns the current state under the lock. Callers must not retain
// the pointer across mutations.
func (m *Manager) Job() *JobState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.job
}

// statePath is the current-state file location.
func (m *Manager) statePath() string {
	return filepath.Join(m.dirs.State, "state.json")
}

// Update mutates the job state under the single-writer lock and
// checkpoints the result.
func (m *Manager) Update(mutate func(*JobState)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mutate(m.job)
	return m.persistLocked()
}

// SetPhase advances the pipeline phase and checkpoints.
func (m *Manager) SetPhase(phase Phase) error {
	return m.Update(func(js *JobState) {
		js.Phase = phase
	})
}

// ApplyResult records a completed chunk and its predictor contribution.
// Called only by the scheduler coordinator.
func (m *Manager) ApplyResult(result *tq.ChunkResult) error {
	return m.Update(func(js *JobState) {
		js.ChunkResults[result.Index] = result
		if result.Status == tq.StatusSucceeded {
			js.Predictor[result.Index] = result.FinalCRF
		}
	})
}

// persistLocked writes state.json atomically and rolls checkpoints.
// Callers hold the lock.
func (m *Manager) persistLocked() error {
	m.job.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(m.job, "", "  ")
	if err != nil {
		return errors.NewIOError("failed to marshal job state", err)
	}

	if err := renameio.WriteFile(m.statePath(), data, 0o644); err != nil {
		return errors.NewIOError("failed to write state file", err)
	}

	checkpoint := filepath.Join(m.dirs.Checkpoints,
		fmt.Sprintf("%d.json", m.job.UpdatedAt.UnixNano()))
	if err := renameio.WriteFile(checkpoint, data, 0o644); err != nil {
		return errors.NewIOError("failed to write checkpoint", err)
	}

	m.pruneCheckpointsLocked()
	return nil
}

// pruneCheckpointsLocked deletes all but the newest maxCheckpoints files.
func (m *Manager) pruneCheckpointsLocked() {
	entries, err := os.ReadDir(m.dirs.Checkpoints)
	if err != nil {
		return
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			names = append(names, e.Name())
		}
	}
	if len(names) <= maxCheckpoints {
		return
	}

	// Nanosecond-stamped names sort chronologically by length then value.
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) < len(names[j])
		}
		return names[i] < names[j]
	})
	for _, name := range names[:len(names)-maxCheckpoints] {
		_ = os.Remove(filepath.Join(m.dirs.Checkpoints, name))
	}
}

// Load reads the current state file from an existing temp tree. Returns
// nil without error when no state exists (fresh job).
func Load(tempBase, inputPath string) (*JobState, error) {
	root := filepath.Join(tempBase, fmt.Sprintf(".lathe-%s", util.GetFileStem(inputPath)))
	path := filepath.Join(root, "state", "state.json")

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewIOError("failed to read state file", err)
	}

	var js JobState
	if err := json.Unmarshal(data, &js); err != nil {
		// A corrupt current state falls back to the newest readable
		// checkpoint.
		return loadNewestCheckpoint(filepath.Join(root, "state", "checkpoints"))
	}
	return &js, nil
}

// loadNewestCheckpoint scans checkpoints newest-first for a readable one.
func loadNewestCheckpoint(dir string) (*JobState, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			names = append(names, e.Name())
		}
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] > names[j]
	})

	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		var js JobState
		if err := json.Unmarshal(data, &js); err == nil {
			return &js, nil
		}
	}
	return nil, nil
}

// Restore adopts a previously loaded job state into this manager.
func (m *Manager) Restore(js *JobState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if js.ChunkResults == nil {
		js.ChunkResults = make(map[int]*tq.ChunkResult)
	}
	if js.Predictor == nil {
		js.Predictor = make(map[int]float64)
	}
	m.job = js
}

// CleanupSuccess removes the temp tree after a successful job.
func (m *Manager) CleanupSuccess() {
	if err := os.RemoveAll(m.dirs.Root); err != nil {
		m.logger.Warn().Err(err).Str("dir", m.dirs.Root).Msg("failed to remove temp tree")
	}
}

// PreserveFailure leaves the temp tree in place for diagnostics and logs
// its location.
func (m *Manager) PreserveFailure() {
	m.logger.Info().Str("dir", m.dirs.Root).Msg("temp tree preserved for diagnostics")
}
