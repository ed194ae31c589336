package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"

	"github.com/cwbudde/trainkit/internal/config"
)

const (
	// StateFile lists the checkpoints of a directory, newest last.
	StateFile = "checkpoint.json"

	// DefaultPrefix is the file name prefix used by BuildTrainSavers.
	DefaultPrefix = "model"

	checkpointExt = ".born"
	modelType     = "Variables"
)

// Record describes one checkpoint file in a state file.
type Record struct {
	// Path is relative to the checkpoint directory.
	Path      string    `json:"path"`
	Step      int       `json:"step"`
	Timestamp time.Time `json:"timestamp"`
	// Metric is set by SaveBest.
	Metric *float64 `json:"metric,omitempty"`
}

// State is the content of a directory's checkpoint.json.
type State struct {
	Latest string   `json:"latest"`
	All    []Record `json:"all"`
}

// CheckpointInfo is a listing entry for a checkpoint.
type CheckpointInfo struct {
	Path      string
	Step      int
	Timestamp time.Time
	Metric    *float64
	Size      int64
	Latest    bool
}

// Saver writes checkpoints of a variable set into one directory and keeps
// at most MaxToKeep of them. It is safe for concurrent use.
type Saver[B tensor.Backend] struct {
	mu        sync.Mutex
	dir       string
	prefix    string
	maxToKeep int
	backend   B
}

// NewSaver creates a saver writing <dir>/<prefix>-<step>.born files.
// maxToKeep <= 0 keeps every checkpoint. An empty dir gives a restore-only
// saver.
func NewSaver[B tensor.Backend](dir, prefix string, maxToKeep int, backend B) (*Saver[B], error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
		}
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Saver[B]{
		dir:       dir,
		prefix:    prefix,
		maxToKeep: maxToKeep,
		backend:   backend,
	}, nil
}

// BuildTrainSavers returns the periodic saver (paths.Log, last 2 kept) and
// the best-model saver (paths.Best, 1 kept).
func BuildTrainSavers[B tensor.Backend](paths config.Paths, backend B) (train, best *Saver[B], err error) {
	train, err = NewSaver(paths.Log, DefaultPrefix, 2, backend)
	if err != nil {
		return nil, nil, err
	}
	best, err = NewSaver(paths.Best, DefaultPrefix, 1, backend)
	if err != nil {
		return nil, nil, err
	}
	return train, best, nil
}

// BuildRestoreSaver returns a saver that only restores.
func BuildRestoreSaver[B tensor.Backend](backend B) *Saver[B] {
	return &Saver[B]{prefix: DefaultPrefix, backend: backend}
}

// Dir returns the checkpoint directory.
func (s *Saver[B]) Dir() string {
	return s.dir
}

// MaxToKeep returns the retention limit.
func (s *Saver[B]) MaxToKeep() int {
	return s.maxToKeep
}

// Save writes vars as the checkpoint of step and returns its path.
func (s *Saver[B]) Save(vars *Variables[B], step int) (string, error) {
	return s.save(vars, step, nil)
}

// SaveBest writes vars like Save and records metric alongside it.
func (s *Saver[B]) SaveBest(vars *Variables[B], step int, metric float64) (string, error) {
	return s.save(vars, step, &metric)
}

func (s *Saver[B]) save(vars *Variables[B], step int, metric *float64) (string, error) {
	if s.dir == "" {
		return "", fmt.Errorf("saver has no checkpoint directory")
	}
	if vars == nil || vars.Len() == 0 {
		return "", fmt.Errorf("no variables to save")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := fmt.Sprintf("%s-%d%s", s.prefix, step, checkpointExt)
	finalPath := filepath.Join(s.dir, name)
	tempPath := filepath.Join(s.dir, ".tmp-"+name)

	metadata := map[string]string{GlobalStepName: strconv.Itoa(step)}
	if err := nn.Save[B](vars, tempPath, modelType, metadata); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("failed to rename checkpoint file: %w", err)
	}

	state, err := readState(s.dir)
	if err != nil && !isNotFound(err) {
		return "", err
	}

	kept := state.All[:0]
	for _, r := range state.All {
		if r.Path != name {
			kept = append(kept, r)
		}
	}
	state.All = append(kept, Record{Path: name, Step: step, Timestamp: time.Now(), Metric: metric})
	state.Latest = name

	if s.maxToKeep > 0 {
		for len(state.All) > s.maxToKeep {
			old := state.All[0]
			state.All = state.All[1:]
			if err := os.Remove(filepath.Join(s.dir, old.Path)); err != nil && !os.IsNotExist(err) {
				slog.Warn("Failed to remove old checkpoint", "path", old.Path, "error", err)
			}
		}
	}

	if err := writeState(s.dir, state); err != nil {
		return "", err
	}

	slog.Debug("Checkpoint saved", "path", finalPath, "step", step)
	return finalPath, nil
}

// Restore loads the values of vars from the checkpoint at path and returns
// the checkpoint metadata.
func (s *Saver[B]) Restore(vars *Variables[B], path string) (map[string]string, error) {
	header, err := nn.Load[B](path, s.backend, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to restore %s: %w", path, err)
	}
	slog.Debug("Checkpoint restored", "path", path, "variables", vars.Len())
	return header.Metadata, nil
}

// LatestCheckpoint returns the path of the newest checkpoint in dir.
// It returns ErrNotFound when dir has no state file or the referenced file
// is gone.
func LatestCheckpoint(dir string) (string, error) {
	state, err := readState(dir)
	if err != nil {
		return "", err
	}
	if state.Latest == "" {
		return "", &NotFoundError{Dir: dir}
	}

	path := filepath.Join(dir, state.Latest)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return "", &NotFoundError{Dir: dir}
	} else if err != nil {
		return "", fmt.Errorf("failed to stat checkpoint: %w", err)
	}
	return path, nil
}

// LatestRecord returns the state record of the newest checkpoint in dir.
func LatestRecord(dir string) (Record, error) {
	state, err := readState(dir)
	if err != nil {
		return Record{}, err
	}
	for i := len(state.All) - 1; i >= 0; i-- {
		if state.All[i].Path == state.Latest {
			return state.All[i], nil
		}
	}
	return Record{}, &NotFoundError{Dir: dir}
}

// ListCheckpoints returns the checkpoints recorded in dir, oldest first.
// Records whose file is missing are skipped.
func ListCheckpoints(dir string) ([]CheckpointInfo, error) {
	state, err := readState(dir)
	if isNotFound(err) {
		return []CheckpointInfo{}, nil
	}
	if err != nil {
		return nil, err
	}

	infos := make([]CheckpointInfo, 0, len(state.All))
	for _, r := range state.All {
		fi, err := os.Stat(filepath.Join(dir, r.Path))
		if err != nil {
			slog.Warn("Skipping checkpoint", "path", r.Path, "error", err)
			continue
		}
		infos = append(infos, CheckpointInfo{
			Path:      r.Path,
			Step:      r.Step,
			Timestamp: r.Timestamp,
			Metric:    r.Metric,
			Size:      fi.Size(),
			Latest:    r.Path == state.Latest,
		})
	}
	return infos, nil
}

// DeleteCheckpoint removes the checkpoint file name from dir and its state
// record. When the latest checkpoint is removed the previous one becomes
// latest.
func DeleteCheckpoint(dir, name string) error {
	state, err := readState(dir)
	if err != nil {
		return err
	}

	idx := -1
	for i, r := range state.All {
		if r.Path == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return &NotFoundError{Dir: dir}
	}

	if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove checkpoint: %w", err)
	}

	state.All = append(state.All[:idx], state.All[idx+1:]...)
	if state.Latest == name {
		state.Latest = ""
		if n := len(state.All); n > 0 {
			state.Latest = state.All[n-1].Path
		}
	}

	slog.Debug("Checkpoint deleted", "dir", dir, "path", name)
	return writeState(dir, state)
}

func readState(dir string) (State, error) {
	path := filepath.Join(dir, StateFile)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return State{}, &NotFoundError{Dir: dir}
	} else if err != nil {
		return State{}, fmt.Errorf("failed to read checkpoint state: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("failed to deserialize checkpoint state: %w", err)
	}
	return state, nil
}

// writeState replaces the state file atomically.
func writeState(dir string, state State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize checkpoint state: %w", err)
	}

	finalPath := filepath.Join(dir, StateFile)
	tempPath := finalPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename state file: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	_, ok := err.(*NotFoundError)
	return ok
}
