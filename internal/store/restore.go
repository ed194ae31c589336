package store

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"

	"github.com/cwbudde/trainkit/internal/config"
)

// Source tells where RestoreOrRestart took the variable values from.
type Source int

const (
	SourceNone Source = iota
	SourceResume
	SourcePretrained
)

func (s Source) String() string {
	switch s {
	case SourceResume:
		return "resume"
	case SourcePretrained:
		return "pretrained"
	default:
		return "none"
	}
}

// RestoreResult reports what RestoreOrRestart loaded.
type RestoreResult struct {
	Source Source
	Path   string
	Step   int
}

// RestoreOrRestart initializes vars for a run described by cfg.
//
// A configured cfg.CheckpointPath must contain a checkpoint, otherwise
// ErrInvalidCheckpointPath is returned before anything is loaded. Unless
// cfg.ForceRestart is set, the latest checkpoint in cfg.Paths.Log is
// restored together with the global step. Without one, the pretrained
// checkpoint is restored and the global step is left untouched. Variables
// under cfg.ExcludeScopes are never restored.
func RestoreOrRestart[B tensor.Backend](cfg *config.Config, vars *Variables[B], step *GlobalStep[B], backend B) (RestoreResult, error) {
	var pretrained string
	if cfg.CheckpointPath != "" {
		path, err := LatestCheckpoint(cfg.CheckpointPath)
		if errors.Is(err, ErrNotFound) {
			return RestoreResult{}, &InvalidPathError{Path: cfg.CheckpointPath}
		}
		if err != nil {
			return RestoreResult{}, err
		}
		pretrained = path
	}

	if cfg.ForceRestart {
		slog.Info("Forced restart, skipping checkpoint restore")
		return RestoreResult{Source: SourceNone}, nil
	}

	resume, err := LatestCheckpoint(cfg.Paths.Log)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return RestoreResult{}, err
	}

	saver := BuildRestoreSaver(backend)

	switch {
	case resume != "":
		toRestore, err := vars.ToRestore([]*nn.Parameter[B]{step.Variable()}, cfg.ExcludeScopes)
		if err != nil {
			return RestoreResult{}, err
		}
		metadata, err := saver.Restore(toRestore, resume)
		if err != nil {
			return RestoreResult{}, err
		}
		if err := step.restore(metadata); err != nil {
			return RestoreResult{}, err
		}
		slog.Info("Resumed from checkpoint", "path", resume, "step", step.Value())
		return RestoreResult{Source: SourceResume, Path: resume, Step: step.Value()}, nil

	case pretrained != "":
		toRestore, err := vars.ToRestore(nil, cfg.ExcludeScopes)
		if err != nil {
			return RestoreResult{}, err
		}
		if _, err := saver.Restore(toRestore, pretrained); err != nil {
			return RestoreResult{}, fmt.Errorf("pretrained initialization: %w", err)
		}
		slog.Info("Initialized from pretrained checkpoint", "path", pretrained,
			"variables", toRestore.Len(), "excluded_scopes", cfg.ExcludeScopes)
		return RestoreResult{Source: SourcePretrained, Path: pretrained, Step: step.Value()}, nil

	default:
		slog.Info("Unable to restore from checkpoint", "dir", cfg.Paths.Log)
		return RestoreResult{Source: SourceNone}, nil
	}
}
