// Package train runs the training loop: it restores or initializes the
// model variables, steps the optimizer, writes train and validation
// summaries, and keeps periodic and best checkpoints.
package train

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"

	"github.com/born-ml/born/tensor"

	"github.com/cwbudde/trainkit/internal/config"
	"github.com/cwbudde/trainkit/internal/opt"
	"github.com/cwbudde/trainkit/internal/store"
	"github.com/cwbudde/trainkit/internal/summary"
)

// LossTag is the summary tag of train and validation losses.
const LossTag = "loss"

// Model is a trainable model.
type Model[B tensor.Backend] interface {
	// Variables returns every trainable variable of the model.
	Variables() *store.Variables[B]

	// TrainStep returns the loss of the batch selected by step and the
	// gradients keyed by parameter tensor.
	TrainStep(step int) (float64, map[*tensor.RawTensor]*tensor.RawTensor, error)

	// Validate returns the validation loss; lower is better.
	Validate() (float64, error)
}

// Result summarizes a run.
type Result struct {
	Restore        store.RestoreResult
	FinalStep      int
	LastLoss       float64
	BestMetric     float64
	BestCheckpoint string
	LastCheckpoint string
}

// Trainer drives a Model according to a Config.
type Trainer[B tensor.Backend] struct {
	cfg     *config.Config
	model   Model[B]
	backend B
}

// New creates a trainer.
func New[B tensor.Backend](cfg *config.Config, model Model[B], backend B) *Trainer[B] {
	return &Trainer[B]{cfg: cfg, model: model, backend: backend}
}

// Run trains until the configured number of steps is reached or ctx is
// cancelled. On cancellation a final checkpoint is written and ctx.Err()
// is returned with the partial result.
func (t *Trainer[B]) Run(ctx context.Context) (*Result, error) {
	cfg := t.cfg
	steps := cfg.Steps()
	validateEvery := cfg.Training.ValidateEvery
	if validateEvery == 0 {
		validateEvery = steps.Epoch
	}

	step := store.NewGlobalStep(t.backend)
	vars := t.model.Variables()

	restored, err := store.RestoreOrRestart(cfg, vars, step, t.backend)
	if err != nil {
		return nil, err
	}

	trainLog, validationLog, err := summary.BuildLoggers(cfg.Paths)
	if err != nil {
		return nil, err
	}
	defer closeWriter(trainLog)
	defer closeWriter(validationLog)

	trainSaver, bestSaver, err := store.BuildTrainSavers(cfg.Paths, t.backend)
	if err != nil {
		return nil, err
	}

	optimizer, err := opt.BuildOptimizer(cfg, steps, step, vars.Trainable(), t.backend, trainLog)
	if err != nil {
		return nil, err
	}

	toSave, err := vars.ToSave(step.Variable())
	if err != nil {
		return nil, err
	}

	result := &Result{
		Restore:    restored,
		BestMetric: math.Inf(1),
	}
	if restored.Source == store.SourceResume {
		if record, err := store.LatestRecord(cfg.Paths.Best); err == nil && record.Metric != nil {
			result.BestMetric = *record.Metric
			result.BestCheckpoint = filepath.Join(cfg.Paths.Best, record.Path)
		}
	}

	slog.Info("Training started",
		"start_step", step.Value(),
		"max_steps", steps.Max,
		"steps_per_epoch", steps.Epoch,
		"restored_from", restored.Source.String(),
	)

	lastSaved := step.Value()
	if restored.Source != store.SourceResume {
		lastSaved = -1
	}

	for step.Value() < steps.Max {
		if err := ctx.Err(); err != nil {
			slog.Warn("Training interrupted", "step", step.Value())
			if step.Value() != lastSaved {
				path, saveErr := trainSaver.Save(toSave, step.Value())
				if saveErr != nil {
					return result, errors.Join(err, saveErr)
				}
				result.LastCheckpoint = path
			}
			result.FinalStep = step.Value()
			return result, err
		}

		optimizer.ZeroGrad()
		loss, grads, err := t.model.TrainStep(step.Value())
		if err != nil {
			return result, fmt.Errorf("train step %d: %w", step.Value(), err)
		}
		optimizer.Step(grads)

		current := step.Increment()
		result.LastLoss = loss
		if err := trainLog.Scalar(current, LossTag, loss); err != nil {
			return result, err
		}

		if current%validateEvery == 0 || current == steps.Max {
			if err := t.validate(current, toSave, bestSaver, validationLog, result); err != nil {
				return result, err
			}
			if err := trainLog.Flush(); err != nil {
				return result, err
			}
		}

		if cfg.Training.CheckpointEvery > 0 && current%cfg.Training.CheckpointEvery == 0 {
			path, err := trainSaver.Save(toSave, current)
			if err != nil {
				return result, err
			}
			result.LastCheckpoint = path
			lastSaved = current
			if err := trainLog.Flush(); err != nil {
				return result, err
			}
		}

		if current%steps.Epoch == 0 {
			slog.Info("Epoch complete",
				"epoch", current/steps.Epoch,
				"step", current,
				"loss", loss,
				"learning_rate", optimizer.GetLR(),
			)
		}
	}

	if step.Value() != lastSaved {
		path, err := trainSaver.Save(toSave, step.Value())
		if err != nil {
			return result, err
		}
		result.LastCheckpoint = path
	}

	result.FinalStep = step.Value()
	slog.Info("Training complete",
		"step", result.FinalStep,
		"loss", result.LastLoss,
		"best_validation", result.BestMetric,
	)
	return result, nil
}

// validate evaluates the model and keeps the checkpoint when the metric
// improves on the best seen so far.
func (t *Trainer[B]) validate(step int, toSave *store.Variables[B], bestSaver *store.Saver[B], w *summary.FileWriter, result *Result) error {
	metric, err := t.model.Validate()
	if err != nil {
		return fmt.Errorf("validation at step %d: %w", step, err)
	}
	if err := w.Scalar(step, LossTag, metric); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if math.IsNaN(metric) {
		slog.Warn("Validation loss is NaN", "step", step)
		return nil
	}
	if metric >= result.BestMetric {
		return nil
	}

	path, err := bestSaver.SaveBest(toSave, step, metric)
	if err != nil {
		return err
	}
	slog.Info("New best model", "step", step, "validation_loss", metric, "previous", result.BestMetric)
	result.BestMetric = metric
	result.BestCheckpoint = path
	return nil
}

func closeWriter(w *summary.FileWriter) {
	if err := w.Close(); err != nil {
		slog.Warn("Failed to close summary writer", "path", w.Path(), "error", err)
	}
}
