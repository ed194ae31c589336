// Package config loads and validates the declarative description of a
// training run: optimizer choice, learning-rate decay, checkpoint and log
// locations.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Optimizer names accepted in OptimizerConfig.Name.
const (
	OptimizerSGD      = "sgd"
	OptimizerMomentum = "momentum"
	OptimizerAdam     = "adam"
)

// OptimizerArgs holds the constructor arguments of the optimizer.
// Fields that do not apply to the selected optimizer are ignored.
type OptimizerArgs struct {
	LearningRate float64 `yaml:"learning_rate"`
	Momentum     float64 `yaml:"momentum,omitempty"`
	Beta1        float64 `yaml:"beta1,omitempty"`
	Beta2        float64 `yaml:"beta2,omitempty"`
	Epsilon      float64 `yaml:"epsilon,omitempty"`
}

// OptimizerConfig selects the optimizer class and its arguments.
type OptimizerConfig struct {
	Name string        `yaml:"name"`
	Args OptimizerArgs `yaml:"args"`
}

// DecayConfig enables exponential learning-rate decay.
// The rate is multiplied by Factor every Epochs epochs.
type DecayConfig struct {
	Enabled bool    `yaml:"enabled"`
	Factor  float64 `yaml:"factor"`
	Epochs  int     `yaml:"epochs"`
}

// TrainingConfig describes the length and cadence of the training loop.
type TrainingConfig struct {
	Epochs          int   `yaml:"epochs"`
	BatchSize       int   `yaml:"batch_size"`
	DatasetSize     int   `yaml:"dataset_size"`
	Seed            int64 `yaml:"seed"`
	CheckpointEvery int   `yaml:"checkpoint_every"` // steps, 0 = end of run only
	ValidateEvery   int   `yaml:"validate_every"`   // steps, 0 = once per epoch
}

// Paths identifies the directories of a run.
type Paths struct {
	Log  string `yaml:"log"`
	Best string `yaml:"best"`
}

// Train returns the directory of the train summary writer.
func (p Paths) Train() string {
	return filepath.Join(p.Log, "train")
}

// Validation returns the directory of the validation summary writer.
func (p Paths) Validation() string {
	return filepath.Join(p.Log, "validation")
}

// Config is the complete description of a training run.
type Config struct {
	Optimizer      OptimizerConfig `yaml:"optimizer"`
	Decay          DecayConfig     `yaml:"lr_decay"`
	Training       TrainingConfig  `yaml:"training"`
	CheckpointPath string          `yaml:"checkpoint_path"`
	ForceRestart   bool            `yaml:"force_restart"`
	ExcludeScopes  []string        `yaml:"exclude_scopes"`
	Paths          Paths           `yaml:"paths"`
}

// Steps holds the step counts derived from the training configuration.
type Steps struct {
	Epoch int // steps per epoch
	Decay int // steps between two decays
	Max   int // total steps of the run
}

// Default returns a configuration usable as a starting point.
func Default() *Config {
	return &Config{
		Optimizer: OptimizerConfig{
			Name: OptimizerMomentum,
			Args: OptimizerArgs{LearningRate: 0.01, Momentum: 0.9},
		},
		Decay: DecayConfig{Enabled: true, Factor: 0.1, Epochs: 25},
		Training: TrainingConfig{
			Epochs:      50,
			BatchSize:   32,
			DatasetSize: 1024,
			Seed:        42,
		},
		Paths: Paths{Log: "runs/default", Best: "runs/default/best"},
	}
}

// Load reads a YAML configuration file on top of Default and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	cfg.Paths.Best = ""
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if cfg.Paths.Best == "" {
		cfg.Paths.Best = filepath.Join(cfg.Paths.Log, "best")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks every field the builders rely on.
func (c *Config) Validate() error {
	switch c.Optimizer.Name {
	case OptimizerSGD, OptimizerMomentum, OptimizerAdam:
	case "":
		return &ValidationError{Field: "optimizer.name", Reason: "cannot be empty"}
	default:
		return &ValidationError{Field: "optimizer.name", Reason: fmt.Sprintf("unknown optimizer %q", c.Optimizer.Name)}
	}
	if c.Optimizer.Args.LearningRate <= 0 {
		return &ValidationError{Field: "optimizer.args.learning_rate", Reason: "must be positive"}
	}
	if c.Optimizer.Args.Momentum < 0 || c.Optimizer.Args.Momentum >= 1 {
		return &ValidationError{Field: "optimizer.args.momentum", Reason: "must be in [0, 1)"}
	}
	if c.Optimizer.Name == OptimizerMomentum && c.Optimizer.Args.Momentum == 0 {
		return &ValidationError{Field: "optimizer.args.momentum", Reason: "must be positive for the momentum optimizer"}
	}
	if c.Decay.Enabled {
		if c.Decay.Factor <= 0 || c.Decay.Factor > 1 {
			return &ValidationError{Field: "lr_decay.factor", Reason: "must be in (0, 1]"}
		}
		if c.Decay.Epochs <= 0 {
			return &ValidationError{Field: "lr_decay.epochs", Reason: "must be positive"}
		}
	}
	if c.Training.Epochs <= 0 {
		return &ValidationError{Field: "training.epochs", Reason: "must be positive"}
	}
	if c.Training.BatchSize <= 0 {
		return &ValidationError{Field: "training.batch_size", Reason: "must be positive"}
	}
	if c.Training.DatasetSize < c.Training.BatchSize {
		return &ValidationError{Field: "training.dataset_size", Reason: "must be at least batch_size"}
	}
	if c.Training.CheckpointEvery < 0 {
		return &ValidationError{Field: "training.checkpoint_every", Reason: "cannot be negative"}
	}
	if c.Training.ValidateEvery < 0 {
		return &ValidationError{Field: "training.validate_every", Reason: "cannot be negative"}
	}
	if c.Paths.Log == "" {
		return &ValidationError{Field: "paths.log", Reason: "cannot be empty"}
	}
	if c.Paths.Best == "" {
		return &ValidationError{Field: "paths.best", Reason: "cannot be empty"}
	}
	return nil
}

// Steps derives the per-epoch, decay and total step counts.
func (c *Config) Steps() Steps {
	epoch := (c.Training.DatasetSize + c.Training.BatchSize - 1) / c.Training.BatchSize
	steps := Steps{
		Epoch: epoch,
		Max:   epoch * c.Training.Epochs,
	}
	if c.Decay.Enabled {
		steps.Decay = epoch * c.Decay.Epochs
	}
	return steps
}

// ValidationError reports an invalid configuration field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + e.Field + " " + e.Reason
}
