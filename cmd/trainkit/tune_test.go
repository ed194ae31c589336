package main

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/cwbudde/trainkit/internal/config"
)

func TestTrialConfig(t *testing.T) {
	base := config.Default()
	base.CheckpointPath = "pretrained"
	base.ExcludeScopes = []string{"head"}
	base.Decay.Enabled = false

	cfg := trialConfig(base, []float64{-2, 0.3}, "trials/1")

	if math.Abs(cfg.Optimizer.Args.LearningRate-0.01) > 1e-12 {
		t.Errorf("LearningRate = %v, want 0.01", cfg.Optimizer.Args.LearningRate)
	}
	if !cfg.Decay.Enabled || cfg.Decay.Factor != 0.3 {
		t.Errorf("Decay = %+v, want enabled with factor 0.3", cfg.Decay)
	}
	if cfg.CheckpointPath != "" || !cfg.ForceRestart {
		t.Error("Trials must start from scratch")
	}
	if cfg.Paths.Best != filepath.Join("trials/1", "best") {
		t.Errorf("Paths.Best = %s", cfg.Paths.Best)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Trial config invalid: %v", err)
	}

	// base is untouched
	if base.CheckpointPath != "pretrained" || base.Decay.Enabled {
		t.Error("trialConfig modified base")
	}
	cfg.ExcludeScopes[0] = "changed"
	if base.ExcludeScopes[0] != "head" {
		t.Error("trialConfig shares ExcludeScopes with base")
	}
}
