package main

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cwbudde/trainkit/internal/config"
	"github.com/cwbudde/trainkit/internal/opt"
)

var (
	tuneIters   int
	tunePop     int
	tuneSeed    int64
	tuneOutPath string
)

var tuneCmd = &cobra.Command{
	Use:   "tune",
	Short: "Search learning rate and decay factor with mayfly",
	Long: `Runs short training trials from scratch and searches the initial
learning rate (log scale) and the decay factor that minimize the best
validation loss. The winning configuration is written to --out.`,
	RunE: runTune,
}

func init() {
	addModelFlags(tuneCmd)
	tuneCmd.Flags().IntVar(&tuneIters, "iters", 10, "Mayfly iterations")
	tuneCmd.Flags().IntVar(&tunePop, "pop", 20, "Mayfly population size (>= 20)")
	tuneCmd.Flags().Int64Var(&tuneSeed, "seed", 42, "Search random seed")
	tuneCmd.Flags().StringVar(&tuneOutPath, "out", "tuned.yaml", "Output configuration path")
	rootCmd.AddCommand(tuneCmd)
}

func runTune(cmd *cobra.Command, args []string) error {
	base, err := config.Load(configPath)
	if err != nil {
		return err
	}

	trialRoot, err := os.MkdirTemp("", "trainkit-tune-")
	if err != nil {
		return fmt.Errorf("failed to create trial directory: %w", err)
	}
	defer os.RemoveAll(trialRoot)

	trial := 0
	eval := func(x []float64) float64 {
		trial++
		cfg := trialConfig(base, x, filepath.Join(trialRoot, fmt.Sprintf("trial-%d", trial)))

		result, err := trainOnce(cmd.Context(), cfg)
		if err != nil {
			slog.Warn("Trial failed", "trial", trial, "error", err)
			return math.Inf(1)
		}
		slog.Debug("Trial complete", "trial", trial,
			"learning_rate", cfg.Optimizer.Args.LearningRate,
			"decay_factor", cfg.Decay.Factor,
			"validation_loss", result.BestMetric)
		return result.BestMetric
	}

	// x[0] = log10(learning rate), x[1] = decay factor
	lower := []float64{-4, 0.05}
	upper := []float64{0, 1}

	best, cost, err := opt.NewMayfly(tuneIters, tunePop, tuneSeed).Search(eval, lower, upper)
	if err != nil {
		return err
	}

	tuned := trialConfig(base, best, base.Paths.Log)
	tuned.Paths = base.Paths
	tuned.CheckpointPath = base.CheckpointPath
	tuned.ForceRestart = base.ForceRestart
	if err := tuned.Save(tuneOutPath); err != nil {
		return err
	}

	slog.Info("Tuning complete", "trials", trial, "validation_loss", cost)
	fmt.Printf("Best learning rate %.6g, decay factor %.4f (validation loss %.6g) -> %s\n",
		tuned.Optimizer.Args.LearningRate, tuned.Decay.Factor, cost, tuneOutPath)
	return nil
}

// trialConfig copies base with the searched hyperparameters and a fresh log
// directory. Trials never resume and never load pretrained weights.
func trialConfig(base *config.Config, x []float64, logDir string) *config.Config {
	cfg := *base
	cfg.ExcludeScopes = append([]string(nil), base.ExcludeScopes...)
	cfg.Optimizer.Args.LearningRate = math.Pow(10, x[0])
	cfg.Decay.Enabled = true
	cfg.Decay.Factor = x[1]
	if cfg.Decay.Epochs <= 0 {
		cfg.Decay.Epochs = 1
	}
	cfg.CheckpointPath = ""
	cfg.ForceRestart = true
	cfg.Paths = config.Paths{Log: logDir, Best: filepath.Join(logDir, "best")}
	return &cfg
}
