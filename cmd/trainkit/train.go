package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"

	"github.com/born-ml/born/backend/cpu"
	"github.com/spf13/cobra"

	"github.com/cwbudde/trainkit/internal/config"
	"github.com/cwbudde/trainkit/internal/model"
	"github.com/cwbudde/trainkit/internal/store"
	"github.com/cwbudde/trainkit/internal/train"
)

var (
	configPath   string
	features     int
	validSize    int
	noise        float64
	forceRestart bool
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the regression model described by a config file",
	Long: `Trains a linear regression model on synthetic data.
The run resumes from the latest checkpoint in paths.log unless force_restart
is set; otherwise it starts from checkpoint_path when one is configured.`,
	RunE: runTrain,
}

func init() {
	addModelFlags(trainCmd)
	trainCmd.Flags().BoolVar(&forceRestart, "force-restart", false, "Ignore checkpoints in the log directory")
	rootCmd.AddCommand(trainCmd)
}

func addModelFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&configPath, "config", "", "Run configuration (YAML, required)")
	cmd.Flags().IntVar(&features, "features", 4, "Number of synthetic input features")
	cmd.Flags().IntVar(&validSize, "valid-size", 256, "Number of validation samples")
	cmd.Flags().Float64Var(&noise, "noise", 0.05, "Label noise standard deviation")
	cmd.MarkFlagRequired("config")
}

func runTrain(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if forceRestart {
		cfg.ForceRestart = true
	}
	return runConfig(cmd, cfg)
}

// runConfig trains cfg until done or interrupted and prints the result.
func runConfig(cmd *cobra.Command, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := trainOnce(ctx, cfg)
	if errors.Is(err, store.ErrInvalidCheckpointPath) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	fmt.Printf("Step %d: loss %.6f, best validation %.6f\n", result.FinalStep, result.LastLoss, result.BestMetric)
	if result.LastCheckpoint != "" {
		fmt.Printf("Checkpoint: %s\n", result.LastCheckpoint)
	}
	if result.BestCheckpoint != "" {
		fmt.Printf("Best checkpoint: %s\n", result.BestCheckpoint)
	}
	return nil
}

// trainOnce builds the synthetic datasets from cfg.Training.Seed and runs
// the trainer.
func trainOnce(ctx context.Context, cfg *config.Config) (*train.Result, error) {
	rng := rand.New(rand.NewSource(cfg.Training.Seed))

	weights := make([]float32, features)
	for i := range weights {
		weights[i] = float32(rng.NormFloat64())
	}
	bias := float32(rng.NormFloat64())

	trainSet := model.Synthetic(cfg.Training.DatasetSize, weights, bias, float32(noise), rng)
	validSet := model.Synthetic(validSize, weights, bias, float32(noise), rng)

	backend := cpu.New()
	m, err := model.NewRegression(trainSet, validSet, cfg.Training.BatchSize, backend)
	if err != nil {
		return nil, err
	}

	return train.New(cfg, m, backend).Run(ctx)
}
