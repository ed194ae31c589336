package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cwbudde/trainkit/internal/config"
	"github.com/cwbudde/trainkit/internal/store"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Continue a run from its latest checkpoint",
	Long: `Like train, but fails when paths.log holds no checkpoint instead of
starting a new run. force_restart in the config is ignored.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, latest, err := loadResumeConfig(configPath)
		if err != nil {
			return err
		}
		fmt.Printf("Resuming from %s\n", latest)
		return runConfig(cmd, cfg)
	},
}

func init() {
	addModelFlags(resumeCmd)
	rootCmd.AddCommand(resumeCmd)
}

// loadResumeConfig loads the config at path with force_restart cleared and
// returns the checkpoint the run will continue from.
func loadResumeConfig(path string) (*config.Config, string, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	cfg.ForceRestart = false

	latest, err := store.LatestCheckpoint(cfg.Paths.Log)
	if errors.Is(err, store.ErrNotFound) {
		return nil, "", fmt.Errorf("nothing to resume in %s", cfg.Paths.Log)
	}
	if err != nil {
		return nil, "", err
	}
	return cfg, latest, nil
}
