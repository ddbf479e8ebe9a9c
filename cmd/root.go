package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/housing-sim/synthpop-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "synthpop",
	Short: "Synthesize a per-address population from census counts",
	Long:  "Joins GNAF address points to statistical-area polygons, then randomly distributes aggregate census counts down to synthetic individuals placed at specific addresses, preserving per-region totals.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
