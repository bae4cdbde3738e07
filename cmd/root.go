package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hackscraper/hackscraper/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "hackscraper",
	Short: "Scrape and reconcile hackathon listings",
	Long:  "Runs registered sources on a schedule, merges what they report into a hackathon catalog, and queues differing observations as suggestions for an operator.",
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
