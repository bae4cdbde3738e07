package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var runAt string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every due source once and print the batch report",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		now := time.Now().UTC()
		if runAt != "" {
			t, err := time.Parse(time.RFC3339, runAt)
			if err != nil {
				return eris.Wrap(err, "parse --at")
			}
			now = t.UTC()
		}

		env, err := initEnv(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		batch, err := env.Scheduler.RunDueSources(ctx, now)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(batch)
	},
}

func init() {
	runCmd.Flags().StringVar(&runAt, "at", "", "treat this RFC 3339 time as now when selecting due sources")
	rootCmd.AddCommand(runCmd)
}
