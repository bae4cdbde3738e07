package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hackscraper/hackscraper/internal/strategy"
)

var strategiesCmd = &cobra.Command{
	Use:   "strategies",
	Short: "List registered extraction strategies",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := initEnv(cmd.Context(), "run")
		if err != nil {
			return err
		}
		defer env.Close()

		formatStrategies(os.Stdout, env.Table.Entries())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(strategiesCmd)
}

func formatStrategies(out io.Writer, entries []strategy.Entry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "KIND\tID\tDESCRIPTION")
	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", e.Kind, e.ID, e.Description)
	}
	_ = w.Flush()
}
