package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/hackscraper/hackscraper/internal/model"
	"github.com/hackscraper/hackscraper/internal/strategy"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Manage registered sources",
}

// -- sources add --

var sourcesAddCmd = &cobra.Command{
	Use:   "add <url>",
	Short: "Register a source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		kindName, _ := cmd.Flags().GetString("kind")
		strategyID, _ := cmd.Flags().GetString("strategy")
		if strategyID == "" {
			strategyID = cfg.Reconcile.DefaultStrategy
		}
		kind, err := model.ParseSourceKind(kindName)
		if err != nil {
			return err
		}
		if !env.Table.Has(kind, strategyID) {
			return &strategy.ConfigurationError{Kind: kind, StrategyID: strategyID}
		}

		src := model.Source{URL: args[0], Kind: kind, StrategyID: strategyID}
		if err := env.Store.CreateSource(ctx, &src); err != nil {
			return eris.Wrap(err, "sources add")
		}
		fmt.Println(src.ID)
		return nil
	},
}

// -- sources list --

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered sources",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		kindName, _ := cmd.Flags().GetString("kind")
		origin, _ := cmd.Flags().GetString("origin")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := model.SourceFilter{OriginSourceID: origin, Limit: limit}
		if kindName != "" {
			if filter.Kind, err = model.ParseSourceKind(kindName); err != nil {
				return err
			}
		}
		sources, err := st.ListSources(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "sources list")
		}
		if len(sources) == 0 {
			fmt.Fprintln(os.Stderr, "No sources found.")
			return nil
		}
		formatSourcesList(os.Stdout, sources)
		return nil
	},
}

// -- sources due --

var sourcesDueCmd = &cobra.Command{
	Use:   "due",
	Short: "List sources that the next pass would run",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		sources, err := st.ListDueSources(ctx, time.Now().UTC())
		if err != nil {
			return eris.Wrap(err, "sources due")
		}
		if len(sources) == 0 {
			fmt.Fprintln(os.Stderr, "No sources due.")
			return nil
		}
		formatSourcesList(os.Stdout, sources)
		return nil
	},
}

// -- sources update --

var sourcesUpdateCmd = &cobra.Command{
	Use:   "update <source-id>",
	Short: "Change a source's url, kind, strategy or next due time",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		src, err := env.Store.GetSource(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "sources update")
		}

		flags := cmd.Flags()
		changed := false
		if flags.Changed("url") {
			src.URL, _ = flags.GetString("url")
			changed = true
		}
		if flags.Changed("kind") {
			k, _ := flags.GetString("kind")
			if src.Kind, err = model.ParseSourceKind(k); err != nil {
				return err
			}
			changed = true
		}
		if flags.Changed("strategy") {
			src.StrategyID, _ = flags.GetString("strategy")
			changed = true
		}
		if changed {
			if !env.Table.Has(src.Kind, src.StrategyID) {
				return &strategy.ConfigurationError{Kind: src.Kind, StrategyID: src.StrategyID}
			}
			if err := env.Store.UpdateSource(ctx, *src); err != nil {
				return eris.Wrap(err, "sources update")
			}
		}
		if flags.Changed("due") {
			s, _ := flags.GetString("due")
			at := time.Now().UTC()
			if s != "now" {
				if at, err = time.Parse(time.RFC3339, s); err != nil {
					return eris.Wrap(err, "parse --due")
				}
			}
			if err := env.Store.ScheduleSource(ctx, src.ID, at.UTC()); err != nil {
				return eris.Wrap(err, "sources update")
			}
		}
		return nil
	},
}

// -- sources delete --

var sourcesDeleteCmd = &cobra.Command{
	Use:   "delete <source-id>",
	Short: "Delete a source and its outstanding suggestions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.DeleteSource(ctx, args[0]); err != nil {
			return eris.Wrap(err, "sources delete")
		}
		return nil
	},
}

// -- sources run --

var sourcesRunCmd = &cobra.Command{
	Use:   "run <source-id>",
	Short: "Run one source now, regardless of its due time",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		rep, err := env.Scheduler.RunSource(ctx, args[0], time.Now().UTC())
		if err != nil {
			return eris.Wrap(err, "sources run")
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	},
}

func init() {
	sourcesAddCmd.Flags().String("kind", string(model.KindDirect), "source kind (direct, aggregator)")
	sourcesAddCmd.Flags().String("strategy", "", "strategy id (default from reconcile.default_strategy)")

	sourcesListCmd.Flags().String("kind", "", "filter by kind")
	sourcesListCmd.Flags().String("origin", "", "filter by the aggregator source that discovered them")
	sourcesListCmd.Flags().Int("limit", 100, "max number of sources to display")

	sourcesUpdateCmd.Flags().String("url", "", "new url")
	sourcesUpdateCmd.Flags().String("kind", "", "new kind")
	sourcesUpdateCmd.Flags().String("strategy", "", "new strategy id")
	sourcesUpdateCmd.Flags().String("due", "", `next due time as RFC 3339, or "now"`)

	sourcesCmd.AddCommand(sourcesAddCmd, sourcesListCmd, sourcesDueCmd, sourcesUpdateCmd, sourcesDeleteCmd, sourcesRunCmd)
	rootCmd.AddCommand(sourcesCmd)
}

// formatSourcesList writes a tabular list of sources to w.
func formatSourcesList(out io.Writer, sources []model.Source) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tKIND\tSTRATEGY\tLAST RUN\tNEXT DUE\tURL")
	for _, s := range sources {
		last := "-"
		if s.LastRunAt != nil {
			last = s.LastRunAt.Format("2006-01-02 15:04")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.ID, s.Kind, s.StrategyID, last, s.NextDueAt.Format("2006-01-02 15:04"), s.URL)
	}
	_ = w.Flush()
}
