package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/hackscraper/hackscraper/internal/model"
	"github.com/hackscraper/hackscraper/internal/store"
)

var suggestionsCmd = &cobra.Command{
	Use:   "suggestions",
	Short: "Review suggested changes to hackathons",
}

var suggestionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List outstanding suggestions with the fields they would change",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		hackathon, _ := cmd.Flags().GetString("hackathon")
		source, _ := cmd.Flags().GetString("source")
		limit, _ := cmd.Flags().GetInt("limit")
		sugs, err := st.ListSuggestions(ctx, model.SuggestionFilter{HackathonID: hackathon, SourceID: source, Limit: limit})
		if err != nil {
			return eris.Wrap(err, "suggestions list")
		}
		if len(sugs) == 0 {
			fmt.Fprintln(os.Stderr, "No suggestions.")
			return nil
		}

		current := make(map[string]model.Fields, len(sugs))
		for _, s := range sugs {
			if _, ok := current[s.HackathonID]; ok {
				continue
			}
			h, err := st.GetHackathon(ctx, s.HackathonID)
			if err != nil && !eris.Is(err, store.ErrNotFound) {
				return eris.Wrap(err, "suggestions list")
			}
			if h != nil {
				current[s.HackathonID] = h.Fields
			}
		}
		formatSuggestionsList(os.Stdout, sugs, current)
		return nil
	},
}

var suggestionsAcceptCmd = &cobra.Command{
	Use:   "accept <suggestion-id>",
	Short: "Copy selected fields of a suggestion into its hackathon",
	Long:  "Copies the fields named by --fields into the hackathon and removes the suggestion. Without --fields the suggestion is discarded, as with reject.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		names, _ := cmd.Flags().GetStringSlice("fields")
		fields, err := model.ParseFields(names)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		env, err := initEnv(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Reconciler.Accept(ctx, args[0], fields); err != nil {
			return eris.Wrap(err, "suggestions accept")
		}
		return nil
	},
}

var suggestionsRejectCmd = &cobra.Command{
	Use:   "reject <suggestion-id>",
	Short: "Discard a suggestion",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Reconciler.Reject(ctx, args[0]); err != nil {
			return eris.Wrap(err, "suggestions reject")
		}
		return nil
	},
}

func init() {
	suggestionsListCmd.Flags().String("hackathon", "", "filter by hackathon id")
	suggestionsListCmd.Flags().String("source", "", "filter by source id")
	suggestionsListCmd.Flags().Int("limit", 100, "max number of suggestions to display")

	suggestionsAcceptCmd.Flags().StringSlice("fields", nil, "fields to accept (image, name, description, date, location)")

	suggestionsCmd.AddCommand(suggestionsListCmd, suggestionsAcceptCmd, suggestionsRejectCmd)
	rootCmd.AddCommand(suggestionsCmd)
}

// formatSuggestionsList writes one line per differing field so an operator
// can pick which ones to accept. current maps hackathon id to its record.
func formatSuggestionsList(out io.Writer, sugs []model.Suggestion, current map[string]model.Fields) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SUGGESTION\tHACKATHON\tFIELD\tCURRENT\tSUGGESTED")
	for _, s := range sugs {
		cur := current[s.HackathonID]
		diff := cur.Diff(s.Fields)
		if len(diff) == 0 {
			_, _ = fmt.Fprintf(w, "%s\t%s\t-\t-\t-\n", s.ID, s.HackathonID)
			continue
		}
		for _, f := range diff {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				s.ID, s.HackathonID, f, oneLine(cur.Get(f)), oneLine(s.Get(f)))
		}
	}
	_ = w.Flush()
}

func oneLine(s string) string {
	return truncate(orDash(strings.Join(strings.Fields(s), " ")), 50)
}
