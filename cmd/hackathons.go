package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/hackscraper/hackscraper/internal/model"
)

var hackathonsCmd = &cobra.Command{
	Use:   "hackathons",
	Short: "Inspect and curate the hackathon catalog",
}

var hackathonsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List hackathons",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		source, _ := cmd.Flags().GetString("source")
		limit, _ := cmd.Flags().GetInt("limit")
		hs, err := st.ListHackathons(ctx, model.HackathonFilter{SourceID: source, Limit: limit})
		if err != nil {
			return eris.Wrap(err, "hackathons list")
		}
		if len(hs) == 0 {
			fmt.Fprintln(os.Stderr, "No hackathons found.")
			return nil
		}
		formatHackathonsList(os.Stdout, hs)
		return nil
	},
}

var hackathonsAddCmd = &cobra.Command{
	Use:   "add <url>",
	Short: "Add a hackathon by hand",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		h := model.Hackathon{URL: args[0]}
		for _, f := range model.AllFields {
			v, _ := cmd.Flags().GetString(string(f))
			h.Set(f, v)
		}
		if err := st.CreateHackathon(ctx, &h); err != nil {
			return eris.Wrap(err, "hackathons add")
		}
		fmt.Println(h.ID)
		return nil
	},
}

var hackathonsDeleteCmd = &cobra.Command{
	Use:   "delete <hackathon-id>",
	Short: "Delete a hackathon and its suggestions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.DeleteHackathon(ctx, args[0]); err != nil {
			return eris.Wrap(err, "hackathons delete")
		}
		return nil
	},
}

func init() {
	hackathonsListCmd.Flags().String("source", "", "filter by the source that created them")
	hackathonsListCmd.Flags().Int("limit", 100, "max number of hackathons to display")

	for _, f := range model.AllFields {
		hackathonsAddCmd.Flags().String(string(f), "", fmt.Sprintf("hackathon %s", f))
	}

	hackathonsCmd.AddCommand(hackathonsListCmd, hackathonsAddCmd, hackathonsDeleteCmd)
	rootCmd.AddCommand(hackathonsCmd)
}

// formatHackathonsList writes a tabular list of hackathons to w.
func formatHackathonsList(out io.Writer, hs []model.Hackathon) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tDATE\tLOCATION\tURL")
	for _, h := range hs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			h.ID, truncate(h.Name, 40), orDash(h.Date), truncate(orDash(h.Location), 30), h.URL)
	}
	_ = w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
