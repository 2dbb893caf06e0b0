package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/affinity-cli/internal/history"
	"github.com/sells-group/affinity-cli/internal/model"
	"github.com/sells-group/affinity-cli/internal/store"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse and annotate stored predictions",
	Long:  "Commands for listing, inspecting, annotating and summarizing stored prediction records.",
}

// -- history list --

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List prediction records, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		filter, err := recordFilterFromFlags(cmd)
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		recs, err := st.ListRecords(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "history list")
		}

		if csvOut, _ := cmd.Flags().GetBool("csv"); csvOut {
			return history.ExportCSV(os.Stdout, recs)
		}
		if len(recs) == 0 {
			fmt.Fprintln(os.Stderr, "No predictions found.")
			return nil
		}
		formatRecordList(os.Stdout, recs)
		return nil
	},
}

// -- history show --

var historyShowCmd = &cobra.Command{
	Use:   "show <record-id>",
	Short: "Show one prediction record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rec, err := st.GetRecord(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "history show")
		}
		return printJSON(os.Stdout, rec)
	},
}

// -- history stats --

var historyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize stored predictions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		filter, err := recordFilterFromFlags(cmd)
		if err != nil {
			return err
		}
		filter.Limit, filter.Offset = 0, 0

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		recs, err := st.ListRecords(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "history stats")
		}

		stats := history.ComputeStats(recs)
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(os.Stdout, stats)
		}
		formatStats(os.Stdout, stats)
		return nil
	},
}

// -- annotations --

func annotateCmd(use, short string, nargs int, apply func(cmd *cobra.Command, id string, args []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.MinimumNArgs(nargs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return apply(cmd, args[0], args[1:])
		},
	}
}

var historyFavoriteCmd = annotateCmd("favorite <record-id>", "Mark a record as favorite", 1,
	func(cmd *cobra.Command, id string, _ []string) error {
		favorite := true
		return withStore(cmd, func(s store.Store) error { return s.Annotate(cmd.Context(), id, model.Annotation{IsFavorite: &favorite}) })
	})

var historyUnfavoriteCmd = annotateCmd("unfavorite <record-id>", "Clear the favorite mark of a record", 1,
	func(cmd *cobra.Command, id string, _ []string) error {
		favorite := false
		return withStore(cmd, func(s store.Store) error { return s.Annotate(cmd.Context(), id, model.Annotation{IsFavorite: &favorite}) })
	})

var historyNoteCmd = annotateCmd("note <record-id> <text...>", "Replace the notes of a record", 1,
	func(cmd *cobra.Command, id string, rest []string) error {
		notes := strings.TrimSpace(strings.Join(rest, " "))
		return withStore(cmd, func(s store.Store) error { return s.Annotate(cmd.Context(), id, model.Annotation{Notes: &notes}) })
	})

var historyTagCmd = annotateCmd("tag <record-id> <tag...>", "Replace the tags of a record (no tags clears them)", 1,
	func(cmd *cobra.Command, id string, rest []string) error {
		return withStore(cmd, func(s store.Store) error { return s.Annotate(cmd.Context(), id, model.Annotation{Tags: &rest}) })
	})

var historyDeleteCmd = annotateCmd("delete <record-id>", "Delete a record", 1,
	func(cmd *cobra.Command, id string, _ []string) error {
		return withStore(cmd, func(s store.Store) error { return s.DeleteRecord(cmd.Context(), id) })
	})

// withStore opens the store for a single annotation and reports the
// record id on success.
func withStore(cmd *cobra.Command, fn func(store.Store) error) error {
	st, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	if err := fn(st); err != nil {
		return eris.Wrap(err, "history "+cmd.Name())
	}
	fmt.Fprintln(cmd.OutOrStdout(), "ok")
	return nil
}

func init() {
	for _, c := range []*cobra.Command{historyListCmd, historyStatsCmd} {
		f := c.Flags()
		f.String("source", "", "filter by source (single, batch)")
		f.String("batch", "", "filter by batch id")
		f.Bool("favorites", false, "only favorite records")
		f.String("tag", "", "filter by tag")
		f.String("protein", "", "filter by protein name (case-insensitive substring)")
		f.String("since", "", "created at or after (RFC 3339 or YYYY-MM-DD)")
		f.String("until", "", "created before (RFC 3339 or YYYY-MM-DD)")
	}
	historyListCmd.Flags().Int("limit", 50, "max number of records to display (0 = all)")
	historyListCmd.Flags().Int("offset", 0, "skip this many records")
	historyListCmd.Flags().Bool("csv", false, "write CSV to stdout")
	historyStatsCmd.Flags().Bool("json", false, "print stats as JSON")

	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyStatsCmd,
		historyFavoriteCmd, historyUnfavoriteCmd, historyNoteCmd, historyTagCmd, historyDeleteCmd)
	rootCmd.AddCommand(historyCmd)
}

func recordFilterFromFlags(cmd *cobra.Command) (model.RecordFilter, error) {
	flags := cmd.Flags()
	var f model.RecordFilter

	source, _ := flags.GetString("source")
	switch src := model.Source(source); src {
	case "", model.SourceSingle, model.SourceBatch:
		f.Source = src
	default:
		return f, eris.Errorf("invalid --source %q (want single or batch)", source)
	}
	f.BatchID, _ = flags.GetString("batch")
	f.FavoritesOnly, _ = flags.GetBool("favorites")
	f.Tag, _ = flags.GetString("tag")
	f.Protein, _ = flags.GetString("protein")
	f.Limit, _ = flags.GetInt("limit")
	f.Offset, _ = flags.GetInt("offset")

	var err error
	since, _ := flags.GetString("since")
	if f.Since, err = history.ParseTime(since); err != nil {
		return f, err
	}
	until, _ := flags.GetString("until")
	if f.Until, err = history.ParseTime(until); err != nil {
		return f, err
	}
	return f, nil
}

// formatRecordList writes a tabular list of records to out.
func formatRecordList(out io.Writer, recs []model.PredictionRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tCREATED\tSOURCE\tDRUG\tPROTEIN\tPK\tCONF\tFAV\tTAGS")
	for _, r := range recs {
		fav := ""
		if r.IsFavorite {
			fav = "*"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.2f\t%.2f\t%s\t%s\n",
			r.ID,
			r.CreatedAt.Format("2006-01-02 15:04"),
			r.Source,
			truncate(r.DrugName, 30),
			truncate(r.ProteinName, 20),
			r.PredictedPK,
			r.ConfidenceScore,
			fav,
			strings.Join(r.Tags, ","),
		)
	}
	_ = w.Flush()
}

// formatStats writes history stats in a human-readable format.
func formatStats(out io.Writer, s model.HistoryStats) {
	_, _ = fmt.Fprintf(out, "Predictions:       %d (single %d, batch %d)\n",
		s.TotalPredictions, s.PredictionsBySource.Single, s.PredictionsBySource.Batch)
	_, _ = fmt.Fprintf(out, "Average pK:        %.2f\n", s.AveragePK)
	_, _ = fmt.Fprintf(out, "Average conf:      %.2f\n", s.AverageConfidence)
	protein := s.MostTestedProtein
	if protein == "" {
		protein = "-"
	}
	_, _ = fmt.Fprintf(out, "Most tested:       %s\n", protein)
	if len(s.PredictionsByDay) > 0 {
		_, _ = fmt.Fprintln(out, "By day:")
		for _, d := range s.PredictionsByDay {
			_, _ = fmt.Fprintf(out, "  %s  %d\n", d.Date, d.Count)
		}
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
