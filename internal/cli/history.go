package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/trackload/internal/history"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past runs saved with --history-db",
		Args:  cobra.NoArgs,
		RunE:  runHistory,
	}
	cmd.Flags().String("db", "trackload-history.db", "History database")
	cmd.Flags().IntP("limit", "n", 20, "Number of runs to show (0 shows all)")
	cmd.Flags().String("id", "", "Show one run in detail")
	return cmd
}

func runHistory(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("db")
	limit, _ := cmd.Flags().GetInt("limit")
	id, _ := cmd.Flags().GetString("id")

	store, err := history.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	w := cmd.OutOrStdout()
	if id != "" {
		rec, err := store.Get(id)
		if err != nil {
			return fmt.Errorf("%s: %w", id, err)
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintf(tw, "ID:\t%s\n", rec.ID)
		fmt.Fprintf(tw, "Name:\t%s\n", rec.Name)
		fmt.Fprintf(tw, "Executor:\t%s\n", rec.Executor)
		fmt.Fprintf(tw, "Started:\t%s\n", rec.StartTime.Format(time.RFC3339))
		fmt.Fprintf(tw, "Duration:\t%s\n", rec.Duration.Round(time.Millisecond))
		fmt.Fprintf(tw, "Users:\t%d\n", rec.Users)
		fmt.Fprintf(tw, "Operations:\t%d\n", rec.Operations)
		fmt.Fprintf(tw, "Failed:\t%d (%.2f%%)\n", rec.Failed, rec.ErrorRate*100)
		fmt.Fprintf(tw, "Throughput:\t%.2f ops/s\n", rec.OpsPerSecond)
		fmt.Fprintf(tw, "P95:\t%s\n", rec.P95.Round(time.Millisecond))
		fmt.Fprintf(tw, "Init failures:\t%d\n", rec.InitFailures)
		fmt.Fprintf(tw, "Result:\t%s\n", passLabel(rec.Passed))
		return tw.Flush()
	}

	records, err := store.List(limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tNAME\tUSERS\tDURATION\tOPS\tERR%\tP95\tRESULT\tID")
	for _, rec := range records {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%d\t%.2f\t%s\t%s\t%s\n",
			rec.StartTime.Local().Format("2006-01-02 15:04:05"),
			rec.Name,
			rec.Users,
			rec.Duration.Round(time.Second),
			rec.Operations,
			rec.ErrorRate*100,
			rec.P95.Round(time.Millisecond),
			passLabel(rec.Passed),
			rec.ID)
	}
	return tw.Flush()
}

func passLabel(passed bool) string {
	if passed {
		return "PASSED"
	}
	return "FAILED"
}
