package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sarchlab/cohsim/datarecording"
	"github.com/sarchlab/cohsim/mem/harness"
	"github.com/sarchlab/cohsim/tracing"
)

var reportCmd = &cobra.Command{
	Use:   "report <recording.sqlite3>",
	Short: "Summarize a run recorded with `run --record`.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reader := datarecording.NewReader(args[0])
		defer reader.Close()

		return writeReport(cmd.Context(), cmd.OutOrStdout(), reader)
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)
}

type taskSummary struct {
	location string
	what     string
	count    uint64
	cycles   uint64
}

func writeReport(
	ctx context.Context,
	w io.Writer,
	reader datarecording.DataReader,
) error {
	if ctx == nil {
		ctx = context.Background()
	}

	reader.MapTable(StatsTable, harness.StatRecord{})
	reader.MapTable(tracing.TaskTable, tracing.TaskRecord{})

	stats, _, err := reader.Query(ctx, StatsTable, datarecording.QueryParams{
		Where:   "Value > 0",
		OrderBy: "Component, Counter",
	})
	if err != nil {
		return fmt.Errorf("reading counters: %w", err)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COMPONENT\tCOUNTER\tVALUE")

	for _, row := range stats {
		r := row.(*harness.StatRecord)
		fmt.Fprintf(tw, "%s\t%s\t%d\n", r.Component, r.Counter, r.Value)
	}

	tw.Flush()

	tasks, total, err := reader.Query(ctx, tracing.TaskTable,
		datarecording.QueryParams{})
	if err != nil {
		return fmt.Errorf("reading transactions: %w", err)
	}

	fmt.Fprintf(w, "\n%d transactions\n", total)

	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LOCATION\tWHAT\tCOUNT\tAVG CYCLES")

	for _, s := range summarizeTasks(tasks) {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.2f\n", s.location, s.what, s.count,
			float64(s.cycles)/float64(s.count))
	}

	return tw.Flush()
}

func summarizeTasks(rows []any) []taskSummary {
	byKey := make(map[[2]string]*taskSummary)

	for _, row := range rows {
		t := row.(*tracing.TaskRecord)
		key := [2]string{t.Location, t.What}

		s, ok := byKey[key]
		if !ok {
			s = &taskSummary{location: t.Location, what: t.What}
			byKey[key] = s
		}

		s.count++
		s.cycles += t.EndTime - t.StartTime
	}

	summaries := make([]taskSummary, 0, len(byKey))
	for _, s := range byKey {
		summaries = append(summaries, *s)
	}

	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].location != summaries[j].location {
			return summaries[i].location < summaries[j].location
		}

		return summaries[i].what < summaries[j].what
	})

	return summaries
}
