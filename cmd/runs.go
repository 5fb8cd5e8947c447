package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/vqa-filter/internal/dataset"
	"github.com/sells-group/vqa-filter/internal/model"
	"github.com/sells-group/vqa-filter/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect filter run history",
	Long:  "Commands for listing, viewing, and summarizing runs recorded in the run ledger.",
}

// openLedger opens the configured run ledger.
func openLedger(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("runs"); err != nil {
		return nil, err
	}
	return store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List filter runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openLedger(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		since, _ := cmd.Flags().GetDuration("since")

		filter := store.RunFilter{
			Status: model.RunStatus(status),
			Limit:  limit,
		}
		if since > 0 {
			filter.CreatedAfter = time.Now().Add(-since)
		}

		runs, err := st.ListRuns(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openLedger(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(run); err != nil {
			return err
		}

		if withOutcomes, _ := cmd.Flags().GetBool("outcomes"); withOutcomes {
			outcomes, err := st.ListOutcomes(ctx, run.ID)
			if err != nil {
				return eris.Wrap(err, "runs show outcomes")
			}
			formatOutcomes(os.Stdout, outcomes)
		}
		return nil
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openLedger(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		since, _ := cmd.Flags().GetDuration("since")
		filter := store.RunFilter{}
		if since > 0 {
			filter.CreatedAfter = time.Now().Add(-since)
		}
		filter.Limit = 10000 // high limit for stats

		runs, err := st.ListRuns(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		formatRunStats(os.Stdout, computeRunStats(runs))
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (running, complete, failed, cancelled)")
	runsListCmd.Flags().Duration("since", 0, "only runs created within this window (e.g. 24h)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsShowCmd.Flags().Bool("outcomes", false, "also list per-task outcomes")

	runsStatsCmd.Flags().Duration("since", 24*time.Hour, "time window for stats (e.g. 24h, 72h, 168h)")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// runStats holds aggregate statistics computed from a set of runs.
type runStats struct {
	Total      int
	Complete   int
	Failed     int
	Cancelled  int
	Running    int
	Tasks      int
	TaskFailed int
	CostUSD    float64
	AvgDurSecs float64
}

// computeRunStats computes aggregate statistics from a list of runs.
func computeRunStats(runs []model.Run) runStats {
	var s runStats
	s.Total = len(runs)

	var totalDur time.Duration
	var durCount int

	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			s.Complete++
			totalDur += r.UpdatedAt.Sub(r.CreatedAt)
			durCount++
		case model.RunStatusFailed:
			s.Failed++
		case model.RunStatusCancelled:
			s.Cancelled++
		case model.RunStatusRunning:
			s.Running++
		}
		s.Tasks += r.Succeeded + r.Failed
		s.TaskFailed += r.Failed
		s.CostUSD += r.CostUSD
	}

	if durCount > 0 {
		s.AvgDurSecs = totalDur.Seconds() / float64(durCount)
	}
	return s
}

// formatRunsList writes a table of runs to out.
func formatRunsList(out io.Writer, runs []model.Run) {
	table := dataset.NewTable(out, []string{"ID", "Input", "Mode", "Status", "Done", "Failed", "Cost", "Created", "Duration"})
	for _, r := range runs {
		input := r.InputPath
		if len(input) > 40 {
			input = "..." + input[len(input)-37:]
		}
		_ = table.Append([]string{
			truncateID(r.ID),
			input,
			r.Mode,
			string(r.Status),
			fmt.Sprintf("%d/%d", r.Succeeded+r.Failed, r.Total),
			strconv.Itoa(r.Failed),
			fmt.Sprintf("$%.2f", r.CostUSD),
			r.CreatedAt.Format("2006-01-02 15:04"),
			r.UpdatedAt.Sub(r.CreatedAt).Round(time.Second).String(),
		})
	}
	_ = table.Render()
}

// formatOutcomes writes a table of task outcomes to out.
func formatOutcomes(out io.Writer, outcomes []model.TaskOutcome) {
	table := dataset.NewTable(out, []string{"Task", "Pipeline", "Passed", "Total score", "Error"})
	for _, o := range outcomes {
		passed, score := "", ""
		if o.Error == "" {
			passed = strconv.FormatBool(o.Passed)
			score = strconv.FormatFloat(o.TotalScore, 'f', 2, 64)
		}
		_ = table.Append([]string{o.TaskKey, o.PipelineType, passed, score, o.Error})
	}
	_ = table.Render()
}

// formatRunStats writes aggregate stats to out.
func formatRunStats(out io.Writer, s runStats) {
	_, _ = fmt.Fprintf(out, "Total runs:    %d\n", s.Total)
	_, _ = fmt.Fprintf(out, "Complete:      %d\n", s.Complete)
	_, _ = fmt.Fprintf(out, "Failed:        %d\n", s.Failed)
	_, _ = fmt.Fprintf(out, "Cancelled:     %d\n", s.Cancelled)
	_, _ = fmt.Fprintf(out, "Running:       %d\n", s.Running)
	_, _ = fmt.Fprintf(out, "Tasks:         %d (%d failed)\n", s.Tasks, s.TaskFailed)
	_, _ = fmt.Fprintf(out, "Cost:          $%.2f\n", s.CostUSD)
	if s.AvgDurSecs > 0 {
		_, _ = fmt.Fprintf(out, "Avg duration:  %.1fs\n", s.AvgDurSecs)
	}
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
