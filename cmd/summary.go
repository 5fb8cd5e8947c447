package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/sells-group/vqa-filter/internal/dataset"
	"github.com/sells-group/vqa-filter/internal/engine"
)

// printSummary writes the run totals, model usage and a preview of the
// first records.
func printSummary(w io.Writer, runID, output string, sum *engine.Summary) {
	_, _ = fmt.Fprintf(w, "\nProcessed %d records in %s\n", sum.Total, sum.Elapsed.Round(time.Millisecond))
	if runID != "" {
		_, _ = fmt.Fprintf(w, "Run:       %s\n", runID)
	}
	_, _ = fmt.Fprintf(w, "Output:    %s\n", output)
	_, _ = fmt.Fprintf(w, "Succeeded: %d\n", sum.Succeeded)
	_, _ = fmt.Fprintf(w, "Failed:    %d\n", sum.Failed)
	if sum.Skipped > 0 {
		_, _ = fmt.Fprintf(w, "Skipped:   %d (completed earlier)\n", sum.Skipped)
	}
	if sum.Cancelled {
		_, _ = fmt.Fprintf(w, "Cancelled: %d tasks left for --resume\n", sum.Total-sum.Skipped-sum.Succeeded-sum.Failed)
	}

	if len(sum.Usage) > 0 {
		_, _ = fmt.Fprintln(w)
		table := dataset.NewTable(w, []string{"Model", "Calls", "Errors", "Input tokens", "Output tokens", "Cost (USD)"})
		for _, u := range sum.Usage {
			_ = table.Append([]string{
				u.Model,
				strconv.Itoa(u.Calls),
				strconv.Itoa(u.Errors),
				strconv.FormatInt(u.InputTokens, 10),
				strconv.FormatInt(u.OutputTokens, 10),
				fmt.Sprintf("%.4f", u.CostUSD),
			})
		}
		_ = table.Render()
		_, _ = fmt.Fprintf(w, "Estimated cost: $%.4f\n", sum.CostUSD)
	}

	if len(sum.Preview) == 0 {
		return
	}
	_, _ = fmt.Fprintf(w, "\nPreview (%d of %d):\n", len(sum.Preview), sum.Succeeded+sum.Failed)
	for _, rec := range sum.Preview {
		b, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			continue
		}
		_, _ = fmt.Fprintln(w, string(b))
	}
}
