package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/vqa-filter/internal/dataset"
)

var splitCmd = &cobra.Command{
	Use:   "split <input>",
	Short: "Split results into high and low total_score files",
	Long: `Writes records scoring above the threshold to the high file and the rest
to the low file. Records without a numeric total_score go to
<low>_no_score.json.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("local"); err != nil {
			return err
		}
		threshold, _ := cmd.Flags().GetFloat64("threshold")
		includeEqual, _ := cmd.Flags().GetBool("include-equal")
		high, _ := cmd.Flags().GetString("high")
		low, _ := cmd.Flags().GetString("low")

		records, err := loadRecords(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if high == "" {
			high = siblingPath(args[0], "_high")
		}
		if low == "" {
			low = siblingPath(args[0], "_low")
		}

		s := dataset.SplitByScore(records, threshold, includeEqual)
		if err := writeRecords(high, s.High); err != nil {
			return err
		}
		if err := writeRecords(low, s.Low); err != nil {
			return err
		}
		if len(s.NoScore) > 0 {
			if err := writeRecords(dataset.NoScorePath(low), s.NoScore); err != nil {
				return err
			}
		}

		_, _ = fmt.Fprintf(os.Stdout, "high: %d -> %s\nlow: %d -> %s\nno score: %d\n",
			len(s.High), high, len(s.Low), low, len(s.NoScore))
		return nil
	},
}

func init() {
	splitCmd.Flags().Float64("threshold", dataset.DefaultSplitThreshold, "total_score threshold")
	splitCmd.Flags().Bool("include-equal", false, "count scores equal to the threshold as high")
	splitCmd.Flags().String("high", "", "high-score output file (default <input>_high.json)")
	splitCmd.Flags().String("low", "", "low-score output file (default <input>_low.json)")
	rootCmd.AddCommand(splitCmd)
}
