package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/vqa-filter/internal/dataset"
)

var sampleCmd = &cobra.Command{
	Use:   "sample <input>",
	Short: "Write a random sample of records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("local"); err != nil {
			return err
		}
		n, _ := cmd.Flags().GetInt("count")
		seed, _ := cmd.Flags().GetUint64("seed")
		out, _ := cmd.Flags().GetString("output")
		if !cmd.Flags().Changed("seed") {
			seed = uint64(time.Now().UnixNano())
		}
		if out == "" {
			out = siblingPath(args[0], fmt.Sprintf("_sample_%d", n))
		}

		records, err := loadRecords(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		picked := dataset.Sample(records, n, seed)
		if err := writeRecords(out, picked); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(os.Stdout, "sampled %d of %d records (seed %d) -> %s\n", len(picked), len(records), seed, out)
		return nil
	},
}

func init() {
	sampleCmd.Flags().IntP("count", "n", 100, "number of records to sample")
	sampleCmd.Flags().Uint64("seed", 0, "random seed (random when unset)")
	sampleCmd.Flags().StringP("output", "o", "", "output file (default <input>_sample_<n>.json)")
	rootCmd.AddCommand(sampleCmd)
}
